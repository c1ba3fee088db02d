package websocket

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigFastest

// Hub управляет всеми активными WebSocket соединениями и рассылает
// события торгового ядра: статусы ордеров, исполнения, equity, смены
// режимов. Медленный клиент не блокирует рассылку - его буфер
// переполняется и соединение закрывается.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	log        *zap.Logger

	// mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		log:        log,
	}
}

// Stop останавливает цикл Run и закрывает все соединения
func (h *Hub) Stop() {
	close(h.stop)
}

// Run запускает главный цикл Hub.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			// копируем список под RLock, шлём без блокировки
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()

			var stale []*Client
			for _, client := range targets {
				select {
				case client.send <- message:
				default:
					// переполненный буфер: клиент безнадёжно отстал
					stale = append(stale, client)
				}
			}

			if len(stale) > 0 {
				h.mu.Lock()
				for _, client := range stale {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast сериализует сообщение и рассылает всем клиентам.
// Неблокирующий: при переполненном канале сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.log.Error("ws marshal failed", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("ws broadcast buffer full, message dropped")
	}
}

// BroadcastOrderUpdate рассылает смену статуса ордера
func (h *Hub) BroadcastOrderUpdate(msg *OrderUpdateMessage) {
	msg.Type = MessageTypeOrderUpdate
	msg.Timestamp = time.Now()
	h.Broadcast(msg)
}

// BroadcastFill рассылает исполнение
func (h *Hub) BroadcastFill(msg *FillMessage) {
	msg.Type = MessageTypeFill
	msg.Timestamp = time.Now()
	h.Broadcast(msg)
}

// BroadcastEquity рассылает точку equity
func (h *Hub) BroadcastEquity(equity float64) {
	h.Broadcast(&EquityUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeEquityUpdate, Timestamp: time.Now()},
		Equity:      equity,
	})
}

// BroadcastModeChange рассылает смену режима движка
func (h *Hub) BroadcastModeChange(symbol, mode string) {
	h.Broadcast(&ModeChangeMessage{
		BaseMessage: BaseMessage{Type: MessageTypeModeChange, Timestamp: time.Now()},
		Symbol:      symbol,
		Mode:        mode,
	})
}

// ClientCount возвращает число подключённых клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
