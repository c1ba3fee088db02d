package api

import (
	"net/http"
	"net/http/pprof"

	"tradebot/internal/api/handlers"
	"tradebot/internal/api/middleware"
	"tradebot/internal/killswitch"
	"tradebot/internal/portfolio"
	"tradebot/internal/repository"
	"tradebot/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Coordinator *portfolio.Coordinator
	Orders      *repository.OrderRepository
	KillSwitch  *killswitch.Switch
	Hub         *websocket.Hub
	Log         *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET  /status - сводка портфеля
//	├── GET  /instruments/{symbol} - состояние одного движка
//	├── GET  /equity - история equity
//	├── GET  /risk - снимок портфельного риска
//	├── GET  /orders - история ордеров
//	├── GET  /orders/{id}/fills - исполнения ордера
//	├── GET  /killswitch - состояние аварийного выключателя
//	├── POST /killswitch/trip - остановить торговлю
//	└── POST /killswitch/reset - возобновить торговлю
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /debug/pprof/* - профилирование (за DebugAuth)
// /health - liveness probe
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. DebugAuth (только для /debug)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	log := zap.NewNop()
	if deps != nil && deps.Log != nil {
		log = deps.Log
	}

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var statusHandler *handlers.StatusHandler
	var riskHandler *handlers.RiskHandler
	if deps != nil && deps.Coordinator != nil {
		statusHandler = handlers.NewStatusHandler(deps.Coordinator)
		riskHandler = handlers.NewRiskHandler(deps.Coordinator)
	}

	var ordersHandler *handlers.OrdersHandler
	if deps != nil && deps.Orders != nil {
		ordersHandler = handlers.NewOrdersHandler(deps.Orders)
	}

	var ksHandler *handlers.KillSwitchHandler
	if deps != nil && deps.KillSwitch != nil {
		ksHandler = handlers.NewKillSwitchHandler(deps.KillSwitch)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	if statusHandler != nil {
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
		api.HandleFunc("/instruments/{symbol}", statusHandler.GetInstrument).Methods("GET")
		api.HandleFunc("/equity", statusHandler.GetEquityHistory).Methods("GET")
	}

	if riskHandler != nil {
		api.HandleFunc("/risk", riskHandler.GetRisk).Methods("GET")
	}

	if ordersHandler != nil {
		api.HandleFunc("/orders", ordersHandler.GetOrders).Methods("GET")
		api.HandleFunc("/orders/{id}/fills", ordersHandler.GetOrderFills).Methods("GET")
	}

	if ksHandler != nil {
		api.HandleFunc("/killswitch", ksHandler.GetState).Methods("GET")
		api.HandleFunc("/killswitch/trip", ksHandler.Trip).Methods("POST")
		api.HandleFunc("/killswitch/reset", ksHandler.Reset).Methods("POST")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Debug endpoints за basic auth
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)
	debug.HandleFunc("", pprof.Index)
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").Handler(http.HandlerFunc(pprof.Index))

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
