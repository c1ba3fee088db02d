package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tradebot/internal/models"
	"tradebot/pkg/clock"
)

// PaperConnector - симулятор площадки для paper trading и тестов.
// Рыночные ордера исполняются мгновенно по последней цене, лимитные
// и стоповые переходят в placed и исполняются при пересечении цены
// (UpdatePrice). Состояние целиком в памяти.
type PaperConnector struct {
	mu      sync.RWMutex
	clk     clock.Clock
	balance float64
	prices  map[string]float64
	candles map[string][]models.Candle
	orders  map[string]*paperOrder
	closed  bool
}

type paperOrder struct {
	status OrderStatus
	order  models.Order
	oco    *OcoParams
}

// NewPaperConnector создаёт симулятор с начальным балансом
func NewPaperConnector(clk clock.Clock, balance float64) *PaperConnector {
	return &PaperConnector{
		clk:     clk,
		balance: balance,
		prices:  make(map[string]float64),
		candles: make(map[string][]models.Candle),
		orders:  make(map[string]*paperOrder),
	}
}

// SetPrice устанавливает текущую цену инструмента без проверки
// активных ордеров. Для тестовой инициализации.
func (p *PaperConnector) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// LoadCandles загружает историю свечей для FetchCandles
func (p *PaperConnector) LoadCandles(symbol string, candles []models.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[symbol] = candles
}

// UpdatePrice двигает цену и исполняет активные ордера, чьи условия
// выполнены новой ценой
func (p *PaperConnector) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price

	for _, po := range p.orders {
		if po.order.Symbol != symbol || po.status.Status != models.OrderStatusPlaced {
			continue
		}
		if p.crossed(&po.order, price) {
			p.fill(po, price)
		}
	}
}

// crossed проверяет, активирует ли цена лимитный или стоповый ордер
func (p *PaperConnector) crossed(o *models.Order, price float64) bool {
	switch o.Kind {
	case models.KindLimit:
		if o.Side == models.SideBuy {
			return price <= o.Price
		}
		return price >= o.Price
	case models.KindStop, models.KindStopMarket, models.KindStopLimit:
		if o.Side == models.SideBuy {
			return price >= o.StopPrice
		}
		return price <= o.StopPrice
	default:
		return true
	}
}

func (p *PaperConnector) fill(po *paperOrder, price float64) {
	po.status.Status = models.OrderStatusFilled
	po.status.FilledAmount = po.order.Amount
	po.status.AvgFillPrice = price
	po.status.UpdatedAt = p.clk.Now()
}

// ExecuteOrder принимает ордер: market исполняется сразу, остальные
// остаются активными до пересечения цены
func (p *PaperConnector) ExecuteOrder(ctx context.Context, order *models.Order, opts *OrderOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrConnectorClosed
	}

	price, ok := p.prices[order.Symbol]
	if !ok {
		return "", &ConnectorError{
			Venue: "paper", Op: "ExecuteOrder",
			Message: fmt.Sprintf("no price for %s", order.Symbol),
		}
	}

	notional := order.Amount * price
	if !order.ReduceOnly && notional > p.balance {
		return "", &ConnectorError{
			Venue: "paper", Op: "ExecuteOrder",
			Message:  "insufficient balance",
			Original: ErrInsufficientBalance,
		}
	}

	externalID := uuid.NewString()
	po := &paperOrder{
		order: *order,
		status: OrderStatus{
			ExternalID: externalID,
			Status:     models.OrderStatusPlaced,
			UpdatedAt:  p.clk.Now(),
		},
	}

	if order.Kind == models.KindMarket {
		p.fill(po, price)
	}

	p.orders[externalID] = po
	return externalID, nil
}

// FetchOrder возвращает состояние ордера или nil, если ордер неизвестен
func (p *PaperConnector) FetchOrder(ctx context.Context, symbol, externalID string) (*OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	po, ok := p.orders[externalID]
	if !ok {
		return nil, nil
	}

	st := po.status
	return &st, nil
}

// CancelOrder отменяет активный ордер
func (p *PaperConnector) CancelOrder(ctx context.Context, symbol, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[externalID]
	if !ok {
		return ErrOrderNotFound
	}

	if models.IsTerminalStatus(po.status.Status) {
		return nil
	}

	po.status.Status = models.OrderStatusCanceled
	po.status.UpdatedAt = p.clk.Now()
	return nil
}

// CreateOcoOrder регистрирует связанную стоп/лимит пару как единый ордер
func (p *PaperConnector) CreateOcoOrder(ctx context.Context, params *OcoParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrConnectorClosed
	}

	externalID := uuid.NewString()
	p.orders[externalID] = &paperOrder{
		oco: params,
		order: models.Order{
			Symbol:    params.Symbol,
			Side:      params.Side,
			Kind:      models.KindStopLimit,
			Amount:    params.Amount,
			Price:     params.LimitPrice,
			StopPrice: params.StopPrice,
		},
		status: OrderStatus{
			ExternalID: externalID,
			Status:     models.OrderStatusPlaced,
			UpdatedAt:  p.clk.Now(),
		},
	}
	return externalID, nil
}

// FetchCandles возвращает хвост загруженной истории
func (p *PaperConnector) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	history := p.candles[symbol]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]models.Candle, len(history))
	copy(out, history)
	return out, nil
}

// GetLatestPrice возвращает последнюю установленную цену
func (p *PaperConnector) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[symbol]
	if !ok {
		return 0, &ConnectorError{
			Venue: "paper", Op: "GetLatestPrice",
			Message: fmt.Sprintf("no price for %s", symbol),
		}
	}
	return price, nil
}

// GetBalance возвращает симулируемый баланс
func (p *PaperConnector) GetBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}

// Close закрывает симулятор
func (p *PaperConnector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ Connector = (*PaperConnector)(nil)
