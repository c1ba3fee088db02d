package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot/internal/exchange"
	"tradebot/internal/models"
	"tradebot/internal/obs"
	"tradebot/pkg/clock"
	"tradebot/pkg/ratelimit"
	"tradebot/pkg/retry"
)

// ============================================================================
// Реестр ордеров и позиций
// ============================================================================
//
// OrderLedger - единственный владелец карт ордеров и позиций. Все
// мутации проходят через его методы под мьютексом, поэтому наложение
// reconciliation-поллера на основной цикл безопасно: повторное
// применение терминального статуса - no-op.

var (
	// ErrOrderNotFound - ордер с таким id не зарегистрирован
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition - попытка мутировать терминальный ордер
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrInvalidOrder - ордер не проходит базовую валидацию
	ErrInvalidOrder = errors.New("invalid order")
)

// Journal - необязательный персистентный журнал ордеров и исполнений.
// Ошибки журнала логируются и не прерывают торговлю: источник истины -
// память реестра, журнал нужен для аудита и восстановления.
type Journal interface {
	RecordOrder(ctx context.Context, order *models.Order) error
	UpdateOrderStatus(ctx context.Context, orderID, status, externalID string) error
	RecordFill(ctx context.Context, fill *models.Fill) error
}

// Config - настройки реестра
type Config struct {
	PollInterval time.Duration // период reconciliation
	OrderTimeout time.Duration // таймаут вызова коннектора при создании
	VenueRate    float64       // запросы к площадке в секунду (0 - дефолт limiter'а)
	VenueBurst   float64       // ёмкость всплеска (0 - дефолт limiter'а)
}

// OrderLedger владеет ордерами и позициями одного аккаунта
type OrderLedger struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	positions map[string]*models.Position // ключ symbol+"/"+side
	realized  map[string]float64          // накопленный реализованный PnL по символу

	conn       exchange.Connector
	journal    Journal
	clk        clock.Clock
	log        *zap.Logger
	cfg        Config
	venueLimit *ratelimit.RateLimiter // общий бюджет запросов к площадке

	// колбэк на применённое исполнение (координатор обновляет equity)
	onFill func(fill *models.Fill)
}

// New создаёт реестр. Journal может быть nil (например в backtest).
func New(conn exchange.Connector, journal Journal, clk clock.Clock, log *zap.Logger, cfg Config) *OrderLedger {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 5 * time.Second
	}
	return &OrderLedger{
		orders:     make(map[string]*models.Order),
		positions:  make(map[string]*models.Position),
		realized:   make(map[string]float64),
		conn:       conn,
		journal:    journal,
		clk:        clk,
		log:        log,
		cfg:        cfg,
		venueLimit: ratelimit.NewRateLimiter(cfg.VenueRate, cfg.VenueBurst),
	}
}

// SetFillCallback регистрирует обработчик применённых исполнений.
// Вызывается вне мьютекса реестра.
func (l *OrderLedger) SetFillCallback(cb func(fill *models.Fill)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFill = cb
}

func positionKey(symbol, side string) string {
	return symbol + "/" + side
}

// ============================================================================
// Создание и отмена ордеров
// ============================================================================

// CreateOrder регистрирует ордер и отправляет его на площадку.
// Принятый ордер переходит в placed, отказ площадки терминален -
// rejected. Стоповый ордер дополнительно проставляет StopPrice на
// защищаемой позиции противоположной стороны.
func (l *OrderLedger) CreateOrder(ctx context.Context, order *models.Order, opts *exchange.OrderOptions) (string, error) {
	if order == nil || order.Symbol == "" || order.Amount <= 0 {
		return "", ErrInvalidOrder
	}
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return "", fmt.Errorf("%w: bad side %q", ErrInvalidOrder, order.Side)
	}

	order.ID = uuid.NewString()
	order.Status = models.OrderStatusOpen
	order.CreatedAt = l.clk.Now()

	l.mu.Lock()
	l.orders[order.ID] = order
	l.mu.Unlock()

	l.journalOrder(ctx, order)

	// Временные сбои площадки повторяются с backoff внутри таймаута
	// отправки; терминальный rejected ставится только когда исчерпаны
	// повторы или отказ постоянный. Сокращение позиций получает более
	// плотный график повторов.
	submitCfg := retry.DefaultConfig()
	if opts != nil && opts.ReduceOnly {
		submitCfg = retry.AggressiveConfig()
	}
	submitCfg.RetryIf = exchange.IsTransient

	submitStart := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.OrderTimeout)
	externalID, err := retry.DoWithResult(callCtx, func() (string, error) {
		// каждая попытка - отдельный запрос к площадке, токен на каждую
		if err := l.venueLimit.Wait(callCtx); err != nil {
			return "", err
		}
		return l.conn.ExecuteOrder(callCtx, order, opts)
	}, submitCfg)
	cancel()
	obs.OrderSubmitLatency.WithLabelValues(order.Symbol, order.Side).
		Observe(float64(time.Since(submitStart).Microseconds()) / 1000.0)

	l.mu.Lock()
	if err != nil {
		// отказ при отправке терминален: повторять нечего, сигнал
		// придёт заново на следующем цикле
		l.transitionLocked(order, models.OrderStatusRejected)
		l.mu.Unlock()
		l.journalStatus(ctx, order)
		l.log.Warn("order rejected at submission",
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		return order.ID, fmt.Errorf("submit order %s: %w", order.ID, err)
	}

	order.ExternalID = externalID
	l.transitionLocked(order, models.OrderStatusPlaced)

	if models.IsStopKind(order.Kind) && order.StopPrice > 0 {
		l.attachStopLocked(order)
	}
	l.mu.Unlock()

	l.journalStatus(ctx, order)
	l.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("external_id", externalID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("kind", order.Kind),
		zap.Float64("amount", order.Amount))
	return order.ID, nil
}

// attachStopLocked проставляет стоп на позиции, которую этот ордер
// защищает: стоп на продажу прикрывает long, стоп на покупку - short
func (l *OrderLedger) attachStopLocked(order *models.Order) {
	protected := models.OppositePositionSide(models.PositionSideForOrder(order.Side))
	if pos, ok := l.positions[positionKey(order.Symbol, protected)]; ok {
		pos.StopPrice = order.StopPrice
	}
}

// CancelOrder отменяет ордер. Разрешено только из open и placed.
func (l *OrderLedger) CancelOrder(ctx context.Context, orderID string) error {
	l.mu.Lock()
	order, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !models.CanTransitionOrder(order.Status, models.OrderStatusCanceled) {
		status := order.Status
		l.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, status)
	}
	externalID := order.ExternalID
	symbol := order.Symbol
	l.mu.Unlock()

	if externalID != "" {
		if err := l.venueLimit.Wait(ctx); err != nil {
			return fmt.Errorf("cancel order %s: %w", orderID, err)
		}
		if err := l.conn.CancelOrder(ctx, symbol, externalID); err != nil {
			// статус не трогаем: поллер разберётся на следующем цикле
			return fmt.Errorf("cancel order %s: %w", orderID, err)
		}
	}

	l.mu.Lock()
	l.transitionLocked(order, models.OrderStatusCanceled)
	l.mu.Unlock()

	l.journalStatus(ctx, order)
	l.log.Info("order canceled", zap.String("order_id", orderID), zap.String("symbol", symbol))
	return nil
}

// transitionLocked переводит статус с защитой от выхода из терминала.
// Возвращает false, если переход запрещён.
func (l *OrderLedger) transitionLocked(order *models.Order, to string) bool {
	if !models.CanTransitionOrder(order.Status, to) {
		return false
	}
	obs.RecordTransition(order.Symbol, order.Status, to)
	order.Status = to
	return true
}

// ============================================================================
// Исполнения
// ============================================================================

// FillOrder помечает ордер исполненным по цене execPrice и обновляет
// позицию. Терминальный ордер - no-op с ошибкой.
func (l *OrderLedger) FillOrder(ctx context.Context, orderID string, execPrice float64) error {
	l.mu.Lock()
	order, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	fill, err := l.fillLocked(order, execPrice, order.Amount)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.afterFill(ctx, order, fill)
	return nil
}

// ProcessFill применяет исполнение, пришедшее от площадки
func (l *OrderLedger) ProcessFill(ctx context.Context, fill *models.Fill) error {
	l.mu.Lock()
	order, ok := l.orders[fill.OrderID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, fill.OrderID)
	}

	applied, err := l.fillLocked(order, fill.Price, fill.Amount)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.afterFill(ctx, order, applied)
	return nil
}

// fillLocked - общий путь исполнения. Исполнение применяется ровно
// один раз: повторный вызов упирается в терминальный статус.
func (l *OrderLedger) fillLocked(order *models.Order, execPrice, amount float64) (*models.Fill, error) {
	if !l.transitionLocked(order, models.OrderStatusFilled) {
		return nil, fmt.Errorf("%w: fill from %s", ErrInvalidTransition, order.Status)
	}
	if amount <= 0 || amount > order.Amount {
		amount = order.Amount
	}

	l.updatePositionLocked(order, execPrice, amount)

	return &models.Fill{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Amount:    amount,
		Price:     execPrice,
		Timestamp: l.clk.Now(),
	}, nil
}

func (l *OrderLedger) afterFill(ctx context.Context, order *models.Order, fill *models.Fill) {
	obs.FillsApplied.WithLabelValues(fill.Symbol, fill.Side).Inc()

	l.journalStatus(ctx, order)
	if l.journal != nil {
		if err := l.journal.RecordFill(ctx, fill); err != nil {
			l.log.Error("journal fill failed", zap.String("order_id", fill.OrderID), zap.Error(err))
		}
	}

	l.log.Info("order filled",
		zap.String("order_id", fill.OrderID),
		zap.String("symbol", fill.Symbol),
		zap.String("side", fill.Side),
		zap.Float64("amount", fill.Amount),
		zap.Float64("price", fill.Price))

	l.mu.RLock()
	cb := l.onFill
	l.mu.RUnlock()
	if cb != nil {
		cb(fill)
	}
}

// updatePositionLocked неттингует исполнение против противоположной
// позиции; остаток открывает либо наращивает одностороннюю позицию со
// средневзвешенной ценой входа
func (l *OrderLedger) updatePositionLocked(order *models.Order, execPrice, amount float64) {
	side := models.PositionSideForOrder(order.Side)
	opposite := models.OppositePositionSide(side)

	remaining := amount

	if opp, ok := l.positions[positionKey(order.Symbol, opposite)]; ok && opp.Amount > 0 {
		closed := remaining
		if closed > opp.Amount {
			closed = opp.Amount
		}
		opp.Amount -= closed
		remaining -= closed

		// закрытая часть фиксирует результат: он уходит из
		// нереализованного PnL в накопленный реализованный
		pnl := (execPrice - opp.EntryPrice) * closed
		if opposite == models.SideShort {
			pnl = -pnl
		}
		l.realized[order.Symbol] += pnl

		opp.CurrentPrice = execPrice
		if opp.Amount <= 0 {
			// net-to-flat: позиция уничтожается
			delete(l.positions, positionKey(order.Symbol, opposite))
			obs.PositionNotional.WithLabelValues(order.Symbol, opposite).Set(0)
		} else {
			opp.RecalcPnl()
			obs.PositionNotional.WithLabelValues(order.Symbol, opposite).Set(opp.Notional())
		}
	}

	if remaining <= 0 {
		return
	}

	key := positionKey(order.Symbol, side)
	pos, ok := l.positions[key]
	if !ok {
		pos = &models.Position{
			Symbol:       order.Symbol,
			Side:         side,
			Amount:       remaining,
			EntryPrice:   execPrice,
			CurrentPrice: execPrice,
		}
		if !models.IsStopKind(order.Kind) && order.StopPrice > 0 {
			pos.StopPrice = order.StopPrice
		}
		l.positions[key] = pos
	} else {
		// средневзвешенная цена входа при наращивании
		total := pos.Amount + remaining
		pos.EntryPrice = (pos.EntryPrice*pos.Amount + execPrice*remaining) / total
		pos.Amount = total
		pos.CurrentPrice = execPrice
	}
	pos.RecalcPnl()
	obs.PositionNotional.WithLabelValues(order.Symbol, side).Set(pos.Notional())
}

// ============================================================================
// Reconciliation
// ============================================================================

// pendingSnapshot - слепок ордера, снятый под мьютексом для опроса
// площадки. Поллер работает только со слепком: живой ордер в этот
// момент может мутировать CreateOrder (ExternalID, статус).
type pendingSnapshot struct {
	id         string
	symbol     string
	side       string
	externalID string
	price      float64
	amount     float64
}

// CheckPendingOrders опрашивает площадку по всем активным ордерам и
// приводит локальные статусы к её ответу. Ошибка опроса одного ордера
// не останавливает проход: статус остаётся прежним до следующего
// цикла.
func (l *OrderLedger) CheckPendingOrders(ctx context.Context, force bool) {
	l.mu.RLock()
	pending := make([]pendingSnapshot, 0)
	for _, o := range l.orders {
		if (force || models.IsActiveStatus(o.Status)) && o.ExternalID != "" {
			pending = append(pending, pendingSnapshot{
				id:         o.ID,
				symbol:     o.Symbol,
				side:       o.Side,
				externalID: o.ExternalID,
				price:      o.Price,
				amount:     o.Amount,
			})
		}
	}
	l.mu.RUnlock()

	for _, snap := range pending {
		if err := l.venueLimit.Wait(ctx); err != nil {
			return
		}
		st, err := l.conn.FetchOrder(ctx, snap.symbol, snap.externalID)
		if err != nil {
			obs.ReconcileErrors.WithLabelValues(snap.symbol).Inc()
			l.log.Warn("order poll failed",
				zap.String("order_id", snap.id),
				zap.Error(err))
			continue
		}
		if st == nil {
			continue
		}

		l.applyVenueStatus(ctx, snap, st)
	}
}

// applyVenueStatus реклассифицирует ордер по ответу площадки
func (l *OrderLedger) applyVenueStatus(ctx context.Context, snap pendingSnapshot, st *exchange.OrderStatus) {
	switch st.Status {
	case models.OrderStatusFilled:
		price := st.AvgFillPrice
		if price <= 0 {
			price = snap.price
		}
		amount := st.FilledAmount
		if amount <= 0 {
			amount = snap.amount
		}
		err := l.ProcessFill(ctx, &models.Fill{
			OrderID: snap.id,
			Symbol:  snap.symbol,
			Side:    snap.side,
			Amount:  amount,
			Price:   price,
		})
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			l.log.Error("reconcile fill failed", zap.String("order_id", snap.id), zap.Error(err))
		}
	case models.OrderStatusCanceled, models.OrderStatusRejected:
		l.mu.Lock()
		order, ok := l.orders[snap.id]
		if !ok {
			l.mu.Unlock()
			return
		}
		changed := l.transitionLocked(order, st.Status)
		l.mu.Unlock()
		if changed {
			l.journalStatus(ctx, order)
			l.log.Info("order reclassified by venue",
				zap.String("order_id", snap.id),
				zap.String("status", st.Status))
		}
	}
}

// StartPolling запускает периодический reconciliation. Блокирует до
// отмены контекста, запускать в отдельной горутине.
func (l *OrderLedger) StartPolling(ctx context.Context) {
	ticker := l.clk.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.log.Info("order reconciliation started", zap.Duration("interval", l.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("order reconciliation stopped")
			return
		case <-ticker.C():
			l.CheckPendingOrders(ctx, false)
		}
	}
}

// ============================================================================
// Чтение
// ============================================================================

// GetOrder возвращает копию ордера
func (l *OrderLedger) GetOrder(orderID string) (*models.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	order, ok := l.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	cp := *order
	return &cp, nil
}

// GetOrdersByStatus возвращает копии ордеров с заданным статусом
func (l *OrderLedger) GetOrdersByStatus(status string) []*models.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Order, 0)
	for _, o := range l.orders {
		if o.Status == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// GetPositions возвращает копии позиций, опционально по символу
func (l *OrderLedger) GetPositions(symbol string) []*models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Position, 0)
	for _, p := range l.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// GetPosition возвращает копию позиции или nil
func (l *OrderLedger) GetPosition(symbol, side string) *models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions[positionKey(symbol, side)]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// GetTotalUnrealizedPnl суммирует нереализованный PnL, опционально по
// одному символу
func (l *OrderLedger) GetTotalUnrealizedPnl(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, p := range l.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		total += p.UnrealizedPnl
	}
	return total
}

// GetRealizedPnl возвращает накопленный реализованный PnL; пустой
// symbol суммирует по всем инструментам
func (l *OrderLedger) GetRealizedPnl(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if symbol != "" {
		return l.realized[symbol]
	}
	var total float64
	for _, pnl := range l.realized {
		total += pnl
	}
	return total
}

// MarkPrice обновляет текущую цену инструмента на открытых позициях
// и пересчитывает их PnL
func (l *OrderLedger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.positions {
		if p.Symbol != symbol {
			continue
		}
		p.CurrentPrice = price
		p.RecalcPnl()
		obs.PositionNotional.WithLabelValues(p.Symbol, p.Side).Set(p.Notional())
	}
}

// ============================================================================
// Журналирование
// ============================================================================

func (l *OrderLedger) journalOrder(ctx context.Context, order *models.Order) {
	if l.journal == nil {
		return
	}
	if err := l.journal.RecordOrder(ctx, order); err != nil {
		l.log.Error("journal order failed", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (l *OrderLedger) journalStatus(ctx context.Context, order *models.Order) {
	if l.journal == nil {
		return
	}
	l.mu.RLock()
	status := order.Status
	externalID := order.ExternalID
	l.mu.RUnlock()
	if err := l.journal.UpdateOrderStatus(ctx, order.ID, status, externalID); err != nil {
		l.log.Error("journal status failed", zap.String("order_id", order.ID), zap.Error(err))
	}
}
