package portfolio

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/config"
	"tradebot/internal/engine"
	"tradebot/internal/exchange"
	"tradebot/internal/ledger"
	"tradebot/internal/models"
	"tradebot/internal/obs"
	"tradebot/pkg/clock"
	"tradebot/pkg/ratelimit"
	"tradebot/pkg/utils"
)

// KillSwitch - внешний аварийный стоп. Опрашивается в начале каждого
// цикла; true останавливает выдачу новых ордеров.
type KillSwitch interface {
	Engaged() bool
}

// EquityPoint - точка истории equity портфеля
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}

// Coordinator владеет движками инструментов и гоняет общий цикл:
// свечи → движки → сырые сигналы → фильтры портфеля → реестр ордеров.
// Все мутации движков происходят из одной горутины цикла.
type Coordinator struct {
	cfg     config.PortfolioConfig
	symbols []string
	engines map[string]*engine.Engine

	ledger *ledger.OrderLedger
	alloc  *AllocationManager
	risk   *RiskAnalyzer
	conn   exchange.Connector
	ks     KillSwitch
	clk    clock.Clock
	log    *zap.Logger

	weights map[string]float64

	// кольцевой буфер истории equity
	equityMu      sync.RWMutex
	equityHistory []EquityPoint

	lastCorrelationAt time.Time
	lastRiskAt        time.Time
	tradingEnabled    bool
}

// NewCoordinator собирает координатор из готовых движков
func NewCoordinator(cfg config.PortfolioConfig, engines map[string]*engine.Engine,
	led *ledger.OrderLedger, alloc *AllocationManager, risk *RiskAnalyzer,
	conn exchange.Connector, ks KillSwitch, clk clock.Clock, log *zap.Logger) *Coordinator {

	symbols := make([]string, 0, len(engines))
	for s := range engines {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	return &Coordinator{
		cfg:            cfg,
		symbols:        symbols,
		engines:        engines,
		ledger:         led,
		alloc:          alloc,
		risk:           risk,
		conn:           conn,
		ks:             ks,
		clk:            clk,
		log:            log,
		weights:        make(map[string]float64),
		equityHistory:  make([]EquityPoint, 0, cfg.EquityHistoryLen),
		tradingEnabled: true,
	}
}

// ============================================================================
// Инициализация
// ============================================================================

// Init прогревает движки историей свечей и считает стартовые веса.
// Загрузка истории по инструментам идёт параллельно под ограничителем
// одновременности, чтобы не заваливать площадку.
func (c *Coordinator) Init(ctx context.Context, timeframe string, historyLimit int) error {
	limiter := ratelimit.NewConcurrencyLimiter(ratelimit.Cap(len(c.symbols)))

	var mu sync.Mutex
	history := make(map[string][]models.Candle, len(c.symbols))

	var wg sync.WaitGroup
	for _, symbol := range c.symbols {
		symbol := symbol
		limiter.Go(ctx, &wg, func() {
			candles, err := c.conn.FetchCandles(ctx, symbol, timeframe, historyLimit)
			if err != nil {
				// инструмент без истории стартует холодным, не валим остальных
				c.log.Warn("history fetch failed", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			mu.Lock()
			history[symbol] = candles
			mu.Unlock()
		})
	}
	wg.Wait()

	for symbol, candles := range history {
		c.engines[symbol].UpdateMarketData(ctx, candles)
	}

	c.weights = c.alloc.CalculateWeights(c.cfg.AllocationStrategy, c.symbols, history)
	c.refreshCorrelations()
	c.refreshRisk()

	c.log.Info("coordinator initialized",
		zap.Int("symbols", len(c.symbols)),
		zap.String("allocation", c.cfg.AllocationStrategy))
	return nil
}

// Weights возвращает копию текущих аллокационных весов
func (c *Coordinator) Weights() map[string]float64 {
	out := make(map[string]float64, len(c.weights))
	for s, w := range c.weights {
		out[s] = w
	}
	return out
}

// ============================================================================
// Главный цикл
// ============================================================================

// Run крутит цикл принятия решений до отмены контекста
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clk.NewTicker(c.cfg.CycleInterval)
	defer ticker.Stop()

	c.log.Info("decision loop started", zap.Duration("interval", c.cfg.CycleInterval))

	for {
		select {
		case <-ctx.Done():
			c.log.Info("decision loop stopped")
			return
		case <-ticker.C():
			c.RunCycle(ctx)
		}
	}
}

// RunCycle выполняет один проход: kill switch, свежие свечи, сигналы,
// фильтры, отправка в реестр, пересчёт equity и рисков по расписанию
func (c *Coordinator) RunCycle(ctx context.Context) {
	if c.ks != nil && c.ks.Engaged() {
		if c.tradingEnabled {
			c.tradingEnabled = false
			for _, e := range c.engines {
				e.SetTradingEnabled(false)
			}
			c.log.Warn("kill switch engaged, trading halted")
		}
		return
	}
	if !c.tradingEnabled {
		c.tradingEnabled = true
		for _, e := range c.engines {
			e.SetTradingEnabled(true)
		}
		c.log.Warn("kill switch released, trading resumed")
	}

	signalsBySymbol := make(map[string][]*models.Order, len(c.symbols))

	for _, symbol := range c.symbols {
		start := time.Now()
		eng := c.engines[symbol]

		candles, err := c.conn.FetchCandles(ctx, symbol, "1m", 1)
		if err != nil {
			// ошибка одного инструмента не прерывает остальные
			c.log.Warn("candle fetch failed", zap.String("symbol", symbol), zap.Error(err))
			obs.ObserveCycle(symbol, start)
			continue
		}
		eng.UpdateMarketData(ctx, candles)
		eng.AnalyzeMarket()

		result, err := eng.ExecuteStrategy(ctx)
		if err != nil {
			c.log.Warn("engine cycle error", zap.String("symbol", symbol), zap.Error(err))
			obs.ObserveCycle(symbol, start)
			continue
		}
		if len(result.Signals) > 0 {
			signalsBySymbol[symbol] = result.Signals
		}
		obs.ObserveCycle(symbol, start)
	}

	survivors := c.FilterSignals(signalsBySymbol)
	for _, sig := range survivors {
		if _, err := c.ledger.CreateOrder(ctx, sig, &exchange.OrderOptions{
			ReduceOnly: sig.ReduceOnly,
			StopPrice:  sig.StopPrice,
		}); err != nil {
			c.log.Warn("order forwarding failed",
				zap.String("symbol", sig.Symbol),
				zap.Error(err))
		}
	}

	c.recordEquity()
	c.maybeRefresh()
}

// ============================================================================
// Портфельные фильтры
// ============================================================================

// FilterSignals применяет бюджет риска по символам и корреляционное
// вето, возвращая выживших в детерминированном порядке
func (c *Coordinator) FilterSignals(signalsBySymbol map[string][]*models.Order) []*models.Order {
	equity := c.PortfolioEquity()

	// бюджет риска: текущая экспозиция символа плюс нотионал сигналов
	// не должны превысить лимит доли equity
	for _, symbol := range c.symbols {
		signals, ok := signalsBySymbol[symbol]
		if !ok || equity <= 0 {
			continue
		}

		currentRisk := c.symbolExposure(symbol) / equity
		var signalNotional float64
		for _, sig := range signals {
			if sig.ReduceOnly {
				continue
			}
			signalNotional += sig.Amount * sig.Price
		}

		if currentRisk+signalNotional/equity > c.cfg.RiskLimit {
			obs.SignalsVetoed.WithLabelValues(symbol, "risk_budget").Inc()
			c.log.Warn("symbol over risk budget, signals skipped",
				zap.String("symbol", symbol),
				zap.Float64("current_risk", currentRisk),
				zap.Float64("signal_notional", signalNotional))
			delete(signalsBySymbol, symbol)
		}
	}

	// корреляционное вето: из пары сильно скоррелированных символов с
	// однонаправленными сигналами остаётся тот, у кого больше вес
	for _, pair := range c.risk.GetHighlyCorrelatedPairs(c.cfg.CorrelationThreshold) {
		sideA := dominantSide(signalsBySymbol[pair.SymbolA])
		sideB := dominantSide(signalsBySymbol[pair.SymbolB])
		if sideA == "" || sideA != sideB {
			continue
		}

		drop := pair.SymbolB
		wA, wB := c.weights[pair.SymbolA], c.weights[pair.SymbolB]
		if wB > wA {
			drop = pair.SymbolA
		}
		// при равных весах отбрасывается лексикографически больший

		obs.SignalsVetoed.WithLabelValues(drop, "correlation").Inc()
		c.log.Info("correlated signal vetoed",
			zap.String("kept", other(pair, drop)),
			zap.String("dropped", drop),
			zap.Float64("coefficient", pair.Coefficient))
		delete(signalsBySymbol, drop)
	}

	out := make([]*models.Order, 0)
	for _, symbol := range c.symbols {
		out = append(out, signalsBySymbol[symbol]...)
	}
	return out
}

// dominantSide возвращает сторону не-reduce сигналов символа, либо ""
func dominantSide(signals []*models.Order) string {
	side := ""
	for _, sig := range signals {
		if sig.ReduceOnly {
			continue
		}
		if side == "" {
			side = sig.Side
		} else if side != sig.Side {
			return ""
		}
	}
	return side
}

func other(pair models.CorrelatedPair, dropped string) string {
	if pair.SymbolA == dropped {
		return pair.SymbolB
	}
	return pair.SymbolA
}

// symbolExposure - суммарный нотионал открытых позиций символа
func (c *Coordinator) symbolExposure(symbol string) float64 {
	var total float64
	for _, p := range c.ledger.GetPositions(symbol) {
		total += p.Notional()
	}
	return total
}

// ============================================================================
// Equity и плановые пересчёты
// ============================================================================

// PortfolioEquity - сумма equity всех движков
func (c *Coordinator) PortfolioEquity() float64 {
	var total float64
	for _, e := range c.engines {
		total += e.Equity()
	}
	return total
}

// recordEquity пишет точку в кольцевой буфер истории
func (c *Coordinator) recordEquity() {
	equity := c.PortfolioEquity()
	obs.PortfolioEquity.Set(equity)

	c.equityMu.Lock()
	defer c.equityMu.Unlock()

	c.equityHistory = append(c.equityHistory, EquityPoint{At: c.clk.Now(), Equity: equity})
	if len(c.equityHistory) > c.cfg.EquityHistoryLen {
		c.equityHistory = c.equityHistory[len(c.equityHistory)-c.cfg.EquityHistoryLen:]
	}
}

// EquityHistory возвращает копию истории equity
func (c *Coordinator) EquityHistory() []EquityPoint {
	c.equityMu.RLock()
	defer c.equityMu.RUnlock()

	out := make([]EquityPoint, len(c.equityHistory))
	copy(out, c.equityHistory)
	return out
}

// maybeRefresh запускает пересчёт корреляций и риска по их кадансам
func (c *Coordinator) maybeRefresh() {
	now := c.clk.Now()

	if now.Sub(c.lastCorrelationAt) >= c.cfg.CorrelationRefresh {
		c.refreshCorrelations()
	}
	if now.Sub(c.lastRiskAt) >= c.cfg.RiskRefresh {
		c.refreshRisk()
	}
}

func (c *Coordinator) refreshCorrelations() {
	returns := make(map[string][]float64, len(c.symbols))
	for _, symbol := range c.symbols {
		returns[symbol] = utils.PeriodReturns(c.engines[symbol].Candles())
	}
	c.risk.UpdateCorrelationMatrix(returns)
	c.lastCorrelationAt = c.clk.Now()
}

func (c *Coordinator) refreshRisk() {
	positions := make(map[string][]*models.Position, len(c.symbols))
	for _, symbol := range c.symbols {
		positions[symbol] = c.ledger.GetPositions(symbol)
	}
	c.risk.AnalyzePortfolioRisk(positions, c.PortfolioEquity(), c.weights)
	c.lastRiskAt = c.clk.Now()
}

// ============================================================================
// Статус
// ============================================================================

// GetStatus возвращает снимки всех движков в порядке символов
func (c *Coordinator) GetStatus() []*engine.Status {
	out := make([]*engine.Status, 0, len(c.symbols))
	for _, symbol := range c.symbols {
		out = append(out, c.engines[symbol].GetStatus())
	}
	return out
}

// GetInstrumentStatus возвращает снимок одного движка или nil
func (c *Coordinator) GetInstrumentStatus(symbol string) *engine.Status {
	eng, ok := c.engines[symbol]
	if !ok {
		return nil
	}
	return eng.GetStatus()
}

// GetPortfolioRiskAnalysis возвращает последний снимок риска
func (c *Coordinator) GetPortfolioRiskAnalysis() *models.RiskSnapshot {
	return c.risk.Snapshot()
}

// Symbols возвращает активные инструменты
func (c *Coordinator) Symbols() []string {
	out := make([]string, len(c.symbols))
	copy(out, c.symbols)
	return out
}
