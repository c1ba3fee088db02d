package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"tradebot/internal/config"
	"tradebot/internal/ledger"
	"tradebot/internal/models"
	"tradebot/internal/obs"
	"tradebot/internal/strategy"
	"tradebot/pkg/clock"
	"tradebot/pkg/utils"
)

// ============================================================================
// Движок инструмента
// ============================================================================
//
// Engine ведёт один символ: принимает свечи, следит за аварийным
// режимом, выбирает стратегию по рыночному режиму и применяет
// риск-фильтр к сигналам. Все вызовы движка идут из одного цикла
// координатора, поэтому внутреннего мьютекса нет.

// ErrTradingDisabled - kill switch остановил выдачу новых сигналов
var ErrTradingDisabled = errors.New("trading disabled by kill switch")

// modeCode - числовые коды режимов для метрик
var modeCode = map[string]int{
	models.ModeNormal:        0,
	models.ModeRiskReduction: 1,
	models.ModeStandby:       2,
	models.ModeEmergency:     3,
	models.ModeKillSwitch:    4,
}

// changeSample - замер 24-часового изменения цены
type changeSample struct {
	at     time.Time
	change float64
}

// Status - снимок состояния движка для мониторинга
type Status struct {
	Symbol         string             `json:"symbol"`
	Account        models.Account     `json:"account"`
	MarketAnalysis *strategy.Analysis `json:"market_analysis,omitempty"`
	ActiveMode     string             `json:"active_mode"`
	TradingEnabled bool               `json:"trading_enabled"`
}

// Engine - цикл принятия решений по одному инструменту
type Engine struct {
	symbol   string
	cfg      config.EngineConfig
	ledger   *ledger.OrderLedger
	registry *strategy.Registry
	analyzer *strategy.RegimeAnalyzer
	clk      clock.Clock
	log      *zap.Logger

	candles        []models.Candle
	mode           string
	tradingEnabled bool
	balance        float64

	emergencySince time.Time
	samples        []changeSample

	analysis *strategy.Analysis
}

// New создаёт движок в нормальном режиме
func New(symbol string, cfg config.EngineConfig, led *ledger.OrderLedger,
	registry *strategy.Registry, analyzer *strategy.RegimeAnalyzer,
	clk clock.Clock, log *zap.Logger) *Engine {

	e := &Engine{
		symbol:         symbol,
		cfg:            cfg,
		ledger:         led,
		registry:       registry,
		analyzer:       analyzer,
		clk:            clk,
		log:            log.With(zap.String("symbol", symbol)),
		mode:           models.ModeNormal,
		tradingEnabled: true,
		balance:        cfg.InitialBalance,
	}
	obs.SetMode(symbol, modeCode[e.mode])
	return e
}

// Symbol возвращает инструмент движка
func (e *Engine) Symbol() string { return e.symbol }

// Mode возвращает текущий режим
func (e *Engine) Mode() string { return e.mode }

// SetTradingEnabled переключает выдачу новых сигналов (kill switch)
func (e *Engine) SetTradingEnabled(enabled bool) {
	if e.tradingEnabled == enabled {
		return
	}
	e.tradingEnabled = enabled
	if !enabled {
		e.mode = models.ModeKillSwitch
	} else if e.mode == models.ModeKillSwitch {
		e.mode = models.ModeNormal
	}
	obs.SetMode(e.symbol, modeCode[e.mode])
	e.log.Warn("trading toggled", zap.Bool("enabled", enabled), zap.String("mode", e.mode))
}

// Candles возвращает накопленную историю свечей
func (e *Engine) Candles() []models.Candle { return e.candles }

// ============================================================================
// Рыночные данные и аварийный режим
// ============================================================================

// UpdateMarketData принимает новые свечи, пересчитывает PnL позиций и
// оценивает скользящее 24-часовое изменение цены. Превышение
// аварийного порога немедленно режет все открытые позиции пополам.
func (e *Engine) UpdateMarketData(ctx context.Context, candles []models.Candle) {
	if len(candles) == 0 {
		return
	}

	e.candles = append(e.candles, candles...)
	if len(e.candles) > e.cfg.MaxCandles {
		e.candles = e.candles[len(e.candles)-e.cfg.MaxCandles:]
	}

	last := e.candles[len(e.candles)-1]
	e.ledger.MarkPrice(e.symbol, last.Close)

	change, ok := e.rolling24hChange()
	if !ok {
		return
	}

	now := e.clk.Now()
	e.samples = append(e.samples, changeSample{at: now, change: change})
	e.pruneSamples(now)

	switch e.mode {
	case models.ModeEmergency:
		e.maybeRecover(now)
	case models.ModeKillSwitch:
		// kill switch перекрывает всё
	default:
		if math.Abs(change) > e.cfg.EmergencyThreshold {
			e.enterEmergency(ctx, change)
		}
	}
}

// rolling24hChange сравнивает последнюю цену с ценой ~24 часа назад
func (e *Engine) rolling24hChange() (float64, bool) {
	last := e.candles[len(e.candles)-1]
	cutoff := last.Timestamp - 24*time.Hour.Milliseconds()

	// первая свеча не старше 24 часов
	ref := e.candles[0]
	if ref.Timestamp > cutoff {
		// истории меньше суток - сравниваем с самой старой свечой,
		// только если накоплено хоть что-то осмысленное
		if len(e.candles) < 2 {
			return 0, false
		}
	} else {
		for _, c := range e.candles {
			if c.Timestamp >= cutoff {
				ref = c
				break
			}
		}
	}

	if ref.Close == 0 {
		return 0, false
	}
	return (last.Close - ref.Close) / ref.Close, true
}

// pruneSamples выбрасывает замеры старше окна гистерезиса
func (e *Engine) pruneSamples(now time.Time) {
	cutoff := now.Add(-e.cfg.EmergencyDwell)
	i := 0
	for ; i < len(e.samples); i++ {
		if e.samples[i].at.After(cutoff) {
			break
		}
	}
	e.samples = e.samples[i:]
}

// enterEmergency переводит движок в аварийный режим и немедленно
// режет каждую открытую позицию пополам reduce-only ордером
func (e *Engine) enterEmergency(ctx context.Context, change float64) {
	e.mode = models.ModeEmergency
	e.emergencySince = e.clk.Now()
	obs.EmergencyTriggers.WithLabelValues(e.symbol).Inc()
	obs.SetMode(e.symbol, modeCode[e.mode])

	e.log.Error("emergency mode activated",
		zap.Float64("change_24h", change),
		zap.Float64("threshold", e.cfg.EmergencyThreshold))

	for _, order := range e.reduceOrders(0.5) {
		if _, err := e.ledger.CreateOrder(ctx, order, nil); err != nil {
			e.log.Error("emergency reduce order failed", zap.Error(err))
		}
	}
}

// maybeRecover выходит из аварийного режима только после минимальной
// выдержки, и только если все замеры в окне ниже порога восстановления
func (e *Engine) maybeRecover(now time.Time) {
	if now.Sub(e.emergencySince) < e.cfg.EmergencyDwell {
		return
	}
	for _, s := range e.samples {
		if math.Abs(s.change) >= e.cfg.RecoveryThreshold {
			return
		}
	}

	e.mode = models.ModeNormal
	obs.SetMode(e.symbol, modeCode[e.mode])
	e.log.Info("emergency mode cleared",
		zap.Duration("dwell", now.Sub(e.emergencySince)))
}

// reduceOrders строит по одному reduce-only рыночному ордеру на каждую
// открытую позицию, противоположной стороной на долю fraction
func (e *Engine) reduceOrders(fraction float64) []*models.Order {
	positions := e.ledger.GetPositions(e.symbol)
	orders := make([]*models.Order, 0, len(positions))
	for _, pos := range positions {
		if pos.Amount <= 0 {
			continue
		}
		side := models.SideSell
		if pos.Side == models.SideShort {
			side = models.SideBuy
		}
		orders = append(orders, &models.Order{
			Symbol:     e.symbol,
			Side:       side,
			Kind:       models.KindMarket,
			Amount:     pos.Amount * fraction,
			Price:      pos.CurrentPrice,
			ReduceOnly: true,
		})
	}
	return orders
}

// ============================================================================
// Цикл стратегии
// ============================================================================

// AnalyzeMarket классифицирует режим рынка и кэширует рекомендацию
func (e *Engine) AnalyzeMarket() *strategy.Analysis {
	e.analysis = e.analyzer.Analyze(e.symbol, e.candles)
	return e.analysis
}

// ExecuteStrategy выполняет один шаг принятия решений и возвращает
// сигналы после хеджа и риск-фильтра. Ошибка провайдера не фатальна и
// превращается в пустой набор сигналов; ошибкой самого шага является
// только kill switch.
func (e *Engine) ExecuteStrategy(ctx context.Context) (*strategy.Result, error) {
	if e.mode == models.ModeEmergency {
		// в аварийном режиме только сокращаемся
		return &strategy.Result{
			Signals:   e.reduceOrders(0.5),
			Timestamp: e.clk.Now(),
		}, nil
	}

	if !e.tradingEnabled {
		return &strategy.Result{Timestamp: e.clk.Now()}, ErrTradingDisabled
	}

	if e.analysis == nil {
		e.AnalyzeMarket()
	}

	result := &strategy.Result{Tag: e.analysis.Strategy, Timestamp: e.clk.Now()}

	provider, err := e.registry.Get(e.analysis.Strategy)
	if err != nil {
		e.log.Error("no provider for regime", zap.String("strategy", e.analysis.Strategy.String()), zap.Error(err))
		return result, nil
	}

	positions := e.ledger.GetPositions(e.symbol)
	raw, err := provider.Evaluate(ctx, &strategy.Input{
		Symbol:    e.symbol,
		Candles:   e.candles,
		Positions: positions,
		Balance:   e.balance,
		Available: e.available(positions),
	})
	if err != nil {
		// деградация до пустого набора сигналов, цикл продолжается
		e.log.Warn("strategy evaluation failed",
			zap.String("strategy", e.analysis.Strategy.String()),
			zap.Error(err))
		return result, nil
	}

	signals := raw.Signals
	if hedge := e.hedgeSignal(positions); hedge != nil {
		signals = append(signals, hedge)
	}

	result.Signals = e.riskFilter(signals, positions)

	for range result.Signals {
		obs.SignalsEmitted.WithLabelValues(e.symbol, e.analysis.Strategy.String()).Inc()
	}
	return result, nil
}

// available - грубая оценка свободных средств: баланс минус нотионал
// открытых позиций
func (e *Engine) available(positions []*models.Position) float64 {
	used := 0.0
	for _, p := range positions {
		used += p.Notional()
	}
	return utils.Clamp(e.balance-used, 0, e.balance)
}

// Equity возвращает баланс с учётом реализованного и нереализованного
// PnL по инструменту
func (e *Engine) Equity() float64 {
	return e.balance +
		e.ledger.GetRealizedPnl(e.symbol) +
		e.ledger.GetTotalUnrealizedPnl(e.symbol)
}

// GetStatus возвращает снимок состояния для мониторинга
func (e *Engine) GetStatus() *Status {
	positions := e.ledger.GetPositions(e.symbol)
	pnl := e.ledger.GetTotalUnrealizedPnl(e.symbol)

	acct := models.Account{
		Balance:   e.balance,
		Available: e.available(positions),
		Positions: positions,
		DailyPnl:  pnl,
	}
	if e.balance > 0 {
		acct.DailyPnlPercentage = pnl / e.balance * 100
	}

	return &Status{
		Symbol:         e.symbol,
		Account:        acct,
		MarketAnalysis: e.analysis,
		ActiveMode:     e.mode,
		TradingEnabled: e.tradingEnabled,
	}
}

// ============================================================================
// Хеджирование
// ============================================================================

// hedgeSignal оценивает дисбаланс сторон. При |netDelta| выше порога
// эмитится один рыночный ордер, сокращающий перевес, размером
// hedgeRatio от разницы нотионалов по VWAP последних свечей.
func (e *Engine) hedgeSignal(positions []*models.Position) *models.Order {
	var longNotional, shortNotional float64
	for _, p := range positions {
		switch p.Side {
		case models.SideLong:
			longNotional += p.Notional()
		case models.SideShort:
			shortNotional += p.Notional()
		}
	}

	// дисбаланс определён только для двухсторонней книги: одинокая
	// позиция дала бы |netDelta|=1 и бесконечное самосокращение
	if longNotional <= 0 || shortNotional <= 0 {
		return nil
	}
	total := longNotional + shortNotional

	netDelta := (longNotional - shortNotional) / total
	if math.Abs(netDelta) < e.cfg.HedgeDeltaThreshold {
		return nil
	}

	price := utils.Vwap(e.candles, e.cfg.HedgeVwapWindow)
	if price <= 0 {
		return nil
	}

	hedgeNotional := e.cfg.HedgeRatio * math.Abs(longNotional-shortNotional)
	side := models.SideSell // перевес long сокращается продажей
	if netDelta < 0 {
		side = models.SideBuy
	}

	e.log.Info("hedge signal",
		zap.Float64("net_delta", netDelta),
		zap.Float64("notional", hedgeNotional),
		zap.String("side", side))

	return &models.Order{
		Symbol:     e.symbol,
		Side:       side,
		Kind:       models.KindMarket,
		Amount:     hedgeNotional / price,
		Price:      price,
		ReduceOnly: true,
	}
}

// ============================================================================
// Риск-фильтр
// ============================================================================

// riskFilter режет или отбрасывает сигналы: нотионал не больше
// доступных средств (покупка) и не больше удерживаемой позиции
// (продажа, кроме стопов); риск amount×stopDistance ужимается до
// balance×maxRiskPerTrade; нотионал капится 10×maxRiskAmount.
func (e *Engine) riskFilter(signals []*models.Order, positions []*models.Position) []*models.Order {
	if len(signals) == 0 {
		return signals
	}

	available := e.available(positions)
	out := make([]*models.Order, 0, len(signals))

	for _, sig := range signals {
		price := sig.Price
		if price <= 0 && len(e.candles) > 0 {
			price = e.candles[len(e.candles)-1].Close
		}
		if price <= 0 || sig.Amount <= 0 {
			continue
		}

		amount := sig.Amount
		shrunk := false

		if sig.Side == models.SideBuy && !sig.ReduceOnly {
			if maxAmount := available / price; amount > maxAmount {
				amount = maxAmount
				shrunk = true
			}
		}

		if sig.Side == models.SideSell && !models.IsStopKind(sig.Kind) && !sig.ReduceOnly {
			held := 0.0
			for _, p := range positions {
				if p.Side == models.SideLong {
					held += p.Amount
				}
			}
			if amount > held {
				amount = held
				shrunk = true
			}
		}

		if amount <= 0 {
			e.log.Warn("signal dropped by risk filter",
				zap.String("side", sig.Side),
				zap.Float64("requested", sig.Amount))
			continue
		}

		// риск через дистанцию до стопа: парный стоп либо 1.5×ATR
		stopDistance := 0.0
		if sig.StopPrice > 0 {
			stopDistance = math.Abs(price - sig.StopPrice)
		} else if atr, ok := e.lastAtr(); ok {
			stopDistance = e.cfg.AtrStopMultiple * atr
		}

		if stopDistance > 0 {
			maxRisk := e.balance * e.cfg.MaxRiskPerTrade
			if amount*stopDistance > maxRisk {
				amount = maxRisk / stopDistance
				shrunk = true
			}
		}

		if notionalCap := 10 * e.cfg.MaxRiskAmount; notionalCap > 0 && amount*price > notionalCap {
			amount = notionalCap / price
			shrunk = true
		}

		// площадка принимает объёмы кратно лот-степу
		if e.cfg.LotStep > 0 {
			if rounded := utils.RoundToStep(amount, e.cfg.LotStep); rounded != amount {
				amount = rounded
				shrunk = true
			}
			if amount <= 0 {
				e.log.Warn("signal dropped by risk filter",
					zap.String("side", sig.Side),
					zap.Float64("requested", sig.Amount))
				continue
			}
		}

		if shrunk {
			obs.SignalsShrunk.WithLabelValues(e.symbol).Inc()
		}

		cp := *sig
		cp.Amount = amount
		out = append(out, &cp)
	}

	return out
}

// lastAtr возвращает последний ATR по накопленным свечам
func (e *Engine) lastAtr() (float64, bool) {
	if len(e.candles) < e.cfg.AtrPeriod+1 {
		return 0, false
	}

	highs := make([]float64, len(e.candles))
	lows := make([]float64, len(e.candles))
	cls := make([]float64, len(e.candles))
	for i, c := range e.candles {
		highs[i], lows[i], cls[i] = c.High, c.Low, c.Close
	}

	atr := talib.Atr(highs, lows, cls, e.cfg.AtrPeriod)
	v := atr[len(atr)-1]
	if math.IsNaN(v) || v <= 0 {
		return 0, false
	}
	return v, true
}
