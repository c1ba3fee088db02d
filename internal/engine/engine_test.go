package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/config"
	"tradebot/internal/exchange"
	"tradebot/internal/ledger"
	"tradebot/internal/models"
	"tradebot/internal/strategy"
	"tradebot/pkg/clock"
)

// okConnector принимает всё и ничего не знает про статусы
type okConnector struct{ rejected bool }

func (c *okConnector) ExecuteOrder(ctx context.Context, order *models.Order, opts *exchange.OrderOptions) (string, error) {
	if c.rejected {
		return "", &exchange.ConnectorError{Venue: "test", Op: "ExecuteOrder", Message: "rejected"}
	}
	return "ext-" + order.ID, nil
}

func (c *okConnector) FetchOrder(ctx context.Context, symbol, externalID string) (*exchange.OrderStatus, error) {
	return nil, nil
}
func (c *okConnector) CancelOrder(ctx context.Context, symbol, externalID string) error { return nil }
func (c *okConnector) CreateOcoOrder(ctx context.Context, params *exchange.OcoParams) (string, error) {
	return "oco", nil
}
func (c *okConnector) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return nil, nil
}
func (c *okConnector) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}
func (c *okConnector) GetBalance(ctx context.Context) (float64, error) { return 10000, nil }
func (c *okConnector) Close() error                                    { return nil }

// failingProvider всегда возвращает ошибку
type failingProvider struct{}

func (failingProvider) Tag() strategy.Tag { return strategy.TagTrend }
func (failingProvider) Evaluate(ctx context.Context, input *strategy.Input) (*strategy.Result, error) {
	return nil, errors.New("indicator blew up")
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		EmergencyThreshold:  0.15,
		RecoveryThreshold:   0.075,
		EmergencyDwell:      30 * time.Minute,
		MaxRiskPerTrade:     0.02,
		MaxRiskAmount:       10000,
		AtrPeriod:           14,
		AtrStopMultiple:     1.5,
		HedgeDeltaThreshold: 0.15,
		HedgeRatio:          0.4,
		HedgeVwapWindow:     20,
		MaxCandles:          500,
		InitialBalance:      10000,
	}
}

func newTestEngine(t *testing.T) (*Engine, *ledger.OrderLedger, *clock.Fake) {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	led := ledger.New(&okConnector{}, nil, clk, zap.NewNop(), ledger.Config{
		PollInterval: time.Minute,
		OrderTimeout: time.Second,
		VenueRate:    10000,
		VenueBurst:   10000,
	})

	reg, err := strategy.NewRegistry(
		strategy.NewTrendProvider(5, 20, 14, 0.1),
		strategy.NewMeanReversionProvider(14, 14, 30, 70, 0.1),
		strategy.NewRangeProvider(20, 2.0, 0.1),
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	analyzer := strategy.NewRegimeAnalyzer(14, 20, 25, 20)
	e := New("BTCUSDT", testEngineConfig(), led, reg, analyzer, clk, zap.NewNop())
	return e, led, clk
}

func candleAt(ts time.Time, close float64) models.Candle {
	return models.Candle{
		Symbol:    "BTCUSDT",
		Timestamp: ts.UnixMilli(),
		Open:      close,
		High:      close * 1.001,
		Low:       close * 0.999,
		Close:     close,
		Volume:    100,
	}
}

func openLong(t *testing.T, led *ledger.OrderLedger, amount, price float64) {
	t.Helper()
	id, err := led.CreateOrder(context.Background(), &models.Order{
		Symbol: "BTCUSDT", Side: models.SideBuy, Kind: models.KindMarket, Amount: amount, Price: price,
	}, nil)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if err := led.FillOrder(context.Background(), id, price); err != nil {
		t.Fatalf("FillOrder failed: %v", err)
	}
}

// ============================================================================
// Аварийный режим
// ============================================================================

func TestEmergencyTriggerHalvesPositions(t *testing.T) {
	e, led, clk := newTestEngine(t)
	ctx := context.Background()

	openLong(t, led, 2.0, 100)

	start := clk.Now()
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start, 100)})

	// рост на 16% при пороге 15%
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start.Add(time.Minute), 116)})

	if e.Mode() != models.ModeEmergency {
		t.Fatalf("expected emergency mode, got %s", e.Mode())
	}

	// размещён один reduce-ордер на половину позиции
	placed := led.GetOrdersByStatus(models.OrderStatusPlaced)
	var reduce *models.Order
	for _, o := range placed {
		if o.ReduceOnly {
			reduce = o
		}
	}
	if reduce == nil {
		t.Fatal("expected a reduce-only order after emergency trigger")
	}
	if reduce.Side != models.SideSell {
		t.Errorf("long must be reduced by sell, got %s", reduce.Side)
	}
	if math.Abs(reduce.Amount-1.0) > 1e-9 {
		t.Errorf("expected half of 2.0 = 1.0, got %v", reduce.Amount)
	}
}

func TestEmergencyRecoveryNeedsDwellAndQuietSamples(t *testing.T) {
	e, _, clk := newTestEngine(t)
	ctx := context.Background()

	start := clk.Now()
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start, 100)})
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start.Add(time.Minute), 116)})
	if e.Mode() != models.ModeEmergency {
		t.Fatalf("expected emergency, got %s", e.Mode())
	}

	// цена вернулась, но выдержка не прошла - остаёмся в emergency
	clk.Advance(10 * time.Minute)
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start.Add(11*time.Minute), 101)})
	if e.Mode() != models.ModeEmergency {
		t.Fatalf("must stay in emergency during dwell, got %s", e.Mode())
	}

	// выдержка прошла и все замеры в окне тихие - выходим
	clk.Advance(25 * time.Minute)
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start.Add(36*time.Minute), 101)})
	if e.Mode() != models.ModeNormal {
		t.Errorf("expected recovery to normal, got %s", e.Mode())
	}
}

func TestEmergencyNoRecoveryWhileVolatile(t *testing.T) {
	e, _, clk := newTestEngine(t)
	ctx := context.Background()

	start := clk.Now()
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start, 100)})
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start.Add(time.Minute), 116)})

	// выдержка прошла, но изменение всё ещё выше порога восстановления
	clk.Advance(35 * time.Minute)
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start.Add(36*time.Minute), 112)})

	if e.Mode() != models.ModeEmergency {
		t.Errorf("12%% change is above recovery threshold, must stay emergency, got %s", e.Mode())
	}
}

func TestEmergencyExecuteStrategyEmitsReduceOnly(t *testing.T) {
	e, led, clk := newTestEngine(t)
	ctx := context.Background()

	openLong(t, led, 2.0, 100)

	start := clk.Now()
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start, 100)})
	e.UpdateMarketData(ctx, []models.Candle{candleAt(start.Add(time.Minute), 116)})

	result, err := e.ExecuteStrategy(ctx)
	if err != nil {
		t.Fatalf("ExecuteStrategy failed: %v", err)
	}
	for _, sig := range result.Signals {
		if !sig.ReduceOnly {
			t.Errorf("emergency signals must be reduce-only: %+v", sig)
		}
	}
}

// ============================================================================
// Kill switch
// ============================================================================

func TestKillSwitchBlocksSignals(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.SetTradingEnabled(false)
	if e.Mode() != models.ModeKillSwitch {
		t.Fatalf("expected kill_switch mode, got %s", e.Mode())
	}

	result, err := e.ExecuteStrategy(context.Background())
	if !errors.Is(err, ErrTradingDisabled) {
		t.Fatalf("expected ErrTradingDisabled, got %v", err)
	}
	if len(result.Signals) != 0 {
		t.Errorf("expected no signals with kill switch, got %d", len(result.Signals))
	}

	e.SetTradingEnabled(true)
	if e.Mode() != models.ModeNormal {
		t.Errorf("expected normal after re-enable, got %s", e.Mode())
	}
}

// ============================================================================
// Ошибки стратегии
// ============================================================================

func TestStrategyErrorDegradesToEmptySignals(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	led := ledger.New(&okConnector{}, nil, clk, zap.NewNop(), ledger.Config{})

	reg, _ := strategy.NewRegistry(failingProvider{})
	analyzer := strategy.NewRegimeAnalyzer(14, 20, 25, 20)
	e := New("BTCUSDT", testEngineConfig(), led, reg, analyzer, clk, zap.NewNop())

	// режим принудительно указывает на падающего провайдера
	e.analysis = &strategy.Analysis{Symbol: "BTCUSDT", Strategy: strategy.TagTrend}

	result, err := e.ExecuteStrategy(context.Background())
	if err != nil {
		t.Fatalf("provider error must not fail the cycle: %v", err)
	}
	if len(result.Signals) != 0 {
		t.Errorf("expected empty signals after provider error, got %d", len(result.Signals))
	}
}

// ============================================================================
// Риск-фильтр
// ============================================================================

func TestRiskFilterShrinksByStopDistance(t *testing.T) {
	e, _, _ := newTestEngine(t)

	// balance=10000, maxRiskPerTrade=0.02, stopDistance=5:
	// риск 100×5=500 ужимается до 10000×0.02=200 → amount 40
	signals := []*models.Order{{
		Symbol:    "BTCUSDT",
		Side:      models.SideBuy,
		Kind:      models.KindLimit,
		Price:     100,
		StopPrice: 95,
		Amount:    100,
	}}

	out := e.riskFilter(signals, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(out))
	}
	if math.Abs(out[0].Amount-40) > 1e-9 {
		t.Errorf("expected amount shrunk to 40, got %v", out[0].Amount)
	}
}

func TestRiskFilterRoundsAmountToLotStep(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.cfg.LotStep = 0.5

	signals := []*models.Order{{
		Symbol: "BTCUSDT",
		Side:   models.SideBuy,
		Kind:   models.KindLimit,
		Price:  100,
		Amount: 1.2345,
	}}

	out := e.riskFilter(signals, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(out))
	}
	// округление всегда вниз: вверх объём мог бы превысить лимиты
	if math.Abs(out[0].Amount-1.0) > 1e-9 {
		t.Errorf("expected amount rounded down to 1.0, got %v", out[0].Amount)
	}
}

func TestRiskFilterDropsDustBelowLotStep(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.cfg.LotStep = 0.5

	signals := []*models.Order{{
		Symbol: "BTCUSDT",
		Side:   models.SideBuy,
		Kind:   models.KindLimit,
		Price:  100,
		Amount: 0.3,
	}}

	if out := e.riskFilter(signals, nil); len(out) != 0 {
		t.Errorf("expected dust signal dropped, got %d signals", len(out))
	}
}

func TestRiskFilterCapsBuyAtAvailable(t *testing.T) {
	e, _, _ := newTestEngine(t)

	// без стопа и без ATR (свечей нет) работает только лимит средств
	signals := []*models.Order{{
		Symbol: "BTCUSDT",
		Side:   models.SideBuy,
		Kind:   models.KindLimit,
		Price:  100,
		Amount: 200, // нотионал 20000 > 10000
	}}

	out := e.riskFilter(signals, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(out))
	}
	if math.Abs(out[0].Amount-100) > 1e-9 {
		t.Errorf("expected amount capped at 100, got %v", out[0].Amount)
	}
}

func TestRiskFilterSellLimitedByHeldPosition(t *testing.T) {
	e, led, _ := newTestEngine(t)

	openLong(t, led, 0.5, 100)
	positions := led.GetPositions("BTCUSDT")

	signals := []*models.Order{{
		Symbol: "BTCUSDT",
		Side:   models.SideSell,
		Kind:   models.KindLimit,
		Price:  100,
		Amount: 2.0,
	}}

	out := e.riskFilter(signals, positions)
	if len(out) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(out))
	}
	if math.Abs(out[0].Amount-0.5) > 1e-9 {
		t.Errorf("sell must be limited to held 0.5, got %v", out[0].Amount)
	}
}

func TestRiskFilterDropsSellWithoutPosition(t *testing.T) {
	e, _, _ := newTestEngine(t)

	signals := []*models.Order{{
		Symbol: "BTCUSDT",
		Side:   models.SideSell,
		Kind:   models.KindLimit,
		Price:  100,
		Amount: 1.0,
	}}

	out := e.riskFilter(signals, nil)
	if len(out) != 0 {
		t.Errorf("sell without held position must be dropped, got %d signals", len(out))
	}
}

func TestRiskFilterNotionalCap(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.cfg.MaxRiskAmount = 50 // кап нотионала 500
	e.balance = 1000000
	e.cfg.MaxRiskPerTrade = 0.5

	signals := []*models.Order{{
		Symbol:    "BTCUSDT",
		Side:      models.SideBuy,
		Kind:      models.KindLimit,
		Price:     100,
		StopPrice: 99.99,
		Amount:    100, // нотионал 10000 > 500
	}}

	out := e.riskFilter(signals, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(out))
	}
	if math.Abs(out[0].Amount-5) > 1e-6 {
		t.Errorf("expected notional cap to shrink amount to 5, got %v", out[0].Amount)
	}
}

// ============================================================================
// Хеджирование
// ============================================================================

func TestHedgeSignalOnImbalance(t *testing.T) {
	e, _, clk := newTestEngine(t)
	ctx := context.Background()

	// long 10 и short 5 по 100: netDelta = 500/1500 ≈ 0.33
	positions := []*models.Position{
		{Symbol: "BTCUSDT", Side: models.SideLong, Amount: 10, EntryPrice: 100, CurrentPrice: 100},
		{Symbol: "BTCUSDT", Side: models.SideShort, Amount: 5, EntryPrice: 100, CurrentPrice: 100},
	}

	start := clk.Now()
	candles := make([]models.Candle, 25)
	for i := range candles {
		candles[i] = candleAt(start.Add(time.Duration(i)*time.Minute), 100)
	}
	e.UpdateMarketData(ctx, candles)

	hedge := e.hedgeSignal(positions)
	if hedge == nil {
		t.Fatal("expected hedge signal at netDelta 0.33")
	}
	if hedge.Side != models.SideSell {
		t.Errorf("long-heavy book must hedge with sell, got %s", hedge.Side)
	}
	if !hedge.ReduceOnly {
		t.Error("hedge order must be reduce-only")
	}

	// 0.4 × |1000-500| = 200 нотионала по VWAP≈100 → amount ≈ 2
	if math.Abs(hedge.Amount-2.0) > 0.05 {
		t.Errorf("expected hedge amount ≈ 2.0, got %v", hedge.Amount)
	}
}

func TestNoHedgeBelowThreshold(t *testing.T) {
	e, _, clk := newTestEngine(t)
	ctx := context.Background()

	// long 10, short 9: netDelta = 100/1900 ≈ 0.05 < 0.15
	positions := []*models.Position{
		{Symbol: "BTCUSDT", Side: models.SideLong, Amount: 10, EntryPrice: 100, CurrentPrice: 100},
		{Symbol: "BTCUSDT", Side: models.SideShort, Amount: 9, EntryPrice: 100, CurrentPrice: 100},
	}

	start := clk.Now()
	candles := make([]models.Candle, 25)
	for i := range candles {
		candles[i] = candleAt(start.Add(time.Duration(i)*time.Minute), 100)
	}
	e.UpdateMarketData(ctx, candles)

	if hedge := e.hedgeSignal(positions); hedge != nil {
		t.Errorf("no hedge expected below threshold, got %+v", hedge)
	}
}

func TestNoHedgeForOneSidedBook(t *testing.T) {
	e, _, _ := newTestEngine(t)

	positions := []*models.Position{
		{Symbol: "BTCUSDT", Side: models.SideLong, Amount: 10, EntryPrice: 100, CurrentPrice: 100},
	}

	if hedge := e.hedgeSignal(positions); hedge != nil {
		t.Errorf("one-sided book must not hedge, got %+v", hedge)
	}
}

// ============================================================================
// Статус
// ============================================================================

func TestGetStatus(t *testing.T) {
	e, led, _ := newTestEngine(t)

	openLong(t, led, 1.0, 100)
	led.MarkPrice("BTCUSDT", 110)

	status := e.GetStatus()
	if status.Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbol %s", status.Symbol)
	}
	if status.ActiveMode != models.ModeNormal {
		t.Errorf("expected normal mode, got %s", status.ActiveMode)
	}
	if len(status.Account.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(status.Account.Positions))
	}
	if status.Account.DailyPnl != 10 {
		t.Errorf("expected pnl 10, got %v", status.Account.DailyPnl)
	}

	if eq := e.Equity(); eq != 10010 {
		t.Errorf("expected equity 10010, got %v", eq)
	}
}

func TestEquityKeepsRealizedPnlAfterClose(t *testing.T) {
	e, led, _ := newTestEngine(t)
	ctx := context.Background()

	openLong(t, led, 1.0, 100)

	sellID, err := led.CreateOrder(ctx, &models.Order{
		Symbol: "BTCUSDT", Side: models.SideSell, Kind: models.KindMarket, Amount: 1.0, Price: 110,
	}, nil)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if err := led.FillOrder(ctx, sellID, 110); err != nil {
		t.Fatalf("FillOrder failed: %v", err)
	}

	// позиция схлопнулась в ноль, но прибыль с закрытия остаётся в equity
	if pos := led.GetPositions("BTCUSDT"); len(pos) != 0 {
		t.Fatalf("expected flat book, got %d positions", len(pos))
	}
	if eq := e.Equity(); eq != 10010 {
		t.Errorf("expected equity 10010 after realizing +10, got %v", eq)
	}
}
