package portfolio

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/models"
	"tradebot/pkg/clock"
)

func newTestRisk() *RiskAnalyzer {
	return NewRiskAnalyzer(clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), zap.NewNop())
}

func seq(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestCorrelationMatrixProperties(t *testing.T) {
	r := newTestRisk()

	a := seq(30, func(i int) float64 { return math.Sin(float64(i)) })
	b := seq(30, func(i int) float64 { return math.Cos(float64(i)) })

	r.UpdateCorrelationMatrix(map[string][]float64{"AAA": a, "BBB": b})

	matrix := r.Matrix()
	if matrix["AAA"]["AAA"] != 1.0 || matrix["BBB"]["BBB"] != 1.0 {
		t.Error("diagonal must be 1")
	}
	if matrix["AAA"]["BBB"] != matrix["BBB"]["AAA"] {
		t.Errorf("matrix must be symmetric: %v vs %v", matrix["AAA"]["BBB"], matrix["BBB"]["AAA"])
	}
	if c := matrix["AAA"]["BBB"]; c < -1 || c > 1 {
		t.Errorf("coefficient out of range: %v", c)
	}
}

func TestIdenticalSeriesCorrelateToOne(t *testing.T) {
	r := newTestRisk()

	series := seq(50, func(i int) float64 { return math.Sin(float64(i) / 3) })
	r.UpdateCorrelationMatrix(map[string][]float64{"AAA": series, "BBB": series})

	if c := r.Correlation("AAA", "BBB"); math.Abs(c-1.0) > 1e-6 {
		t.Errorf("identical series must correlate ≈ 1.0, got %v", c)
	}
}

func TestTooFewSamplesYieldZero(t *testing.T) {
	r := newTestRisk()

	short := seq(9, func(i int) float64 { return float64(i) })
	r.UpdateCorrelationMatrix(map[string][]float64{"AAA": short, "BBB": short})

	if c := r.Correlation("AAA", "BBB"); c != 0 {
		t.Errorf("fewer than 10 samples must yield 0, got %v", c)
	}
}

func TestConstantSeriesYieldZero(t *testing.T) {
	r := newTestRisk()

	flat := seq(30, func(int) float64 { return 0.01 })
	moving := seq(30, func(i int) float64 { return math.Sin(float64(i)) })
	r.UpdateCorrelationMatrix(map[string][]float64{"AAA": flat, "BBB": moving})

	if c := r.Correlation("AAA", "BBB"); c != 0 {
		t.Errorf("zero-variance series must yield 0, got %v", c)
	}
}

func TestGetHighlyCorrelatedPairs(t *testing.T) {
	r := newTestRisk()

	base := seq(40, func(i int) float64 { return math.Sin(float64(i) / 2) })
	inverse := seq(40, func(i int) float64 { return -math.Sin(float64(i) / 2) })
	noise := seq(40, func(i int) float64 { return math.Sin(float64(i)*7 + 1) })

	r.UpdateCorrelationMatrix(map[string][]float64{
		"AAA": base,
		"BBB": base,    // корреляция с AAA ≈ 1
		"CCC": inverse, // корреляция с AAA ≈ -1
		"DDD": noise,
	})

	pairs := r.GetHighlyCorrelatedPairs(0.8)

	found := map[string]float64{}
	for _, p := range pairs {
		found[p.SymbolA+"/"+p.SymbolB] = p.Coefficient
	}

	if c, ok := found["AAA/BBB"]; !ok || c < 0.8 {
		t.Errorf("expected AAA/BBB above threshold, got %v", found)
	}
	// порог по модулю: антикорреляция тоже попадает
	if c, ok := found["AAA/CCC"]; !ok || c > -0.8 {
		t.Errorf("expected AAA/CCC below -0.8, got %v", found)
	}
}

func TestAnalyzePortfolioRisk(t *testing.T) {
	r := newTestRisk()

	positions := map[string][]*models.Position{
		"BTCUSDT": {
			{Symbol: "BTCUSDT", Side: models.SideLong, Amount: 1, EntryPrice: 100, CurrentPrice: 100},
		},
		"ETHUSDT": {
			{Symbol: "ETHUSDT", Side: models.SideShort, Amount: 2, EntryPrice: 50, CurrentPrice: 50},
		},
	}

	// gross = 100 + 100 = 200; VaR = 200×0.02 = 4 (кап 0.1×10000=1000 не достигнут)
	snap := r.AnalyzePortfolioRisk(positions, 10000, nil)

	if math.Abs(snap.ValueAtRisk-4.0) > 1e-9 {
		t.Errorf("expected VaR 4.0, got %v", snap.ValueAtRisk)
	}
	if math.Abs(snap.ExpectedShortfall-6.0) > 1e-9 {
		t.Errorf("expected ES 6.0, got %v", snap.ExpectedShortfall)
	}
	// две равные доли: 0.5² + 0.5² = 0.5
	if math.Abs(snap.ConcentrationRisk-0.5) > 1e-9 {
		t.Errorf("expected Herfindahl 0.5, got %v", snap.ConcentrationRisk)
	}
	if len(snap.StressScenarios) == 0 {
		t.Error("expected stress scenarios")
	}
}

func TestVaRCappedAtEquityShare(t *testing.T) {
	r := newTestRisk()

	positions := map[string][]*models.Position{
		"BTCUSDT": {
			{Symbol: "BTCUSDT", Side: models.SideLong, Amount: 100, EntryPrice: 1000, CurrentPrice: 1000},
		},
	}

	// gross = 100000, VaR без капа = 2000, кап = 0.1×1000 = 100
	snap := r.AnalyzePortfolioRisk(positions, 1000, nil)
	if math.Abs(snap.ValueAtRisk-100) > 1e-9 {
		t.Errorf("expected VaR capped at 100, got %v", snap.ValueAtRisk)
	}
}

func TestConcentrationFullyConcentrated(t *testing.T) {
	r := newTestRisk()

	positions := map[string][]*models.Position{
		"BTCUSDT": {
			{Symbol: "BTCUSDT", Side: models.SideLong, Amount: 1, EntryPrice: 100, CurrentPrice: 100},
		},
		"ETHUSDT": {},
	}

	snap := r.AnalyzePortfolioRisk(positions, 10000, nil)
	if math.Abs(snap.ConcentrationRisk-1.0) > 1e-9 {
		t.Errorf("single-symbol book must have Herfindahl 1.0, got %v", snap.ConcentrationRisk)
	}
}

func TestCorrelationRiskWeighted(t *testing.T) {
	r := newTestRisk()

	base := seq(40, func(i int) float64 { return math.Sin(float64(i) / 2) })
	r.UpdateCorrelationMatrix(map[string][]float64{"AAA": base, "BBB": base})

	weights := map[string]float64{"AAA": 0.5, "BBB": 0.5}
	snap := r.AnalyzePortfolioRisk(map[string][]*models.Position{}, 10000, weights)

	// единственная пара с корреляцией ≈1 и положительным весом
	if math.Abs(snap.CorrelationRisk-1.0) > 1e-6 {
		t.Errorf("expected correlation risk ≈ 1.0, got %v", snap.CorrelationRisk)
	}
}
