package portfolio

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tradebot/internal/models"
	"tradebot/internal/obs"
	"tradebot/pkg/clock"
)

// minCorrelationSamples - минимум пересекающихся точек для Пирсона
const minCorrelationSamples = 10

const (
	varFraction  = 0.02 // доля суммарного нотионала под риском
	varEquityCap = 0.10 // VaR не выше этой доли equity
	esMultiplier = 1.5  // expected shortfall относительно VaR
)

// RiskAnalyzer единолично владеет матрицей корреляций и снимком риска.
// Остальные компоненты только читают через копирующие геттеры.
type RiskAnalyzer struct {
	mu       sync.RWMutex
	matrix   map[string]map[string]float64
	snapshot *models.RiskSnapshot
	clk      clock.Clock
	log      *zap.Logger
}

// NewRiskAnalyzer создаёт анализатор с пустой матрицей
func NewRiskAnalyzer(clk clock.Clock, log *zap.Logger) *RiskAnalyzer {
	return &RiskAnalyzer{
		matrix: make(map[string]map[string]float64),
		clk:    clk,
		log:    log,
	}
}

// ============================================================================
// Корреляции
// ============================================================================

// UpdateCorrelationMatrix пересчитывает попарные корреляции Пирсона по
// рядам доходностей. Пары с недостаточным пересечением получают 0.
func (r *RiskAnalyzer) UpdateCorrelationMatrix(returnsBySymbol map[string][]float64) {
	symbols := make([]string, 0, len(returnsBySymbol))
	for s := range returnsBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	matrix := make(map[string]map[string]float64, len(symbols))
	for _, s := range symbols {
		matrix[s] = make(map[string]float64, len(symbols))
		matrix[s][s] = 1.0
	}

	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			a, b := symbols[i], symbols[j]
			coeff := pearson(returnsBySymbol[a], returnsBySymbol[b])
			matrix[a][b] = coeff
			matrix[b][a] = coeff
		}
	}

	r.mu.Lock()
	r.matrix = matrix
	r.mu.Unlock()

	r.log.Debug("correlation matrix updated", zap.Int("symbols", len(symbols)))
}

// pearson - корреляция Пирсона по пересекающемуся префиксу рядов
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < minCorrelationSamples {
		return 0
	}

	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	if varA <= 0 || varB <= 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// Correlation возвращает коэффициент для пары символов
func (r *RiskAnalyzer) Correlation(a, b string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if row, ok := r.matrix[a]; ok {
		return row[b]
	}
	return 0
}

// Matrix возвращает копию матрицы корреляций
func (r *RiskAnalyzer) Matrix() map[string]map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]float64, len(r.matrix))
	for s, row := range r.matrix {
		cp := make(map[string]float64, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[s] = cp
	}
	return out
}

// GetHighlyCorrelatedPairs возвращает пары с |коэффициентом| выше
// порога, отсортированные по символам
func (r *RiskAnalyzer) GetHighlyCorrelatedPairs(threshold float64) []models.CorrelatedPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make([]string, 0, len(r.matrix))
	for s := range r.matrix {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	pairs := make([]models.CorrelatedPair, 0)
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			coeff := r.matrix[symbols[i]][symbols[j]]
			if math.Abs(coeff) > threshold {
				pairs = append(pairs, models.CorrelatedPair{
					SymbolA:     symbols[i],
					SymbolB:     symbols[j],
					Coefficient: coeff,
				})
			}
		}
	}
	return pairs
}

// ============================================================================
// Снимок риска
// ============================================================================

// AnalyzePortfolioRisk пересчитывает RiskSnapshot. Вызывается по
// фиксированному расписанию, не на каждом тике.
func (r *RiskAnalyzer) AnalyzePortfolioRisk(positionsBySymbol map[string][]*models.Position,
	totalEquity float64, weights map[string]float64) *models.RiskSnapshot {

	var grossNotional float64
	var netNotional float64
	notionalBySymbol := make(map[string]float64, len(positionsBySymbol))

	for symbol, positions := range positionsBySymbol {
		var symbolNotional float64
		for _, p := range positions {
			n := p.Notional()
			symbolNotional += n
			grossNotional += n
			if p.Side == models.SideLong {
				netNotional += n
			} else {
				netNotional -= n
			}
		}
		notionalBySymbol[symbol] = symbolNotional
	}

	valueAtRisk := grossNotional * varFraction
	if maxVar := totalEquity * varEquityCap; valueAtRisk > maxVar {
		valueAtRisk = maxVar
	}

	concentration := 0.0
	if grossNotional > 0 {
		for _, n := range notionalBySymbol {
			share := n / grossNotional
			concentration += share * share
		}
	}

	snapshot := &models.RiskSnapshot{
		ValueAtRisk:       valueAtRisk,
		ExpectedShortfall: esMultiplier * valueAtRisk,
		ConcentrationRisk: concentration,
		CorrelationRisk:   r.correlationRisk(weights),
		StressScenarios:   stressScenarios(netNotional),
		UpdatedAt:         r.clk.Now(),
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.mu.Unlock()

	obs.PortfolioVaR.Set(valueAtRisk)
	return snapshot
}

// correlationRisk - среднее положительных попарных корреляций,
// взвешенное произведением аллокационных весов
func (r *RiskAnalyzer) correlationRisk(weights map[string]float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make([]string, 0, len(r.matrix))
	for s := range r.matrix {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var num, den float64
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			coeff := r.matrix[symbols[i]][symbols[j]]
			if coeff <= 0 {
				continue
			}
			w := weights[symbols[i]] * weights[symbols[j]]
			num += coeff * w
			den += w
		}
	}
	if den <= 0 {
		return 0
	}
	return num / den
}

// stressScenarios - грубые сценарии шока рынка по чистой экспозиции
func stressScenarios(netNotional float64) []models.StressScenario {
	scenarios := []struct {
		name  string
		shock float64
	}{
		{"market_crash_20", -0.20},
		{"market_drop_10", -0.10},
		{"market_rally_20", 0.20},
	}

	out := make([]models.StressScenario, 0, len(scenarios))
	for _, sc := range scenarios {
		out = append(out, models.StressScenario{
			Name:          sc.name,
			PriceShockPct: sc.shock,
			EstimatedLoss: netNotional * sc.shock,
		})
	}
	return out
}

// Snapshot возвращает последний рассчитанный снимок риска (или nil)
func (r *RiskAnalyzer) Snapshot() *models.RiskSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.snapshot == nil {
		return nil
	}
	cp := *r.snapshot
	return &cp
}
