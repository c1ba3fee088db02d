package models

import "time"

// RiskSnapshot представляет срез портфельного риска.
//
// Пересчитывается PortfolioRiskAnalyzer'ом на фиксированном интервале,
// а не на каждом тике. Единственный владелец - анализатор, остальные
// компоненты читают копию.
type RiskSnapshot struct {
	ValueAtRisk       float64          `json:"value_at_risk"`      // не выше 10% от equity
	ExpectedShortfall float64          `json:"expected_shortfall"` // 1.5 × VaR
	ConcentrationRisk float64          `json:"concentration_risk"` // индекс Херфиндаля
	CorrelationRisk   float64          `json:"correlation_risk"`   // взвешенная средняя положительных корреляций
	StressScenarios   []StressScenario `json:"stress_scenarios"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// StressScenario представляет оценку потерь при ценовом шоке
type StressScenario struct {
	Name          string  `json:"name"`
	PriceShockPct float64 `json:"price_shock_pct"` // например -0.10 = падение на 10%
	EstimatedLoss float64 `json:"estimated_loss"`
}

// CorrelatedPair представляет пару символов с высокой корреляцией
type CorrelatedPair struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Coefficient float64 `json:"coefficient"`
}
