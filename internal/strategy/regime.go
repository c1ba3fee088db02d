package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"tradebot/internal/models"
)

// RegimeAnalyzer классифицирует текущий рыночный режим по ADX и
// положению цены относительно скользящей средней. Движок кэширует
// рекомендацию между вызовами analyzeMarket.
type RegimeAnalyzer struct {
	adxPeriod  int
	smaPeriod  int
	trendLevel float64 // ADX выше - рынок трендовый
	rangeLevel float64 // ADX ниже - рынок канальный
	defaultTag Tag
}

// Analysis - результат классификации режима
type Analysis struct {
	Symbol       string  `json:"symbol"`
	Regime       string  `json:"regime"`
	Strategy     Tag     `json:"-"`
	StrategyName string  `json:"strategy"`
	Adx          float64 `json:"adx"`
	TrendBias    string  `json:"trend_bias"` // "up", "down", "flat"
}

// NewRegimeAnalyzer создаёт анализатор с порогами ADX
func NewRegimeAnalyzer(adxPeriod, smaPeriod int, trendLevel, rangeLevel float64) *RegimeAnalyzer {
	return &RegimeAnalyzer{
		adxPeriod:  adxPeriod,
		smaPeriod:  smaPeriod,
		trendLevel: trendLevel,
		rangeLevel: rangeLevel,
		defaultTag: TagMeanReversion,
	}
}

// Analyze возвращает рекомендуемую стратегию для текущего состояния
// рынка. При нехватке данных - дефолтная стратегия без ошибки: нехватка
// истории на старте не повод ронять цикл.
func (r *RegimeAnalyzer) Analyze(symbol string, candles []models.Candle) *Analysis {
	analysis := &Analysis{
		Symbol:    symbol,
		Regime:    "unknown",
		Strategy:  r.defaultTag,
		TrendBias: "flat",
	}
	analysis.StrategyName = analysis.Strategy.String()

	need := 2*r.adxPeriod + 1
	if r.smaPeriod+1 > need {
		need = r.smaPeriod + 1
	}
	if len(candles) < need {
		return analysis
	}

	highs, lows, cls := highsLowsCloses(candles)
	adx := talib.Adx(highs, lows, cls, r.adxPeriod)
	sma := talib.Sma(cls, r.smaPeriod)

	last := len(cls) - 1
	lastAdx := adx[last]
	analysis.Adx = lastAdx

	diff := cls[last] - sma[last]
	if math.Abs(diff) > 1e-9 {
		if diff > 0 {
			analysis.TrendBias = "up"
		} else {
			analysis.TrendBias = "down"
		}
	}

	switch {
	case lastAdx >= r.trendLevel:
		analysis.Regime = "trending"
		analysis.Strategy = TagTrend
	case lastAdx <= r.rangeLevel:
		analysis.Regime = "ranging"
		analysis.Strategy = TagRange
	default:
		analysis.Regime = "transitional"
		analysis.Strategy = TagMeanReversion
	}
	analysis.StrategyName = analysis.Strategy.String()

	return analysis
}
