package portfolio

import (
	"math"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// minVolatilityCandles - минимум истории для inverse-ATR взвешивания
const minVolatilityCandles = 30

// AllocationManager распределяет капитал между инструментами.
// Веса всегда нормируются к единице.
type AllocationManager struct {
	atrPeriod     int
	customWeights map[string]float64
	log           *zap.Logger
}

// NewAllocationManager создаёт менеджер аллокации
func NewAllocationManager(atrPeriod int, customWeights map[string]float64, log *zap.Logger) *AllocationManager {
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	return &AllocationManager{
		atrPeriod:     atrPeriod,
		customWeights: customWeights,
		log:           log,
	}
}

// CalculateWeights считает веса по выбранной стратегии аллокации.
// Неизвестная стратегия и любой вырожденный случай откатываются к
// равномерному распределению.
func (a *AllocationManager) CalculateWeights(strategyName string, symbols []string, history map[string][]models.Candle) map[string]float64 {
	if len(symbols) == 0 {
		return map[string]float64{}
	}

	switch strategyName {
	case "custom":
		return a.customAllocation(symbols)
	case "volatility":
		return a.volatilityAllocation(symbols, history)
	case "market_cap":
		// данных о капитализации нет - равномерно
		return a.equalAllocation(symbols)
	case "equal":
		return a.equalAllocation(symbols)
	default:
		a.log.Warn("unknown allocation strategy, falling back to equal",
			zap.String("strategy", strategyName))
		return a.equalAllocation(symbols)
	}
}

func (a *AllocationManager) equalAllocation(symbols []string) map[string]float64 {
	weights := make(map[string]float64, len(symbols))
	w := 1.0 / float64(len(symbols))
	for _, s := range symbols {
		weights[s] = w
	}
	return weights
}

func (a *AllocationManager) customAllocation(symbols []string) map[string]float64 {
	weights := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		weights[s] = a.customWeights[s]
	}
	if !normalize(weights) {
		a.log.Warn("custom weights do not cover active symbols, falling back to equal")
		return a.equalAllocation(symbols)
	}
	return weights
}

// volatilityAllocation взвешивает обратно волатильности: чем спокойнее
// инструмент, тем больше капитала он получает
func (a *AllocationManager) volatilityAllocation(symbols []string, history map[string][]models.Candle) map[string]float64 {
	weights := make(map[string]float64, len(symbols))

	for _, s := range symbols {
		candles := history[s]
		if len(candles) < minVolatilityCandles {
			a.log.Warn("not enough history for volatility allocation, falling back to equal",
				zap.String("symbol", s),
				zap.Int("candles", len(candles)),
				zap.Int("required", minVolatilityCandles))
			return a.equalAllocation(symbols)
		}

		highs := make([]float64, len(candles))
		lows := make([]float64, len(candles))
		cls := make([]float64, len(candles))
		for i, c := range candles {
			highs[i], lows[i], cls[i] = c.High, c.Low, c.Close
		}

		atr := talib.Atr(highs, lows, cls, a.atrPeriod)
		lastAtr := atr[len(atr)-1]
		lastClose := cls[len(cls)-1]
		if math.IsNaN(lastAtr) || lastAtr <= 0 || lastClose <= 0 {
			return a.equalAllocation(symbols)
		}

		// относительный ATR, иначе дорогие инструменты всегда "волатильнее"
		weights[s] = 1.0 / (lastAtr / lastClose)
	}

	if !normalize(weights) {
		return a.equalAllocation(symbols)
	}
	return weights
}

// normalize приводит сумму весов к единице; false при вырожденной сумме
func normalize(weights map[string]float64) bool {
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return false
		}
		sum += w
	}
	if sum <= 0 {
		return false
	}
	// уже нормированные веса не делим повторно, чтобы не копить дрейф
	if utils.ApproxEqual(sum, 1, 1e-9) {
		return true
	}
	for s := range weights {
		weights[s] /= sum
	}
	return true
}
