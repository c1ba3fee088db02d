package utils

import (
	"math"

	"tradebot/internal/models"
)

// math.go - математические утилиты торгового ядра
//
// Все функции чистые, без побочных эффектов.

// Vwap возвращает volume-weighted average price последних window свечей.
//
// Используется для ценовой привязки хеджирующих ордеров. Если сумма
// объёмов равна нулю (нет торгов в окне), возвращает последний close.
func Vwap(candles []models.Candle, window int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if window <= 0 || window > len(candles) {
		window = len(candles)
	}

	recent := candles[len(candles)-window:]

	var priceVolume, volume float64
	for _, c := range recent {
		// типичная цена бара: (high + low + close) / 3
		typical := (c.High + c.Low + c.Close) / 3
		priceVolume += typical * c.Volume
		volume += c.Volume
	}

	if volume == 0 {
		return recent[len(recent)-1].Close
	}

	return priceVolume / volume
}

// PeriodReturns возвращает относительные изменения close-цен:
// r[i] = (close[i+1] - close[i]) / close[i]
//
// Бары с нулевой ценой пропускаются (защита от дырявых данных).
func PeriodReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (candles[i].Close-prev)/prev)
	}

	return returns
}

// RoundToStep округляет значение ВНИЗ до ближайшего кратного step.
//
// Округление вниз гарантирует, что объём ордера не превысит
// доступные средства.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}

// Clamp ограничивает value диапазоном [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ApproxEqual сравнивает float'ы с допуском eps
func ApproxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}
