package strategy

import (
	"context"

	"github.com/markcheno/go-talib"

	"tradebot/internal/models"
)

// TrendProvider - трендовая стратегия на пересечении скользящих средних:
// быстрая EMA над медленной - сигнал на покупку, под ней - на продажу.
// Стоп ставится на расстоянии одного ATR от цены входа.
type TrendProvider struct {
	fastPeriod int
	slowPeriod int
	atrPeriod  int
	orderSize  float64 // доля доступного баланса на сигнал
}

// NewTrendProvider создаёт трендового провайдера с разумными периодами
func NewTrendProvider(fastPeriod, slowPeriod, atrPeriod int, orderSize float64) *TrendProvider {
	return &TrendProvider{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		atrPeriod:  atrPeriod,
		orderSize:  orderSize,
	}
}

func (p *TrendProvider) Tag() Tag { return TagTrend }

// Evaluate генерирует не более одного сигнала: вход по тренду, если
// открытой позиции в ту сторону ещё нет
func (p *TrendProvider) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minBars := p.slowPeriod + 1
	if p.atrPeriod+1 > minBars {
		minBars = p.atrPeriod + 1
	}
	if len(input.Candles) < minBars {
		return nil, ErrNotEnoughData
	}

	cls := closes(input.Candles)
	highs, lows, _ := highsLowsCloses(input.Candles)

	fast := talib.Ema(cls, p.fastPeriod)
	slow := talib.Ema(cls, p.slowPeriod)
	atr := talib.Atr(highs, lows, cls, p.atrPeriod)

	last := len(cls) - 1
	lastPrice := cls[last]
	lastAtr := atr[last]

	result := &Result{
		Tag:       TagTrend,
		Timestamp: candleTime(input.Candles[last]),
	}

	var side string
	switch {
	case fast[last] > slow[last] && fast[last-1] <= slow[last-1]:
		side = models.SideBuy
	case fast[last] < slow[last] && fast[last-1] >= slow[last-1]:
		side = models.SideSell
	default:
		return result, nil
	}

	if hasPosition(input.Positions, input.Symbol, models.PositionSideForOrder(side)) {
		return result, nil
	}

	amount := input.Available * p.orderSize / lastPrice
	if amount <= 0 {
		return result, nil
	}

	stop := lastPrice - lastAtr
	if side == models.SideSell {
		stop = lastPrice + lastAtr
	}

	result.Signals = append(result.Signals, &models.Order{
		Symbol:    input.Symbol,
		Side:      side,
		Kind:      models.KindMarket,
		Amount:    amount,
		Price:     lastPrice,
		StopPrice: stop,
	})
	return result, nil
}

// hasPosition проверяет наличие открытой позиции заданной стороны
func hasPosition(positions []*models.Position, symbol, side string) bool {
	for _, pos := range positions {
		if pos.Symbol == symbol && pos.Side == side && pos.Amount > 0 {
			return true
		}
	}
	return false
}
