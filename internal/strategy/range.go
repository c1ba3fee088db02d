package strategy

import (
	"context"
	"math"

	"github.com/markcheno/go-talib"

	"tradebot/internal/models"
)

// RangeProvider - торговля в канале по полосам Боллинджера: покупка у
// нижней границы, продажа у верхней. Стоп выносится за границу канала.
type RangeProvider struct {
	period    int
	dev       float64
	orderSize float64
}

// NewRangeProvider создаёт канального провайдера
func NewRangeProvider(period int, dev, orderSize float64) *RangeProvider {
	return &RangeProvider{period: period, dev: dev, orderSize: orderSize}
}

func (p *RangeProvider) Tag() Tag { return TagRange }

func (p *RangeProvider) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(input.Candles) < p.period+1 {
		return nil, ErrNotEnoughData
	}

	cls := closes(input.Candles)
	upper, middle, lower := talib.BBands(cls, p.period, p.dev, p.dev, talib.SMA)

	last := len(cls) - 1
	lastPrice := cls[last]
	bandWidth := upper[last] - lower[last]

	result := &Result{
		Tag:       TagRange,
		Timestamp: candleTime(input.Candles[last]),
	}

	// цена может уйти далеко за границу канала, стоп отсчитывается от
	// дальней из них, иначе стоп продажи оказался бы ниже входа
	var side string
	var stop float64
	switch {
	case lastPrice <= lower[last]:
		side = models.SideBuy
		stop = math.Min(lastPrice, lower[last]) - 0.25*bandWidth
	case lastPrice >= upper[last]:
		side = models.SideSell
		stop = math.Max(lastPrice, upper[last]) + 0.25*bandWidth
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

	result.Signals = append(result.Signals, &models.Order{
		Symbol:    input.Symbol,
		Side:      side,
		Kind:      models.KindLimit,
		Amount:    amount,
		Price:     middle[last],
		StopPrice: stop,
	})
	return result, nil
}
