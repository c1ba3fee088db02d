package strategy

import (
	"context"

	"github.com/markcheno/go-talib"

	"tradebot/internal/models"
)

// MeanReversionProvider - возврат к среднему на RSI: перепроданность
// открывает long, перекупленность - short. Стоп на полтора ATR.
type MeanReversionProvider struct {
	rsiPeriod  int
	atrPeriod  int
	oversold   float64
	overbought float64
	orderSize  float64
}

// NewMeanReversionProvider создаёт провайдера с порогами RSI
func NewMeanReversionProvider(rsiPeriod, atrPeriod int, oversold, overbought, orderSize float64) *MeanReversionProvider {
	return &MeanReversionProvider{
		rsiPeriod:  rsiPeriod,
		atrPeriod:  atrPeriod,
		oversold:   oversold,
		overbought: overbought,
		orderSize:  orderSize,
	}
}

func (p *MeanReversionProvider) Tag() Tag { return TagMeanReversion }

func (p *MeanReversionProvider) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minBars := p.rsiPeriod + 1
	if p.atrPeriod+1 > minBars {
		minBars = p.atrPeriod + 1
	}
	if len(input.Candles) < minBars {
		return nil, ErrNotEnoughData
	}

	cls := closes(input.Candles)
	highs, lows, _ := highsLowsCloses(input.Candles)

	rsi := talib.Rsi(cls, p.rsiPeriod)
	atr := talib.Atr(highs, lows, cls, p.atrPeriod)

	last := len(cls) - 1
	lastPrice := cls[last]
	lastRsi := rsi[last]
	lastAtr := atr[last]

	result := &Result{
		Tag:       TagMeanReversion,
		Timestamp: candleTime(input.Candles[last]),
	}

	var side string
	switch {
	case lastRsi <= p.oversold:
		side = models.SideBuy
	case lastRsi >= p.overbought:
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

	stop := lastPrice - 1.5*lastAtr
	if side == models.SideSell {
		stop = lastPrice + 1.5*lastAtr
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
