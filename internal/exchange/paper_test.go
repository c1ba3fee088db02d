package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradebot/internal/models"
	"tradebot/pkg/clock"
)

func newTestPaper(t *testing.T) *PaperConnector {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewPaperConnector(clk, 10000)
	p.SetPrice("BTCUSDT", 100)
	return p
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	order := &models.Order{
		Symbol: "BTCUSDT",
		Side:   models.SideBuy,
		Kind:   models.KindMarket,
		Amount: 1.0,
	}

	id, err := p.ExecuteOrder(ctx, order, nil)
	if err != nil {
		t.Fatalf("ExecuteOrder failed: %v", err)
	}

	st, err := p.FetchOrder(ctx, "BTCUSDT", id)
	if err != nil {
		t.Fatalf("FetchOrder failed: %v", err)
	}
	if st == nil {
		t.Fatal("expected order status, got nil")
	}
	if st.Status != models.OrderStatusFilled {
		t.Errorf("expected filled, got %s", st.Status)
	}
	if st.FilledAmount != 1.0 || st.AvgFillPrice != 100 {
		t.Errorf("unexpected fill: amount=%v price=%v", st.FilledAmount, st.AvgFillPrice)
	}
}

func TestPaperLimitOrderWaitsForPrice(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	order := &models.Order{
		Symbol: "BTCUSDT",
		Side:   models.SideBuy,
		Kind:   models.KindLimit,
		Price:  95,
		Amount: 1.0,
	}

	id, err := p.ExecuteOrder(ctx, order, nil)
	if err != nil {
		t.Fatalf("ExecuteOrder failed: %v", err)
	}

	st, _ := p.FetchOrder(ctx, "BTCUSDT", id)
	if st.Status != models.OrderStatusPlaced {
		t.Fatalf("expected placed before cross, got %s", st.Status)
	}

	// цена не дошла до лимита
	p.UpdatePrice("BTCUSDT", 96)
	st, _ = p.FetchOrder(ctx, "BTCUSDT", id)
	if st.Status != models.OrderStatusPlaced {
		t.Fatalf("expected placed at 96, got %s", st.Status)
	}

	p.UpdatePrice("BTCUSDT", 94)
	st, _ = p.FetchOrder(ctx, "BTCUSDT", id)
	if st.Status != models.OrderStatusFilled {
		t.Errorf("expected filled at 94, got %s", st.Status)
	}
	if st.AvgFillPrice != 94 {
		t.Errorf("expected fill price 94, got %v", st.AvgFillPrice)
	}
}

func TestPaperStopOrderTriggers(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	// стоп на продажу срабатывает при падении цены
	order := &models.Order{
		Symbol:    "BTCUSDT",
		Side:      models.SideSell,
		Kind:      models.KindStopMarket,
		StopPrice: 90,
		Amount:    1.0,
		ReduceOnly: true,
	}

	id, err := p.ExecuteOrder(ctx, order, nil)
	if err != nil {
		t.Fatalf("ExecuteOrder failed: %v", err)
	}

	p.UpdatePrice("BTCUSDT", 91)
	st, _ := p.FetchOrder(ctx, "BTCUSDT", id)
	if st.Status != models.OrderStatusPlaced {
		t.Fatalf("stop should not trigger at 91, got %s", st.Status)
	}

	p.UpdatePrice("BTCUSDT", 89)
	st, _ = p.FetchOrder(ctx, "BTCUSDT", id)
	if st.Status != models.OrderStatusFilled {
		t.Errorf("stop should trigger at 89, got %s", st.Status)
	}
}

func TestPaperInsufficientBalance(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	order := &models.Order{
		Symbol: "BTCUSDT",
		Side:   models.SideBuy,
		Kind:   models.KindMarket,
		Amount: 1000, // 1000 * 100 > 10000
	}

	_, err := p.ExecuteOrder(ctx, order, nil)
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	var ce *ConnectorError
	if !errors.As(err, &ce) {
		t.Fatal("expected ConnectorError")
	}
	if ce.Transient {
		t.Error("insufficient balance must not be transient")
	}
}

func TestPaperUnknownOrderReturnsNil(t *testing.T) {
	p := newTestPaper(t)

	st, err := p.FetchOrder(context.Background(), "BTCUSDT", "missing")
	if err != nil {
		t.Fatalf("FetchOrder failed: %v", err)
	}
	if st != nil {
		t.Errorf("expected nil status for unknown order, got %+v", st)
	}
}

func TestPaperCancelIsIdempotentOnTerminal(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	order := &models.Order{
		Symbol: "BTCUSDT",
		Side:   models.SideBuy,
		Kind:   models.KindMarket,
		Amount: 1.0,
	}
	id, _ := p.ExecuteOrder(ctx, order, nil)

	// ордер уже filled - отмена не меняет статус и не ошибается
	if err := p.CancelOrder(ctx, "BTCUSDT", id); err != nil {
		t.Fatalf("CancelOrder on filled order failed: %v", err)
	}

	st, _ := p.FetchOrder(ctx, "BTCUSDT", id)
	if st.Status != models.OrderStatusFilled {
		t.Errorf("cancel must not change terminal status, got %s", st.Status)
	}
}

func TestPaperFetchCandlesLimit(t *testing.T) {
	p := newTestPaper(t)

	candles := make([]models.Candle, 50)
	for i := range candles {
		candles[i] = models.Candle{Symbol: "BTCUSDT", Close: float64(100 + i)}
	}
	p.LoadCandles("BTCUSDT", candles)

	got, err := p.FetchCandles(context.Background(), "BTCUSDT", "1m", 20)
	if err != nil {
		t.Fatalf("FetchCandles failed: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("expected 20 candles, got %d", len(got))
	}
	if got[19].Close != 149 {
		t.Errorf("expected newest candle close 149, got %v", got[19].Close)
	}
}

func TestPaperClosedConnectorRejectsOrders(t *testing.T) {
	p := newTestPaper(t)
	p.Close()

	_, err := p.ExecuteOrder(context.Background(), &models.Order{
		Symbol: "BTCUSDT", Side: models.SideBuy, Kind: models.KindMarket, Amount: 1,
	}, nil)
	if !errors.Is(err, ErrConnectorClosed) {
		t.Errorf("expected ErrConnectorClosed, got %v", err)
	}
}
