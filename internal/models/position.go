package models

import "time"

// Position представляет открытую позицию по одной стороне символа.
//
// Инвариант: одна позиция на пару (symbol, side). Amount == 0 уничтожает
// позицию (net-to-flat), отрицательного Amount не бывает.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // long, short
	Amount        float64   `json:"amount"`
	EntryPrice    float64   `json:"entry_price"`   // средневзвешенная цена входа
	CurrentPrice  float64   `json:"current_price"` // последняя рыночная цена
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	StopPrice     float64   `json:"stop_price,omitempty"` // обновляется стоп-ордерами
	UpdatedAt     time.Time `json:"updated_at"`
}

// Стороны позиции
const (
	SideLong  = "long"  // длинная позиция (ставка на рост)
	SideShort = "short" // короткая позиция (ставка на падение)
)

// PositionSideForOrder возвращает сторону позиции, которую открывает ордер
func PositionSideForOrder(orderSide string) string {
	if orderSide == SideBuy {
		return SideLong
	}
	return SideShort
}

// OppositePositionSide возвращает противоположную сторону позиции
func OppositePositionSide(side string) string {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}

// Notional возвращает текущую номинальную стоимость позиции
func (p *Position) Notional() float64 {
	price := p.CurrentPrice
	if price == 0 {
		price = p.EntryPrice
	}
	return p.Amount * price
}

// RecalcPnl пересчитывает нереализованный PNL по текущей цене
//
// Лонг: (текущая цена - цена входа) × объём
// Шорт: (цена входа - текущая цена) × объём
func (p *Position) RecalcPnl() {
	if p.Side == SideLong {
		p.UnrealizedPnl = (p.CurrentPrice - p.EntryPrice) * p.Amount
	} else {
		p.UnrealizedPnl = (p.EntryPrice - p.CurrentPrice) * p.Amount
	}
}
