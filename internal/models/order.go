package models

import "time"

// Order представляет ордер в реестре (единственный владелец - ledger.Ledger)
type Order struct {
	ID         string    `json:"id" db:"id"`
	ExternalID string    `json:"external_id,omitempty" db:"external_id"` // id на стороне биржи, после placed
	Symbol     string    `json:"symbol" db:"symbol"`
	Side       string    `json:"side" db:"side"` // buy, sell
	Kind       string    `json:"kind" db:"kind"` // market, limit, stop, stop_limit, stop_market
	Price      float64   `json:"price,omitempty" db:"price"`
	Amount     float64   `json:"amount" db:"amount"`
	Status     string    `json:"status" db:"status"`
	StopPrice  float64   `json:"stop_price,omitempty" db:"stop_price"`
	ReduceOnly bool      `json:"reduce_only,omitempty" db:"reduce_only"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Стороны ордера
const (
	SideBuy  = "buy"  // покупка (открытие long или закрытие short)
	SideSell = "sell" // продажа (открытие short или закрытие long)
)

// Типы ордеров
const (
	KindMarket     = "market"
	KindLimit      = "limit"
	KindStop       = "stop"
	KindStopLimit  = "stop_limit"
	KindStopMarket = "stop_market"
)

// Статусы ордера (монотонный жизненный цикл)
//
// open → placed → {filled | canceled | rejected}
//
// Из терминального статуса переходов НЕТ: повторный вызов мутатора
// для завершённого ордера - no-op с ошибкой.
const (
	OrderStatusOpen     = "open"     // создан, ещё не подтверждён биржей
	OrderStatusPlaced   = "placed"   // принят биржей, есть external id
	OrderStatusFilled   = "filled"   // исполнен
	OrderStatusCanceled = "canceled" // отменён
	OrderStatusRejected = "rejected" // отклонён биржей или send failure
)

// ValidOrderTransitions определяет допустимые переходы статусов
var ValidOrderTransitions = map[string][]string{
	OrderStatusOpen:   {OrderStatusPlaced, OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
	OrderStatusPlaced: {OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
	// терминальные статусы: переходов нет
	OrderStatusFilled:   {},
	OrderStatusCanceled: {},
	OrderStatusRejected: {},
}

// CanTransitionOrder проверяет допустимость перехода статуса
func CanTransitionOrder(from, to string) bool {
	allowed, ok := ValidOrderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus возвращает true для filled/canceled/rejected
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// IsStopKind возвращает true для стоп-ордеров любого вида
func IsStopKind(kind string) bool {
	switch kind {
	case KindStop, KindStopLimit, KindStopMarket:
		return true
	default:
		return false
	}
}

// IsActiveStatus возвращает true для ордеров, ожидающих исполнения
func IsActiveStatus(status string) bool {
	return status == OrderStatusOpen || status == OrderStatusPlaced
}
