package models

import "time"

// Fill представляет факт исполнения ордера.
//
// Неизменяем после записи; применяется ровно один раз на ордер
// (guard в ledger.Ledger.ProcessFill).
type Fill struct {
	OrderID   string    `json:"order_id" db:"order_id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Side      string    `json:"side" db:"side"`
	Amount    float64   `json:"amount" db:"amount"`
	Price     float64   `json:"price" db:"price"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
