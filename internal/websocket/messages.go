package websocket

import (
	"time"

	"tradebot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeOrderUpdate - смена статуса ордера
	MessageTypeOrderUpdate MessageType = "orderUpdate"

	// MessageTypeFill - применённое исполнение
	MessageTypeFill MessageType = "fill"

	// MessageTypeEquityUpdate - точка equity портфеля, раз в цикл
	MessageTypeEquityUpdate MessageType = "equityUpdate"

	// MessageTypeModeChange - смена режима движка (emergency, kill_switch)
	MessageTypeModeChange MessageType = "modeChange"

	// MessageTypeRiskUpdate - свежий снимок портфельного риска
	MessageTypeRiskUpdate MessageType = "riskUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderUpdateMessage - сообщение о смене статуса ордера
type OrderUpdateMessage struct {
	BaseMessage
	Order *models.Order `json:"order"`
}

// FillMessage - сообщение об исполнении
type FillMessage struct {
	BaseMessage
	Fill *models.Fill `json:"fill"`
}

// EquityUpdateMessage - сообщение с текущим equity портфеля
type EquityUpdateMessage struct {
	BaseMessage
	Equity float64 `json:"equity"`
}

// ModeChangeMessage - сообщение о смене режима движка
type ModeChangeMessage struct {
	BaseMessage
	Symbol string `json:"symbol"`
	Mode   string `json:"mode"`
}

// RiskUpdateMessage - сообщение со снимком риска
type RiskUpdateMessage struct {
	BaseMessage
	Snapshot *models.RiskSnapshot `json:"snapshot"`
}
