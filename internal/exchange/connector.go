package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradebot/internal/models"
)

// Connector определяет унифицированный интерфейс взаимодействия с площадкой.
// Реестр ордеров работает только через этот интерфейс и ничего не знает
// о конкретной бирже.
type Connector interface {
	// ExecuteOrder отправляет ордер на площадку и возвращает внешний
	// идентификатор. Ошибка означает, что ордер не был принят.
	ExecuteOrder(ctx context.Context, order *models.Order, opts *OrderOptions) (string, error)

	// FetchOrder запрашивает текущее состояние ордера по внешнему ID.
	// Возвращает nil без ошибки, если площадка ордер не знает.
	FetchOrder(ctx context.Context, symbol, externalID string) (*OrderStatus, error)

	// CancelOrder отменяет активный ордер на площадке
	CancelOrder(ctx context.Context, symbol, externalID string) error

	// CreateOcoOrder размещает связанную пару стоп-лосс/тейк-профит:
	// исполнение одной ноги отменяет вторую
	CreateOcoOrder(ctx context.Context, params *OcoParams) (string, error)

	// FetchCandles возвращает последние limit свечей заданного таймфрейма
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)

	// GetLatestPrice возвращает последнюю цену инструмента
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)

	// GetBalance возвращает баланс аккаунта в котируемой валюте
	GetBalance(ctx context.Context) (float64, error)

	// Close закрывает соединения с площадкой
	Close() error
}

// OrderOptions содержит необязательные параметры размещения ордера
type OrderOptions struct {
	ReduceOnly  bool    `json:"reduce_only"`
	PostOnly    bool    `json:"post_only"`
	TimeInForce string  `json:"time_in_force"` // "GTC", "IOC", "FOK"
	StopPrice   float64 `json:"stop_price"`
}

// OcoParams описывает связанную пару защитных ордеров
type OcoParams struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // сторона закрытия позиции
	Amount     float64 `json:"amount"`
	StopPrice  float64 `json:"stop_price"`
	LimitPrice float64 `json:"limit_price"`
}

// OrderStatus - состояние ордера по данным площадки
type OrderStatus struct {
	ExternalID   string    `json:"external_id"`
	Status       string    `json:"status"` // статусы из models
	FilledAmount float64   `json:"filled_amount"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ============================================================================
// Ошибки коннектора
// ============================================================================

var (
	// ErrOrderNotFound - площадка не знает такой ордер
	ErrOrderNotFound = errors.New("order not found on venue")

	// ErrInsufficientBalance - недостаточно средств для размещения
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConnectorClosed - коннектор уже закрыт
	ErrConnectorClosed = errors.New("connector is closed")
)

// ConnectorError представляет ошибку площадки. Transient отличает
// сетевые сбои (повторяем) от отказов площадки (терминальны для ордера).
type ConnectorError struct {
	Venue     string
	Op        string
	Message   string
	Transient bool
	Original  error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Op, e.Message)
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ConnectorError) Unwrap() error {
	return e.Original
}

// IsTransient сообщает, стоит ли повторять операцию
func IsTransient(err error) bool {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}
