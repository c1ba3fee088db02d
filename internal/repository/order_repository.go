package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradebot/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderRecordNotFound = errors.New("order record not found")
)

// OrderRepository - журнал ордеров и исполнений в таблицах orders и fills.
// Реализует ledger.Journal.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// RecordOrder пишет новый ордер в журнал
func (r *OrderRepository) RecordOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, external_id, symbol, side, kind, price, amount, status, stop_price, reduce_only, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.ExternalID,
		order.Symbol,
		order.Side,
		order.Kind,
		order.Price,
		order.Amount,
		order.Status,
		order.StopPrice,
		order.ReduceOnly,
		order.CreatedAt,
	)
	return err
}

// UpdateOrderStatus обновляет статус и внешний id ордера
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID, status, externalID string) error {
	query := `
		UPDATE orders
		SET status = $2, external_id = $3, updated_at = $4
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, orderID, status, externalID, time.Now())
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderRecordNotFound
	}
	return nil
}

// RecordFill пишет исполнение в журнал
func (r *OrderRepository) RecordFill(ctx context.Context, fill *models.Fill) error {
	query := `
		INSERT INTO fills (order_id, symbol, side, amount, price, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		fill.OrderID,
		fill.Symbol,
		fill.Side,
		fill.Amount,
		fill.Price,
		fill.Timestamp,
	)
	return err
}

// GetOrderHistory возвращает последние ордера символа (или всех при
// пустом symbol), новые первыми
func (r *OrderRepository) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]*models.Order, error) {
	query := `
		SELECT id, external_id, symbol, side, kind, price, amount, status, stop_price, reduce_only, created_at
		FROM orders
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		var o models.Order
		err := rows.Scan(
			&o.ID,
			&o.ExternalID,
			&o.Symbol,
			&o.Side,
			&o.Kind,
			&o.Price,
			&o.Amount,
			&o.Status,
			&o.StopPrice,
			&o.ReduceOnly,
			&o.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}

	return orders, rows.Err()
}

// GetFills возвращает исполнения по ордеру
func (r *OrderRepository) GetFills(ctx context.Context, orderID string) ([]*models.Fill, error) {
	query := `
		SELECT order_id, symbol, side, amount, price, filled_at
		FROM fills
		WHERE order_id = $1
		ORDER BY filled_at`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fills := make([]*models.Fill, 0)
	for rows.Next() {
		var f models.Fill
		err := rows.Scan(&f.OrderID, &f.Symbol, &f.Side, &f.Amount, &f.Price, &f.Timestamp)
		if err != nil {
			return nil, err
		}
		fills = append(fills, &f)
	}

	return fills, rows.Err()
}
