package repository

import (
	"context"
	"database/sql"
	"time"
)

// EquityRepository - история equity портфеля в таблице equity_history.
// Пишется раз в цикл, читается дашбордами.
type EquityRepository struct {
	db *sql.DB
}

// NewEquityRepository создает новый экземпляр репозитория
func NewEquityRepository(db *sql.DB) *EquityRepository {
	return &EquityRepository{db: db}
}

// Record пишет точку equity
func (r *EquityRepository) Record(ctx context.Context, at time.Time, equity float64) error {
	query := `
		INSERT INTO equity_history (recorded_at, equity)
		VALUES ($1, $2)`

	_, err := r.db.ExecContext(ctx, query, at, equity)
	return err
}

// EquityPoint - строка истории equity
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}

// GetSince возвращает точки новее отметки времени
func (r *EquityRepository) GetSince(ctx context.Context, since time.Time) ([]EquityPoint, error) {
	query := `
		SELECT recorded_at, equity
		FROM equity_history
		WHERE recorded_at >= $1
		ORDER BY recorded_at`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]EquityPoint, 0)
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.At, &p.Equity); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}
