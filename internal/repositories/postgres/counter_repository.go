package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// CounterRepository increments counters with a single upsert so concurrent callers never share
// a value.
type CounterRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCounterRepository constructs a Postgres-backed counter repository.
func NewCounterRepository(db *sql.DB) (*CounterRepository, error) {
	if db == nil {
		return nil, errors.New("counter repository requires db")
	}
	return &CounterRepository{db: db, now: time.Now}, nil
}

// Next atomically increments counterID by step and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, id, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	if step == 0 {
		step = 1
	}
	var value int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO counters (id, current_value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET current_value = counters.current_value + EXCLUDED.current_value,
			updated_at = EXCLUDED.updated_at
		RETURNING current_value`, id, step, r.now().UTC()).Scan(&value)
	if err != nil {
		return 0, repositories.NewCounterError(repositories.CounterErrorUnavailable, id, "increment failed", mapError("counters.next", err))
	}
	return value, nil
}
