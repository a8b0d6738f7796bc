package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	ppostgres "github.com/shivaydv/vyomtics-sub001/internal/platform/postgres"
)

// PostgresStore keeps replay records in the checkout_replays table created by EnsureSchema.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store on the ledger's connection pool.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: postgres db is required")
	}
	return &PostgresStore{db: db}, nil
}

const (
	insertReplaySQL = `
INSERT INTO checkout_replays (id, key, fingerprint, status, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $5, $6)
ON CONFLICT (id) DO NOTHING`

	selectReplaySQL = `
SELECT key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
FROM checkout_replays WHERE id = $1 FOR UPDATE`

	resetReplaySQL = `
UPDATE checkout_replays
SET key = $2, fingerprint = $3, status = $4, response_status = 0, response_headers = NULL,
    response_body = NULL, created_at = $5, updated_at = $5, expires_at = $6
WHERE id = $1`

	upsertResponseSQL = `
INSERT INTO checkout_replays (id, key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    response_status = EXCLUDED.response_status,
    response_headers = EXCLUDED.response_headers,
    response_body = EXCLUDED.response_body,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE checkout_replays.fingerprint = EXCLUDED.fingerprint`

	deleteReplaySQL = `DELETE FROM checkout_replays WHERE id = $1 AND fingerprint = $2`
)

func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	id := documentID(key)
	fresh := newPending(key, fingerprint, now, ttl)

	var result Reservation
	err := ppostgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertReplaySQL, id, key, fingerprint, string(StatusPending), now, fresh.ExpiresAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			result = Reservation{State: ReservationStateNew, Record: fresh}
			return nil
		}

		existing, err := scanReplay(tx.QueryRowContext(ctx, selectReplaySQL, id))
		if err != nil {
			return err
		}
		if !existing.expired(now) {
			result, err = reservationFor(existing, fingerprint)
			return err
		}
		if _, err := tx.ExecContext(ctx, resetReplaySQL, id, key, fingerprint, string(StatusPending), now, fresh.ExpiresAt); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: fresh}
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	record := completed(Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}, resp, now, normaliseTTL(ttl))

	var headers []byte
	if len(record.ResponseHeaders) > 0 {
		encoded, err := json.Marshal(record.ResponseHeaders)
		if err != nil {
			return err
		}
		headers = encoded
	}

	res, err := s.db.ExecContext(ctx, upsertResponseSQL,
		documentID(key), key, fingerprint, string(record.Status), record.ResponseStatus,
		nullableJSON(headers), record.ResponseBody, record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, deleteReplaySQL, documentID(key), fingerprint)
	return err
}

func scanReplay(row *sql.Row) (Record, error) {
	var (
		record  Record
		status  string
		headers []byte
	)
	err := row.Scan(&record.Key, &record.Fingerprint, &status, &record.ResponseStatus, &headers,
		&record.ResponseBody, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
	if err != nil {
		return Record{}, err
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, err
		}
	}
	return record, nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
