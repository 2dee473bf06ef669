package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/homebitez/api/internal/platform/postgres"
)

// PostgresStore persists records in the idempotency_keys table.
type PostgresStore struct {
	db *postgres.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *postgres.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: postgres db is required")
	}
	return &PostgresStore{db: db}, nil
}

// Reserve claims the key atomically. An expired row is recycled by the same upsert, so two
// racing requests can never both observe ReservationStateNew.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), normaliseTTL(ttl)
	id := recordID(key)
	q := s.db.Conn(ctx)

	var claimed string
	err := q.QueryRow(ctx, `
		INSERT INTO idempotency_keys (id, key, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			fingerprint = EXCLUDED.fingerprint,
			status = EXCLUDED.status,
			response_status = 0,
			response_headers = NULL,
			response_body = NULL,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING id`,
		id, key, fingerprint, string(StatusPending), now, now.Add(ttl),
	).Scan(&claimed)
	switch {
	case err == nil:
		return Reservation{State: ReservationStateNew, Record: Record{
			Key: key, Fingerprint: fingerprint, Status: StatusPending,
			CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(ttl),
		}}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Reservation{}, postgres.WrapError("idempotency.reserve", err)
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), normaliseTTL(ttl)
	headers, err := json.Marshal(sanitizeHeaders(resp.Headers))
	if err != nil {
		return fmt.Errorf("idempotency: encode headers: %w", err)
	}

	var id string
	err = s.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO idempotency_keys (id, key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			response_status = EXCLUDED.response_status,
			response_headers = EXCLUDED.response_headers,
			response_body = EXCLUDED.response_body,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint
		RETURNING id`,
		recordID(key), key, fingerprint, string(StatusCompleted), resp.Status, string(headers), resp.Body, now, now.Add(ttl),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrFingerprintMismatch
	}
	if err != nil {
		return postgres.WrapError("idempotency.save", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.db.Conn(ctx).Exec(ctx,
		`DELETE FROM idempotency_keys WHERE id = $1 AND fingerprint = $2 AND status = $3`,
		recordID(key), fingerprint, string(StatusPending))
	if err != nil {
		return postgres.WrapError("idempotency.release", err)
	}
	return nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE id IN (SELECT id FROM idempotency_keys WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2)`,
		now.UTC(), limit)
	if err != nil {
		return 0, postgres.WrapError("idempotency.cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) load(ctx context.Context, id string) (Record, error) {
	var (
		record  Record
		status  string
		headers []byte
	)
	err := s.db.Conn(ctx).QueryRow(ctx, `
		SELECT key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
		FROM idempotency_keys WHERE id = $1`, id,
	).Scan(&record.Key, &record.Fingerprint, &status, &record.ResponseStatus, &headers, &record.ResponseBody,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
	if err != nil {
		return Record{}, postgres.WrapError("idempotency.load", err)
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	return record, nil
}

// Cleaner periodically deletes expired records until ctx is cancelled.
type Cleaner struct {
	Store     Store
	Interval  time.Duration
	BatchSize int
	OnSweep   func(removed int, err error)
}

// Run blocks until ctx is done.
func (c Cleaner) Run(ctx context.Context) {
	if c.Store == nil || c.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := c.Store.CleanupExpired(ctx, now.UTC(), c.BatchSize)
			if c.OnSweep != nil {
				c.OnSweep(removed, err)
			}
		}
	}
}
