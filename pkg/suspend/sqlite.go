package suspend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/storage"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS suspensions (
		request_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suspensions_expires ON suspensions(expires_at)`,
}

// SQLite persists suspensions so a turn survives a process restart.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(ctx context.Context, db *sql.DB, now func() time.Time) (*SQLite, error) {
	if err := storage.Migrate(ctx, db, schemaStatements...); err != nil {
		return nil, fmt.Errorf("suspend: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &SQLite{db: db, now: now}, nil
}

func (s *SQLite) Put(ctx context.Context, sus *Suspension) error {
	data, err := encode(sus)
	if err != nil {
		return fmt.Errorf("encode suspension %s: %w", sus.RequestID, err)
	}

	// An expired row with the same id is replaced.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM suspensions WHERE request_id = ? AND expires_at <= ?`,
		sus.RequestID, s.now().UnixNano()); err != nil {
		return fmt.Errorf("suspend: clear expired %s: %w", sus.RequestID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO suspensions (request_id, status, expires_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		sus.RequestID, string(sus.Status), sus.ExpiresAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("suspend: insert %s: %w", sus.RequestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, sus.RequestID)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, requestID string) (*Suspension, error) {
	var (
		data      string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM suspensions WHERE request_id = ?`, requestID).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("suspend: get %s: %w", requestID, err)
	}

	if s.now().UnixNano() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM suspensions WHERE request_id = ?`, requestID); err != nil {
			return nil, fmt.Errorf("suspend: delete expired %s: %w", requestID, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrExpired, requestID)
	}
	return decode([]byte(data))
}

func (s *SQLite) Complete(ctx context.Context, requestID, digest string, resp *schema.Response) error {
	sus, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if sus.Status == StatusCompleted {
		return fmt.Errorf("%w: %s", ErrCompleted, requestID)
	}

	sus.Status = StatusCompleted
	sus.ResultsDigest = digest
	sus.Response = resp
	data, err := encode(sus)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE suspensions SET status = ?, data = ? WHERE request_id = ? AND status = ?`,
		string(StatusCompleted), string(data), requestID, string(StatusPending))
	if err != nil {
		return fmt.Errorf("suspend: complete %s: %w", requestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCompleted, requestID)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, requestID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM suspensions WHERE request_id = ?`, requestID); err != nil {
		return fmt.Errorf("suspend: delete %s: %w", requestID, err)
	}
	return nil
}

func (s *SQLite) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suspensions WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("suspend: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
