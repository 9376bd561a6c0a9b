package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LeeJc02/ShopMate/pkg/storage"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		create_time TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
}

// SQLiteStore serves records from a SQLite database. Rows keep the full
// record as JSON next to the indexed columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore ensures the schema exists on db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := storage.Migrate(ctx, db, schemaStatements...); err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Seed upserts orders and users.
func (s *SQLiteStore) Seed(ctx context.Context, orders []Order, users []User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("records: begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("records: encode order %s: %w", o.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, user_id, create_time, data) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, create_time = excluded.create_time, data = excluded.data`,
			NormalizeKey(o.ID), o.UserID, o.CreateTime, string(data)); err != nil {
			return fmt.Errorf("records: insert order %s: %w", o.ID, err)
		}
	}
	for _, u := range users {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("records: encode user %s: %w", u.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, data) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
			u.ID, string(data)); err != nil {
			return fmt.Errorf("records: insert user %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Lookup(ctx context.Context, key string) (*Order, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE id = ?`, NormalizeKey(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", key)
	}
	if err != nil {
		return nil, fmt.Errorf("records: lookup order %s: %w", key, err)
	}

	var o Order
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, fmt.Errorf("records: decode order %s: %w", key, err)
	}
	return &o, nil
}

func (s *SQLiteStore) UserOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM orders WHERE user_id = ? ORDER BY create_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("records: list orders for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("records: scan order: %w", err)
		}
		var o Order
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, fmt.Errorf("records: decode order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) User(ctx context.Context, userID string) (*User, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM users WHERE id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("records: lookup user %s: %w", userID, err)
	}

	var u User
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("records: decode user %s: %w", userID, err)
	}
	return &u, nil
}
