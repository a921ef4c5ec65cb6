package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/vitos/signal_trader/internal/domain"
)

// SQLiteStore is the advisory journal of reconciliation attempts and the
// orders they submitted.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			exchange TEXT NOT NULL,
			instrument TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_instrument ON attempts(instrument, started_at);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_id TEXT NOT NULL,
			exchange TEXT NOT NULL,
			instrument TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			order_id TEXT,
			accepted BOOLEAN NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_attempt ON orders(attempt_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// AttemptRepository Implementation

func (s *SQLiteStore) SaveAttempt(ctx context.Context, a *domain.Attempt) error {
	detail, err := json.Marshal(a.Outcome.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}
	query := `INSERT INTO attempts (id, exchange, instrument, target, status, reason, detail, started_at, finished_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  status=excluded.status,
			  reason=excluded.reason,
			  detail=excluded.detail,
			  finished_at=excluded.finished_at`
	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.Exchange, a.Instrument, string(a.Target), string(a.Outcome.Status), a.Outcome.Reason,
		string(detail), a.StartedAt.UTC(), a.FinishedAt.UTC())
	return err
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, limit int) ([]*domain.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, exchange, instrument, target, status, reason, detail, started_at, finished_at
			  FROM attempts ORDER BY started_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.Attempt
	for rows.Next() {
		var (
			a      domain.Attempt
			target string
			status string
			detail sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Exchange, &a.Instrument, &target, &status, &a.Outcome.Reason, &detail, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		a.Target = domain.Direction(target)
		a.Outcome.Status = domain.Status(status)
		if detail.Valid && detail.String != "" && detail.String != "null" {
			if err := json.Unmarshal([]byte(detail.String), &a.Outcome.Detail); err != nil {
				return nil, fmt.Errorf("attempt %s detail: %w", a.ID, err)
			}
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// OrderRepository Implementation

func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `INSERT INTO orders (attempt_id, exchange, instrument, side, quantity, order_id, accepted, error, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		o.AttemptID, o.Exchange, o.Instrument, string(o.Side), o.Quantity.String(), o.OrderID, o.Accepted, o.Error, createdAt.UTC())
	return err
}

func (s *SQLiteStore) ListOrders(ctx context.Context, attemptID string) ([]*domain.Order, error) {
	query := `SELECT attempt_id, exchange, instrument, side, quantity, order_id, accepted, error, created_at
			  FROM orders WHERE attempt_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var (
			o       domain.Order
			side    string
			qty     string
			orderID sql.NullString
			errText sql.NullString
		)
		if err := rows.Scan(&o.AttemptID, &o.Exchange, &o.Instrument, &side, &qty, &orderID, &o.Accepted, &errText, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.OrderSide(side)
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("order quantity %q: %w", qty, err)
		}
		o.OrderID = orderID.String
		o.Error = errText.String
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}
