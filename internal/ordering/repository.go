package ordering

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // driver 100% Go
)

const maxTransitionRetries = 5

// SQLiteStore is the order state store. Orders, their outbox rows and saga
// anomalies live in one database so an order and its OrderPlaced event are
// committed together.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// una sola conexión: sqlite serializa las escrituras de todos modos
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  restaurant_id TEXT NOT NULL,
  state TEXT NOT NULL,
  subtotal TEXT NOT NULL,
  delivery_fee TEXT NOT NULL,
  discount TEXT NOT NULL,
  total TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  created_ms INTEGER NOT NULL,
  updated_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS order_lines(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  menu_item_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK(quantity >= 1),
  unit_price TEXT NOT NULL,
  FOREIGN KEY(order_id) REFERENCES orders(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS outbox(
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  routing_key TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_ms INTEGER NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  dispatched_ms INTEGER
);
CREATE TABLE IF NOT EXISTS saga_anomalies(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  routing_key TEXT NOT NULL,
  detail TEXT NOT NULL,
  created_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lines_order ON order_lines(order_id);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(dispatched_ms, seq);
CREATE UNIQUE INDEX IF NOT EXISTS idx_anomalies_order_kind ON saga_anomalies(order_id, kind);
`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Create inserts the order, its lines and the given outbox messages in one transaction.
func (s *SQLiteStore) Create(ctx context.Context, o *Order, outbox ...OutboxMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if o.Version == 0 {
		o.Version = 1
	}
	_, err = tx.ExecContext(ctx, `
  INSERT INTO orders(id, restaurant_id, state, subtotal, delivery_fee, discount, total, version, created_ms, updated_ms)
  VALUES(?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.RestaurantID, string(o.State),
		o.Pricing.Subtotal, o.Pricing.DeliveryFee, o.Pricing.Discount, o.Pricing.Total,
		o.Version, o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	lineStmt, err := tx.PrepareContext(ctx, `
  INSERT INTO order_lines(order_id, menu_item_id, quantity, unit_price) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer lineStmt.Close()
	for _, l := range o.Lines {
		if _, err := lineStmt.ExecContext(ctx, o.ID, l.ItemID, l.Quantity, l.UnitPrice); err != nil {
			return fmt.Errorf("insert line: %w", err)
		}
	}

	for _, m := range outbox {
		if _, err := tx.ExecContext(ctx, `
  INSERT INTO outbox(id, routing_key, payload, created_ms) VALUES(?,?,?,?)`,
			m.ID, m.RoutingKey, m.Payload, m.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, orderID string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `
    SELECT id, restaurant_id, state, subtotal, delivery_fee, discount, total, version, created_ms, updated_ms
    FROM orders WHERE id=?`, orderID)
	var (
		o                  Order
		state              string
		created, updatedMs int64
	)
	err := row.Scan(&o.ID, &o.RestaurantID, &state,
		&o.Pricing.Subtotal, &o.Pricing.DeliveryFee, &o.Pricing.Discount, &o.Pricing.Total,
		&o.Version, &created, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.State = State(state)
	o.CreatedAt = time.UnixMilli(created).UTC()
	o.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	lines, err := s.listLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return &o, nil
}

func (s *SQLiteStore) listLines(ctx context.Context, orderID string) ([]PricedLineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
    SELECT menu_item_id, quantity, unit_price FROM order_lines WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PricedLineItem{}
	for rows.Next() {
		var l PricedLineItem
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// TransitionTo moves an order to state to. It reports applied=false with a
// nil error when the order is already there, ErrOrderNotFound when it does
// not exist and a *TransitionConflictError when the move is illegal.
// Writes are guarded by the row version so concurrent transitions of the
// same order cannot interleave.
func (s *SQLiteStore) TransitionTo(ctx context.Context, orderID string, to State) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: state %q", ErrInvalidArgument, to)
	}
	for i := 0; i < maxTransitionRetries; i++ {
		var (
			current string
			version int
		)
		err := s.db.QueryRowContext(ctx, `SELECT state, version FROM orders WHERE id=?`, orderID).Scan(&current, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrOrderNotFound
		}
		if err != nil {
			return false, err
		}

		from := State(current)
		if from == to {
			return false, nil
		}
		if !from.CanTransitionTo(to) {
			return false, &TransitionConflictError{OrderID: orderID, From: from, To: to}
		}

		res, err := s.db.ExecContext(ctx, `
  UPDATE orders SET state=?, version=version+1, updated_ms=? WHERE id=? AND version=?`,
			string(to), s.now().UnixMilli(), orderID, version)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n == 1 {
			return true, nil
		}
	}
	return false, fmt.Errorf("order %s: %w", orderID, ErrConcurrentUpdate)
}

// PendingOutbox returns undispatched messages oldest first.
func (s *SQLiteStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
    SELECT id, routing_key, payload, created_ms, attempts, last_error
    FROM outbox WHERE dispatched_ms IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxMessage
	for rows.Next() {
		var (
			m       OutboxMessage
			created int64
		)
		if err := rows.Scan(&m.ID, &m.RoutingKey, &m.Payload, &created, &m.Attempts, &m.LastError); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkDispatched(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
  UPDATE outbox SET dispatched_ms=?, attempts=attempts+1, last_error='' WHERE id=? AND dispatched_ms IS NULL`,
		s.now().UnixMilli(), id)
	return err
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
  UPDATE outbox SET attempts=attempts+1, last_error=? WHERE id=? AND dispatched_ms IS NULL`, reason, id)
	return err
}

// RecordAnomaly stores at most one anomaly per order and kind, so redelivered
// outcomes do not pile up duplicates.
func (s *SQLiteStore) RecordAnomaly(ctx context.Context, a SagaAnomaly) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
  INSERT OR IGNORE INTO saga_anomalies(order_id, kind, routing_key, detail, created_ms) VALUES(?,?,?,?,?)`,
		a.OrderID, string(a.Kind), a.RoutingKey, a.Detail, a.CreatedAt.UnixMilli())
	return err
}

// ListAnomalies returns anomalies newest first, optionally for a single order.
func (s *SQLiteStore) ListAnomalies(ctx context.Context, orderID string, limit int) ([]SagaAnomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
    SELECT id, order_id, kind, routing_key, detail, created_ms FROM saga_anomalies
    WHERE (? = '' OR order_id = ?) ORDER BY id DESC LIMIT ?`, orderID, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SagaAnomaly{}
	for rows.Next() {
		var (
			a       SagaAnomaly
			kind    string
			created int64
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &kind, &a.RoutingKey, &a.Detail, &created); err != nil {
			return nil, err
		}
		a.Kind = AnomalyKind(kind)
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
