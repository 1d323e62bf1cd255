package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	Init(ctx context.Context) error
	// RecordDecision stores p unless the order already has a decision, and
	// returns whichever one is stored.
	RecordDecision(ctx context.Context, p Payment) (*Payment, error)
	MarkPublished(ctx context.Context, orderID string) error
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	Close() error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(path string) (Repository, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteRepo{db: db}, nil
}

func (r *sqliteRepo) Init(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS payments(
  order_id TEXT PRIMARY KEY,
  amount TEXT NOT NULL,
  outcome TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL,
  decided_unix INTEGER NOT NULL,
  published_unix INTEGER
);
CREATE INDEX IF NOT EXISTS idx_payments_outcome ON payments(outcome);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *sqliteRepo) Close() error { return r.db.Close() }

func (r *sqliteRepo) RecordDecision(ctx context.Context, p Payment) (*Payment, error) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO payments(order_id, amount, outcome, reason, event_id, decided_unix)
VALUES(?,?,?,?,?,?)
ON CONFLICT(order_id) DO NOTHING;
`, p.OrderID, p.Amount.String(), string(p.Outcome), p.Reason, p.EventID, p.DecidedAt.Unix())
	if err != nil {
		return nil, err
	}
	stored, err := r.GetByOrderID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errors.New("payment decision vanished after insert")
	}
	return stored, nil
}

func (r *sqliteRepo) MarkPublished(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE payments SET published_unix=? WHERE order_id=? AND published_unix IS NULL;
`, time.Now().Unix(), orderID)
	return err
}

func (r *sqliteRepo) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT order_id, amount, outcome, reason, event_id, decided_unix, published_unix FROM payments WHERE order_id=?;
`, orderID)
	var (
		p         Payment
		amount    string
		outcome   string
		decided   int64
		published sql.NullInt64
	)
	if err := row.Scan(&p.OrderID, &amount, &outcome, &p.Reason, &p.EventID, &decided, &published); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := p.Amount.UnmarshalText([]byte(amount)); err != nil {
		return nil, err
	}
	p.Outcome = Outcome(outcome)
	p.DecidedAt = time.Unix(decided, 0).UTC()
	if published.Valid {
		t := time.Unix(published.Int64, 0).UTC()
		p.PublishedAt = &t
	}
	return &p, nil
}
