// Package legacymenu serves the legacy menu catalog: which restaurants
// exist and what their menu items cost.
package legacymenu

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/mtogo/foodorders/internal/contracts"
)

var ErrNotFound = errors.New("not found")

type Restaurant struct {
	ID   string
	Name string
}

type MenuItem struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurantId"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS restaurants(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS menu_items(
  id TEXT PRIMARY KEY,
  restaurant_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price TEXT NOT NULL,
  FOREIGN KEY(restaurant_id) REFERENCES restaurants(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_menu_restaurant ON menu_items(restaurant_id);
`
	_, err := db.Exec(schema)
	return err
}

func (r *Repository) Close() error { return r.db.Close() }

// Seed loads the initial catalog. Running it twice changes nothing.
func (r *Repository) Seed(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO restaurants(id, name) VALUES(?,?)`,
		contracts.SeedRestaurantID, "Legacy Burger House"); err != nil {
		return err
	}
	items := []MenuItem{
		{ID: contracts.SeedBurgerID, Name: "Classic Burger", Price: decimal.RequireFromString("79.00")},
		{ID: contracts.SeedFriesID, Name: "Fries", Price: decimal.RequireFromString("29.00")},
		{ID: contracts.SeedSodaID, Name: "Soda", Price: decimal.RequireFromString("19.00")},
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
  INSERT OR IGNORE INTO menu_items(id, restaurant_id, name, price) VALUES(?,?,?,?)`,
			it.ID, contracts.SeedRestaurantID, it.Name, it.Price.StringFixed(2)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) AddRestaurant(ctx context.Context, rs Restaurant) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO restaurants(id, name) VALUES(?,?)`, rs.ID, rs.Name)
	return err
}

func (r *Repository) AddMenuItem(ctx context.Context, it MenuItem) error {
	_, err := r.db.ExecContext(ctx, `
  INSERT INTO menu_items(id, restaurant_id, name, price) VALUES(?,?,?,?)`,
		it.ID, it.RestaurantID, it.Name, it.Price.StringFixed(2))
	return err
}

func (r *Repository) RestaurantExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM restaurants WHERE id=?`, id).Scan(&n)
	return n > 0, err
}

func (r *Repository) GetMenu(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	rows, err := r.db.QueryContext(ctx, `
    SELECT id, restaurant_id, name, price FROM menu_items WHERE restaurant_id=? ORDER BY name`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MenuItem{}
	for rows.Next() {
		var it MenuItem
		if err := rows.Scan(&it.ID, &it.RestaurantID, &it.Name, &it.Price); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repository) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	var it MenuItem
	err := r.db.QueryRowContext(ctx, `
    SELECT id, restaurant_id, name, price FROM menu_items WHERE id=?`, id).
		Scan(&it.ID, &it.RestaurantID, &it.Name, &it.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}
