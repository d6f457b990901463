package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pricewatch/database"
	"pricewatch/models"

	"github.com/shopspring/decimal"
)

// ErrItemNotFound is returned when no tracked item has the requested id
var ErrItemNotFound = errors.New("tracked item not found")

const itemColumns = `id, name, site, product_url, target_price, last_price, last_checked_at, active, notified, created_at, updated_at`

type ItemRepository struct {
	db *database.DB
}

func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.TrackedItem, error) {
	var item models.TrackedItem
	err := row.Scan(
		&item.ID, &item.Name, &item.Site, &item.ProductURL,
		&item.TargetPrice, &item.LastPrice, &item.LastCheckedAt,
		&item.Active, &item.Notified, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (r *ItemRepository) listItems(ctx context.Context, query string, args ...any) ([]models.TrackedItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked items: %w", err)
	}
	defer rows.Close()

	items := []models.TrackedItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracked items: %w", err)
	}
	return items, nil
}

// ListActiveItems returns every item with active set, in insertion order
func (r *ItemRepository) ListActiveItems(ctx context.Context) ([]models.TrackedItem, error) {
	return r.listItems(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE active = $1 ORDER BY id`, true)
}

// ListItems returns all tracked items including inactive ones
func (r *ItemRepository) ListItems(ctx context.Context) ([]models.TrackedItem, error) {
	return r.listItems(ctx, `SELECT `+itemColumns+` FROM tracked_items ORDER BY id`)
}

// GetItem returns a tracked item by ID
func (r *ItemRepository) GetItem(ctx context.Context, id int64) (*models.TrackedItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get tracked item: %w", err)
	}
	return &item, nil
}

// UpdateLastPrice records the latest successfully extracted price
func (r *ItemRepository) UpdateLastPrice(ctx context.Context, id int64, price decimal.Decimal, checkedAt time.Time) error {
	query := `
		UPDATE tracked_items
		SET last_price = $2, last_checked_at = $3, updated_at = $3
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, price, checkedAt); err != nil {
		return fmt.Errorf("failed to update last price: %w", err)
	}
	return nil
}

// MarkNotified sets the notified flag after a drop alert was sent
func (r *ItemRepository) MarkNotified(ctx context.Context, id int64) error {
	query := `UPDATE tracked_items SET notified = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, true, time.Now()); err != nil {
		return fmt.Errorf("failed to mark item notified: %w", err)
	}
	return nil
}

// AddPriceHistory appends one check result. A null price records a failed check.
func (r *ItemRepository) AddPriceHistory(ctx context.Context, itemID int64, price decimal.NullDecimal, checkedAt time.Time) error {
	query := `INSERT INTO price_history (tracked_item_id, price, checked_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, itemID, price, checkedAt); err != nil {
		return fmt.Errorf("failed to add price history: %w", err)
	}
	return nil
}

// GetPriceHistory returns price history for an item, newest first
func (r *ItemRepository) GetPriceHistory(ctx context.Context, itemID int64, limit int) ([]models.PriceHistory, error) {
	if limit <= 0 {
		limit = 50 // default limit
	}

	query := `
		SELECT id, tracked_item_id, price, checked_at
		FROM price_history
		WHERE tracked_item_id = $1
		ORDER BY checked_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	defer rows.Close()

	history := []models.PriceHistory{}
	for rows.Next() {
		var entry models.PriceHistory
		if err := rows.Scan(&entry.ID, &entry.TrackedItemID, &entry.Price, &entry.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price history: %w", err)
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price history: %w", err)
	}
	return history, nil
}

// UpsertItem inserts a tracked item or updates the one with the same product URL.
// Price state (last price, notified) of an existing row is left untouched. The item's
// ID is filled in and created reports whether a new row was inserted.
func (r *ItemRepository) UpsertItem(ctx context.Context, item *models.TrackedItem) (created bool, err error) {
	var existing int64
	err = r.db.QueryRowContext(ctx, `SELECT id FROM tracked_items WHERE product_url = $1`, item.ProductURL).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return false, fmt.Errorf("failed to look up tracked item: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO tracked_items (name, site, product_url, target_price, active, notified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (product_url) DO UPDATE
		SET name = excluded.name, site = excluded.site, target_price = excluded.target_price,
			active = excluded.active, updated_at = excluded.updated_at
		RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		item.Name, item.Site, item.ProductURL, item.TargetPrice, item.Active, false, now,
	).Scan(&item.ID)
	if err != nil {
		return false, fmt.Errorf("failed to upsert tracked item: %w", err)
	}
	return created, nil
}
