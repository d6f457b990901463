package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		dsn     string
		driver  string
		source  string
		dialect Dialect
	}{
		{"postgres://u:p@localhost/prices", "postgres", "postgres://u:p@localhost/prices", Postgres},
		{"postgresql://localhost/prices", "postgres", "postgresql://localhost/prices", Postgres},
		{"host=localhost dbname=prices", "postgres", "host=localhost dbname=prices", Postgres},
		{"sqlite://prices.db", "sqlite", "prices.db", SQLite},
		{"sqlite://:memory:", "sqlite", ":memory:", SQLite},
		{"file:prices.db?cache=shared", "sqlite", "file:prices.db?cache=shared", SQLite},
		{":memory:", "sqlite", ":memory:", SQLite},
		{"./data/prices.db", "sqlite", "./data/prices.db", SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, source, dialect := resolve(tt.dsn)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.source, source)
			assert.Equal(t, tt.dialect, dialect)
		})
	}
}

func TestRebind(t *testing.T) {
	q := `UPDATE tracked_items SET last_price = $2, updated_at = $3 WHERE id = $1`

	pg := &DB{Dialect: Postgres}
	assert.Equal(t, q, pg.Rebind(q))

	lite := &DB{Dialect: SQLite}
	assert.Equal(t, `UPDATE tracked_items SET last_price = ?2, updated_at = ?3 WHERE id = ?1`, lite.Rebind(q))
	assert.Equal(t, `LIMIT ?12`, lite.Rebind(`LIMIT $12`))
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

func TestOpen_SQLiteCreatesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, SQLite, db.Dialect)
	require.NoError(t, db.CreateTables(ctx))
	// idempotent
	require.NoError(t, db.CreateTables(ctx))

	_, err = db.ExecContext(ctx,
		`INSERT INTO tracked_items (name, site, product_url, target_price) VALUES ($1, $2, $3, $4)`,
		"Phone", "amazon", "https://www.amazon.in/dp/X", "50000")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_items WHERE site = $1`, "amazon").Scan(&count))
	assert.Equal(t, 1, count)

	_, err = db.ExecContext(ctx,
		`INSERT INTO tracked_items (name, site, product_url, target_price) VALUES ($1, $2, $3, $4)`,
		"Dup", "amazon", "https://www.amazon.in/dp/X", "1")
	assert.Error(t, err, "product_url is unique")
}

func TestDialectString(t *testing.T) {
	assert.Equal(t, "postgres", Postgres.String())
	assert.Equal(t, "sqlite", SQLite.String())
}
