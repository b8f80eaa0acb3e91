package storage

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
// Queries are written with '?' placeholders and rebound per dialect.
type Dialect struct {
	name          string
	numberedBinds bool
	returningID   bool
	schema        []string
	upsertCart    string
}

var MySQL = Dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(100) NOT NULL DEFAULT '',
			price DECIMAL(12,2) NOT NULL,
			stock INT NOT NULL DEFAULT 0,
			image_url VARCHAR(512) NOT NULL DEFAULT '',
			version INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			CHECK (stock >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			product_id BIGINT NOT NULL,
			quantity INT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_cart_owner_product (owner_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			total DECIMAL(14,2) NOT NULL,
			shipping_address TEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_orders_owner_created (owner_id, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id VARCHAR(36) NOT NULL,
			line_no INT NOT NULL,
			product_id BIGINT NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			unit_price DECIMAL(12,2) NOT NULL,
			quantity INT NOT NULL,
			PRIMARY KEY (order_id, line_no)
		)`,
	},
	upsertCart: `INSERT INTO cart_items (owner_id, product_id, quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), updated_at = VALUES(updated_at)`,
}

var Postgres = Dialect{
	name:          "postgres",
	numberedBinds: true,
	returningID:   true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(100) NOT NULL DEFAULT '',
			price NUMERIC(12,2) NOT NULL,
			stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			image_url VARCHAR(512) NOT NULL DEFAULT '',
			version INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			id BIGSERIAL PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			product_id BIGINT NOT NULL,
			quantity INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (owner_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			total NUMERIC(14,2) NOT NULL,
			shipping_address TEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_owner_created ON orders (owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id VARCHAR(36) NOT NULL,
			line_no INT NOT NULL,
			product_id BIGINT NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			quantity INT NOT NULL,
			PRIMARY KEY (order_id, line_no)
		)`,
	},
	upsertCart: `INSERT INTO cart_items (owner_id, product_id, quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
}

func (d Dialect) Name() string {
	return d.name
}

func (d Dialect) rebind(query string) string {
	if !d.numberedBinds {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// inClause returns "(?, ?, ?)" for n values.
func inClause(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
