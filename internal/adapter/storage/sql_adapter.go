package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLAdapter implements the catalog, stock ledger, cart and order
// repositories on database/sql for either MySQL or Postgres.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the tables if they do not exist yet.
func (s *SQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *SQLAdapter) exec(ctx context.Context, q queryer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLAdapter) query(ctx context.Context, q queryer, query string, args ...interface{}) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLAdapter) queryRow(ctx context.Context, q queryer, query string, args ...interface{}) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLAdapter) insertID(ctx context.Context, q queryer, query string, args ...interface{}) (int64, error) {
	if s.dialect.returningID {
		var id int64
		err := s.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := s.exec(ctx, q, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const productColumns = `id, name, category, price, stock, image_url, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *SQLAdapter) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(s.queryRow(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ProductNotFound(id)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (s *SQLAdapter) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.query(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE id IN `+inClause(len(ids)), int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *SQLAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter, page domain.PageRequest) (domain.Page[domain.Product], error) {
	page = page.Normalize()

	var conds []string
	var args []interface{}
	if filter.Category != "" {
		conds = append(conds, "LOWER(category) = LOWER(?)")
		args = append(args, filter.Category)
	}
	if filter.Keyword != "" {
		conds = append(conds, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Keyword)+"%")
	}
	if filter.InStock {
		conds = append(conds, "stock > 0")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.Product]{}, fmt.Errorf("count products: %w", err)
	}

	rows, err := s.query(ctx, s.db, `SELECT `+productColumns+` FROM products`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, page.Size, page.Offset())...)
	if err != nil {
		return domain.Page[domain.Product]{}, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var items []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return domain.Page[domain.Product]{}, fmt.Errorf("scan product: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Product]{}, err
	}
	return domain.NewPage(items, page, total), nil
}

func (s *SQLAdapter) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, s.db, `SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLAdapter) SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	now := s.now()
	if p.ID == 0 {
		if p.Stock < 0 {
			return domain.Product{}, domain.InvalidRequest("stock must not be negative")
		}
		id, err := s.insertID(ctx, s.db, `
			INSERT INTO products (name, category, price, stock, image_url, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			p.Name, p.Category, p.Price, p.Stock, p.ImageURL, now, now,
		)
		if err != nil {
			return domain.Product{}, fmt.Errorf("insert product: %w", err)
		}
		return s.GetProduct(ctx, id)
	}

	res, err := s.exec(ctx, s.db, `
		UPDATE products
		SET name = ?, category = ?, price = ?, image_url = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Category, p.Price, p.ImageURL, now, p.ID,
	)
	if err != nil {
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Product{}, domain.ProductNotFound(p.ID)
	}
	return s.GetProduct(ctx, p.ID)
}

// lockStock reads and row-locks the stock of the given products in ascending
// id order inside tx.
func (s *SQLAdapter) lockStock(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]int, error) {
	rows, err := s.query(ctx, tx,
		`SELECT id, stock FROM products WHERE id IN `+inClause(len(ids))+` ORDER BY id FOR UPDATE`,
		int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	defer rows.Close()

	stock := make(map[int64]int, len(ids))
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		stock[id] = n
	}
	return stock, rows.Err()
}

func (s *SQLAdapter) Reserve(ctx context.Context, items []domain.Reservation) error {
	merged, err := mergeValid(items)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stock, err := s.lockStock(ctx, tx, domain.ProductIDs(merged))
	if err != nil {
		return err
	}
	for _, it := range merged {
		available, ok := stock[it.ProductID]
		if !ok {
			return domain.ProductNotFound(it.ProductID)
		}
		if available < it.Quantity {
			return domain.InsufficientStock(it.ProductID, available)
		}
	}

	now := s.now()
	for _, it := range merged {
		res, err := s.exec(ctx, tx, `
			UPDATE products
			SET stock = stock - ?, version = version + 1, updated_at = ?
			WHERE id = ? AND stock >= ?`,
			it.Quantity, now, it.ProductID, it.Quantity,
		)
		if err != nil {
			return fmt.Errorf("update stock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrOptimisticLock
		}
	}

	return tx.Commit()
}

func (s *SQLAdapter) Release(ctx context.Context, items []domain.Reservation) error {
	merged, err := mergeValid(items)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stock, err := s.lockStock(ctx, tx, domain.ProductIDs(merged))
	if err != nil {
		return err
	}
	for _, it := range merged {
		if _, ok := stock[it.ProductID]; !ok {
			return domain.ProductNotFound(it.ProductID)
		}
	}

	now := s.now()
	for _, it := range merged {
		if _, err := s.exec(ctx, tx, `
			UPDATE products SET stock = stock + ?, version = version + 1, updated_at = ? WHERE id = ?`,
			it.Quantity, now, it.ProductID,
		); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLAdapter) CurrentStock(ctx context.Context, productID int64) (int, error) {
	var n int
	err := s.queryRow(ctx, s.db, `SELECT stock FROM products WHERE id = ?`, productID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ProductNotFound(productID)
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return n, nil
}

func (s *SQLAdapter) Adjust(ctx context.Context, productID int64, delta int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stock, err := s.lockStock(ctx, tx, []int64{productID})
	if err != nil {
		return 0, err
	}
	current, ok := stock[productID]
	if !ok {
		return 0, domain.ProductNotFound(productID)
	}
	if current+delta < 0 {
		return current, domain.InsufficientStock(productID, current)
	}

	if _, err := s.exec(ctx, tx, `
		UPDATE products SET stock = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		current+delta, s.now(), productID,
	); err != nil {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return current + delta, nil
}
