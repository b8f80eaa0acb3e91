package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

const cartColumns = `id, owner_id, product_id, quantity, created_at, updated_at`

func scanCartLine(row scanner) (domain.CartLine, error) {
	var l domain.CartLine
	err := row.Scan(&l.ID, &l.OwnerID, &l.ProductID, &l.Quantity, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *SQLAdapter) AddOrMerge(ctx context.Context, ownerID string, productID int64, quantity int) (domain.CartLine, error) {
	if quantity > domain.MaxLineQuantity {
		return domain.CartLine{}, domain.QuantityTooLarge(productID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	if _, err := s.exec(ctx, tx, s.dialect.upsertCart, ownerID, productID, quantity, now, now); err != nil {
		return domain.CartLine{}, fmt.Errorf("upsert cart line: %w", err)
	}

	line, err := scanCartLine(s.queryRow(ctx, tx,
		`SELECT `+cartColumns+` FROM cart_items WHERE owner_id = ? AND product_id = ?`, ownerID, productID))
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("read cart line: %w", err)
	}
	// the merge is rolled back when it pushes the line past the limit
	if line.Quantity > domain.MaxLineQuantity {
		return domain.CartLine{}, domain.QuantityTooLarge(productID)
	}
	return line, tx.Commit()
}

func (s *SQLAdapter) SetQuantity(ctx context.Context, ownerID string, lineID int64, quantity int) (domain.CartLine, error) {
	if _, err := s.exec(ctx, s.db,
		`UPDATE cart_items SET quantity = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		quantity, s.now(), lineID, ownerID,
	); err != nil {
		return domain.CartLine{}, fmt.Errorf("update cart line: %w", err)
	}

	line, err := scanCartLine(s.queryRow(ctx, s.db,
		`SELECT `+cartColumns+` FROM cart_items WHERE id = ? AND owner_id = ?`, lineID, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartLine{}, domain.LineNotFound(lineID)
	}
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("read cart line: %w", err)
	}
	return line, nil
}

func (s *SQLAdapter) RemoveLine(ctx context.Context, ownerID string, lineID int64) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM cart_items WHERE id = ? AND owner_id = ?`, lineID, ownerID); err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (s *SQLAdapter) RemoveProducts(ctx context.Context, ownerID string, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	args := append([]interface{}{ownerID}, int64Args(productIDs)...)
	if _, err := s.exec(ctx, s.db,
		`DELETE FROM cart_items WHERE owner_id = ? AND product_id IN `+inClause(len(productIDs)), args...,
	); err != nil {
		return fmt.Errorf("delete cart lines: %w", err)
	}
	return nil
}

func (s *SQLAdapter) Clear(ctx context.Context, ownerID string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM cart_items WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *SQLAdapter) ListLines(ctx context.Context, ownerID string) ([]domain.CartLine, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+cartColumns+` FROM cart_items WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	var out []domain.CartLine
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
