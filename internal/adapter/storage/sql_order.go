package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

const orderColumns = `id, owner_id, total, shipping_address, status, created_at, updated_at`

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OwnerID, &o.Total, &o.ShippingAddress, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *SQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.exec(ctx, tx, `
		INSERT INTO orders (id, owner_id, total, shipping_address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OwnerID, order.Total, order.ShippingAddress, order.Status,
		order.CreatedAt, order.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, l := range order.Lines {
		if _, err := s.exec(ctx, tx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, unit_price, quantity)
			VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID, i+1, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLAdapter) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.getOrder(ctx, s.db, id, "")
}

func (s *SQLAdapter) getOrder(ctx context.Context, q queryer, id, suffix string) (domain.Order, error) {
	o, err := scanOrder(s.queryRow(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = ?`+suffix, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.OrderNotFound(id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order: %w", err)
	}

	orders := []domain.Order{o}
	if err := s.loadLines(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (s *SQLAdapter) loadLines(ctx context.Context, q queryer, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[string]int, len(orders))
	args := make([]interface{}, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		args[i] = o.ID
	}

	rows, err := s.query(ctx, q, `
		SELECT order_id, product_id, product_name, unit_price, quantity
		FROM order_items WHERE order_id IN `+inClause(len(orders))+` ORDER BY order_id, line_no`, args...)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var l domain.OrderLine
		if err := rows.Scan(&orderID, &l.ProductID, &l.ProductName, &l.UnitPrice, &l.Quantity); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		i := index[orderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return rows.Err()
}

func (s *SQLAdapter) listOrders(ctx context.Context, where string, args []interface{}, page domain.PageRequest) (domain.Page[domain.Order], error) {
	page = page.Normalize()

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.Order]{}, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.query(ctx, s.db,
		`SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, page.Size, page.Offset())...)
	if err != nil {
		return domain.Page[domain.Order]{}, fmt.Errorf("list orders: %w", err)
	}

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.Page[domain.Order]{}, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, err
	}

	if err := s.loadLines(ctx, s.db, orders); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	return domain.NewPage(orders, page, total), nil
}

func (s *SQLAdapter) ListByOwner(ctx context.Context, ownerID string, page domain.PageRequest) (domain.Page[domain.Order], error) {
	return s.listOrders(ctx, ` WHERE owner_id = ?`, []interface{}{ownerID}, page)
}

func (s *SQLAdapter) ListOrders(ctx context.Context, status domain.OrderStatus, page domain.PageRequest) (domain.Page[domain.Order], error) {
	if status == "" {
		return s.listOrders(ctx, "", nil, page)
	}
	return s.listOrders(ctx, ` WHERE status = ?`, []interface{}{status}, page)
}

func (s *SQLAdapter) Transition(ctx context.Context, id string, from, to domain.OrderStatus, apply port.TransitionFunc) (domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	o, err := s.getOrder(ctx, tx, id, " FOR UPDATE")
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status != from {
		return domain.Order{}, domain.InvalidStateTransition(o.Status, to)
	}
	if apply != nil {
		if err := apply(ctx, o.Clone()); err != nil {
			return domain.Order{}, err
		}
	}

	now := s.now()
	if _, err := s.exec(ctx, tx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, to, now, id); err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit order status: %w", err)
	}

	o.Status = to
	o.UpdatedAt = now
	return o, nil
}
