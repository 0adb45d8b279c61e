package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"papertrade/internal/domain"
)

// replaceOrders swaps the stored open orders for the given set.
// Must be called within a transaction.
func (r *Repository) replaceOrders(ctx context.Context, tx pgx.Tx, orders []domain.OpenOrder) error {
	if _, err := tx.Exec(ctx, "DELETE FROM ledger_orders WHERE account_id = $1", r.accountID); err != nil {
		return fmt.Errorf("delete orders: %w", err)
	}

	for _, o := range orders {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_orders (id, account_id, symbol, side, order_type,
				price, amount, leverage, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, o.ID, r.accountID, o.Symbol, string(o.Side), string(o.Type),
			o.Price, o.Amount, o.Leverage, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
	}
	return nil
}

// loadOrders returns the stored open orders in placement order.
func (r *Repository) loadOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, symbol, side, order_type, price, amount, leverage, created_at
		FROM ledger_orders
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`, r.accountID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.OpenOrder{}
	for rows.Next() {
		var o domain.OpenOrder
		var side, orderType string
		err := rows.Scan(
			&o.ID, &o.Symbol, &side, &orderType,
			&o.Price, &o.Amount, &o.Leverage, &o.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(orderType)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}
