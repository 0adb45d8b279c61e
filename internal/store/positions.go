package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"papertrade/internal/domain"
)

// replacePositions swaps the stored open positions for the given set.
// Must be called within a transaction.
func (r *Repository) replacePositions(ctx context.Context, tx pgx.Tx, positions []domain.Position) error {
	if _, err := tx.Exec(ctx, "DELETE FROM ledger_positions WHERE account_id = $1", r.accountID); err != nil {
		return fmt.Errorf("delete positions: %w", err)
	}

	for _, p := range positions {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_positions (id, account_id, symbol, side, size,
				entry_price, leverage, margin, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, p.ID, r.accountID, p.Symbol, string(p.Side), p.Size,
			p.EntryPrice, p.Leverage, p.Margin, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.ID, err)
		}
	}
	return nil
}

// loadPositions returns the stored open positions in opening order.
func (r *Repository) loadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, symbol, side, size, entry_price, leverage, margin, created_at
		FROM ledger_positions
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`, r.accountID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	positions := []domain.Position{}
	for rows.Next() {
		var p domain.Position
		var side string
		err := rows.Scan(
			&p.ID, &p.Symbol, &side, &p.Size, &p.EntryPrice,
			&p.Leverage, &p.Margin, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Side = domain.Side(side)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return positions, nil
}
