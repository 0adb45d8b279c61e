package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"papertrade/internal/domain"
)

// upsertAccount creates or updates the account row holding balance and the
// selected pair. Must be called within a transaction.
func (r *Repository) upsertAccount(ctx context.Context, tx pgx.Tx, snap domain.Snapshot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_accounts (id, balance, selected_pair, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance,
			selected_pair = EXCLUDED.selected_pair,
			updated_at = EXCLUDED.updated_at
	`, r.accountID, snap.Balance, snap.SelectedPair, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// loadAccount fills balance, selected pair and save time. It returns
// pgx.ErrNoRows unwrapped when the account does not exist.
func (r *Repository) loadAccount(ctx context.Context, snap *domain.Snapshot) error {
	err := r.pool.QueryRow(ctx,
		"SELECT balance, selected_pair, updated_at FROM ledger_accounts WHERE id = $1", r.accountID,
	).Scan(&snap.Balance, &snap.SelectedPair, &snap.SavedAt)
	if err == pgx.ErrNoRows {
		return err
	}
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	return nil
}
