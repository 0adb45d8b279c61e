package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"papertrade/internal/domain"
)

// Repository persists ledger snapshots of one account in PostgreSQL.
type Repository struct {
	pool      *pgxpool.Pool
	accountID string
}

// NewRepository creates a new Repository with a connection pool.
func NewRepository(ctx context.Context, databaseURL, accountID string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	return &Repository{pool: pool, accountID: accountID}, nil
}

// Pool returns the underlying connection pool (for migration runner).
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Save writes the snapshot in a single transaction. Open positions and
// orders are replaced; history rows are only ever added.
func (r *Repository) Save(ctx context.Context, snap domain.Snapshot) error {
	if err := Validate(snap); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.upsertAccount(ctx, tx, snap); err != nil {
		return err
	}
	if err := r.replacePositions(ctx, tx, snap.Positions); err != nil {
		return err
	}
	if err := r.replaceOrders(ctx, tx, snap.OpenOrders); err != nil {
		return err
	}
	if err := r.syncHistory(ctx, tx, snap.OrderHistory); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. It returns nil when the account has never
// been saved.
func (r *Repository) Load(ctx context.Context) (*domain.Snapshot, error) {
	snap := domain.Snapshot{Version: domain.SnapshotVersion}

	err := r.loadAccount(ctx, &snap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if snap.Positions, err = r.loadPositions(ctx); err != nil {
		return nil, err
	}
	if snap.OpenOrders, err = r.loadOrders(ctx); err != nil {
		return nil, err
	}
	if snap.OrderHistory, err = r.loadHistory(ctx); err != nil {
		return nil, err
	}
	return &snap, nil
}

var _ Snapshotter = (*Repository)(nil)
