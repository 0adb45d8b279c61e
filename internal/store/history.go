package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"papertrade/internal/domain"
)

// syncHistory writes closed positions in snapshot order. Existing rows take
// the snapshot's position and values, and rows no longer part of the
// snapshot (after an import) are removed.
// Must be called within a transaction.
func (r *Repository) syncHistory(ctx context.Context, tx pgx.Tx, history []domain.ClosedPosition) error {
	ids := make([]string, 0, len(history))
	for seq, c := range history {
		ids = append(ids, c.ID)
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_history (id, account_id, seq, symbol, side, size,
				entry_price, leverage, margin, created_at, closed_at, pnl)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (account_id, id) DO UPDATE SET
				seq = EXCLUDED.seq,
				symbol = EXCLUDED.symbol,
				side = EXCLUDED.side,
				size = EXCLUDED.size,
				entry_price = EXCLUDED.entry_price,
				leverage = EXCLUDED.leverage,
				margin = EXCLUDED.margin,
				created_at = EXCLUDED.created_at,
				closed_at = EXCLUDED.closed_at,
				pnl = EXCLUDED.pnl
		`, c.ID, r.accountID, seq, c.Symbol, string(c.Side), c.Size,
			c.EntryPrice, c.Leverage, c.Margin, c.CreatedAt, c.ClosedAt, c.PnL)
		if err != nil {
			return fmt.Errorf("insert history %s: %w", c.ID, err)
		}
	}

	_, err := tx.Exec(ctx,
		"DELETE FROM ledger_history WHERE account_id = $1 AND NOT (id = ANY($2))",
		r.accountID, ids,
	)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}

// loadHistory returns the stored closed positions in closing order.
func (r *Repository) loadHistory(ctx context.Context) ([]domain.ClosedPosition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, symbol, side, size, entry_price, leverage, margin,
			created_at, closed_at, pnl
		FROM ledger_history
		WHERE account_id = $1
		ORDER BY seq ASC
	`, r.accountID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	history := []domain.ClosedPosition{}
	for rows.Next() {
		var c domain.ClosedPosition
		var side string
		err := rows.Scan(
			&c.ID, &c.Symbol, &side, &c.Size, &c.EntryPrice, &c.Leverage, &c.Margin,
			&c.CreatedAt, &c.ClosedAt, &c.PnL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		c.Side = domain.Side(side)
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// HistoryFilter defines filters for paging closed positions.
type HistoryFilter struct {
	Symbol string
	Cursor string
	Limit  int
}

// HistoryPage contains paginated closed positions, newest first.
type HistoryPage struct {
	History    []domain.ClosedPosition `json:"history"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

// PageHistory pages through history (oldest first, as the ledger keeps it)
// newest first. The cursor is the base64-encoded "closed_at|id" of the last
// entry of the previous page.
func PageHistory(history []domain.ClosedPosition, filter HistoryFilter) (*HistoryPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}

	start := len(history) - 1
	if filter.Cursor != "" {
		cursorTS, cursorID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		found := false
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].ID == cursorID && history[i].ClosedAt.Equal(cursorTS) {
				start, found = i-1, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("invalid cursor: no entry %q", cursorID)
		}
	}

	page := &HistoryPage{History: []domain.ClosedPosition{}}
	for i := start; i >= 0; i-- {
		c := history[i]
		if filter.Symbol != "" && c.Symbol != filter.Symbol {
			continue
		}
		if len(page.History) == filter.Limit {
			last := page.History[len(page.History)-1]
			page.NextCursor = encodeCursor(last.ClosedAt, last.ID)
			break
		}
		page.History = append(page.History, c)
	}
	return page, nil
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", ts.Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decode base64: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, parts[1], nil
}
