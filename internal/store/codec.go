package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"papertrade/internal/domain"
)

var (
	// ErrUnsupportedVersion is returned when a snapshot has an unknown layout version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	// ErrInvalidSnapshot is returned when a snapshot fails validation.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// Encode serializes a snapshot. A zero version is stamped with the current one.
func Encode(snap domain.Snapshot) ([]byte, error) {
	if snap.Version == 0 {
		snap.Version = domain.SnapshotVersion
	}
	if err := Validate(snap); err != nil {
		return nil, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses and validates a serialized snapshot.
func Decode(data []byte) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := Validate(snap); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Positions == nil {
		snap.Positions = []domain.Position{}
	}
	if snap.OpenOrders == nil {
		snap.OpenOrders = []domain.OpenOrder{}
	}
	if snap.OrderHistory == nil {
		snap.OrderHistory = []domain.ClosedPosition{}
	}
	return snap, nil
}

// Validate checks that a snapshot can be restored into a ledger without
// breaking its invariants.
func Validate(snap domain.Snapshot) error {
	if snap.Version != domain.SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	if !finite(snap.Balance) {
		return invalid("balance must be finite")
	}

	seen := make(map[string]bool)
	for i, p := range snap.Positions {
		if err := validatePosition(p, seen); err != nil {
			return invalid(fmt.Sprintf("positions[%d]: %v", i, err))
		}
	}

	seen = make(map[string]bool)
	for i, o := range snap.OpenOrders {
		if err := validateOrder(o, seen); err != nil {
			return invalid(fmt.Sprintf("open_orders[%d]: %v", i, err))
		}
	}

	seen = make(map[string]bool)
	for i, c := range snap.OrderHistory {
		if err := validatePosition(c.Position, seen); err != nil {
			return invalid(fmt.Sprintf("order_history[%d]: %v", i, err))
		}
		if !finite(c.PnL) {
			return invalid(fmt.Sprintf("order_history[%d]: pnl must be finite", i))
		}
	}
	return nil
}

func validatePosition(p domain.Position, seen map[string]bool) error {
	if p.ID == "" {
		return fmt.Errorf("missing id")
	}
	if seen[p.ID] {
		return fmt.Errorf("duplicate id %q", p.ID)
	}
	seen[p.ID] = true
	if p.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if !p.Side.Valid() {
		return fmt.Errorf("invalid side %q", p.Side)
	}
	if !positive(p.Size) || !positive(p.EntryPrice) || !positive(p.Margin) {
		return fmt.Errorf("size, entry_price and margin must be positive")
	}
	if !validLeverage(p.Leverage) {
		return fmt.Errorf("leverage %v out of range", p.Leverage)
	}
	return nil
}

func validateOrder(o domain.OpenOrder, seen map[string]bool) error {
	if o.ID == "" {
		return fmt.Errorf("missing id")
	}
	if seen[o.ID] {
		return fmt.Errorf("duplicate id %q", o.ID)
	}
	seen[o.ID] = true
	if o.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if !o.Type.Valid() {
		return fmt.Errorf("invalid type %q", o.Type)
	}
	if !positive(o.Price) || !positive(o.Amount) {
		return fmt.Errorf("price and amount must be positive")
	}
	if !validLeverage(o.Leverage) {
		return fmt.Errorf("leverage %v out of range", o.Leverage)
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidSnapshot, msg)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return finite(v) && v > 0
}

func validLeverage(v float64) bool {
	return finite(v) && v >= domain.MinLeverage && v <= domain.MaxLeverage
}
