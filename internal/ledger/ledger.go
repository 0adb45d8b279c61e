// Package ledger implements the paper-trading account: balance, open
// positions, open orders and closed-position history.
//
// All mutations are serialized by a single lock; readers always observe a
// state in which the balance and the position set agree.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
)

const (
	// DefaultBalance is the starting balance of a fresh account.
	DefaultBalance = 100000
	// DefaultMarkPrice is the mark price used until market data arrives.
	DefaultMarkPrice = 97000
	// DefaultPair is the trading pair selected on a fresh account.
	DefaultPair = "BTC/USDT"
)

// Listener receives the durable state after every change to it. It is called
// with the ledger lock held and must not block or call back into the ledger.
type Listener func(domain.Snapshot)

// Ledger is the in-memory paper-trading account.
type Ledger struct {
	mu sync.RWMutex

	balance      float64
	positions    []domain.Position
	openOrders   []domain.OpenOrder
	orderHistory []domain.ClosedPosition
	selectedPair string

	markPrice  float64
	coinsData  []domain.CoinData
	ordersBook domain.OrderBook
	funding    *domain.FundingData

	now      func() time.Time
	newID    func() string
	listener Listener
	logger   zerolog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithBalance sets the initial balance.
func WithBalance(balance float64) Option {
	return func(l *Ledger) { l.balance = balance }
}

// WithMarkPrice sets the initial mark price.
func WithMarkPrice(price float64) Option {
	return func(l *Ledger) { l.markPrice = price }
}

// WithSelectedPair sets the initially selected trading pair.
func WithSelectedPair(pair string) Option {
	return func(l *Ledger) { l.selectedPair = pair }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides the id generator used for positions and orders.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithListener registers a listener for durable state changes.
func WithListener(fn Listener) Option {
	return func(l *Ledger) { l.listener = fn }
}

// New creates a Ledger with default account state.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		balance:      DefaultBalance,
		positions:    []domain.Position{},
		openOrders:   []domain.OpenOrder{},
		orderHistory: []domain.ClosedPosition{},
		selectedPair: DefaultPair,
		markPrice:    DefaultMarkPrice,
		coinsData:    []domain.CoinData{},
		ordersBook:   domain.OrderBook{Bids: []domain.PriceLevel{}, Asks: []domain.PriceLevel{}},
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
		logger:       log.With().Str("component", "ledger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetListener replaces the durable state listener.
func (l *Ledger) SetListener(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listener = fn
}

// OpenParams are the order-entry parameters for opening a position.
type OpenParams struct {
	Symbol   string      `json:"symbol"`
	Side     domain.Side `json:"side"`
	Price    float64     `json:"price"`
	Amount   float64     `json:"amount"`
	Leverage float64     `json:"leverage"`
}

// Valid reports whether the parameters can produce a well-formed position.
// Leverage outside 1..125 is rejected here, so margin is never computed
// against a zero divisor.
func (p OpenParams) Valid() bool {
	return p.Symbol != "" &&
		p.Side.Valid() &&
		finite(p.Price) && p.Price > 0 &&
		finite(p.Amount) && p.Amount > 0 &&
		finite(p.Leverage) && p.Leverage >= domain.MinLeverage && p.Leverage <= domain.MaxLeverage
}

// OpenPosition debits the position margin from the balance and records a new
// position. It returns false, leaving the ledger unchanged, when the
// parameters are invalid or the margin exceeds the available balance.
func (l *Ledger) OpenPosition(p OpenParams) (domain.Position, bool) {
	if !p.Valid() {
		l.logger.Debug().Str("symbol", p.Symbol).Msg("rejected position: invalid parameters")
		return domain.Position{}, false
	}
	margin := Margin(p.Price, p.Amount, p.Leverage)

	l.mu.Lock()
	defer l.mu.Unlock()

	if margin > l.balance {
		l.logger.Debug().
			Float64("margin", margin).
			Float64("balance", l.balance).
			Msg("rejected position: insufficient funds")
		return domain.Position{}, false
	}

	pos := domain.Position{
		ID:         l.newID(),
		Symbol:     p.Symbol,
		Side:       p.Side,
		Size:       p.Amount,
		EntryPrice: p.Price,
		Leverage:   p.Leverage,
		Margin:     margin,
		CreatedAt:  l.now(),
	}
	l.balance -= margin
	l.positions = append(l.positions, pos)

	l.logger.Debug().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("margin", margin).
		Msg("opened position")
	l.notifyLocked()
	return pos, true
}

// ClosePosition closes the position with the given id at markPrice, returns
// margin plus P&L to the balance and appends the closed position to history.
// An unknown id is a no-op and returns false. A non-finite mark price is
// refused the same way so it cannot corrupt the balance.
func (l *Ledger) ClosePosition(id string, markPrice float64) (domain.ClosedPosition, bool) {
	if !finite(markPrice) {
		return domain.ClosedPosition{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.positions {
		if l.positions[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ClosedPosition{}, false
	}

	pos := l.positions[idx]
	pnl := PnL(pos.Side, pos.EntryPrice, markPrice, pos.Size)
	// Not floored at zero: a loss beyond margin leaves a shortfall.
	returnAmount := pos.Margin + pnl

	closed := domain.ClosedPosition{
		Position: pos,
		ClosedAt: l.now(),
		PnL:      pnl,
	}

	l.balance += returnAmount
	l.positions = append(l.positions[:idx:idx], l.positions[idx+1:]...)
	l.orderHistory = append(l.orderHistory, closed)

	l.logger.Debug().
		Str("position_id", pos.ID).
		Float64("mark_price", markPrice).
		Float64("pnl", pnl).
		Msg("closed position")
	l.notifyLocked()
	return closed, true
}

// OrderParams are the parameters of a pending order.
type OrderParams struct {
	Symbol   string           `json:"symbol"`
	Side     domain.Side      `json:"side"`
	Type     domain.OrderType `json:"type"`
	Price    float64          `json:"price"`
	Amount   float64          `json:"amount"`
	Leverage float64          `json:"leverage"`
}

// Valid reports whether the order parameters are well-formed.
func (p OrderParams) Valid() bool {
	return p.Type.Valid() && OpenParams{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Price:    p.Price,
		Amount:   p.Amount,
		Leverage: p.Leverage,
	}.Valid()
}

// PlaceOrder records a pending order. Orders are neither matched nor funded:
// no balance is reserved and nothing turns an order into a position.
func (l *Ledger) PlaceOrder(p OrderParams) (domain.OpenOrder, bool) {
	if !p.Valid() {
		return domain.OpenOrder{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	order := domain.OpenOrder{
		ID:        l.newID(),
		Symbol:    p.Symbol,
		Side:      p.Side,
		Type:      p.Type,
		Price:     p.Price,
		Amount:    p.Amount,
		Leverage:  p.Leverage,
		CreatedAt: l.now(),
	}
	l.openOrders = append(l.openOrders, order)
	l.notifyLocked()
	return order, true
}

// CancelOrder removes the order with the given id. It has no balance effect
// and is a no-op for unknown ids.
func (l *Ledger) CancelOrder(id string) (domain.OpenOrder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.openOrders {
		if l.openOrders[i].ID == id {
			order := l.openOrders[i]
			l.openOrders = append(l.openOrders[:i:i], l.openOrders[i+1:]...)
			l.notifyLocked()
			return order, true
		}
	}
	return domain.OpenOrder{}, false
}

// SetBalance replaces the available balance.
func (l *Ledger) SetBalance(balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = balance
	l.notifyLocked()
}

// SetSelectedPair replaces the selected trading pair.
func (l *Ledger) SetSelectedPair(pair string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selectedPair = pair
	l.notifyLocked()
}

// SetMarkPrice replaces the mark price used for unrealized P&L.
func (l *Ledger) SetMarkPrice(price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markPrice = price
}

// SetCoinsData replaces the market overview data.
func (l *Ledger) SetCoinsData(data []domain.CoinData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coinsData = append([]domain.CoinData(nil), data...)
}

// SetOrdersBook replaces the order book snapshot.
func (l *Ledger) SetOrdersBook(book domain.OrderBook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ordersBook = domain.OrderBook{
		Bids: append([]domain.PriceLevel{}, book.Bids...),
		Asks: append([]domain.PriceLevel{}, book.Asks...),
	}
}

// SetFunding replaces the latest funding reading.
func (l *Ledger) SetFunding(data domain.FundingData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funding = &data
}

// Snapshot returns a copy of the durable state.
func (l *Ledger) Snapshot() domain.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Restore replaces the durable state with snap. Market data is left as is.
func (l *Ledger) Restore(snap domain.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = snap.Balance
	l.positions = append([]domain.Position{}, snap.Positions...)
	l.openOrders = append([]domain.OpenOrder{}, snap.OpenOrders...)
	l.orderHistory = append([]domain.ClosedPosition{}, snap.OrderHistory...)
	if snap.SelectedPair != "" {
		l.selectedPair = snap.SelectedPair
	}

	l.logger.Info().
		Float64("balance", l.balance).
		Int("positions", len(l.positions)).
		Int("open_orders", len(l.openOrders)).
		Int("history", len(l.orderHistory)).
		Msg("restored ledger state")
	l.notifyLocked()
}

func (l *Ledger) snapshotLocked() domain.Snapshot {
	return domain.Snapshot{
		Version:      domain.SnapshotVersion,
		Balance:      l.balance,
		Positions:    append([]domain.Position{}, l.positions...),
		OpenOrders:   append([]domain.OpenOrder{}, l.openOrders...),
		OrderHistory: append([]domain.ClosedPosition{}, l.orderHistory...),
		SelectedPair: l.selectedPair,
		SavedAt:      l.now(),
	}
}

func (l *Ledger) notifyLocked() {
	if l.listener != nil {
		l.listener(l.snapshotLocked())
	}
}
