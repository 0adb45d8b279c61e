package ledger

import (
	"papertrade/internal/domain"
)

// PositionView is an open position valued at the current mark price.
type PositionView struct {
	domain.Position
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	ROE           float64 `json:"roe"`
}

// Summary aggregates the account figures shown in the balances panel.
type Summary struct {
	Balance         float64 `json:"balance"`
	UsedMargin      float64 `json:"used_margin"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	Equity          float64 `json:"equity"`
	RealizedPnL     float64 `json:"realized_pnl"`
	MarkPrice       float64 `json:"mark_price"`
	SelectedPair    string  `json:"selected_pair"`
	OpenPositions   int     `json:"open_positions"`
	OpenOrders      int     `json:"open_orders"`
	ClosedPositions int     `json:"closed_positions"`
}

// MarketState is the ephemeral market data held alongside the account.
type MarketState struct {
	SelectedPair string               `json:"selected_pair"`
	TradingPairs []domain.TradingPair `json:"trading_pairs"`
	CoinsData    []domain.CoinData    `json:"coins_data"`
	OrdersBook   domain.OrderBook     `json:"orders_book"`
	Funding      *domain.FundingData  `json:"funding,omitempty"`
	MarkPrice    float64              `json:"mark_price"`
}

func viewOf(p domain.Position, markPrice float64) PositionView {
	pnl := PnL(p.Side, p.EntryPrice, markPrice, p.Size)
	return PositionView{
		Position:      p,
		MarkPrice:     markPrice,
		UnrealizedPnL: pnl,
		ROE:           ROE(pnl, p.Margin),
	}
}

// Balance returns the available balance.
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// MarkPrice returns the current mark price.
func (l *Ledger) MarkPrice() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.markPrice
}

// SelectedPair returns the selected trading pair symbol.
func (l *Ledger) SelectedPair() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selectedPair
}

// Positions returns the open positions, in opening order, valued at the
// current mark price.
func (l *Ledger) Positions() []PositionView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	views := make([]PositionView, 0, len(l.positions))
	for _, p := range l.positions {
		views = append(views, viewOf(p, l.markPrice))
	}
	return views
}

// Position returns the open position with the given id.
func (l *Ledger) Position(id string) (PositionView, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, p := range l.positions {
		if p.ID == id {
			return viewOf(p, l.markPrice), true
		}
	}
	return PositionView{}, false
}

// UnrealizedPnL returns the P&L the position would realize if closed at the
// current mark price.
func (l *Ledger) UnrealizedPnL(id string) (float64, bool) {
	v, ok := l.Position(id)
	if !ok {
		return 0, false
	}
	return v.UnrealizedPnL, true
}

// TotalUnrealizedPnL sums the unrealized P&L of all open positions.
func (l *Ledger) TotalUnrealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, p := range l.positions {
		total += PnL(p.Side, p.EntryPrice, l.markPrice, p.Size)
	}
	return total
}

// OpenOrders returns the pending orders in placement order.
func (l *Ledger) OpenOrders() []domain.OpenOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.OpenOrder{}, l.openOrders...)
}

// History returns closed positions in closing order.
func (l *Ledger) History() []domain.ClosedPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.ClosedPosition{}, l.orderHistory...)
}

// Summary returns the aggregate account figures from one consistent read.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{
		Balance:         l.balance,
		MarkPrice:       l.markPrice,
		SelectedPair:    l.selectedPair,
		OpenPositions:   len(l.positions),
		OpenOrders:      len(l.openOrders),
		ClosedPositions: len(l.orderHistory),
	}
	for _, p := range l.positions {
		s.UsedMargin += p.Margin
		s.UnrealizedPnL += PnL(p.Side, p.EntryPrice, l.markPrice, p.Size)
	}
	for _, c := range l.orderHistory {
		s.RealizedPnL += c.PnL
	}
	s.Equity = s.Balance + s.UsedMargin + s.UnrealizedPnL
	return s
}

// Market returns the ephemeral market data.
func (l *Ledger) Market() MarketState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m := MarketState{
		SelectedPair: l.selectedPair,
		TradingPairs: append([]domain.TradingPair{}, domain.TradingPairs...),
		CoinsData:    append([]domain.CoinData{}, l.coinsData...),
		OrdersBook: domain.OrderBook{
			Bids: append([]domain.PriceLevel{}, l.ordersBook.Bids...),
			Asks: append([]domain.PriceLevel{}, l.ordersBook.Asks...),
		},
		MarkPrice: l.markPrice,
	}
	if l.funding != nil {
		f := *l.funding
		m.Funding = &f
	}
	return m
}

// SelectedTradingPair resolves the selected symbol against the trading pairs.
func (l *Ledger) SelectedTradingPair() (domain.TradingPair, bool) {
	return domain.FindTradingPair(l.SelectedPair())
}

// SelectedCoinData returns the market data row of the selected pair.
func (l *Ledger) SelectedCoinData() (domain.CoinData, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pair, ok := domain.FindTradingPair(l.selectedPair)
	if !ok {
		return domain.CoinData{}, false
	}
	for _, c := range l.coinsData {
		if c.ID == pair.ID {
			return c, true
		}
	}
	return domain.CoinData{}, false
}
