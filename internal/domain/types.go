package domain

import (
	"time"
)

// Side represents the direction of a position or order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is long or short.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Valid reports whether t is limit or market.
func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

const (
	// MinLeverage and MaxLeverage bound the leverage accepted by the ledger.
	MinLeverage = 1
	MaxLeverage = 125
)

// Position represents an open leveraged position.
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	Leverage   float64   `json:"leverage"`
	Margin     float64   `json:"margin"`
	CreatedAt  time.Time `json:"created_at"`
}

// OpenOrder represents a pending, unfilled order.
type OpenOrder struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Leverage  float64   `json:"leverage"`
	CreatedAt time.Time `json:"created_at"`
}

// ClosedPosition is a position that has been closed, with its realized P&L.
type ClosedPosition struct {
	Position
	ClosedAt time.Time `json:"closed_at"`
	PnL      float64   `json:"pnl"`
}

// TradingPair maps a display symbol to its market-data identifiers.
type TradingPair struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	BinanceSymbol string `json:"binance_symbol"`
}

// TradingPairs lists the pairs the dashboard trades.
var TradingPairs = []TradingPair{
	{ID: "bitcoin", Symbol: "BTC/USDT", Name: "Bitcoin", BinanceSymbol: "BTCUSDT"},
	{ID: "ethereum", Symbol: "ETH/USDT", Name: "Ethereum", BinanceSymbol: "ETHUSDT"},
	{ID: "solana", Symbol: "SOL/USDT", Name: "Solana", BinanceSymbol: "SOLUSDT"},
	{ID: "ripple", Symbol: "XRP/USDT", Name: "Ripple", BinanceSymbol: "XRPUSDT"},
	{ID: "dogecoin", Symbol: "DOGE/USDT", Name: "Dogecoin", BinanceSymbol: "DOGEUSDT"},
}

// FindTradingPair returns the trading pair with the given symbol.
func FindTradingPair(symbol string) (TradingPair, bool) {
	for _, p := range TradingPairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return TradingPair{}, false
}

// CoinData is a row of the CoinGecko markets endpoint.
type CoinData struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Image                    string  `json:"image"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                float64 `json:"market_cap"`
	MarketCapRank            int     `json:"market_cap_rank"`
	TotalVolume              float64 `json:"total_volume"`
	High24h                  float64 `json:"high_24h"`
	Low24h                   float64 `json:"low_24h"`
	PriceChange24h           float64 `json:"price_change_24h"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	CirculatingSupply        float64 `json:"circulating_supply"`
	LastUpdated              string  `json:"last_updated"`
}

// PriceLevel is a [price, quantity] pair as sent by Binance.
type PriceLevel [2]string

// OrderBook holds the latest depth snapshot for the selected pair.
type OrderBook struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// FundingData is the Binance futures premium index for a symbol.
type FundingData struct {
	Symbol               string `json:"symbol"`
	MarkPrice            string `json:"markPrice"`
	IndexPrice           string `json:"indexPrice"`
	EstimatedSettlePrice string `json:"estimatedSettlePrice"`
	LastFundingRate      string `json:"lastFundingRate"`
	InterestRate         string `json:"interestRate"`
	NextFundingTime      int64  `json:"nextFundingTime"`
	Time                 int64  `json:"time"`
}

// SnapshotVersion is the current layout version of Snapshot.
const SnapshotVersion = 1

// Snapshot is the durable subset of the ledger state.
type Snapshot struct {
	Version      int              `json:"version"`
	Balance      float64          `json:"balance"`
	Positions    []Position       `json:"positions"`
	OpenOrders   []OpenOrder      `json:"open_orders"`
	OrderHistory []ClosedPosition `json:"order_history"`
	SelectedPair string           `json:"selected_pair"`
	SavedAt      time.Time        `json:"saved_at"`
}
