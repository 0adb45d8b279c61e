package feed

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
)

// pairCheckInterval is how often feeds look for a change of the selected pair.
const pairCheckInterval = time.Second

// Funding polls the Binance premium index of the selected pair. Each reading
// replaces the ledger's funding data and mark price.
type Funding struct {
	client   *futures.Client
	interval time.Duration
	market   Market
	logger   zerolog.Logger
}

// NewFunding creates a Funding poller against the Binance futures REST API
// at baseURL. An empty baseURL keeps the client's default endpoint.
func NewFunding(httpClient *http.Client, baseURL string, interval time.Duration, m Market) *Funding {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	// Premium index is a public endpoint, no key needed.
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	return &Funding{
		client:   client,
		interval: interval,
		market:   m,
		logger:   log.With().Str("component", "funding").Logger(),
	}
}

// Fetch returns the premium index of a Binance symbol such as BTCUSDT.
func (f *Funding) Fetch(ctx context.Context, symbol string) (domain.FundingData, error) {
	res, err := f.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.FundingData{}, fmt.Errorf("funding: premium index %s: %w", symbol, err)
	}
	for _, p := range res {
		if p.Symbol == symbol {
			return domain.FundingData{
				Symbol:               p.Symbol,
				MarkPrice:            p.MarkPrice,
				IndexPrice:           p.IndexPrice,
				EstimatedSettlePrice: p.EstimatedSettlePrice,
				LastFundingRate:      p.LastFundingRate,
				InterestRate:         p.InterestRate,
				NextFundingTime:      p.NextFundingTime,
				Time:                 p.Time,
			}, nil
		}
	}
	return domain.FundingData{}, fmt.Errorf("funding: no premium index for %s", symbol)
}

// Run fetches for the selected pair immediately, every interval, and
// whenever the selected pair changes, until ctx is cancelled.
func (f *Funding) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	pairTicker := time.NewTicker(pairCheckInterval)
	defer pairTicker.Stop()

	symbol := f.selectedSymbol()
	f.poll(ctx, symbol)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			symbol = f.selectedSymbol()
			f.poll(ctx, symbol)
		case <-pairTicker.C:
			if s := f.selectedSymbol(); s != symbol {
				symbol = s
				f.poll(ctx, symbol)
			}
		}
	}
}

func (f *Funding) selectedSymbol() string {
	pair, ok := f.market.SelectedTradingPair()
	if !ok {
		return ""
	}
	return pair.BinanceSymbol
}

func (f *Funding) poll(ctx context.Context, symbol string) {
	if symbol == "" {
		return
	}

	data, err := f.Fetch(ctx, symbol)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to fetch funding data")
		}
		return
	}
	// The selection may have moved while the request was in flight.
	if current := f.selectedSymbol(); current != symbol {
		f.logger.Debug().Str("symbol", symbol).Str("selected", current).Msg("dropped funding for deselected pair")
		return
	}

	f.market.SetFunding(data)
	if mark, ok := parsePrice(data.MarkPrice); ok {
		f.market.SetMarkPrice(mark)
	}
	f.logger.Debug().
		Str("symbol", symbol).
		Str("mark_price", data.MarkPrice).
		Str("funding_rate", data.LastFundingRate).
		Msg("updated funding data")
}

// parsePrice parses a decimal price string, accepting only positive finite values.
func parsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}
