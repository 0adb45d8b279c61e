// Package feed pulls public market data into the ledger: the CoinGecko
// market overview, the Binance futures premium index and the Binance
// depth20 order book stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"papertrade/internal/domain"
)

// Market is the part of the ledger the feeds write to.
type Market interface {
	SetCoinsData(data []domain.CoinData)
	SetFunding(data domain.FundingData)
	SetMarkPrice(price float64)
	SetOrdersBook(book domain.OrderBook)
	SelectedTradingPair() (domain.TradingPair, bool)
}

// Config holds feed endpoints and polling intervals.
type Config struct {
	CoinGeckoURL    string
	FuturesURL      string
	DepthURL        string
	MarketInterval  time.Duration
	FundingInterval time.Duration
}

// Run starts every feed and blocks until ctx is cancelled or a feed fails.
func Run(ctx context.Context, cfg Config, m Market) error {
	client := &http.Client{Timeout: 15 * time.Second}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return NewCoinGecko(client, cfg.CoinGeckoURL, cfg.MarketInterval, m).Run(ctx)
	})
	g.Go(func() error {
		return NewFunding(client, cfg.FuturesURL, cfg.FundingInterval, m).Run(ctx)
	})
	g.Go(func() error {
		return NewDepthStream(cfg.DepthURL, m).Run(ctx)
	})

	log.Info().
		Str("component", "feed").
		Dur("market_interval", cfg.MarketInterval).
		Dur("funding_interval", cfg.FundingInterval).
		Msg("market data feeds started")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("feeds: %w", err)
	}
	return nil
}

// getJSON fetches url and decodes the JSON body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", req.URL.Host, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}
