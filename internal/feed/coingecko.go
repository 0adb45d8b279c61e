package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
)

// CoinGecko polls the markets endpoint and replaces the ledger's coin data.
type CoinGecko struct {
	client   *http.Client
	url      string
	interval time.Duration
	market   Market
	logger   zerolog.Logger
}

// NewCoinGecko creates a CoinGecko poller.
func NewCoinGecko(client *http.Client, url string, interval time.Duration, m Market) *CoinGecko {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CoinGecko{
		client:   client,
		url:      url,
		interval: interval,
		market:   m,
		logger:   log.With().Str("component", "coingecko").Logger(),
	}
}

// Fetch returns the current market rows.
func (c *CoinGecko) Fetch(ctx context.Context) ([]domain.CoinData, error) {
	var coins []domain.CoinData
	if err := getJSON(ctx, c.client, c.url, &coins); err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}
	return coins, nil
}

// Run fetches immediately, then every interval, until ctx is cancelled.
// Failed fetches keep the previous data.
func (c *CoinGecko) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *CoinGecko) poll(ctx context.Context) {
	coins, err := c.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("failed to fetch market data")
		}
		return
	}
	c.market.SetCoinsData(coins)
	c.logger.Debug().Int("coins", len(coins)).Msg("updated market data")
}
