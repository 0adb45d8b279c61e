package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// StreamName is the JetStream stream name for price ticks.
	StreamName = "PAPERTRADE_PRICES"
	// PriceSubjectPrefix is the NATS subject prefix for price ticks.
	PriceSubjectPrefix = "papertrade.prices."
	// PriceSubjectWildcard subscribes to all price subjects.
	PriceSubjectWildcard = "papertrade.prices.>"
	// ConsumerName is the durable consumer name.
	ConsumerName = "papertrade-price-consumer"
)

// PriceSink is the part of the ledger price ticks are applied to.
type PriceSink interface {
	SelectedPair() string
	SetMarkPrice(price float64)
}

// Consumer subscribes to price ticks via NATS JetStream and applies ticks of
// the selected pair as the ledger's mark price.
type Consumer struct {
	nc     *nats.Conn
	sink   PriceSink
	logger zerolog.Logger

	mu       sync.Mutex
	lastTick map[string]time.Time
}

// NewConsumer creates a new NATS price consumer.
func NewConsumer(nc *nats.Conn, sink PriceSink) *Consumer {
	return &Consumer{
		nc:       nc,
		sink:     sink,
		logger:   log.With().Str("component", "ingest").Logger(),
		lastTick: make(map[string]time.Time),
	}
}

// Start begins consuming price ticks. Blocks until context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	// Create or update the stream
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{PriceSubjectWildcard},
		Storage:  jetstream.FileStorage,
		MaxAge:   time.Hour,
		MaxBytes: 100 * 1024 * 1024, // 100MB
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	// Only ticks published after startup matter for the mark price
	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	c.logger.Info().Msg("started consuming price ticks from NATS JetStream")

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if c.handleMessage(msg.Subject(), msg.Data()) {
			msg.Ack()
			return
		}
		// Terminate: malformed messages should not be redelivered
		msg.Term()
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	// Wait for context cancellation
	<-ctx.Done()
	cc.Stop()
	c.logger.Info().Msg("stopped consuming price ticks")
	return nil
}

// handleMessage applies one tick. It reports false for messages that can
// never be applied.
func (c *Consumer) handleMessage(subject string, data []byte) bool {
	var event PriceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn().Err(err).
			Str("subject", subject).
			Msg("failed to unmarshal price event, rejecting")
		return false
	}

	if err := event.Validate(); err != nil {
		c.logger.Warn().Err(err).
			Str("symbol", event.Symbol).
			Str("subject", subject).
			Msg("invalid price event, rejecting")
		return false
	}

	if event.Symbol != c.sink.SelectedPair() {
		return true
	}

	ts, err := event.Time()
	if err != nil {
		return false
	}
	if !c.advance(event.Symbol, ts) {
		c.logger.Debug().
			Str("symbol", event.Symbol).
			Str("timestamp", event.Timestamp).
			Msg("stale price tick, skipped")
		return true
	}

	c.sink.SetMarkPrice(event.Price)
	c.logger.Debug().
		Str("symbol", event.Symbol).
		Float64("price", event.Price).
		Msg("applied mark price")
	return true
}

// advance records ts as the latest tick of symbol unless an equal or newer
// tick was already applied.
func (c *Consumer) advance(symbol string, ts time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastTick[symbol]; ok && !ts.After(last) {
		return false
	}
	c.lastTick[symbol] = ts
	return true
}

// ConnectNATS connects to NATS, retrying with capped backoff until it
// succeeds or ctx is cancelled.
func ConnectNATS(ctx context.Context, urls string, credsFile, creds string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("papertrade"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	// Add credentials if configured
	if creds != "" {
		tmpFile, err := os.CreateTemp("", "nats-creds-*.creds")
		if err != nil {
			return nil, fmt.Errorf("create temp credentials file: %w", err)
		}
		if _, err := tmpFile.WriteString(creds); err != nil {
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return nil, fmt.Errorf("write credentials: %w", err)
		}
		tmpFile.Close()
		opts = append(opts, nats.UserCredentials(tmpFile.Name()))
	} else if credsFile != "" {
		opts = append(opts, nats.UserCredentials(credsFile))
	}

	backoff := 100 * time.Millisecond
	maxBackoff := 30 * time.Second

	for attempt := 1; ; attempt++ {
		nc, err := nats.Connect(urls, opts...)
		if err == nil {
			log.Info().Str("url", nc.ConnectedUrl()).Int("attempt", attempt).Msg("connected to NATS")
			return nc, nil
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("failed to connect to NATS, retrying...")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to NATS: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
