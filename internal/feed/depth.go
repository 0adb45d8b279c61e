package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
)

const (
	// bookDepth is the number of levels kept per side.
	bookDepth = 10

	writeWait = 10 * time.Second

	// readWait bounds the silence tolerated on the stream. Binance sends a
	// ping every few minutes and depth20 updates every second.
	readWait = 5 * time.Minute

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// StreamCommand is a Binance stream subscription request.
type StreamCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// depthStreamName returns the depth20 stream of a Binance symbol.
func depthStreamName(binanceSymbol string) string {
	return strings.ToLower(binanceSymbol) + "@depth20"
}

// ParseDepth decodes a depth20 message into an order book truncated to
// bookDepth levels per side. Messages without both sides, such as
// subscription acknowledgements, report false.
func ParseDepth(data []byte) (domain.OrderBook, bool) {
	var msg struct {
		LastUpdateID int64               `json:"lastUpdateId"`
		Bids         []domain.PriceLevel `json:"bids"`
		Asks         []domain.PriceLevel `json:"asks"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.OrderBook{}, false
	}
	if msg.Bids == nil || msg.Asks == nil {
		return domain.OrderBook{}, false
	}
	return domain.OrderBook{
		Bids: truncateLevels(msg.Bids),
		Asks: truncateLevels(msg.Asks),
	}, true
}

// parseAck returns the id of a command acknowledgement such as
// {"result":null,"id":2}.
func parseAck(data []byte) (int, bool) {
	var msg struct {
		ID *int `json:"id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID == nil {
		return 0, false
	}
	return *msg.ID, true
}

func truncateLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	if len(levels) > bookDepth {
		levels = levels[:bookDepth]
	}
	return levels
}

// DepthStream keeps the ledger's order book in sync with the depth20 stream
// of the selected pair. It reconnects with capped exponential backoff and
// moves its subscription when the selected pair changes.
type DepthStream struct {
	url       string
	market    Market
	dialer    websocket.Dialer
	pairCheck time.Duration
	logger    zerolog.Logger
}

// NewDepthStream creates a DepthStream for the given websocket endpoint.
func NewDepthStream(url string, m Market) *DepthStream {
	return &DepthStream{
		url:    url,
		market: m,
		dialer: websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		pairCheck: pairCheckInterval,
		logger:    log.With().Str("component", "depth").Logger(),
	}
}

// Run streams until ctx is cancelled.
func (d *DepthStream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		connected, err := d.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = reconnectDelay
		}
		d.logger.Warn().Err(err).Dur("retry_in", delay).Msg("depth stream disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (d *DepthStream) session(ctx context.Context) (bool, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeWait))
	})

	done := make(chan struct{})
	defer close(done)
	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go readLoop(conn, msgs, readErr, done)

	// Command ids increase within a session. After a pair switch, book
	// messages are dropped until the new SUBSCRIBE is acknowledged.
	id := 1
	awaiting := 0
	symbol := d.selectedSymbol()
	if err := d.send(conn, "SUBSCRIBE", symbol, id); err != nil {
		return true, err
	}
	d.logger.Info().Str("symbol", symbol).Msg("depth stream connected")

	ticker := time.NewTicker(d.pairCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = d.send(conn, "UNSUBSCRIBE", symbol, id+1)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return true, ctx.Err()

		case err := <-readErr:
			return true, fmt.Errorf("read: %w", err)

		case data := <-msgs:
			conn.SetReadDeadline(time.Now().Add(readWait))
			if ackID, ok := parseAck(data); ok {
				if ackID == awaiting {
					awaiting = 0
				}
				continue
			}
			if awaiting != 0 || d.selectedSymbol() != symbol {
				continue
			}
			if book, ok := ParseDepth(data); ok {
				d.market.SetOrdersBook(book)
			}

		case <-ticker.C:
			next := d.selectedSymbol()
			if next == symbol {
				continue
			}
			if err := d.send(conn, "UNSUBSCRIBE", symbol, id+1); err != nil {
				return true, err
			}
			if err := d.send(conn, "SUBSCRIBE", next, id+2); err != nil {
				return true, err
			}
			id += 2
			awaiting = 0
			if next != "" {
				awaiting = id
			}
			d.logger.Info().Str("from", symbol).Str("to", next).Msg("depth stream switched pair")
			symbol = next
		}
	}
}

func readLoop(conn *websocket.Conn, msgs chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case msgs <- data:
		case <-done:
			return
		}
	}
}

func (d *DepthStream) selectedSymbol() string {
	pair, ok := d.market.SelectedTradingPair()
	if !ok {
		return ""
	}
	return pair.BinanceSymbol
}

// send writes a subscription command. An empty symbol sends nothing.
func (d *DepthStream) send(conn *websocket.Conn, method, symbol string, id int) error {
	if symbol == "" {
		return nil
	}
	cmd := StreamCommand{
		Method: method,
		Params: []string{depthStreamName(symbol)},
		ID:     id,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), symbol, err)
	}
	return nil
}
