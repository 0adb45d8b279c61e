package ingest

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
)

// EventSubjectPrefix is the NATS subject prefix for ledger events.
const EventSubjectPrefix = "papertrade.events."

// EventType names a ledger event.
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventOrderPlaced    EventType = "order_placed"
	EventOrderCancelled EventType = "order_cancelled"
)

// LedgerEvent is the JSON structure published for every ledger mutation
// made through the API.
type LedgerEvent struct {
	Type      EventType         `json:"type"`
	Position  *domain.Position  `json:"position,omitempty"`
	Order     *domain.OpenOrder `json:"order,omitempty"`
	PnL       *float64          `json:"pnl,omitempty"`
	Balance   float64           `json:"balance"`
	Timestamp time.Time         `json:"timestamp"`
}

// Subject returns the subject the event is published on.
func (e LedgerEvent) Subject() string {
	return EventSubjectPrefix + string(e.Type)
}

// Publisher publishes ledger events on core NATS. A Publisher without a
// connection drops every event.
type Publisher struct {
	nc     *nats.Conn
	now    func() time.Time
	logger zerolog.Logger
}

// NewPublisher creates a Publisher. nc may be nil.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{
		nc:     nc,
		now:    time.Now,
		logger: log.With().Str("component", "publisher").Logger(),
	}
}

// PositionOpened publishes a position_opened event.
func (p *Publisher) PositionOpened(pos domain.Position, balance float64) {
	p.publish(LedgerEvent{Type: EventPositionOpened, Position: &pos, Balance: balance})
}

// PositionClosed publishes a position_closed event with the realized P&L.
func (p *Publisher) PositionClosed(closed domain.ClosedPosition, balance float64) {
	pos := closed.Position
	pnl := closed.PnL
	p.publish(LedgerEvent{Type: EventPositionClosed, Position: &pos, PnL: &pnl, Balance: balance})
}

// OrderPlaced publishes an order_placed event.
func (p *Publisher) OrderPlaced(order domain.OpenOrder, balance float64) {
	p.publish(LedgerEvent{Type: EventOrderPlaced, Order: &order, Balance: balance})
}

// OrderCancelled publishes an order_cancelled event.
func (p *Publisher) OrderCancelled(order domain.OpenOrder, balance float64) {
	p.publish(LedgerEvent{Type: EventOrderCancelled, Order: &order, Balance: balance})
}

func (p *Publisher) publish(event LedgerEvent) {
	if p == nil || p.nc == nil {
		return
	}
	event.Timestamp = p.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal ledger event")
		return
	}
	if err := p.nc.Publish(event.Subject(), data); err != nil {
		p.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to publish ledger event")
	}
}
