package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
)

// Autosave writes ledger snapshots to a Snapshotter in the background.
// Only the latest pending snapshot is kept, so the ledger never waits on I/O.
type Autosave struct {
	store   Snapshotter
	timeout time.Duration
	pending chan domain.Snapshot
	logger  zerolog.Logger
}

// NewAutosave creates an Autosave that gives each save at most timeout.
func NewAutosave(store Snapshotter, timeout time.Duration) *Autosave {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Autosave{
		store:   store,
		timeout: timeout,
		pending: make(chan domain.Snapshot, 1),
		logger:  log.With().Str("component", "autosave").Logger(),
	}
}

// Notify queues snap for saving, replacing any snapshot not yet saved.
// It never blocks and is safe to use as a ledger listener.
func (a *Autosave) Notify(snap domain.Snapshot) {
	for {
		select {
		case a.pending <- snap:
			return
		default:
		}
		select {
		case <-a.pending:
		default:
		}
	}
}

// Run saves queued snapshots until ctx is cancelled, then flushes the last
// pending one.
func (a *Autosave) Run(ctx context.Context) error {
	a.logger.Info().Msg("autosave started")
	for {
		select {
		case snap := <-a.pending:
			a.save(context.WithoutCancel(ctx), snap)
		case <-ctx.Done():
			select {
			case snap := <-a.pending:
				a.save(context.WithoutCancel(ctx), snap)
			default:
			}
			a.logger.Info().Msg("autosave stopped")
			return nil
		}
	}
}

func (a *Autosave) save(ctx context.Context, snap domain.Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.store.Save(ctx, snap); err != nil {
		a.logger.Error().Err(err).Msg("failed to save snapshot")
		return
	}
	a.logger.Debug().
		Float64("balance", snap.Balance).
		Int("positions", len(snap.Positions)).
		Int("history", len(snap.OrderHistory)).
		Msg("saved snapshot")
}
