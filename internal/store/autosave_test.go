package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"papertrade/internal/domain"
)

type recordingStore struct {
	mu    sync.Mutex
	saved []domain.Snapshot
	err   error
	block chan struct{}
}

func (r *recordingStore) Save(_ context.Context, snap domain.Snapshot) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, snap)
	return nil
}

func (r *recordingStore) Load(context.Context) (*domain.Snapshot, error) { return nil, nil }
func (r *recordingStore) Ping(context.Context) error                     { return nil }

func (r *recordingStore) balances() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.saved))
	for i, s := range r.saved {
		out[i] = s.Balance
	}
	return out
}

func TestAutosave_NotifyNeverBlocks(t *testing.T) {
	a := NewAutosave(&recordingStore{}, time.Second)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			a.Notify(domain.Snapshot{Balance: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running saver")
	}

	snap := <-a.pending
	if snap.Balance != 99 {
		t.Errorf("expected latest snapshot (99) pending, got %v", snap.Balance)
	}
}

func TestAutosave_FlushesOnShutdown(t *testing.T) {
	rec := &recordingStore{}
	a := NewAutosave(rec, time.Second)

	a.Notify(domain.Snapshot{Balance: 1})
	a.Notify(domain.Snapshot{Balance: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := rec.balances()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("expected only latest snapshot saved, got %v", got)
	}
}

func TestAutosave_SavesWhileRunning(t *testing.T) {
	rec := &recordingStore{}
	a := NewAutosave(rec, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	a.Notify(domain.Snapshot{Balance: 42})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.balances()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	got := rec.balances()
	if len(got) == 0 || got[0] != 42 {
		t.Errorf("expected snapshot with balance 42 saved, got %v", got)
	}
}

func TestAutosave_SaveErrorDoesNotStop(t *testing.T) {
	rec := &recordingStore{err: errors.New("disk full")}
	a := NewAutosave(rec, time.Second)

	a.Notify(domain.Snapshot{Balance: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("expected nil error from Run, got %v", err)
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	snap, err := m.Load(ctx)
	if err != nil || snap != nil {
		t.Fatalf("expected nil snapshot before first save, got %v, %v", snap, err)
	}

	if err := m.Save(ctx, validSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, err = m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap == nil || snap.Balance != 93950 {
		t.Fatalf("expected saved snapshot, got %+v", snap)
	}
	if m.Saves() != 1 {
		t.Errorf("expected 1 save, got %d", m.Saves())
	}
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	m := NewMemoryStore()
	snap := validSnapshot()
	snap.Positions[0].Side = "up"

	if err := m.Save(context.Background(), snap); err == nil {
		t.Fatal("expected invalid snapshot to be rejected")
	}
	if m.Saves() != 0 {
		t.Errorf("expected no saves, got %d", m.Saves())
	}
}

func TestSnapshotKey(t *testing.T) {
	if got := snapshotKey("paper"); got != "papertrade:snapshot:paper" {
		t.Errorf("unexpected key %q", got)
	}
}
