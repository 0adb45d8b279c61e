package store

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"papertrade/internal/domain"
)

func makeHistory(n int) []domain.ClosedPosition {
	history := make([]domain.ClosedPosition, n)
	for i := range history {
		symbol := "BTC/USDT"
		if i%2 == 1 {
			symbol = "ETH/USDT"
		}
		history[i] = domain.ClosedPosition{
			Position: domain.Position{
				ID:     fmt.Sprintf("pos-%d", i),
				Symbol: symbol,
				Side:   domain.SideLong,
			},
			ClosedAt: testTime.Add(time.Duration(i) * time.Minute),
		}
	}
	return history
}

func TestPageHistory_NewestFirst(t *testing.T) {
	page, err := PageHistory(makeHistory(3), HistoryFilter{})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page.History) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(page.History))
	}
	if page.History[0].ID != "pos-2" || page.History[2].ID != "pos-0" {
		t.Errorf("expected newest first, got %s..%s", page.History[0].ID, page.History[2].ID)
	}
	if page.NextCursor != "" {
		t.Errorf("expected no next cursor, got %q", page.NextCursor)
	}
}

func TestPageHistory_CursorWalksAllEntries(t *testing.T) {
	history := makeHistory(7)

	var seen []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := PageHistory(history, HistoryFilter{Cursor: cursor, Limit: 3})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for _, c := range page.History {
			seen = append(seen, c.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 7 {
		t.Fatalf("expected 7 entries across pages, got %d: %v", len(seen), seen)
	}
	for i, id := range seen {
		want := fmt.Sprintf("pos-%d", 6-i)
		if id != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, id)
		}
	}
}

func TestPageHistory_SymbolFilter(t *testing.T) {
	page, err := PageHistory(makeHistory(6), HistoryFilter{Symbol: "ETH/USDT"})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page.History) != 3 {
		t.Fatalf("expected 3 ETH entries, got %d", len(page.History))
	}
	for _, c := range page.History {
		if c.Symbol != "ETH/USDT" {
			t.Errorf("unexpected symbol %s", c.Symbol)
		}
	}
}

func TestPageHistory_LimitBounds(t *testing.T) {
	history := makeHistory(250)

	page, err := PageHistory(history, HistoryFilter{})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page.History) != 50 {
		t.Errorf("default limit: expected 50, got %d", len(page.History))
	}

	page, err = PageHistory(history, HistoryFilter{Limit: 1000})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page.History) != 200 {
		t.Errorf("max limit: expected 200, got %d", len(page.History))
	}
}

func TestPageHistory_InvalidCursor(t *testing.T) {
	_, err := PageHistory(makeHistory(2), HistoryFilter{Cursor: "!!!"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
}

func TestPageHistory_UnknownCursor(t *testing.T) {
	cursor := encodeCursor(testTime, "missing")

	_, err := PageHistory(makeHistory(2), HistoryFilter{Cursor: cursor})
	if err == nil || !strings.Contains(err.Error(), "invalid cursor") {
		t.Fatalf("expected invalid cursor error, got %v", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ts := testTime.Add(123 * time.Millisecond)

	gotTS, gotID, err := decodeCursor(encodeCursor(ts, "pos-9"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotTS.Equal(ts) || gotID != "pos-9" {
		t.Errorf("expected %v/pos-9, got %v/%s", ts, gotTS, gotID)
	}
}
