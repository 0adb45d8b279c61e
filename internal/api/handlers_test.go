package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"papertrade/internal/domain"
	"papertrade/internal/ledger"
	"papertrade/internal/store"
)

var testTime = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestServer(opts ...ledger.Option) *Server {
	n := 0
	base := []ledger.Option{
		ledger.WithClock(func() time.Time { return testTime }),
		ledger.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	}
	l := ledger.New(append(base, opts...)...)
	return NewServer(l, nil, nil, nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
}

type failingStore struct{ store.MemoryStore }

func (f *failingStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoint_NoBackends(t *testing.T) {
	router := newTestServer().Router()

	w := do(t, router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	srv := newTestServer()
	srv.snaps = &failingStore{}

	w := do(t, srv.Router(), "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestMethodNotAllowed_PUTAndDELETE(t *testing.T) {
	router := newTestServer().Router()

	// PUT and DELETE should be 405 on all endpoints
	methods := []string{"PUT", "DELETE", "PATCH"}
	paths := []string{
		"/api/v1/account",
		"/api/v1/positions",
		"/api/v1/positions/x/close",
		"/api/v1/orders",
		"/api/v1/orders/x/cancel",
		"/api/v1/history",
		"/api/v1/market",
		"/api/v1/snapshot",
		"/api/v1/snapshot/import",
	}

	for _, method := range methods {
		for _, path := range paths {
			w := do(t, router, method, path, "")
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s: expected 405, got %d", method, path, w.Code)
			}
		}
	}
}

func TestRouterHasCorrectGETRoutes(t *testing.T) {
	router := newTestServer().Router()

	paths := []string{
		"/health",
		"/api/v1/account",
		"/api/v1/positions",
		"/api/v1/orders",
		"/api/v1/history",
		"/api/v1/market",
		"/api/v1/snapshot",
	}

	for _, path := range paths {
		w := do(t, router, "GET", path, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestOpenPosition(t *testing.T) {
	router := newTestServer().Router()

	w := do(t, router, "POST", "/api/v1/positions",
		`{"symbol":"BTC/USDT","side":"long","price":100,"amount":2,"leverage":10}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp OpenPositionResponse
	decode(t, w, &resp)
	if resp.Position.ID != "id-1" || resp.Position.Margin != 20 {
		t.Errorf("unexpected position %+v", resp.Position)
	}
	if resp.Balance != ledger.DefaultBalance-20 {
		t.Errorf("expected balance %v, got %v", ledger.DefaultBalance-20, resp.Balance)
	}
}

func TestOpenPosition_DefaultsToSelectedPairAndMark(t *testing.T) {
	router := newTestServer(ledger.WithMarkPrice(50000), ledger.WithSelectedPair("ETH/USDT")).Router()

	w := do(t, router, "POST", "/api/v1/positions", `{"side":"short","amount":1,"leverage":5}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp OpenPositionResponse
	decode(t, w, &resp)
	if resp.Position.Symbol != "ETH/USDT" || resp.Position.EntryPrice != 50000 {
		t.Errorf("expected ETH/USDT at 50000, got %s at %v", resp.Position.Symbol, resp.Position.EntryPrice)
	}
	if resp.Position.Margin != 10000 {
		t.Errorf("expected margin 10000, got %v", resp.Position.Margin)
	}
}

func TestOpenPosition_Invalid(t *testing.T) {
	router := newTestServer().Router()

	bodies := []string{
		`not json`,
		`{"side":"up","price":100,"amount":1,"leverage":1}`,
		`{"side":"long","price":100,"amount":0,"leverage":1}`,
		`{"side":"long","price":-1,"amount":1,"leverage":1}`,
		`{"side":"long","price":100,"amount":1,"leverage":0}`,
		`{"side":"long","price":100,"amount":1,"leverage":126}`,
	}
	for _, body := range bodies {
		w := do(t, router, "POST", "/api/v1/positions", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestOpenPosition_InsufficientBalance(t *testing.T) {
	srv := newTestServer(ledger.WithBalance(1000))
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/positions",
		`{"side":"long","price":97000,"amount":1,"leverage":10}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if srv.ledger.Balance() != 1000 || len(srv.ledger.Positions()) != 0 {
		t.Error("expected ledger unchanged after rejected open")
	}
}

func TestClosePosition(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	do(t, router, "POST", "/api/v1/positions",
		`{"symbol":"BTC/USDT","side":"long","price":100,"amount":2,"leverage":10}`)

	w := do(t, router, "POST", "/api/v1/positions/id-1/close", `{"mark_price":110}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ClosePositionResponse
	decode(t, w, &resp)
	if !resp.Closed || resp.Position == nil {
		t.Fatalf("expected closed position, got %+v", resp)
	}
	if resp.Position.PnL != 20 {
		t.Errorf("expected pnl 20, got %v", resp.Position.PnL)
	}
	if resp.Balance != ledger.DefaultBalance+20 {
		t.Errorf("expected balance %v, got %v", ledger.DefaultBalance+20, resp.Balance)
	}
	if len(srv.ledger.History()) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(srv.ledger.History()))
	}
}

func TestClosePosition_UsesMarkPriceWithoutBody(t *testing.T) {
	srv := newTestServer(ledger.WithMarkPrice(90))
	router := srv.Router()

	do(t, router, "POST", "/api/v1/positions",
		`{"side":"short","price":100,"amount":1,"leverage":1}`)

	w := do(t, router, "POST", "/api/v1/positions/id-1/close", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ClosePositionResponse
	decode(t, w, &resp)
	if resp.Position == nil || resp.Position.PnL != 10 {
		t.Errorf("expected short pnl 10 at mark 90, got %+v", resp.Position)
	}
}

func TestClosePosition_UnknownIDIsNoOp(t *testing.T) {
	srv := newTestServer()

	w := do(t, srv.Router(), "POST", "/api/v1/positions/missing/close", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp ClosePositionResponse
	decode(t, w, &resp)
	if resp.Closed || resp.Position != nil {
		t.Errorf("expected no-op, got %+v", resp)
	}
	if resp.Balance != ledger.DefaultBalance {
		t.Errorf("expected balance unchanged, got %v", resp.Balance)
	}
}

func TestClosePosition_InvalidMarkPrice(t *testing.T) {
	w := do(t, newTestServer().Router(), "POST", "/api/v1/positions/id-1/close", `{"mark_price":0}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListPositions_SymbolFilter(t *testing.T) {
	router := newTestServer(ledger.WithMarkPrice(110)).Router()

	do(t, router, "POST", "/api/v1/positions", `{"symbol":"BTC/USDT","side":"long","price":100,"amount":2,"leverage":10}`)
	do(t, router, "POST", "/api/v1/positions", `{"symbol":"ETH/USDT","side":"long","price":100,"amount":1,"leverage":1}`)

	w := do(t, router, "GET", "/api/v1/positions?symbol=BTC/USDT", "")
	var positions []ledger.PositionView
	decode(t, w, &positions)
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].UnrealizedPnL != 20 || positions[0].ROE != 100 {
		t.Errorf("expected pnl 20 / roe 100, got %v / %v", positions[0].UnrealizedPnL, positions[0].ROE)
	}
}

func TestOrders_PlaceListCancel(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/orders",
		`{"symbol":"SOL/USDT","side":"long","type":"limit","price":150,"amount":10,"leverage":3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if srv.ledger.Balance() != ledger.DefaultBalance {
		t.Error("placing an order must not reserve balance")
	}

	w = do(t, router, "GET", "/api/v1/orders", "")
	var orders []domain.OpenOrder
	decode(t, w, &orders)
	if len(orders) != 1 || orders[0].ID != "id-1" {
		t.Fatalf("expected 1 open order, got %+v", orders)
	}

	w = do(t, router, "POST", "/api/v1/orders/id-1/cancel", "")
	var resp CancelOrderResponse
	decode(t, w, &resp)
	if !resp.Cancelled || resp.Order == nil || resp.Order.ID != "id-1" {
		t.Errorf("expected cancelled order, got %+v", resp)
	}

	w = do(t, router, "POST", "/api/v1/orders/id-1/cancel", "")
	resp = CancelOrderResponse{}
	decode(t, w, &resp)
	if resp.Cancelled {
		t.Error("expected second cancel to be a no-op")
	}
}

func TestPlaceOrder_Invalid(t *testing.T) {
	w := do(t, newTestServer().Router(), "POST", "/api/v1/orders",
		`{"side":"long","type":"stop","price":1,"amount":1,"leverage":1}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListHistory(t *testing.T) {
	router := newTestServer().Router()

	for i := 0; i < 3; i++ {
		do(t, router, "POST", "/api/v1/positions", `{"side":"long","price":100,"amount":1,"leverage":1}`)
	}
	for i := 1; i <= 3; i++ {
		do(t, router, "POST", fmt.Sprintf("/api/v1/positions/id-%d/close", i), `{"mark_price":101}`)
	}

	w := do(t, router, "GET", "/api/v1/history?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var page store.HistoryPage
	decode(t, w, &page)
	if len(page.History) != 2 || page.History[0].ID != "id-3" {
		t.Fatalf("expected newest first page of 2, got %+v", page.History)
	}
	if page.NextCursor == "" {
		t.Fatal("expected next cursor")
	}

	w = do(t, router, "GET", "/api/v1/history?limit=2&cursor="+page.NextCursor, "")
	page = store.HistoryPage{}
	decode(t, w, &page)
	if len(page.History) != 1 || page.History[0].ID != "id-1" {
		t.Errorf("expected last entry id-1, got %+v", page.History)
	}
}

func TestListHistory_BadParams(t *testing.T) {
	router := newTestServer().Router()

	// The last cursor is well formed but names no closed position.
	unknown := "MjAyNS0wMS0xNVQxMDowMDowMFp8Z29uZQ=="
	for _, q := range []string{"limit=abc", "limit=0", "limit=201", "cursor=%21%21", "cursor=" + unknown} {
		w := do(t, router, "GET", "/api/v1/history?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestSelectPair(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/market/pair", `{"pair":"DOGE/USDT"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if srv.ledger.SelectedPair() != "DOGE/USDT" {
		t.Errorf("expected DOGE/USDT selected, got %s", srv.ledger.SelectedPair())
	}

	w = do(t, router, "POST", "/api/v1/market/pair", `{"pair":"LTC/USDT"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown pair, got %d", w.Code)
	}
}

func TestSetMarkPrice(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/market/mark-price", `{"price":98000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if srv.ledger.MarkPrice() != 98000 {
		t.Errorf("expected mark 98000, got %v", srv.ledger.MarkPrice())
	}

	w = do(t, router, "POST", "/api/v1/market/mark-price", `{"price":-1}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSetBalance(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/balance", `{"balance":5000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var summary ledger.Summary
	decode(t, w, &summary)
	if summary.Balance != 5000 {
		t.Errorf("expected balance 5000, got %v", summary.Balance)
	}

	w = do(t, router, "POST", "/api/v1/balance", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing balance, got %d", w.Code)
	}
}

func TestAccountSummary(t *testing.T) {
	router := newTestServer(ledger.WithMarkPrice(110)).Router()

	do(t, router, "POST", "/api/v1/positions", `{"side":"long","price":100,"amount":2,"leverage":10}`)

	w := do(t, router, "GET", "/api/v1/account", "")
	var summary ledger.Summary
	decode(t, w, &summary)
	if summary.UsedMargin != 20 || summary.UnrealizedPnL != 20 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Equity != ledger.DefaultBalance+20 {
		t.Errorf("expected equity %v, got %v", ledger.DefaultBalance+20, summary.Equity)
	}
}

func TestJSONContentType(t *testing.T) {
	w := do(t, newTestServer().Router(), "POST", "/api/v1/positions", `{}`)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var resp map[string]string
	decode(t, w, &resp)
	if resp["error"] == "" {
		t.Error("expected error message in body")
	}
}
