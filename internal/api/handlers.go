package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"papertrade/internal/domain"
	"papertrade/internal/ledger"
	"papertrade/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Check snapshot backend
	if s.snaps != nil {
		if err := s.snaps.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "error",
				"error":  "snapshot store unreachable",
			})
			return
		}
	}

	// Check NATS
	if s.nc != nil && !s.nc.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "NATS disconnected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Summary())
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	positions := []ledger.PositionView{}
	for _, p := range s.ledger.Positions() {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		positions = append(positions, p)
	}
	writeJSON(w, http.StatusOK, positions)
}

// OpenPositionRequest is the request body for POST /api/v1/positions.
// Symbol defaults to the selected pair and Price to the current mark price.
type OpenPositionRequest struct {
	Symbol   string      `json:"symbol"`
	Side     domain.Side `json:"side"`
	Price    *float64    `json:"price,omitempty"`
	Amount   float64     `json:"amount"`
	Leverage float64     `json:"leverage"`
}

// OpenPositionResponse is the response body for POST /api/v1/positions.
type OpenPositionResponse struct {
	Position ledger.PositionView `json:"position"`
	Balance  float64             `json:"balance"`
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := ledger.OpenParams{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Amount:   req.Amount,
		Leverage: req.Leverage,
	}
	if params.Symbol == "" {
		params.Symbol = s.ledger.SelectedPair()
	}
	if req.Price != nil {
		params.Price = *req.Price
	} else {
		params.Price = s.ledger.MarkPrice()
	}

	if !params.Valid() {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid position: side must be long or short, price and amount positive, leverage %d..%d",
				domain.MinLeverage, domain.MaxLeverage))
		return
	}

	pos, ok := s.ledger.OpenPosition(params)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
		return
	}

	balance := s.ledger.Balance()
	s.pub.PositionOpened(pos, balance)

	view, found := s.ledger.Position(pos.ID)
	if !found {
		view = ledger.PositionView{Position: pos}
	}
	writeJSON(w, http.StatusCreated, OpenPositionResponse{Position: view, Balance: balance})
}

// ClosePositionRequest is the optional request body for
// POST /api/v1/positions/{id}/close.
type ClosePositionRequest struct {
	MarkPrice *float64 `json:"mark_price,omitempty"`
}

// ClosePositionResponse is the response body for POST /api/v1/positions/{id}/close.
type ClosePositionResponse struct {
	Closed   bool                   `json:"closed"`
	Position *domain.ClosedPosition `json:"position,omitempty"`
	Balance  float64                `json:"balance"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionId")

	var req ClosePositionRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mark := s.ledger.MarkPrice()
	if req.MarkPrice != nil {
		if !validPrice(*req.MarkPrice) {
			writeError(w, http.StatusBadRequest, "mark_price must be a positive number")
			return
		}
		mark = *req.MarkPrice
	}

	resp := ClosePositionResponse{}
	if closed, ok := s.ledger.ClosePosition(positionID, mark); ok {
		resp.Closed = true
		resp.Position = &closed
	}
	resp.Balance = s.ledger.Balance()

	if resp.Closed {
		s.pub.PositionClosed(*resp.Position, resp.Balance)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	orders := []domain.OpenOrder{}
	for _, o := range s.ledger.OpenOrders() {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		orders = append(orders, o)
	}
	writeJSON(w, http.StatusOK, orders)
}

// PlaceOrderRequest is the request body for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Symbol   string           `json:"symbol"`
	Side     domain.Side      `json:"side"`
	Type     domain.OrderType `json:"type"`
	Price    *float64         `json:"price,omitempty"`
	Amount   float64          `json:"amount"`
	Leverage float64          `json:"leverage"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := ledger.OrderParams{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Amount:   req.Amount,
		Leverage: req.Leverage,
	}
	if params.Symbol == "" {
		params.Symbol = s.ledger.SelectedPair()
	}
	if params.Type == "" {
		params.Type = domain.OrderTypeLimit
	}
	if req.Price != nil {
		params.Price = *req.Price
	} else {
		params.Price = s.ledger.MarkPrice()
	}

	order, ok := s.ledger.PlaceOrder(params)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order")
		return
	}

	s.pub.OrderPlaced(order, s.ledger.Balance())
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrderResponse is the response body for POST /api/v1/orders/{id}/cancel.
type CancelOrderResponse struct {
	Cancelled bool              `json:"cancelled"`
	Order     *domain.OpenOrder `json:"order,omitempty"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	resp := CancelOrderResponse{}
	if order, ok := s.ledger.CancelOrder(orderID); ok {
		resp.Cancelled = true
		resp.Order = &order
		s.pub.OrderCancelled(order, s.ledger.Balance())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.HistoryFilter{
		Symbol: q.Get("symbol"),
		Cursor: q.Get("cursor"),
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 200 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be 1..200")
			return
		}
		filter.Limit = limit
	}

	result, err := store.PageHistory(s.ledger.History(), filter)
	if err != nil {
		if strings.Contains(err.Error(), "invalid cursor") {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeBody decodes a required JSON request body.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

// decodeOptionalBody decodes a JSON request body that may be empty.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid JSON: %v", err)
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
