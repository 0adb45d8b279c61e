package api

import (
	"math"
	"net/http"

	"papertrade/internal/domain"
)

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Market())
}

// SelectPairRequest is the request body for POST /api/v1/market/pair.
type SelectPairRequest struct {
	Pair string `json:"pair"`
}

func (s *Server) handleSelectPair(w http.ResponseWriter, r *http.Request) {
	var req SelectPairRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := domain.FindTradingPair(req.Pair); !ok {
		writeError(w, http.StatusBadRequest, "unknown trading pair: "+req.Pair)
		return
	}

	s.ledger.SetSelectedPair(req.Pair)
	writeJSON(w, http.StatusOK, s.ledger.Market())
}

// MarkPriceRequest is the request body for POST /api/v1/market/mark-price.
type MarkPriceRequest struct {
	Price float64 `json:"price"`
}

func (s *Server) handleSetMarkPrice(w http.ResponseWriter, r *http.Request) {
	var req MarkPriceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validPrice(req.Price) {
		writeError(w, http.StatusBadRequest, "price must be a positive number")
		return
	}

	s.ledger.SetMarkPrice(req.Price)
	writeJSON(w, http.StatusOK, s.ledger.Summary())
}

// BalanceRequest is the request body for POST /api/v1/balance.
type BalanceRequest struct {
	Balance *float64 `json:"balance"`
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Balance == nil || math.IsNaN(*req.Balance) || math.IsInf(*req.Balance, 0) {
		writeError(w, http.StatusBadRequest, "balance must be a finite number")
		return
	}

	s.ledger.SetBalance(*req.Balance)
	writeJSON(w, http.StatusOK, s.ledger.Summary())
}
