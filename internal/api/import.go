package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"papertrade/internal/store"
)

// maxSnapshotBytes bounds the size of an imported snapshot.
const maxSnapshotBytes = 10 << 20

// ImportResponse is the response body for POST /api/v1/snapshot/import.
type ImportResponse struct {
	Restored     bool    `json:"restored"`
	Balance      float64 `json:"balance"`
	Positions    int     `json:"positions"`
	OpenOrders   int     `json:"open_orders"`
	OrderHistory int     `json:"order_history"`
	SelectedPair string  `json:"selected_pair"`
}

func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := store.Encode(s.ledger.Snapshot())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot")
		writeError(w, http.StatusInternalServerError, "failed to encode snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "snapshot too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "snapshot body is empty")
		return
	}

	// Validate the whole snapshot before touching the ledger
	snap, err := store.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.ledger.Restore(snap)
	log.Info().
		Float64("balance", snap.Balance).
		Int("positions", len(snap.Positions)).
		Int("history", len(snap.OrderHistory)).
		Msg("imported snapshot")

	cur := s.ledger.Snapshot()
	writeJSON(w, http.StatusOK, ImportResponse{
		Restored:     true,
		Balance:      cur.Balance,
		Positions:    len(cur.Positions),
		OpenOrders:   len(cur.OpenOrders),
		OrderHistory: len(cur.OrderHistory),
		SelectedPair: cur.SelectedPair,
	})
}
