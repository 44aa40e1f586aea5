package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// UserHandler serves share-holding lookups.
type UserHandler struct {
	ledger domain.LedgerStore
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(ledger domain.LedgerStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{ledger: ledger, logger: logger}
}

// holding is one ledger row in the API response.
type holding struct {
	Subject     string    `json:"subject"`
	ChainID     string    `json:"chain_id"`
	ShareAmount uint64    `json:"share_amount"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// sharesResponse lists a trader's holdings across chains.
type sharesResponse struct {
	Address  string    `json:"address"`
	Holdings []holding `json:"holdings"`
}

// GetShares returns every ledger row for a trader. Zero-balance rows are
// included; a balance that went to zero is information, not absence.
// GET /api/users/{address}/shares
func (h *UserHandler) GetShares(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}
	address = domain.NormalizeAddress(address)

	entries, err := h.ledger.ListByTrader(r.Context(), address)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list shares failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list shares")
		return
	}

	holdings := make([]holding, 0, len(entries))
	for _, e := range entries {
		holdings = append(holdings, holding{
			Subject:     e.Subject,
			ChainID:     e.ChainID,
			ShareAmount: e.ShareAmount,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, sharesResponse{
		Address:  address,
		Holdings: holdings,
	})
}
