package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/identity"
)

// Verifier checks a signed challenge and applies the gating outcome.
// Satisfied by identity.Binder.
type Verifier interface {
	Verify(ctx context.Context, req identity.VerifyRequest) (identity.VerifyResult, error)
}

// VerifyHandler serves wallet verification.
type VerifyHandler struct {
	verifier Verifier
	logger   *slog.Logger
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(verifier Verifier, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{verifier: verifier, logger: logger}
}

// verifyRequest carries one signature verification attempt.
type verifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
	Address     string `json:"address"`
}

// verifyResponse reports the verification outcome.
type verifyResponse struct {
	Verified   bool   `json:"verified"`
	OwnsShares bool   `json:"owns_shares"`
	Balance    uint64 `json:"balance"`
}

// VerifySignature consumes a challenge and proves wallet ownership. The
// challenge is single-use regardless of outcome.
// POST /api/verify-signature
func (h *VerifyHandler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChallengeID == "" || req.Signature == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "challenge_id, signature and address are required")
		return
	}

	res, err := h.verifier.Verify(r.Context(), identity.VerifyRequest{
		ChallengeID: req.ChallengeID,
		Signature:   req.Signature,
		Address:     req.Address,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "challenge absent or expired")
		case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrAddressMismatch):
			writeError(w, http.StatusUnauthorized, "signature verification failed")
		case errors.Is(err, domain.ErrUnknownChain):
			writeError(w, http.StatusBadRequest, "unknown chain")
		case res.Verified:
			// Ownership was proven but the balance read failed; the member
			// stays muted until a later trade or retry lifts it.
			h.logger.WarnContext(r.Context(), "handler: verified but gating incomplete",
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusOK, verifyResponse{Verified: true})
		default:
			h.logger.ErrorContext(r.Context(), "handler: verify failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Verified:   res.Verified,
		OwnsShares: res.OwnsShares,
		Balance:    res.Balance,
	})
}
