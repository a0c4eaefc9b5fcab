package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"phone-onboarding/backend/internal/identity/domain"
	"phone-onboarding/backend/internal/identity/service"
)

type errorResponse struct {
	Err  string `json:"err"`
	Code string `json:"code"`
}

type errorKind struct {
	err    error
	status int
	code   string
}

// errorKinds maps workflow errors to their default status. Order matters only
// for errors that wrap more than one sentinel.
var errorKinds = []errorKind{
	{domain.ErrInvalidPhone, http.StatusUnauthorized, "invalid_phone"},
	{domain.ErrValidation, http.StatusBadRequest, "validation"},
	{domain.ErrPasswordMismatch, http.StatusBadRequest, "password_mismatch"},
	{domain.ErrChallengeExpired, http.StatusUnauthorized, "challenge_expired"},
	{domain.ErrInvalidChallenge, http.StatusPaymentRequired, "invalid_challenge"},
	{domain.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
	{domain.ErrIssueThrottled, http.StatusTooManyRequests, "throttled"},
	{domain.ErrNotVerified, http.StatusMovedPermanently, "not_verified"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrPhoneTaken, http.StatusConflict, "phone_taken"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrLoginDisabled, http.StatusNotImplemented, "login_disabled"},
}

// writeError answers with the status for err. overrides replace the default
// status of a sentinel for one route.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, overrides map[error]int) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		status := k.status
		if s, ok := overrides[k.err]; ok {
			status = s
		}
		writeJSON(w, status, errorResponse{Err: err.Error(), Code: k.code})
		return
	}
	h.logger.ErrorContext(r.Context(), "request failed",
		"request_id", middleware.GetReqID(r.Context()),
		"path", r.URL.Path,
		"error", err.Error(),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Err: "internal error", Code: "internal"})
}
