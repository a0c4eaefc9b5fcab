// Package handler serves the identity signup workflow over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	auditdomain "phone-onboarding/backend/internal/audit/domain"
	"phone-onboarding/backend/internal/identity/domain"
	"phone-onboarding/backend/internal/identity/service"
)

// LoginCookie carries the access token issued by POST /login.
const LoginCookie = "loginToken"

const maxBodyBytes = 1 << 20

// Service is the identity workflow the handler drives.
type Service interface {
	Signup(ctx context.Context, name, email, phone string) (*domain.Identity, error)
	VerifyChallenge(ctx context.Context, id, code string) error
	RefreshChallenge(ctx context.Context, id string) error
	ResendChallenge(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, password, confirmation string) error
	ResolveStage(ctx context.Context, phone string) (string, domain.Stage, error)
	Login(ctx context.Context, phone, password string) (*service.LoginResult, error)
	List(ctx context.Context) ([]*domain.Identity, error)
	Delete(ctx context.Context, id string) error
	DevOTP(ctx context.Context, id string) (string, error)
	AuditTrail(ctx context.Context, id string, limit int) ([]*auditdomain.AuditLog, error)
}

// Handler maps HTTP requests onto Service.
type Handler struct {
	svc          Service
	logger       *slog.Logger
	devOTP       bool
	secureCookie bool
}

// Options configure optional routes and cookie attributes.
type Options struct {
	// DevOTP mounts GET /dev/otp/{id}.
	DevOTP bool
	// SecureCookie sets the Secure attribute on the login cookie.
	SecureCookie bool
}

// New returns a Handler for svc.
func New(svc Service, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, devOTP: opts.DevOTP, secureCookie: opts.SecureCookie}
}

// Register mounts the workflow routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/signup", h.handleSignup)
	r.Get("/OTPVerify/{id}/{otp}", h.handleVerify)
	r.Put("/PasswordUpdate/{id}", h.handleSetPassword)
	r.Post("/login/phone", h.handleResolveStage)
	r.Put("/OTPUpdate/{id}", h.handleRefresh)
	r.Post("/OTPResend/{id}", h.handleResend)
	r.Post("/login", h.handleLogin)
	r.Get("/Users", h.handleList)
	r.Get("/Users/{id}/audit", h.handleAuditTrail)
	r.Delete("/Users/{id}", h.handleDelete)
	if h.devOTP {
		r.Get("/dev/otp/{id}", h.handleDevOTP)
	}
}

type signupRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type resultResponse struct {
	Result string `json:"result"`
	ID     string `json:"id,omitempty"`
}

type setPasswordRequest struct {
	Password        string `json:"Password"`
	ConformPassword string `json:"ConformPassword"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type stageResponse struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
}

// refreshRequest accepts the legacy OTP field; codes are always generated server-side.
type refreshRequest struct {
	OTP string `json:"OTP"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ID        string    `json:"id"`
}

// identityView is the public listing shape; it never carries the code or the hash.
type identityView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	OTPVerified bool       `json:"otpVerified"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	HasPassword bool       `json:"hasPassword"`
	Stage       string     `json:"stage"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type auditView struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}
	i, err := h.svc.Signup(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse{Result: "OTP sent", ID: i.ID})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.VerifyChallenge(r.Context(), id, chi.URLParam(r, "otp")); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: "OTP verified", ID: id})
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetPassword(r.Context(), chi.URLParam(r, "id"), req.Password, req.ConformPassword); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: "password updated"})
}

func (h *Handler) handleResolveStage(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, stage, err := h.svc.ResolveStage(r.Context(), req.Phone)
	if err != nil {
		h.writeError(w, r, err, map[error]int{domain.ErrNotFound: http.StatusUnauthorized})
		return
	}
	writeJSON(w, stageStatus(stage), stageResponse{ID: id, Stage: string(stage)})
}

// stageStatus encodes the stage in the status code: 301 verify the phone,
// 302 set a password, 303 ready for password login.
func stageStatus(stage domain.Stage) int {
	switch stage {
	case domain.StageReady:
		return http.StatusSeeOther
	case domain.StageAwaitingCredential:
		return http.StatusFound
	default:
		return http.StatusMovedPermanently
	}
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.svc.RefreshChallenge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err, map[error]int{domain.ErrChallengeExpired: http.StatusBadGateway})
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: "OTP updated"})
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResendChallenge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: "OTP sent"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     LoginCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, ID: res.IdentityID})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	out := make([]identityView, 0, len(list))
	for _, i := range list {
		out = append(out, identityView{
			ID:          i.ID,
			Name:        i.Name,
			Email:       i.Email,
			Phone:       i.Phone,
			OTPVerified: i.OTPVerified,
			VerifiedAt:  i.VerifiedAt,
			HasPassword: i.HasPassword(),
			Stage:       string(i.Stage()),
			CreatedAt:   i.CreatedAt,
			UpdatedAt:   i.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: "deleted"})
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, domain.ErrValidation, nil)
			return
		}
		limit = n
	}
	entries, err := h.svc.AuditTrail(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView{
			ID:        e.ID,
			Action:    e.Action,
			Resource:  e.Resource,
			IP:        e.IP,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDevOTP(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.DevOTP(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"otp": code})
}

// decode reads a JSON body into dst, answering 400 on malformed input.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err.Error(),
		)
		writeJSON(w, http.StatusBadRequest, errorResponse{Err: "invalid request body", Code: "bad_request"})
		return false
	}
	return true
}

// decodeOptional is decode that also accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Err: "invalid request body", Code: "bad_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
