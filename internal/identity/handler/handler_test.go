package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-onboarding/backend/internal/audit"
	auditdomain "phone-onboarding/backend/internal/audit/domain"
	auditrepo "phone-onboarding/backend/internal/audit/repository"
	"phone-onboarding/backend/internal/health"
	"phone-onboarding/backend/internal/identity/domain"
	"phone-onboarding/backend/internal/identity/repository"
	"phone-onboarding/backend/internal/identity/service"
	"phone-onboarding/backend/internal/metrics"
	"phone-onboarding/backend/internal/notify"
	"phone-onboarding/backend/internal/security"
)

type fixedCodes string

func (c fixedCodes) Generate() (string, error) { return string(c), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	router http.Handler
	svc    *service.Service
}

func newTestServer(t *testing.T, devOTP bool) *testServer {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	audits := auditrepo.NewMemoryRepository()
	dev := notify.NewDevStore(time.Minute)
	deps := service.Deps{
		Repo:        repository.NewMemoryRepository(),
		Hasher:      security.NewHasher(4),
		Codes:       fixedCodes("0421"),
		Tokens:      tokens,
		Sender:      dev,
		Audit:       audit.NewLogger(audits, nil),
		AuditReader: audits,
		Logger:      discardLogger(),
	}
	if devOTP {
		deps.DevCodes = dev
	}
	svc := service.New(deps, service.Options{MaxAttempts: 3})
	t.Cleanup(func() { _ = svc.Wait(context.Background()) })
	h := New(svc, discardLogger(), Options{DevOTP: devOTP})
	return &testServer{
		router: NewRouter(RouterConfig{Handler: h, Logger: discardLogger(), Metrics: metrics.New(prometheus.NewRegistry())}),
		svc:    svc,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "198.51.100.4:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSignupFlow(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "9876543210"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = s.do(t, http.MethodPost, "/login/phone", map[string]string{"phone": "9876543210"})
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, id, decodeBody(t, rec)["id"])

	rec = s.do(t, http.MethodPut, "/PasswordUpdate/"+id, map[string]string{"Password": "Secret123", "ConformPassword": "Secret123"})
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "not_verified", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodGet, "/OTPVerify/"+id+"/9999", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = s.do(t, http.MethodGet, "/OTPVerify/"+id+"/0421", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/login/phone", map[string]string{"phone": "9876543210"})
	assert.Equal(t, http.StatusFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/PasswordUpdate/"+id, map[string]string{"Password": "Secret123", "ConformPassword": "Secret124"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password_mismatch", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodPut, "/PasswordUpdate/"+id, map[string]string{"Password": "Secret123", "ConformPassword": "Secret123"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/login/phone", map[string]string{"phone": "9876543210"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["stage"])

	rec = s.do(t, http.MethodPost, "/login", map[string]string{"phone": "9876543210", "password": "Secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["token"])
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, LoginCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	rec = s.do(t, http.MethodPost, "/login", map[string]string{"phone": "9876543210", "password": "Wrong1234"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/Users/"+id+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "198.51.100.4", entries[0]["ip"])
}

func TestSignup_Errors(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "12345"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_phone", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "nope", "phone": "9876543210"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "9876543210"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Bob", "email": "b@x.com", "phone": "9876543210"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader("{"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveStage_UnknownPhone(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/login/phone", map[string]string{"phone": "1112223333"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["code"])
}

func TestVerify_AttemptsExhaustedAndResend(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "9876543210"})
	id := decodeBody(t, rec)["id"].(string)

	for n := 0; n < 3; n++ {
		assert.Equal(t, http.StatusPaymentRequired, s.do(t, http.MethodGet, "/OTPVerify/"+id+"/0000", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/OTPVerify/"+id+"/0421", nil).Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/OTPResend/"+id, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/OTPVerify/"+id+"/0421", nil).Code)
}

func TestRefresh_IgnoresClientCode(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "9876543210"})
	id := decodeBody(t, rec)["id"].(string)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/OTPUpdate/"+id, map[string]string{"OTP": "7777"}).Code)
	assert.Equal(t, http.StatusPaymentRequired, s.do(t, http.MethodGet, "/OTPVerify/"+id+"/7777", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/OTPUpdate/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/OTPUpdate/missing", nil).Code)
}

func TestListHidesSecrets(t *testing.T) {
	s := newTestServer(t, false)
	s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "9876543210"})

	rec := s.do(t, http.MethodGet, "/Users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "0421")
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "hash")
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, false, list[0]["hasPassword"])
	assert.Equal(t, string(domain.StageOTPNotIssued), list[0]["stage"])
}

func TestDelete_Idempotent(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "9876543210"})
	id := decodeBody(t, rec)["id"].(string)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/Users/"+id, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/Users/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/OTPVerify/"+id+"/0421", nil).Code)
}

func TestDevOTPRoute(t *testing.T) {
	off := newTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, off.do(t, http.MethodGet, "/dev/otp/x", nil).Code)

	on := newTestServer(t, true)
	rec := on.do(t, http.MethodPost, "/signup", map[string]string{"name": "Alice", "email": "a@x.com", "phone": "9876543210"})
	id := decodeBody(t, rec)["id"].(string)
	require.NoError(t, on.svc.Wait(context.Background()))

	rec = on.do(t, http.MethodGet, "/dev/otp/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0421", decodeBody(t, rec)["otp"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, false)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", nil).Code)
	s.do(t, http.MethodPost, "/login/phone", map[string]string{"phone": "1112223333"})
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/login/phone"`)

	checker := health.NewChecker(time.Second)
	checker.Add("identity_store", health.PingFunc(func(context.Context) error { return errors.New("down") }))
	h := New(&stubService{}, discardLogger(), Options{})
	router := NewRouter(RouterConfig{Handler: h, Health: checker})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// stubService answers every call with err.
type stubService struct {
	err error
}

func (s *stubService) Signup(context.Context, string, string, string) (*domain.Identity, error) {
	return nil, s.err
}
func (s *stubService) VerifyChallenge(context.Context, string, string) error { return s.err }
func (s *stubService) RefreshChallenge(context.Context, string) error        { return s.err }
func (s *stubService) ResendChallenge(context.Context, string) error         { return s.err }
func (s *stubService) SetPassword(context.Context, string, string, string) error {
	return s.err
}
func (s *stubService) ResolveStage(context.Context, string) (string, domain.Stage, error) {
	return "", domain.StageNoSuchIdentity, s.err
}
func (s *stubService) Login(context.Context, string, string) (*service.LoginResult, error) {
	return nil, s.err
}
func (s *stubService) List(context.Context) ([]*domain.Identity, error) { return nil, s.err }
func (s *stubService) Delete(context.Context, string) error             { return s.err }
func (s *stubService) DevOTP(context.Context, string) (string, error)   { return "", s.err }
func (s *stubService) AuditTrail(context.Context, string, int) ([]*auditdomain.AuditLog, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		method string
		path   string
		body   any
		status int
	}{
		{"verify expired", domain.ErrChallengeExpired, http.MethodGet, "/OTPVerify/x/1234", nil, http.StatusUnauthorized},
		{"refresh expired", domain.ErrChallengeExpired, http.MethodPut, "/OTPUpdate/x", nil, http.StatusBadGateway},
		{"refresh throttled", domain.ErrIssueThrottled, http.MethodPut, "/OTPUpdate/x", nil, http.StatusTooManyRequests},
		{"resend throttled", domain.ErrIssueThrottled, http.MethodPost, "/OTPResend/x", nil, http.StatusTooManyRequests},
		{"weak password", fmt.Errorf("%w: too short", domain.ErrValidation), http.MethodPut, "/PasswordUpdate/x", map[string]string{}, http.StatusBadRequest},
		{"set password missing", domain.ErrNotFound, http.MethodPut, "/PasswordUpdate/x", map[string]string{}, http.StatusNotFound},
		{"login disabled", service.ErrLoginDisabled, http.MethodPost, "/login", map[string]string{}, http.StatusNotImplemented},
		{"store down", fmt.Errorf("%w: boom", domain.ErrPersistence), http.MethodGet, "/Users", nil, http.StatusInternalServerError},
		{"stage store down", fmt.Errorf("%w: boom", domain.ErrPersistence), http.MethodPost, "/login/phone", map[string]string{}, http.StatusInternalServerError},
		{"delete store down", fmt.Errorf("%w: boom", domain.ErrPersistence), http.MethodDelete, "/Users/x", nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(&stubService{err: tc.err}, discardLogger(), Options{})
			s := &testServer{router: NewRouter(RouterConfig{Handler: h, Logger: discardLogger()})}
			rec := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.NotEmpty(t, body["code"])
			assert.NotContains(t, body["err"], "boom")
		})
	}
}
