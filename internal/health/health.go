// Package health reports liveness and readiness over HTTP and the standard
// gRPC health protocol.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Pinger is satisfied by *sql.DB-backed stores and similar dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker runs named readiness checks.
type Checker struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewChecker returns a Checker with a per-check timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{checks: map[string]Pinger{}, timeout: timeout}
}

// Add registers a check. nil pingers are ignored.
func (c *Checker) Add(name string, p Pinger) {
	if p != nil {
		c.checks[name] = p
	}
}

// Check runs every check and returns the failures by name.
func (c *Checker) Check(ctx context.Context) map[string]error {
	failed := map[string]error{}
	for name, p := range c.checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := p.Ping(cctx); err != nil {
			failed[name] = err
		}
		cancel()
	}
	return failed
}

// Ready reports whether all checks pass.
func (c *Checker) Ready(ctx context.Context) error {
	failed := c.Check(ctx)
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for n := range failed {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Errorf("health: %s: %w", names[0], failed[names[0]])
}

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness always answers 200 while the process serves HTTP.
func Liveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, statusBody{Status: "ok"})
}

// Readiness answers 200 when every check passes, otherwise 503 with the failing checks.
func (c *Checker) Readiness(w http.ResponseWriter, r *http.Request) {
	failed := c.Check(r.Context())
	if len(failed) == 0 {
		writeStatus(w, http.StatusOK, statusBody{Status: "ok"})
		return
	}
	body := statusBody{Status: "unavailable", Checks: map[string]string{}}
	for name := range failed {
		// Error text may include DSNs; report only which check failed.
		body.Checks[name] = "failing"
	}
	writeStatus(w, http.StatusServiceUnavailable, body)
}

func writeStatus(w http.ResponseWriter, code int, body statusBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
