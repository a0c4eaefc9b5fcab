package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"phone-onboarding/backend/internal/telemetry"
)

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Error("empty URL should fail")
	}
}

func TestClient_PushEventJSON(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(telemetry.NewEvent(telemetry.EventChallengeVerified, "id-1", created, nil))
	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %+v", got.Streams)
	}
	s := got.Streams[0]
	if s.Stream["job"] != DefaultJob || s.Stream["event_type"] != telemetry.EventChallengeVerified || s.Stream["source"] != telemetry.SourceIdentityService {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["identity_id"]; ok {
		t.Error("identity id must not be a label")
	}
	if s.Values[0][0] != strconv.FormatInt(created.UnixNano(), 10) || s.Values[0][1] != string(raw) {
		t.Errorf("values = %v", s.Values)
	}
}

func TestClient_PushUnparseableLine(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()
	c, _ := NewClient(srv.URL)
	if err := c.PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if got.Streams[0].Values[0][1] != "not json" || len(got.Streams[0].Stream) != 1 {
		t.Errorf("stream = %+v", got.Streams[0])
	}
}

func TestClient_PushNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "entry out of order", http.StatusBadRequest)
	}))
	defer srv.Close()
	c, _ := NewClient(srv.URL)
	if err := c.Push(context.Background(), time.Now(), "line", map[string]string{"event_type": "a b"}); err == nil {
		t.Error("non-2xx should fail")
	}
}
