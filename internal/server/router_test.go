package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"remote-relay/internal/relay"
)

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Broker: relay.New()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "online" {
		t.Fatalf("unexpected status %v", resp["status"])
	}
	if resp["clients"].(float64) != 0 || resp["sessions"].(float64) != 0 {
		t.Fatalf("expected empty tables, got %v", resp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Broker: relay.New()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"totalClients", "onlineClients", "activeSessions", "serverTime"} {
		if _, ok := resp[key]; !ok {
			t.Fatalf("missing %s in %v", key, resp)
		}
	}
}
