package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
)

func newTestGuard(t *testing.T, store audit.Store) *RemoteAccessGuard {
	t.Helper()
	guard, err := NewRemoteAccessGuard(clock.NewManual(time.Date(2026, 2, 12, 18, 0, 0, 0, time.UTC)), store, []string{"127.0.0.1/32", "10.0.0.0/8"})
	if err != nil {
		t.Fatalf("new guard err: %v", err)
	}
	return guard
}

func TestRemoteAccessGuardDeniesUntrustedAdminPath(t *testing.T) {
	store := audit.NewInMemoryStore()
	guard := newTestGuard(t, store)
	h := guard.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/audit", nil)
	req.RemoteAddr = "203.0.113.8:45000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden for untrusted admin path, got=%d", rec.Code)
	}
	logs := guard.Activities()
	if len(logs) != 1 || logs[0].Allowed || logs[0].SourceIP != "203.0.113.8" {
		t.Fatalf("expected one denied activity log, got %+v", logs)
	}
	events, _ := store.List(context.Background(), audit.Filter{ObjectType: "remote_access"})
	if len(events) != 1 || events[0].Result != audit.ResultDenied {
		t.Fatalf("expected denied audit event, got %+v", events)
	}
}

func TestRemoteAccessGuardAllowsTrustedAdminPath(t *testing.T) {
	guard := newTestGuard(t, audit.NewInMemoryStore())
	h := guard.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, addr := range []string{"127.0.0.1:44000", "10.2.3.4:1000"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/audit", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected ok for trusted source %s, got=%d", addr, rec.Code)
		}
	}
	if logs := guard.Activities(); len(logs) != 2 || !logs[0].Allowed {
		t.Fatalf("expected two allowed activity logs, got %+v", logs)
	}
}

func TestRemoteAccessGuardIgnoresNonAdminPaths(t *testing.T) {
	guard := newTestGuard(t, nil)
	h := guard.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/transactions", nil)
	req.RemoteAddr = "203.0.113.8:45000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || len(guard.Activities()) != 0 {
		t.Fatalf("non-admin paths pass untouched, got=%d logs=%d", rec.Code, len(guard.Activities()))
	}
}

func TestRemoteAccessGuardUsesForwardedFor(t *testing.T) {
	guard := newTestGuard(t, nil)
	h := guard.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/audit", nil)
	req.RemoteAddr = "127.0.0.1:44000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 127.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("forwarded client outside trusted network must be denied, got=%d", rec.Code)
	}
}

func TestNewRemoteAccessGuardRejectsBadCIDR(t *testing.T) {
	if _, err := NewRemoteAccessGuard(nil, nil, []string{"not-a-cidr"}); err == nil {
		t.Fatalf("expected error for malformed cidr")
	}
}
