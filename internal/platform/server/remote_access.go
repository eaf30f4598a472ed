package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/logger"
)

const (
	adminPathPrefix      = "/v1/admin"
	maxRemoteActivityLog = 1000
)

type RemoteAccessActivity struct {
	Timestamp  time.Time
	SourceIP   string
	SourcePort string
	Path       string
	Method     string
	Allowed    bool
	Reason     string
}

// RemoteAccessGuard restricts admin endpoints to trusted networks and
// records every admin access attempt in the audit trail.
type RemoteAccessGuard struct {
	Clock      clock.Clock
	AuditStore audit.Store

	trusted []*net.IPNet
	mu      sync.Mutex
	logs    []RemoteAccessActivity
}

func NewRemoteAccessGuard(clk clock.Clock, store audit.Store, cidrs []string) (*RemoteAccessGuard, error) {
	trusted := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted cidr %q: %w", c, err)
		}
		trusted = append(trusted, ipnet)
	}
	if len(trusted) == 0 {
		for _, c := range []string{"127.0.0.1/32", "::1/128"} {
			_, ipnet, _ := net.ParseCIDR(c)
			trusted = append(trusted, ipnet)
		}
	}
	return &RemoteAccessGuard{Clock: clk, AuditStore: store, trusted: trusted}, nil
}

func (g *RemoteAccessGuard) sourceOf(r *http.Request) (string, string) {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip), ""
	}
	host, port, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host, port
	}
	return strings.TrimSpace(r.RemoteAddr), ""
}

func (g *RemoteAccessGuard) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range g.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *RemoteAccessGuard) record(r *http.Request, sourceIP, sourcePort string, allowed bool, reason string) {
	now := clock.NowOr(g.Clock)
	g.mu.Lock()
	g.logs = append(g.logs, RemoteAccessActivity{
		Timestamp:  now,
		SourceIP:   sourceIP,
		SourcePort: sourcePort,
		Path:       r.URL.Path,
		Method:     r.Method,
		Allowed:    allowed,
		Reason:     reason,
	})
	if len(g.logs) > maxRemoteActivityLog {
		g.logs = g.logs[len(g.logs)-maxRemoteActivityLog:]
	}
	g.mu.Unlock()

	if g.AuditStore == nil {
		return
	}
	action, result := "allowed", audit.ResultSuccess
	if !allowed {
		action, result = "denied", audit.ResultDenied
	}
	ctx := r.Context()
	if _, err := g.AuditStore.Append(ctx, audit.Event{
		RecordedAt: now,
		ActorID:    sourceIP,
		ActorRole:  "remote",
		ObjectType: "remote_access",
		ObjectID:   r.URL.Path,
		Action:     action,
		Before:     []byte(`{}`),
		After:      []byte(`{}`),
		Result:     result,
		Reason:     reason,
	}); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("path", r.URL.Path).Msg("append remote access audit")
	}
}

func (g *RemoteAccessGuard) Activities() []RemoteAccessActivity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RemoteAccessActivity, len(g.logs))
	copy(out, g.logs)
	return out
}

func (g *RemoteAccessGuard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, adminPathPrefix) {
			next.ServeHTTP(w, r)
			return
		}
		sourceIP, sourcePort := g.sourceOf(r)
		if !g.isTrusted(sourceIP) {
			const reason = "source ip outside trusted network"
			g.record(r, sourceIP, sourcePort, false, reason)
			log := logger.FromContext(r.Context())
			log.Warn().Str("source_ip", sourceIP).Str("path", r.URL.Path).Msg("remote admin access denied")
			writeJSON(w, http.StatusForbidden, errorBody{Code: "REMOTE_ACCESS_DENIED", Message: reason})
			return
		}
		g.record(r, sourceIP, sourcePort, true, "")
		next.ServeHTTP(w, r)
	})
}

