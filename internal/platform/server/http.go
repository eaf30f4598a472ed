package server

import (
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/auth"
)

type HTTPDeps struct {
	Ledger   *LedgerHandler
	System   SystemHandler
	Verifier *auth.JWTVerifier
	Guard    *RemoteAccessGuard
	Metrics  *Metrics
	Log      zerolog.Logger
}

// NewHTTPHandler assembles the public HTTP surface: request logging, the
// admin network guard, JWT authentication, then the routed handlers.
func NewHTTPHandler(d HTTPDeps) (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := d.System.Register(mux); err != nil {
		return nil, err
	}
	if err := d.Ledger.Register(mux); err != nil {
		return nil, err
	}
	var h http.Handler = auth.HTTPJWTMiddlewareWithSkips(d.Verifier, mux, unauthenticatedPaths)
	if d.Guard != nil {
		h = d.Guard.Wrap(h)
	}
	return RequestLogger(d.Log, d.Metrics, h), nil
}
