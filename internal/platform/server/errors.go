package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/ledger"
)

const (
	codeIdempotencyKeyInvalid  = "IDEMPOTENCY_KEY_INVALID"
	codeIdempotencyKeyMissing  = "IDEMPOTENCY_KEY_REQUIRED"
	codeIdempotencyKeyReused   = "IDEMPOTENCY_KEY_REUSED"
	codeRequestInFlight        = "REQUEST_IN_FLIGHT"
	codeInvalidRequestEnvelope = "INVALID_REQUEST"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var kindCodes = map[ledger.Kind]codes.Code{
	ledger.KindNotFound:                codes.NotFound,
	ledger.KindInvalidArgument:         codes.InvalidArgument,
	ledger.KindAccountNotActive:        codes.FailedPrecondition,
	ledger.KindInsufficientFunds:       codes.FailedPrecondition,
	ledger.KindUnauthorized:            codes.Unauthenticated,
	ledger.KindSelfTransfer:            codes.InvalidArgument,
	ledger.KindCurrencyMismatch:        codes.InvalidArgument,
	ledger.KindUnsupportedCurrencyPair: codes.InvalidArgument,
	ledger.KindSystemError:             codes.Internal,
}

// statusFromError maps an engine or idempotency error onto a gRPC status and
// the stable code reported to clients.
func statusFromError(err error) (*status.Status, string) {
	switch {
	case errors.Is(err, idempotency.ErrInvalidKey):
		return status.New(codes.InvalidArgument, err.Error()), codeIdempotencyKeyInvalid
	case errors.Is(err, idempotency.ErrRequestMismatch):
		return status.New(codes.AlreadyExists, err.Error()), codeIdempotencyKeyReused
	case errors.Is(err, idempotency.ErrRequestInFlight):
		return status.New(codes.Aborted, err.Error()), codeRequestInFlight
	}
	var le *ledger.Error
	if errors.As(err, &le) {
		c, ok := kindCodes[le.Kind]
		if !ok {
			c = codes.Internal
		}
		msg := le.Message
		if le.Kind == ledger.KindSystemError {
			msg = "internal error"
		}
		return status.New(c, msg), le.Code
	}
	return status.New(codes.Internal, "internal error"), ledger.CodeSystemError
}

// HTTPStatusForKind is the HTTP status returned for a ledger error Kind.
func HTTPStatusForKind(k ledger.Kind) int {
	c, ok := kindCodes[k]
	if !ok {
		c = codes.Internal
	}
	return runtime.HTTPStatusFromCode(c)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	st, code := statusFromError(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: code, Message: st.Message()})
}

func writeBadRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: code, Message: msg})
}
