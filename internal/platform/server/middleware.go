package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/logger"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// RequestLogger attaches a request-scoped logger carrying request_id to the
// context, logs one line per request and turns panics into 500s.
func RequestLogger(base zerolog.Logger, m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		log := logger.WithFields(base, map[string]any{"request_id": reqID, "method": r.Method, "path": r.URL.Path})
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Msg("handler panicked")
				if rec.status == 0 {
					writeJSON(rec, http.StatusInternalServerError, errorBody{Code: "SYSTEM_ERROR", Message: "internal error"})
				}
			}
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.observeHTTP(r.Method, rec.status, elapsed)
			ev := log.Info()
			if rec.status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Int("status", rec.status).Dur("elapsed", elapsed).Msg("http request")
		}()
		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}
