package daemon

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/intercom-mesh/intercom/internal/auth"
	"github.com/intercom-mesh/intercom/internal/domain"
)

type ctxKey int

const machineIDKey ctxKey = 0

func machineIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(machineIDKey).(string)
	return id
}

// lookupToken only ever accepts the Hub calling back as this daemon's own
// machine id, signed with the token the Hub issued at join time — a daemon
// never receives signed requests from any other machine.
func (d *Daemon) lookupToken(machineID string) (string, bool) {
	token := d.currentToken()
	if token == "" || machineID != d.MachineID {
		return "", false
	}
	return token, true
}

var _ auth.TokenLookup = (*Daemon)(nil).lookupToken

// requireSignature mirrors the Hub's own signed-request verification (spec
// §4.1), scoped to the single caller a daemon ever sees: the Hub.
func (d *Daemon) requireSignature(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, domain.NewDomainError("Daemon.requireSignature", domain.ErrBadEnvelope, err.Error()))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		headers := auth.Headers{
			Machine:   r.Header.Get(domain.HeaderMachine),
			Timestamp: r.Header.Get(domain.HeaderTimestamp),
			Signature: r.Header.Get(domain.HeaderSignature),
		}

		switch auth.Verify(r.Method, r.URL.RequestURI(), body, headers, d.lookupToken, time.Now()) {
		case auth.VerifyOK:
			ctx := context.WithValue(r.Context(), machineIDKey, headers.Machine)
			next(w, r.WithContext(ctx))
		case auth.VerifyStale:
			writeError(w, domain.NewDomainError("Daemon.requireSignature", domain.ErrAuthStale, headers.Machine))
		case auth.VerifyUnknownMachine:
			writeError(w, domain.NewDomainError("Daemon.requireSignature", domain.ErrAuthUnknownMachine, headers.Machine))
		default:
			writeError(w, domain.NewDomainError("Daemon.requireSignature", domain.ErrAuthBadSignature, headers.Machine))
		}
	}
}

func (d *Daemon) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		d.Logger.Info("daemon request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"machine", machineIDFromContext(r.Context()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
