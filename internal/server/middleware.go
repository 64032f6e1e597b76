package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/trinetra-eo/cogcatalog/internal/auth"
)

// ContextKey is used for context values to avoid collisions
type ContextKey string

const (
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
	ContextKeyClaims        ContextKey = "claims"        // Verified session claims
)

// CorrelationID returns the request's correlation id, or "" outside a request.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelationID).(string)
	return id
}

// ClaimsFrom returns the verified session claims, if any.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ContextKeyClaims).(*auth.Claims)
	return c, ok
}

// withCorrelationID propagates X-Correlation-Id or assigns a fresh one.
func (s *Server) withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-Id", correlationID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID)))
	})
}

// withRequestLog emits one log line and the HTTP metrics per request.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		// Inner middleware replaces the request, so claims are captured through a holder.
		holder := &claimsHolder{}
		r = r.WithContext(context.WithValue(r.Context(), claimsHolderKey{}, holder))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		labels := []string{r.Method, route, strconv.Itoa(status)}
		s.metrics.HTTPRequestTotal.WithLabelValues(labels...).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(duration.Seconds())

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", duration),
			slog.String("user_agent", r.UserAgent()),
			slog.String("remote_addr", r.RemoteAddr),
		}
		if correlationID := CorrelationID(r.Context()); correlationID != "" {
			attrs = append(attrs, slog.String("correlation_id", correlationID))
		}
		if holder.claims != nil {
			attrs = append(attrs, slog.String("user_id", holder.claims.Subject))
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.LogAttrs(r.Context(), level, "request completed", attrs...)
	})
}

type claimsHolderKey struct{}

type claimsHolder struct {
	claims *auth.Claims
}

// requireUser rejects requests without a valid session token.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tokens.Verify(auth.TokenFromRequest(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if holder, ok := r.Context().Value(claimsHolderKey{}).(*claimsHolder); ok {
			holder.claims = claims
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyClaims, claims)))
	})
}

// adminGate applies requireUser when the server is configured to guard writes.
func (s *Server) adminGate(next http.Handler) http.Handler {
	if !s.opts.RequireAuth {
		return next
	}
	return s.requireUser(next)
}
