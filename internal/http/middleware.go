package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/idempotency"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/robertarktes/traveland-bookings/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithFields(map[string]interface{}{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ctx := observability.ContextWithLogger(r.Context(), entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware counts requests by route pattern, status and method.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

type identityKey struct{}

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey{}).(domain.Identity)
	return id
}

// Claims is the token payload issued by the auth service.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTMiddleware verifies HS256 bearer tokens and puts the caller's identity
// into the request context. With an empty secret every token is refused.
func JWTMiddleware(secret []byte) func(next http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || raw == "" {
				fail(w, http.StatusUnauthorized, "Access denied. No token provided.")
				return
			}
			if len(secret) == 0 {
				fail(w, http.StatusUnauthorized, "Invalid token.")
				return
			}

			var claims Claims
			_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil {
				fail(w, http.StatusUnauthorized, "Invalid token.")
				return
			}
			userID, err := uuid.Parse(claims.ID)
			if err != nil {
				fail(w, http.StatusUnauthorized, "Invalid token.")
				return
			}

			who := domain.Identity{UserID: userID, Email: claims.Email, Role: claims.Role}
			ctx := withIdentity(r.Context(), who)
			ctx = observability.ContextWithLogger(ctx, observability.LoggerFrom(ctx, observability.NewNopLogger()).WithField("user_id", userID.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tooManyRequests(w http.ResponseWriter) {
	observability.RateLimitExceeded.Inc()
	w.Header().Set("Retry-After", "60")
	fail(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
}

// RateLimitIP allows perMinute requests per client address.
func RateLimitIP(rl *rateLimit.RateLimiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r.Context(), "ip:"+clientIP(r), perMinute, time.Minute) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitUser allows perMinute requests per authenticated user. It must
// run after JWTMiddleware.
func RateLimitUser(rl *rateLimit.RateLimiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who := identityFrom(r.Context())
			if !rl.Allow(r.Context(), "user:"+who.UserID.String(), perMinute, time.Minute) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key already used by the same caller on the same route. A key
// reused with a different body is refused with 422. Requests without the
// header pass through. It must run after JWTMiddleware.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < idempotency.MinKeyLength {
				fail(w, http.StatusBadRequest, "Invalid Idempotency-Key.")
				return
			}

			// One byte past the limit keeps the handler's own size check working.
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				fail(w, http.StatusBadRequest, "Invalid request body.")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := idempotency.Fingerprint(body)

			ctx := r.Context()
			logger := observability.LoggerFrom(ctx, observability.NewNopLogger())
			scope := identityFrom(ctx).UserID.String() + ":" + r.Method + " " + routePattern(r)

			state, stored, err := idemp.Begin(ctx, scope, key)
			if err != nil {
				logger.WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			}
			switch state {
			case idempotency.Replay:
				if !stored.SameRequest(fingerprint) {
					fail(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request.")
					return
				}
				observability.IdempotentReplays.Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Result)
				return
			case idempotency.InFlight:
				fail(w, http.StatusConflict, "A request with this Idempotency-Key is already being processed.")
				return
			}

			store := context.WithoutCancel(ctx)
			finished := false
			defer func() {
				if finished {
					return
				}
				// The handler panicked; free the key before the panic reaches Recoverer.
				if err := idemp.Abandon(store, scope, key); err != nil {
					logger.WithError(err).Warn("idempotency store write")
				}
			}()

			cw := &capturingWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)
			finished = true

			status := cw.status
			if status == 0 {
				status = http.StatusOK
			}
			// Storage and server errors are not final; let the client retry.
			if status >= http.StatusInternalServerError || status == http.StatusConflict {
				err = idemp.Abandon(store, scope, key)
			} else {
				err = idemp.Complete(store, scope, key, idempotency.Response{
					Status:      status,
					Result:      cw.body.Bytes(),
					RequestHash: fingerprint,
				})
			}
			if err != nil {
				logger.WithError(err).Warn("idempotency store write")
			}
		})
	}
}

// routePattern names the matched chi route, falling back to the raw path
// outside a chi router.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.request_id", middleware.GetReqID(ctx)),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}
