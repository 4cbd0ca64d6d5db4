package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// deniedBody is the structured error returned for every gate denial. It
// carries no internal detail.
const deniedBody = "You cannot access this content"

// contextKey is a type-safe key for request context values.
type contextKey string

var principalContextKey = contextKey("principal")

// Principal identifies the caller of a session-gated request.
type Principal struct {
	Subject   string // external ID of the authenticated user
	SessionID string // keys the per-session credential store
}

// PrincipalFromContext returns the authenticated caller. Only valid on
// requests that passed [RequireSession].
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(Principal)
	if !ok || principal.Subject == "" {
		return Principal{}, fmt.Errorf("no principal in context")
	}
	return principal, nil
}

// ContextWithPrincipal injects a principal into the context. Used by tests
// exercising gated handlers directly.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// RequireSession gates a route on an established session.
//
// An existing session is taken as sufficient proof of identity; the subject
// is not re-verified against the identity store on every request. Anonymous
// callers get a 404 with a structured body and the downstream handler is
// never invoked.
func RequireSession(manager *SessionManager, collector *Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, sid, ok := manager.Subject(r)
			if !ok {
				if collector != nil {
					collector.RecordDenial()
				}
				writeJSON(w, http.StatusNotFound, map[string]string{"error": deniedBody})
				return
			}

			ctx := ContextWithPrincipal(r.Context(), Principal{Subject: subject, SessionID: sid})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CORS allows the configured front-end origin to call the gateway with
// credentials.
func CORS(origin string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := w.Header()
			header.Set("Vary", "Origin")
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs method, path, status, and duration for every request.
func RequestLogger(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration", time.Since(start),
			)
		})
	}
}

// ipLimiter holds a rate limiter and last access time for one client.
type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a per-client-IP token bucket to the routes it wraps.
// Entries idle for ten minutes are dropped on the next sweep.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
	swept    time.Time
}

// NewRateLimiter creates a RateLimiter allowing perSecond requests with the
// given burst per client IP.
func NewRateLimiter(perSecond, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		limiters:  make(map[string]*ipLimiter),
		swept:     time.Now(),
	}
}

// Middleware returns the rate limiting [Middleware].
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientIP(r)) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "Too many requests. Please try again later.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	const idleTTL = 10 * time.Minute

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.swept) > idleTTL {
		for key, entry := range rl.limiters {
			if now.Sub(entry.lastAccess) > idleTTL {
				delete(rl.limiters, key)
			}
		}
		rl.swept = now
	}

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = now

	return entry.limiter.Allow()
}

// clientIP extracts the client address, ignoring the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
