package boundary

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aether-os/kernel/internal/store"
)

type contextKey string

const userKey contextKey = "user"

// authMiddleware implements spec.md §4.8's gate 1 (identity): extract a
// bearer token, verify it via AuthCore, and stash the resolved User on the
// request context. Grounded on hub/internal/api/middleware.go's
// authMiddleware. Identity failures use a distinct UNAUTHENTICATED code
// from gate 2's FORBIDDEN, since the two gates answer different questions.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeErrCode(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}
		tokenStr := authHeader[len("Bearer "):]
		u, err := s.auth.VerifyToken(r.Context(), tokenStr)
		if err != nil {
			writeErrCode(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey).(*store.User)
	return u
}

// requirePermission implements spec.md §4.8's gate 2 (authorization): derive
// the (action, resource) pair for this route and invoke Layer B
// CheckPermission. action/resource may reference chi URL params via r.
func (s *Server) requirePermission(action string, resource func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := userFromContext(r.Context())
			res := ""
			if resource != nil {
				res = resource(r)
			}
			allowed, err := s.auth.CheckPermission(r.Context(), u.ID, action, res)
			if err != nil {
				writeErr(w, err)
				return
			}
			effect := "deny"
			if allowed {
				effect = "allow"
			}
			if s.audit != nil {
				_ = s.audit.RecordPolicyDecision(r.Context(), "user:"+u.ID, action, res, effect, "")
			}
			if !allowed {
				writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminMiddleware restricts a route to system admins, mirroring the
// teacher's adminMiddleware.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFromContext(r.Context())
		if u == nil || u.Role != "admin" {
			writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware mirrors the teacher's fixed security header set.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// makeCORSMiddleware generalizes the teacher's origin-checked CORS
// middleware.
func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter is a per-key token bucket, grounded on
// hub/internal/api/ratelimit.go.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

func newRateLimiter(requestsPerSecond float64, burst int) *rateLimiter {
	return &rateLimiter{buckets: make(map[string]*bucket), rate: requestsPerSecond, burst: burst}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastCheck: now}
		rl.buckets[key] = b
	}
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// rateLimitMiddleware rate-limits authenticated requests by user ID.
func rateLimitMiddleware(rl *rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := userFromContext(r.Context())
			if u == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.allow(u.ID) {
				w.Header().Set("Retry-After", "1")
				writeErrCode(w, http.StatusTooManyRequests, "RATE_LIMIT", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loginIPRateLimitMiddleware rate-limits unauthenticated login attempts by
// remote address, mirroring the teacher's loginIPRateLimitMiddleware.
func loginIPRateLimitMiddleware(rl *rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
				ip = realIP
			}
			if !rl.allow(ip) {
				w.Header().Set("Retry-After", "1")
				writeErrCode(w, http.StatusTooManyRequests, "RATE_LIMIT", "too many login attempts")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
