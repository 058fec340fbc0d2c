package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/studycrew-backend/pkg/clientip"
)

// Chat history rate limit: per-IP, different limits for auth vs anonymous.
// Auth: 30 req/min, burst 20. Anonymous: 10 req/min, burst 5.
// Rapid group switching stays under the auth limit.
const (
	chatHistoryAuthRPS   = 0.5 // 30/min
	chatHistoryAuthBurst = 20
	chatHistoryAnonRPS   = 0.17 // ~10/min
	chatHistoryAnonBurst = 5
)

// HistoryLimiter rate limits the chat history endpoint.
type HistoryLimiter struct {
	Auth *IPRateLimiter
	Anon *IPRateLimiter
}

func NewHistoryLimiter() *HistoryLimiter {
	return &HistoryLimiter{
		Auth: NewIPRateLimiter(rate.Limit(chatHistoryAuthRPS), chatHistoryAuthBurst),
		Anon: NewIPRateLimiter(rate.Limit(chatHistoryAnonRPS), chatHistoryAnonBurst),
	}
}

func hasBearer(r *http.Request) bool {
	h := r.Header.Get("Authorization")
	return strings.HasPrefix(h, "Bearer ") && len(strings.TrimPrefix(h, "Bearer ")) > 0
}

// Middleware limits GET requests only; writes pass through.
func (hl *HistoryLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		limiter := hl.Anon
		if hasBearer(r) || r.URL.Query().Get("token") != "" {
			limiter = hl.Auth
		}
		limit := strconv.Itoa(limiter.Burst())

		if !limiter.Allow(clientip.Key(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"Too many chat history requests. Please slow down.","code":"rate_limited"}`))
			return
		}

		w.Header().Set("X-RateLimit-Limit", limit)
		next.ServeHTTP(w, r)
	})
}
