package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/studycrew-backend/pkg/clientip"
)

const (
	// ConnectRateLimitKeyPrefix is the Redis key prefix for socket connect attempts.
	ConnectRateLimitKeyPrefix = "ratelimit:ws:"
	DefaultConnectLimit       = 30
	DefaultConnectWindow      = time.Minute
)

// ConnectRateLimit caps socket connection attempts per IP with a fixed
// window counter in Redis, so the limit holds across server instances.
// Redis failures fail open.
func ConnectRateLimit(rdb *redis.Client, max int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := ConnectRateLimitKeyPrefix + clientip.Key(r)

			n, err := rdb.Incr(ctx, key).Result()
			if err == nil && n == 1 {
				// First attempt in this window
				err = rdb.Expire(ctx, key, window).Err()
			}
			if err != nil {
				log.Printf("connect_limit: redis: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			count := int(n)
			if count > max {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(fmt.Sprintf(`{"success":false,"message":"Too many connection attempts. Please try again later.","retry_after":%d}`, int(window.Seconds()))))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max-count))
			next.ServeHTTP(w, r)
		})
	}
}
