package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cardgen/internal/infra"
)

// Counter counts hits per key inside a fixed window.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)
}

type bucket struct {
	count int64
	until time.Time
}

// MemoryCounter keeps windows in process memory. Limits are per instance.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*bucket), now: time.Now}
}

func (c *MemoryCounter) IncrWithExpiry(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	b, ok := c.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{until: now.Add(window)}
		c.buckets[key] = b
	}
	b.count++
	if len(c.buckets) > 10000 {
		c.sweep(now)
	}
	return b.count, nil
}

func (c *MemoryCounter) sweep(now time.Time) {
	for k, b := range c.buckets {
		if now.After(b.until) {
			delete(c.buckets, k)
		}
	}
}

// RedisCounter shares windows across instances through Redis.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(redisURL string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCounter{client: redis.NewClient(opts)}, nil
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

func (c *RedisCounter) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func rateLimitKey(ip string, window time.Duration, now time.Time) string {
	slot := now.Unix() / int64(max(window/time.Second, 1))
	return "ratelimit:" + ip + ":" + strconv.FormatInt(slot, 10)
}

// RateLimit allows limit requests per client IP per window. Counter failures
// let the request through. A non-positive limit disables the middleware.
func RateLimit(counter Counter, limit int, per time.Duration, logger *infra.Logger) func(http.Handler) http.Handler {
	log := infra.LoggerOrDiscard(logger)
	return func(next http.Handler) http.Handler {
		if limit <= 0 || counter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPForRateLimit(r)
			n, err := counter.IncrWithExpiry(r.Context(), rateLimitKey(ip, per, time.Now()), per)
			if err != nil {
				log.Warn().Err(err).Str("ip", ip).Msg("rate limit counter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if n > int64(limit) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(per.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "too many requests, try again later",
					"code":  "rate_limited",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type peerAddrKey struct{}

// PeerAddr records the connection's RemoteAddr before proxy headers rewrite
// it. Install it ahead of chi's RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIPForRateLimit keys on the transport peer. Forwarding headers are
// client supplied and ignored.
func clientIPForRateLimit(r *http.Request) string {
	addr := r.RemoteAddr
	if peer, ok := r.Context().Value(peerAddrKey{}).(string); ok && peer != "" {
		addr = peer
	}

	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(addr) != nil {
		return addr
	}

	return addr
}
