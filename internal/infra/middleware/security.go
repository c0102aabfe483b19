// Package middleware wraps the agent listener (chat API, A2A endpoint and
// metrics) with response headers and per-client rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// defaultIdleTTL is how long an idle client keeps its token bucket.
const defaultIdleTTL = 3 * time.Minute

// SecurityHeaders sets the headers every agent response carries. The
// listener serves JSON only, so nothing may be framed, sniffed or cached.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Rate is the sustained requests per second allowed per client.
	Rate rate.Limit
	// Burst is the bucket size per client.
	Burst int
	// TrustedProxies are the peers whose forwarding headers are believed.
	// Empty means the TCP peer is always the client.
	TrustedProxies []netip.Prefix
	// IdleTTL drops buckets of clients idle this long. Zero means 3 minutes.
	IdleTTL time.Duration
}

// ParseTrustedProxies parses IP addresses and CIDR prefixes, as written in
// server.trusted_proxies.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// RateLimit applies a token bucket per client address. Rejected requests
// get 429 with Retry-After and a JSON error body in the chat API's shape.
// ctx bounds the goroutine that drops idle buckets.
func RateLimit(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	set := newLimiterSet(cfg)
	go set.sweepEvery(ctx, time.Minute)

	retryAfter := "1"
	if cfg.Rate > 0 && cfg.Rate < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(cfg.Rate))))
	}
	body, _ := json.Marshal(map[string]string{"error": domain.UserMessage(domain.ErrRateLimit)})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.allow(clientAddr(r, cfg.TrustedProxies), time.Now()) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write(body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one bucket per client key.
type limiterSet struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	return &limiterSet{
		limit:   cfg.Rate,
		burst:   cfg.Burst,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
	}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	s.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle longer than the TTL and returns how many remain.
func (s *limiterSet) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > s.ttl {
			delete(s.buckets, key)
		}
	}
	return len(s.buckets)
}

func (s *limiterSet) sweepEvery(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

// clientAddr returns the rate limit key for r. Forwarding headers count
// only when the TCP peer is a trusted proxy; X-Forwarded-For is then read
// right to left and the first untrusted hop is the client.
func clientAddr(r *http.Request, trusted []netip.Prefix) string {
	peer, ok := parseHost(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !isTrusted(peer, trusted) {
		return peer.String()
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseHost(strings.TrimSpace(hops[i]))
			if !ok {
				break
			}
			if !isTrusted(hop, trusted) {
				return hop.String()
			}
		}
	}
	if xri, ok := parseHost(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ok {
		return xri.String()
	}
	return peer.String()
}

// parseHost accepts "ip", "ip:port" and "[ipv6]:port".
func parseHost(s string) (netip.Addr, bool) {
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

func isTrusted(a netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
