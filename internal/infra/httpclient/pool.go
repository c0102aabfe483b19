// Package httpclient builds pooled HTTP clients for outbound agent and model
// traffic.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig configures HTTP connection pooling.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// Default pool settings: few hosts (one per worker), many concurrent
// sessions, long-lived connections.
const (
	DefaultMaxIdleConns        = 50
	DefaultMaxIdleConnsPerHost = 10
	DefaultMaxConnsPerHost     = 50
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultConnTimeout         = 10 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling.
// Response deadlines are left to per-request contexts so text and media
// calls can use different budgets on the same transport.
func NewPooledTransport(connTimeout time.Duration, pool PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = DefaultConnTimeout
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = DefaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = DefaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdlePerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// New returns a client over a pooled transport. A zero overall timeout
// means callers bound each request with a context deadline.
func New(connTimeout, overall time.Duration, pool PoolConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(connTimeout, pool),
		Timeout:   overall,
	}
}
