// Package ratelimit throttles operator commands with one token bucket per command key.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out a token bucket per key, created on first use.
type Limiter struct {
	buckets sync.Map
	limit   rate.Limit
	burst   int
	metrics *Metrics
}

// Metrics tracks statistics about limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	bucketCount     atomic.Int32
}

// New creates a Limiter allowing requests per period for every key, with bursts up to burst.
func New(requests int, period time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:   rate.Limit(float64(requests) / period.Seconds()),
		burst:   burst,
		metrics: &Metrics{},
	}
}

// Allow reports whether a request for key may proceed now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.metrics.totalRequests.Add(1)
	if l.bucket(key).Allow() {
		l.metrics.allowedRequests.Add(1)
		return true
	}
	l.metrics.deniedRequests.Add(1)
	return false
}

// RetryAfter returns how long a caller should wait before key has a token again.
func (l *Limiter) RetryAfter(key string) time.Duration {
	r := l.bucket(key).Reserve()
	defer r.Cancel()
	return r.Delay()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	actual, loaded := l.buckets.LoadOrStore(key, limiter)
	if !loaded {
		l.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// Metrics returns a snapshot of the current limiter statistics.
func (l *Limiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   l.metrics.totalRequests.Load(),
		AllowedRequests: l.metrics.allowedRequests.Load(),
		DeniedRequests:  l.metrics.deniedRequests.Load(),
		BucketCount:     l.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	TotalRequests   int64 `json:"total"`
	AllowedRequests int64 `json:"allowed"`
	DeniedRequests  int64 `json:"denied"`
	BucketCount     int32 `json:"buckets"`
}
