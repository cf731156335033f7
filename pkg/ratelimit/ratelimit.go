// Package ratelimit implements the sliding-window request limiter and chain
// health tracker used to guard outbound RPC calls, grounded on
// original_source's crates/core/src/security.rs (RateLimiter, HealthChecker,
// ConnectionManager).
package ratelimit

import (
	"sync"
	"time"

	"github.com/timewave-computer/almanac-sub002/pkg/metrics"
)

// Limiter is a sliding-window rate limiter keyed by endpoint.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
}

// NewLimiter builds a Limiter allowing at most maxRequests per window, per
// endpoint key.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// IsAllowed records and allows a request for endpoint if it is within the
// window's budget, evicting requests that have aged out first.
func (l *Limiter) IsAllowed(endpoint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	reqs := l.pruneLocked(endpoint, now)
	if len(reqs) < l.maxRequests {
		l.requests[endpoint] = append(reqs, now)
		return true
	}
	l.requests[endpoint] = reqs
	return false
}

// TimeUntilAllowed reports how long until endpoint has budget again, or
// zero if a request is already allowed.
func (l *Limiter) TimeUntilAllowed(endpoint string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	reqs := l.pruneLocked(endpoint, now)
	l.requests[endpoint] = reqs
	if len(reqs) < l.maxRequests {
		return 0
	}
	elapsed := now.Sub(reqs[0])
	if elapsed >= l.window {
		return 0
	}
	return l.window - elapsed
}

func (l *Limiter) pruneLocked(endpoint string, now time.Time) []time.Time {
	reqs := l.requests[endpoint]
	kept := reqs[:0]
	for _, t := range reqs {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	return kept
}

// ChainHealth is a chain's point-in-time connectivity status.
type ChainHealth struct {
	Healthy             bool
	LastSuccess         time.Time
	LastFailure         time.Time
	ConsecutiveFailures int
	LatencyMS           int64
}

// unhealthyThreshold is the number of consecutive failures that marks a
// chain unhealthy, matching the original's hardcoded 3.
const unhealthyThreshold = 3

// HealthChecker tracks per-chain connectivity, marking a chain unhealthy
// after three consecutive failures and healthy again on the next success.
type HealthChecker struct {
	mu     sync.RWMutex
	health map[string]*ChainHealth
}

// NewHealthChecker builds an empty checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{health: make(map[string]*ChainHealth)}
}

// RecordSuccess marks chainID healthy and resets its failure streak.
func (h *HealthChecker) RecordSuccess(chainID string, latencyMS int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.entryLocked(chainID)
	ch.Healthy = true
	ch.LastSuccess = time.Now()
	ch.ConsecutiveFailures = 0
	ch.LatencyMS = latencyMS
	metrics.ChainHealthy.WithLabelValues(chainID).Set(1)
}

// RecordFailure increments chainID's failure streak, marking it unhealthy
// once the streak reaches three.
func (h *HealthChecker) RecordFailure(chainID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.entryLocked(chainID)
	ch.LastFailure = time.Now()
	ch.ConsecutiveFailures++
	if ch.ConsecutiveFailures >= unhealthyThreshold {
		ch.Healthy = false
		metrics.ChainHealthy.WithLabelValues(chainID).Set(0)
	}
}

func (h *HealthChecker) entryLocked(chainID string) *ChainHealth {
	ch, ok := h.health[chainID]
	if !ok {
		ch = &ChainHealth{Healthy: true}
		h.health[chainID] = ch
	}
	return ch
}

// GetHealth returns chainID's status, if it has ever been recorded.
func (h *HealthChecker) GetHealth(chainID string) (ChainHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.health[chainID]
	if !ok {
		return ChainHealth{}, false
	}
	return *ch, true
}

// GetAllHealth returns a snapshot of every tracked chain's status.
func (h *HealthChecker) GetAllHealth() map[string]ChainHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]ChainHealth, len(h.health))
	for id, ch := range h.health {
		out[id] = *ch
	}
	return out
}

// IsHealthy reports chainID's health, defaulting to healthy if unchecked.
func (h *HealthChecker) IsHealthy(chainID string) bool {
	ch, ok := h.GetHealth(chainID)
	if !ok {
		return true
	}
	return ch.Healthy
}

// ConnectionManager bundles a Limiter and HealthChecker for a pool of RPC
// endpoints, mirroring the original's ConnectionManager.
type ConnectionManager struct {
	Limiter *Limiter
	Health  *HealthChecker
}

// NewConnectionManager builds a manager allowing maxRequestsPerMinute
// requests per endpoint per rolling minute.
func NewConnectionManager(maxRequestsPerMinute int) *ConnectionManager {
	return &ConnectionManager{
		Limiter: NewLimiter(maxRequestsPerMinute, time.Minute),
		Health:  NewHealthChecker(),
	}
}

// CanMakeRequest reports whether endpoint has rate-limit budget right now.
func (c *ConnectionManager) CanMakeRequest(endpoint string) bool {
	return c.Limiter.IsAllowed(endpoint)
}

// WaitForRequest blocks the calling goroutine until endpoint has budget
// again, sleeping for the limiter's reported wait duration between checks.
func (c *ConnectionManager) WaitForRequest(endpoint string) {
	for !c.Limiter.IsAllowed(endpoint) {
		wait := c.Limiter.TimeUntilAllowed(endpoint)
		if wait <= 0 {
			return
		}
		time.Sleep(wait)
	}
}
