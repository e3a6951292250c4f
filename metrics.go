package clavis

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLockouts
	MetricRegistrations
	MetricRefreshSuccess
	MetricRefreshReuse
	MetricMFAChallenges
	MetricMFAFailures
	MetricPermissionChecks
	MetricPermissionDenied
	MetricRateLimited
	MetricBreachRejections
	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:     "login_success",
	MetricLoginFailure:     "login_failure",
	MetricLockouts:         "lockouts",
	MetricRegistrations:    "registrations",
	MetricRefreshSuccess:   "refresh_success",
	MetricRefreshReuse:     "refresh_reuse",
	MetricMFAChallenges:    "mfa_challenges",
	MetricMFAFailures:      "mfa_failures",
	MetricPermissionChecks: "permission_checks",
	MetricPermissionDenied: "permission_denied",
	MetricRateLimited:      "rate_limited",
	MetricBreachRejections: "breach_rejections",
}

// String returns the metric's stable export name.
func (id MetricID) String() string {
	if id < 0 || id >= metricCount {
		return "unknown"
	}
	return metricNames[id]
}

// paddedCounter occupies a full cache line so hot counters incremented from
// different goroutines do not false-share.
type paddedCounter struct {
	value atomic.Uint64
	_     [56]byte
}

// Metrics holds the engine's monotonic counters. All methods are safe for
// concurrent use and never block.
type Metrics struct {
	counters [metricCount]paddedCounter
}

// NewMetrics returns a zeroed counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id < 0 || id >= metricCount {
		return
	}
	m.counters[id].value.Add(1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id < 0 || id >= metricCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Snapshot returns every counter keyed by export name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	if m == nil {
		return out
	}
	for id := MetricID(0); id < metricCount; id++ {
		out[metricNames[id]] = m.counters[id].value.Load()
	}
	return out
}
