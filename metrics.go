package recoveryflow

import (
	"sync/atomic"
)

// MetricID defines a public type used by recoveryflow APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricTokenExtracted is an exported constant or variable used by the verification flow engine.
	MetricTokenExtracted MetricID = iota
	// MetricLinkErrorParam is an exported constant or variable used by the verification flow engine.
	MetricLinkErrorParam
	// MetricExchangeSuccess is an exported constant or variable used by the verification flow engine.
	MetricExchangeSuccess
	// MetricExchangeFailure is an exported constant or variable used by the verification flow engine.
	MetricExchangeFailure
	// MetricSessionReused is an exported constant or variable used by the verification flow engine.
	MetricSessionReused
	// MetricGateRejected is an exported constant or variable used by the verification flow engine.
	MetricGateRejected
	// MetricPollConfirmed is an exported constant or variable used by the verification flow engine.
	MetricPollConfirmed
	// MetricOTPVerifySuccess is an exported constant or variable used by the verification flow engine.
	MetricOTPVerifySuccess
	// MetricOTPVerifyFailure is an exported constant or variable used by the verification flow engine.
	MetricOTPVerifyFailure
	// MetricCredentialUpdateSuccess is an exported constant or variable used by the verification flow engine.
	MetricCredentialUpdateSuccess
	// MetricCredentialUpdateFailure is an exported constant or variable used by the verification flow engine.
	MetricCredentialUpdateFailure
	// MetricPasswordPolicyRejected is an exported constant or variable used by the verification flow engine.
	MetricPasswordPolicyRejected
	// MetricResendRequest is an exported constant or variable used by the verification flow engine.
	MetricResendRequest
	// MetricResendFailure is an exported constant or variable used by the verification flow engine.
	MetricResendFailure
	// MetricResendSuppressed is an exported constant or variable used by the verification flow engine.
	MetricResendSuppressed
	// MetricFlowCompleted is an exported constant or variable used by the verification flow engine.
	MetricFlowCompleted
	// MetricInfraFailure is an exported constant or variable used by the verification flow engine.
	MetricInfraFailure
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by recoveryflow APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot defines a public type used by recoveryflow APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics may return an error when input validation, dependency calls, or security checks fail.
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
	}
}

// Enabled describes the enabled operation and its observable behavior.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc describes the inc operation and its observable behavior.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value describes the value operation and its observable behavior.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
