// Package metrics exposes Prometheus collectors for the crypto boundary:
// guest allocations and releases, bytes handed to the guest, module loads,
// and facade operations by name and outcome.
package metrics

import (
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-openssl/errors"
)

// Namespace prefixes every metric name.
const Namespace = "wasm_openssl"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeInvalid = "invalid"
	OutcomeTrap    = "trap"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	allocations    prometheus.Counter
	releases       prometheus.Counter
	allocatedBytes prometheus.Counter
	loads          *prometheus.CounterVec
	operations     *prometheus.CounterVec
	durations      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused, so several loaders may share one
// registry. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "arena",
			Name:      "allocations_total",
			Help:      "Guest memory allocations made by the host.",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "arena",
			Name:      "releases_total",
			Help:      "Guest memory allocations released by the host.",
		}),
		allocatedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "arena",
			Name:      "allocated_bytes_total",
			Help:      "Bytes requested from the guest allocator.",
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "module_loads_total",
			Help:      "Module instantiation attempts by outcome.",
		}, []string{"outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Crypto operations by name and outcome.",
		}, []string{"op", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Crypto operation latency, including marshalling.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.allocations, err = register(reg, m.allocations); err != nil {
		return nil, err
	}
	if m.releases, err = register(reg, m.releases); err != nil {
		return nil, err
	}
	if m.allocatedBytes, err = register(reg, m.allocatedBytes); err != nil {
		return nil, err
	}
	if m.loads, err = register(reg, m.loads); err != nil {
		return nil, err
	}
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.durations, err = register(reg, m.durations); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, errors.InvalidConfig("register metrics", err)
	}
	return c, nil
}

// OnAllocate implements arena.Observer.
func (m *Metrics) OnAllocate(size uint32) {
	if m == nil {
		return
	}
	m.allocations.Inc()
	m.allocatedBytes.Add(float64(size))
}

// OnRelease implements arena.Observer.
func (m *Metrics) OnRelease() {
	if m == nil {
		return
	}
	m.releases.Inc()
}

// ObserveLoad records one instantiation attempt.
func (m *Metrics) ObserveLoad(err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(Outcome(err)).Inc()
}

// ObserveOperation records one facade call that started at start.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
	m.durations.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Outcome maps an operation error to its label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.HasKind(err, errors.KindInvalidInput), errors.HasKind(err, errors.KindInvalidUTF8):
		return OutcomeInvalid
	case errors.HasKind(err, errors.KindTrap):
		return OutcomeTrap
	default:
		return OutcomeFailure
	}
}
