package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type VestingMetrics struct {
	operations     *prometheus.CounterVec
	opFailures     *prometheus.CounterVec
	claimedTotal   prometheus.Counter
	seizedTotal    prometheus.Counter
	recipientsLive prometheus.Gauge
	dustBalance    prometheus.Gauge
}

var (
	vestingOnce     sync.Once
	vestingRegistry *VestingMetrics
)

// Vesting returns the process-wide vesting metric set, registering the
// collectors on first use.
func Vesting() *VestingMetrics {
	vestingOnce.Do(func() {
		vestingRegistry = &VestingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vesting_operations_total",
				Help: "Count of completed vesting operations by kind.",
			}, []string{"op"}),
			opFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vesting_operation_failures_total",
				Help: "Count of rejected vesting operations by kind.",
			}, []string{"op"}),
			claimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vesting_claimed_units_total",
				Help: "Cumulative claimed base units paid out to recipients.",
			}),
			seizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vesting_seized_units_total",
				Help: "Cumulative base units swept to the safe address.",
			}),
			recipientsLive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vesting_recipients_live",
				Help: "Number of recipients with a non-terminated schedule.",
			}),
			dustBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vesting_dust_balance",
				Help: "Current unallocated dust balance in base units.",
			}),
		}
		prometheus.MustRegister(
			vestingRegistry.operations,
			vestingRegistry.opFailures,
			vestingRegistry.claimedTotal,
			vestingRegistry.seizedTotal,
			vestingRegistry.recipientsLive,
			vestingRegistry.dustBalance,
		)
	})
	return vestingRegistry
}

func (m *VestingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		m.opFailures.WithLabelValues(op).Inc()
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

func (m *VestingMetrics) AddClaimed(units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.claimedTotal.Add(units)
}

func (m *VestingMetrics) AddSeized(units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.seizedTotal.Add(units)
}

func (m *VestingMetrics) SetLiveRecipients(count float64) {
	if m == nil {
		return
	}
	m.recipientsLive.Set(count)
}

func (m *VestingMetrics) SetDustBalance(units float64) {
	if m == nil {
		return
	}
	m.dustBalance.Set(units)
}
