// ABOUTME: Prometheus metrics for tool calls and the loaded connector inventory
// ABOUTME: Registered on a private registry exposed by the gateway at /metrics

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
)

// Metrics holds the dispatch collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	unitsLoaded  prometheus.Gauge
	toolsLoaded  prometheus.Gauge
	loadFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coreassist_tool_calls_total",
				Help: "Total number of tool calls by connector and outcome",
			},
			[]string{"unit", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coreassist_tool_call_duration_seconds",
				Help:    "Duration of tool calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"unit"},
		),
		unitsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coreassist_units_loaded",
			Help: "Number of connectors currently loaded",
		}),
		toolsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coreassist_tools_loaded",
			Help: "Number of tools currently loaded",
		}),
		loadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coreassist_unit_load_failures_total",
				Help: "Total number of failed connector loads",
			},
			[]string{"unit"},
		),
	}
	m.registry.MustRegister(
		m.calls,
		m.callDuration,
		m.unitsLoaded,
		m.toolsLoaded,
		m.loadFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer returns the registry to expose over HTTP.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) observeCall(unit, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(unit, outcome).Inc()
	m.callDuration.WithLabelValues(unit).Observe(d.Seconds())
}

// SetInventory sets the loaded connector and tool gauges.
func (m *Metrics) SetInventory(units, tools int) {
	if m == nil {
		return
	}
	m.unitsLoaded.Set(float64(units))
	m.toolsLoaded.Set(float64(tools))
}

// RegistryObserver returns a connector.Observer that keeps the inventory
// gauges in step with reg and counts load failures.
func (m *Metrics) RegistryObserver(reg *connector.Registry) connector.Observer {
	return func(ev connector.Event) {
		if m == nil {
			return
		}
		if ev.Err != nil {
			m.loadFailures.WithLabelValues(ev.Unit).Inc()
		}
		m.SetInventory(reg.Len(), reg.ToolCount())
	}
}
