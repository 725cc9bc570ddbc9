// Package metrics exposes isolatord's Prometheus metrics (SPEC_FULL.md
// §D observability), grounded on the reference pack's
// pkg/metrics.Registry pattern: a dedicated prometheus.Registry plus a
// handful of GaugeFunc collectors that sample the live Global Registry,
// Pool Scheduler, and CPU Supervisor on every scrape rather than needing
// those components to push updates themselves.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/scheduler"
	"github.com/merlinfuchs/isolator/internal/supervisor"
)

// Metrics owns isolatord's Prometheus registry and collectors.
type Metrics struct {
	registry *prometheus.Registry
}

// New builds a Metrics that samples reg, sched, and sup on every scrape.
func New(reg *registry.Registry, sched *scheduler.Scheduler, sup *supervisor.Supervisor) *Metrics {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promReg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "isolator",
			Name:      "live_isolates",
			Help:      "Number of isolates currently registered in the Global Registry.",
		},
		func() float64 { return float64(reg.Len()) },
	))

	promReg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "isolator",
			Subsystem: "scheduler",
			Name:      "slots_in_use",
			Help:      "Number of Pool Scheduler slots currently occupied by a running script.",
		},
		func() float64 { return float64(sched.InUse()) },
	))

	promReg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "isolator",
			Subsystem: "scheduler",
			Name:      "slots_capacity",
			Help:      "Configured max_thread_count for the Pool Scheduler.",
		},
		func() float64 { return float64(sched.Capacity()) },
	))

	promReg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "isolator",
			Subsystem: "supervisor",
			Name:      "terminations_total",
			Help:      "Total number of Terminate calls the CPU Supervisor has issued for CPU or heap budget overruns (an isolate still over budget on a later tick is counted again).",
		},
		func() float64 { return float64(sup.TerminationCount()) },
	))

	return &Metrics{registry: promReg}
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
