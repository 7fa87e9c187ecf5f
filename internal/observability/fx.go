// Package observability wires the prometheus instruments shared across the
// HTTP surface and the session manager.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/repairlane/repairlane/internal/observability/metrics"
	"go.uber.org/fx"
)

func provideRegistry() (*prometheus.Registry, prometheus.Registerer, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, reg, reg
}

var Module = fx.Module("observability",
	fx.Provide(
		provideRegistry,
		metrics.NewHTTPMetrics,
		metrics.NewSessionMetrics,
	),
)
