/*
Package observability turns engine lifecycle hooks into Prometheus metrics and
structured log lines.

	m := observability.NewMetrics("cocoon")
	m.MustRegister(prometheus.DefaultRegisterer)
	hooks := m.Hooks().Merge(observability.LogHooks(logger))
*/
package observability
