package logger

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters are incremented regardless of log sampling
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total404Errors atomic.Int64
	SlowRequests   atomic.Int64
)

func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
	if status == 404 {
		Total404Errors.Add(1)
	}
}

func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

// RegisterMetrics exposes the counters as Prometheus counters
func RegisterMetrics(reg prometheus.Registerer) error {
	counters := []struct {
		name, help string
		value      *atomic.Int64
	}{
		{"log_errors_total", "Errors reported through the logger, before sampling", &TotalErrors},
		{"log_warnings_total", "Warnings reported through the logger, before sampling", &TotalWarnings},
		{"http_responses_5xx_total", "HTTP responses with a 5xx status", &Total5xxErrors},
		{"http_responses_4xx_total", "HTTP responses with a 4xx status", &Total4xxErrors},
		{"http_responses_404_total", "HTTP responses with a 404 status", &Total404Errors},
		{"http_slow_requests_total", "HTTP requests slower than the configured threshold", &SlowRequests},
	}

	for _, c := range counters {
		value := c.value
		err := reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "workflows",
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(value.Load()) }))
		if err != nil {
			return err
		}
	}
	return nil
}
