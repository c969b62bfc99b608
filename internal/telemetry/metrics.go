package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/wisbric/clusterkeeper/pkg/metrics"
)

// NewRegistry creates a Prometheus registry with the Go/process
// collectors, mirroring the teacher's NewMetricsRegistry.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// PromEmitter implements metrics.Emitter on top of a Prometheus registry,
// pushed to a Pushgateway on Flush since clusterkeeper's binaries are
// short-lived batch/daemon processes rather than scrape targets.
type PromEmitter struct {
	reg      *prometheus.Registry
	pushURL  string
	job      string
	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// NewPromEmitter creates a Prometheus-backed Emitter. If pushURL is empty,
// Flush is a no-op (metrics are only visible via the returned registry,
// e.g. for in-process tests).
func NewPromEmitter(reg *prometheus.Registry, pushURL, job string) *PromEmitter {
	return &PromEmitter{
		reg:      reg,
		pushURL:  pushURL,
		job:      job,
		counters: map[string]*prometheus.CounterVec{},
		gauges:   map[string]*prometheus.GaugeVec{},
	}
}

func (e *PromEmitter) PutMetric(_ context.Context, name string, value float64, unit metrics.Unit, dims metrics.Dimensions) {
	e.mu.Lock()
	defer e.mu.Unlock()

	labelNames := make([]string, 0, len(dims))
	labels := prometheus.Labels{}
	for k, v := range dims {
		labelNames = append(labelNames, k)
		labels[k] = v
	}

	switch unit {
	case metrics.UnitCount:
		cv, ok := e.counters[name]
		if !ok {
			cv = prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "k8scluster",
				Name:      sanitize(name),
				Help:      fmt.Sprintf("%s count", name),
			}, labelNames)
			e.reg.MustRegister(cv)
			e.counters[name] = cv
		}
		cv.With(labels).Add(value)
	default:
		gv, ok := e.gauges[name]
		if !ok {
			gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "k8scluster",
				Name:      sanitize(name),
				Help:      fmt.Sprintf("%s value", name),
			}, labelNames)
			e.reg.MustRegister(gv)
			e.gauges[name] = gv
		}
		gv.With(labels).Set(value)
	}
}

func (e *PromEmitter) Flush(ctx context.Context) error {
	if e.pushURL == "" {
		return nil
	}
	pusher := push.New(e.pushURL, e.job).Gatherer(e.reg)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			out = append(out, r)
		case r >= '0' && r <= '9' && i > 0:
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
