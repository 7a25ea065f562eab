package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	triggers         *prom.CounterVec
	selectionSize    prom.Histogram
	skippedResources prom.Counter
	buildDuration    *prom.HistogramVec
	buildOutcome     *prom.CounterVec
	queueDepth       prom.Gauge
	activeModules    prom.Gauge
	disabledModules  prom.Gauge
}

// NewPrometheusRecorder constructs and registers all coordinator metrics
// on reg. A nil registry gets a fresh private one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		triggers: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "modset",
			Name:      "triggers_total",
			Help:      "Build triggers received by kind",
		}, []string{"kind"}),
		selectionSize: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "modset",
			Name:      "selection_size_modules",
			Help:      "Number of modules selected per build trigger",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		skippedResources: prom.NewCounter(prom.CounterOpts{
			Namespace: "modset",
			Name:      "skipped_resource_declarations_total",
			Help:      "Malformed resource activity declarations skipped",
		}),
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "modset",
			Name:      "build_duration_seconds",
			Help:      "Duration of module and aggregate builds",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "modset",
			Name:      "build_outcomes_total",
			Help:      "Completed builds by final result",
		}, []string{"result"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "modset",
			Name:      "queue_depth",
			Help:      "Pending build jobs",
		}),
		activeModules: prom.NewGauge(prom.GaugeOpts{
			Namespace: "modset",
			Name:      "modules_active",
			Help:      "Registered non-disabled modules",
		}),
		disabledModules: prom.NewGauge(prom.GaugeOpts{
			Namespace: "modset",
			Name:      "modules_disabled",
			Help:      "Registered disabled modules",
		}),
	}
	reg.MustRegister(pr.triggers, pr.selectionSize, pr.skippedResources,
		pr.buildDuration, pr.buildOutcome, pr.queueDepth,
		pr.activeModules, pr.disabledModules)
	return pr
}

// HTTPHandler returns an http.Handler serving Prometheus metrics for the registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.DefaultRegisterer.(*prom.Registry)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) IncTrigger(kind string) {
	if p == nil || p.triggers == nil {
		return
	}
	p.triggers.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) ObserveSelectionSize(n int) {
	if p == nil || p.selectionSize == nil {
		return
	}
	p.selectionSize.Observe(float64(n))
}

func (p *PrometheusRecorder) IncSkippedResourceDeclarations() {
	if p == nil || p.skippedResources == nil {
		return
	}
	p.skippedResources.Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(kind string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(result string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetRegisteredModules(active, disabled int) {
	if p == nil || p.activeModules == nil {
		return
	}
	p.activeModules.Set(float64(active))
	p.disabledModules.Set(float64(disabled))
}
