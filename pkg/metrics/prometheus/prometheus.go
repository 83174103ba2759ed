// Package prometheus implements metrics.Reporter over
// prometheus/client_golang. Nothing is pre-registered: each metric name's
// Gauge/Counter/Histogram/Summary vector is created and registered lazily on
// the first report of that name, labelled by that report's tag names.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulala-x/playhouse-go/pkg/metrics"
)

// Reporter implements metrics.Reporter by fanning every report into a
// GaugeVec/CounterVec/HistogramVec/SummaryVec keyed on the tag names first
// seen for that metric name.
type Reporter struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	gauges     map[string]*prometheus.GaugeVec
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	summaries  map[string]*prometheus.SummaryVec
}

// New builds a Reporter registered against reg. Pass prometheus.NewRegistry()
// for an isolated registry, or prometheus.DefaultRegisterer-wrapped one for
// the process-wide default.
func New(reg *prometheus.Registry) *Reporter {
	return &Reporter{
		registry:   reg,
		gauges:     make(map[string]*prometheus.GaugeVec),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		summaries:  make(map[string]*prometheus.SummaryVec),
	}
}

func tagNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	return names
}

func (r *Reporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, tagNames(tags))
		r.registry.MustRegister(g)
		r.gauges[name] = g
	}
	g.With(tags).Set(value)
}

func (r *Reporter) ReportCounter(name string, tags map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, tagNames(tags))
		r.registry.MustRegister(c)
		r.counters[name] = c
	}
	c.With(tags).Add(value)
}

func (r *Reporter) ReportHistogram(name string, tags map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, tagNames(tags))
		r.registry.MustRegister(h)
		r.histograms[name] = h
	}
	h.With(tags).Observe(value)
}

func (r *Reporter) ReportSummary(name string, tags map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[name]
	if !ok {
		s = prometheus.NewSummaryVec(prometheus.SummaryOpts{Name: name}, tagNames(tags))
		r.registry.MustRegister(s)
		r.summaries[name] = s
	}
	s.With(tags).Observe(value)
}

var _ metrics.Reporter = (*Reporter)(nil)
