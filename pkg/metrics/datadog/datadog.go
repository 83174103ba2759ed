// Package datadog implements metrics.Reporter over DataDog/datadog-go's
// statsd client, the teacher's second metrics backend alongside Prometheus.
package datadog

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/ulala-x/playhouse-go/pkg/metrics"
)

// Reporter implements metrics.Reporter over a statsd.Client.
type Reporter struct {
	client *statsd.Client
}

// New dials addr (host:port of the dogstatsd agent) with the given constant
// tags (e.g. env, service) applied to every report.
func New(addr string, constantTags ...string) (*Reporter, error) {
	client, err := statsd.New(addr, statsd.WithTags(constantTags))
	if err != nil {
		return nil, err
	}
	return &Reporter{client: client}, nil
}

func toTags(tags map[string]string) []string {
	out := make([]string, 0, len(tags))
	for k, v := range tags {
		out = append(out, fmt.Sprintf("%s:%s", k, v))
	}
	return out
}

func (r *Reporter) ReportGauge(name string, tags map[string]string, value float64) {
	_ = r.client.Gauge(name, value, toTags(tags), 1)
}

func (r *Reporter) ReportCounter(name string, tags map[string]string, value float64) {
	_ = r.client.Count(name, int64(value), toTags(tags), 1)
}

func (r *Reporter) ReportHistogram(name string, tags map[string]string, value float64) {
	_ = r.client.Histogram(name, value, toTags(tags), 1)
}

func (r *Reporter) ReportSummary(name string, tags map[string]string, value float64) {
	_ = r.client.Distribution(name, value, toTags(tags), 1)
}

// Close flushes and closes the underlying statsd client.
func (r *Reporter) Close() error { return r.client.Close() }

var _ metrics.Reporter = (*Reporter)(nil)
