// Package metrics defines the Reporter boundary spec §4.14 describes.
// Grounded on the teacher's metrics.Reporter interface, implemented by both
// a Prometheus and a DataDog backend so the module can run under either.
package metrics

// Reporter is the sink every metrics-emitting site in this module writes
// through; nil-safe callers should use Nop when metrics aren't configured.
type Reporter interface {
	ReportGauge(name string, tags map[string]string, value float64)
	ReportCounter(name string, tags map[string]string, value float64)
	ReportHistogram(name string, tags map[string]string, value float64)
	ReportSummary(name string, tags map[string]string, value float64)
}

// Names of the metrics spec §4.14 enumerates.
const (
	StageQueueDepth              = "stage_queue_depth"
	StageDispatchDurationSeconds = "stage_dispatch_duration_seconds"
	SessionConnectedTotal        = "session_connected_total"
	HeartbeatTimeoutTotal        = "heartbeat_timeout_total"
	RequestTimeoutTotal          = "request_timeout_total"
	RouterPeerQueueDepth         = "router_peer_queue_depth"
	RouterBackpressureRejected   = "router_backpressure_rejected_total"
)

// nopReporter discards every report; used where no Reporter was configured.
type nopReporter struct{}

func (nopReporter) ReportGauge(string, map[string]string, float64)     {}
func (nopReporter) ReportCounter(string, map[string]string, float64)   {}
func (nopReporter) ReportHistogram(string, map[string]string, float64) {}
func (nopReporter) ReportSummary(string, map[string]string, float64)   {}

// Nop is a Reporter that discards everything.
var Nop Reporter = nopReporter{}
