package server

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/pipeline"
	"github.com/afroash/sensor-pipeline/internal/storage"
)

const (
	transportWebSocket = "websocket"
	transportREST      = "rest"
)

// Metrics counts adapter level events. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connections atomic.Int64

	mu       sync.Mutex
	accepted map[string]int64
	rejected map[string]int64
	messages map[models.MessageType]int64
}

// NewMetrics creates an empty metrics set
func NewMetrics() *Metrics {
	return &Metrics{
		accepted: make(map[string]int64),
		rejected: make(map[string]int64),
		messages: make(map[models.MessageType]int64),
	}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connections.Add(1)
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connections.Add(-1)
	}
}

func (m *Metrics) messageReceived(t models.MessageType) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.messages[t]++
	m.mu.Unlock()
}

func (m *Metrics) recordIngest(transport string, accepted, rejected int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.accepted[transport] += int64(accepted)
	m.rejected[transport] += int64(rejected)
	m.mu.Unlock()
}

// Families builds the metric families for the current pipeline state.
// writer may be nil when the archive is disabled.
func (m *Metrics) Families(stats pipeline.Stats, writer *storage.WriterStats) []*dto.MetricFamily {
	st := stats.Store
	families := []*dto.MetricFamily{
		gauge("sensor_pipeline_store_records", "Readings currently held in the store.", float64(st.CurrentRecords)),
		gauge("sensor_pipeline_store_capacity", "Maximum readings the store holds.", float64(st.MaxRecords)),
		gauge("sensor_pipeline_store_usage_percent", "Store fill level.", st.UsagePercent),
		counter("sensor_pipeline_store_evicted_total", "Readings evicted to make room.", float64(st.TotalEvicted)),
		counter("sensor_pipeline_ingested_total", "Readings accepted by the pipeline.", float64(stats.Ingested)),
		counter("sensor_pipeline_rejected_total", "Readings rejected by validation.", float64(stats.Rejected)),
		counter("sensor_pipeline_sink_dropped_total", "Accepted readings a sink could not take.", float64(stats.SinkDropped)),
		counter("sensor_pipeline_clean_runs_total", "Cleaning pipeline runs.", float64(stats.CleanRuns)),
		counter("sensor_pipeline_analyze_runs_total", "Analytics runs.", float64(stats.AnalyzeRuns)),
	}

	if writer != nil {
		families = append(families,
			counter("sensor_pipeline_archive_written_total", "Readings written to the archive.", float64(writer.TotalWritten)),
			counter("sensor_pipeline_archive_dropped_total", "Readings dropped by the archive queue.", float64(writer.TotalDropped)),
			counter("sensor_pipeline_archive_errors_total", "Archive batch write failures.", float64(writer.TotalErrors)),
			gauge("sensor_pipeline_archive_queue_length", "Readings waiting for the archive writer.", float64(writer.QueueLength)),
		)
	}

	if m == nil {
		return families
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	families = append(families,
		gauge("sensor_pipeline_ws_connections", "Open producer WebSocket connections.", float64(m.connections.Load())),
		labeled(counter("sensor_pipeline_transport_accepted_total", "Readings accepted per transport.", 0), "transport", m.accepted),
		labeled(counter("sensor_pipeline_transport_rejected_total", "Readings rejected per transport.", 0), "transport", m.rejected),
	)

	byType := make(map[string]int64, len(m.messages))
	for t, n := range m.messages {
		byType[string(t)] = n
	}
	families = append(families, labeled(counter("sensor_pipeline_ws_messages_total", "WebSocket messages received per type.", 0), "type", byType))

	return families
}

// Handler serves the text exposition format
func (m *Metrics) Handler(p ReadingPipeline, writerStats func() storage.WriterStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ws *storage.WriterStats
		if writerStats != nil {
			s := writerStats()
			ws = &s
		}

		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		for _, mf := range m.Families(p.Stats(), ws) {
			// the text format rejects families without samples
			if len(mf.Metric) == 0 {
				continue
			}
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return
			}
		}
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &v}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
	}
}

// labeled replaces the single sample of a counter family with one sample
// per label value, in label order
func labeled(mf *dto.MetricFamily, label string, values map[string]int64) *dto.MetricFamily {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf.Metric = make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		name, value, v := label, k, float64(values[k])
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: &name, Value: &value}},
			Counter: &dto.Counter{Value: &v},
		})
	}
	return mf
}
