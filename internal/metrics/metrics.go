package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/ingest"
)

// Metrics provides observability for import runs and the document store.
// It satisfies both ingest.Recorder and docstore.Recorder.
type Metrics struct {
	// Import runs by terminal state and whether they were partial
	Runs *prometheus.CounterVec

	// Import run duration
	RunDuration prometheus.Histogram

	// Files seen by the committer, by outcome
	Files *prometheus.CounterVec

	// Batch commits by result ("ok", "error")
	Batches *prometheus.CounterVec

	// Batch commit latency
	CommitLatency prometheus.Histogram

	// Documents touched by committed batches, by outcome
	BatchDocuments *prometheus.CounterVec

	// Documents in the store as of the last load, plus inserts since
	Documents prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalxml_import_runs_total",
			Help: "Total import runs by terminal state",
		}, []string{"state", "partial"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscalxml_import_run_duration_seconds",
			Help:    "Duration of import runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),

		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalxml_import_files_total",
			Help: "Files processed by import runs, by outcome",
		}, []string{"outcome"}), // extracted, duplicate, or an error kind

		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalxml_store_batches_total",
			Help: "Batch commits by result",
		}, []string{"result"}),

		CommitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscalxml_store_commit_duration_seconds",
			Help:    "Duration of batch commits",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		BatchDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalxml_store_batch_documents_total",
			Help: "Documents in committed batches, by outcome",
		}, []string{"outcome"}),

		Documents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fiscalxml_store_documents",
			Help: "Documents in the store",
		}),
	}
}

// FileProcessed records one file outcome of an import run.
func (m *Metrics) FileProcessed(outcome string) {
	if m != nil {
		m.Files.WithLabelValues(outcome).Inc()
	}
}

// RunFinished records the end of an import run.
func (m *Metrics) RunFinished(state ingest.State, partial bool, elapsed time.Duration) {
	if m != nil {
		m.Runs.WithLabelValues(state.String(), strconv.FormatBool(partial)).Inc()
		m.RunDuration.Observe(elapsed.Seconds())
	}
}

// ObserveCommit records a batch commit.
func (m *Metrics) ObserveCommit(elapsed time.Duration, res docstore.UpsertResult, err error) {
	if m == nil {
		return
	}
	m.CommitLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.Batches.WithLabelValues("error").Inc()
		return
	}
	m.Batches.WithLabelValues("ok").Inc()
	m.BatchDocuments.WithLabelValues("inserted").Add(float64(res.Inserted))
	m.BatchDocuments.WithLabelValues("replaced").Add(float64(res.Replaced))
	m.BatchDocuments.WithLabelValues("duplicate").Add(float64(res.Duplicates))
	m.BatchDocuments.WithLabelValues("transition").Add(float64(res.Transitions))
	m.BatchDocuments.WithLabelValues("deferred").Add(float64(res.Deferred))
	m.Documents.Add(float64(res.Inserted))
}

// SetDocuments sets the stored document count.
func (m *Metrics) SetDocuments(n int) {
	if m != nil {
		m.Documents.Set(float64(n))
	}
}

var (
	_ ingest.Recorder   = (*Metrics)(nil)
	_ docstore.Recorder = (*Metrics)(nil)
)
