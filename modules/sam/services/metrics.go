package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/persistence"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/samfile"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

// Metrics script names; the document is written to <script>_metrics.json.
const (
	ScriptLoadDUNS            = "load_duns"
	ScriptLoadDUNSExecComp    = "load_duns_exec_comp"
	ScriptUpdateParentNames   = "update_parent_names"
	ScriptLoadHistoricParents = "load_historic_parent_duns"
)

type promMetrics struct {
	runs             *prometheus.CounterVec
	filesProcessed   *prometheus.CounterVec
	filesSkipped     *prometheus.CounterVec
	recordsReceived  *prometheus.CounterVec
	recordsProcessed *prometheus.CounterVec
	recordsAdded     *prometheus.CounterVec
	recordsUpdated   *prometheus.CounterVec
	parentRows       *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
}

var promSingleton = sync.OnceValue(func() *promMetrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "sam_loader", Name: name, Help: help}, labels)
	}
	return &promMetrics{
		runs:             counter("runs_total", "Total number of loader runs by outcome.", "script", "status"),
		filesProcessed:   counter("files_processed_total", "Extract files applied.", "script"),
		filesSkipped:     counter("files_skipped_total", "Extract files missing upstream and skipped.", "script"),
		recordsReceived:  counter("records_received_total", "Data rows read from extracts or lookups.", "script"),
		recordsProcessed: counter("records_processed_total", "Rows handed to the staging engine.", "script"),
		recordsAdded:     counter("records_added_total", "Distinct keys inserted.", "script"),
		recordsUpdated:   counter("records_updated_total", "Distinct keys updated and not inserted in the same run.", "script"),
		parentRows:       counter("parent_rows_updated_total", "Rows whose parent name was backfilled.", "script"),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sam_loader",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of loader runs.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"script"}),
	}
})

// LoadMetrics accumulates the counters and key sets of one run. It is not safe for concurrent use.
type LoadMetrics struct {
	Script    string
	RunID     uuid.UUID
	StartedAt time.Time

	FilesProcessed []string
	FilesSkipped   []string

	RecordsReceived   int
	RecordsProcessed  int
	AddsReceived      int
	UpdatesReceived   int
	DeletesReceived   int
	ParentRowsUpdated int64

	added   map[string]struct{}
	updated map[string]struct{}
	err     error
	now     func() time.Time
}

func NewLoadMetrics(script string, runID uuid.UUID, now func() time.Time) *LoadMetrics {
	if now == nil {
		now = time.Now
	}
	return &LoadMetrics{
		Script:    script,
		RunID:     runID,
		StartedAt: now(),
		added:     map[string]struct{}{},
		updated:   map[string]struct{}{},
		now:       now,
	}
}

func (m *LoadMetrics) RecordEntityFile(res *samfile.EntityResult) {
	m.FilesProcessed = append(m.FilesProcessed, res.File.Name)
	m.RecordsReceived += res.Received
	m.RecordsProcessed += res.Processed()
	m.AddsReceived += res.Adds
	m.UpdatesReceived += res.Updates
	m.DeletesReceived += res.Deletes
}

func (m *LoadMetrics) RecordExecCompFile(res *samfile.ExecCompResult) {
	m.FilesProcessed = append(m.FilesProcessed, res.File.Name)
	m.RecordsReceived += res.Received
	m.RecordsProcessed += len(res.Rows)
}

func (m *LoadMetrics) SkipFile(name string) {
	m.FilesSkipped = append(m.FilesSkipped, name)
}

// RecordChanges merges the key sets reported by the staging engine. Keys repeat across files.
func (m *LoadMetrics) RecordChanges(changes ...persistence.Changes) {
	for _, ch := range changes {
		for _, k := range ch.Added {
			m.added[k] = struct{}{}
		}
		for _, k := range ch.Updated {
			m.updated[k] = struct{}{}
		}
	}
}

// Fail marks the run as failed with err.
func (m *LoadMetrics) Fail(err error) {
	m.err = err
}

// RecordsAdded is |added|.
func (m *LoadMetrics) RecordsAdded() int {
	return len(m.added)
}

// RecordsUpdated is |updated - added|.
func (m *LoadMetrics) RecordsUpdated() int {
	n := 0
	for k := range m.updated {
		if _, ok := m.added[k]; !ok {
			n++
		}
	}
	return n
}

type MetricsDocument struct {
	Script            string   `json:"script_name"`
	RunID             string   `json:"run_id"`
	StartTime         string   `json:"start_time"`
	EndTime           string   `json:"end_time"`
	Duration          float64  `json:"duration"`
	Status            string   `json:"status"`
	ErrorKind         string   `json:"error_kind,omitempty"`
	Error             string   `json:"error,omitempty"`
	FilesProcessed    []string `json:"files_processed"`
	FilesSkipped      []string `json:"files_skipped"`
	RecordsReceived   int      `json:"records_received"`
	RecordsProcessed  int      `json:"records_processed"`
	AddsReceived      int      `json:"adds_received"`
	UpdatesReceived   int      `json:"updates_received"`
	DeletesReceived   int      `json:"deletes_received"`
	ParentRowsUpdated int64    `json:"parent_rows_updated"`
	RecordsAdded      int      `json:"records_added"`
	RecordsUpdated    int      `json:"records_updated"`
}

// Document snapshots the run at the current time.
func (m *LoadMetrics) Document() MetricsDocument {
	end := m.now()
	doc := MetricsDocument{
		Script:            m.Script,
		RunID:             m.RunID.String(),
		StartTime:         m.StartedAt.UTC().Format(time.RFC3339),
		EndTime:           end.UTC().Format(time.RFC3339),
		Duration:          end.Sub(m.StartedAt).Seconds(),
		Status:            "success",
		FilesProcessed:    nonNil(m.FilesProcessed),
		FilesSkipped:      nonNil(m.FilesSkipped),
		RecordsReceived:   m.RecordsReceived,
		RecordsProcessed:  m.RecordsProcessed,
		AddsReceived:      m.AddsReceived,
		UpdatesReceived:   m.UpdatesReceived,
		DeletesReceived:   m.DeletesReceived,
		ParentRowsUpdated: m.ParentRowsUpdated,
		RecordsAdded:      m.RecordsAdded(),
		RecordsUpdated:    m.RecordsUpdated(),
	}
	if m.err != nil {
		doc.Status = "failed"
		doc.ErrorKind = samerrors.Kind(m.err)
		doc.Error = m.err.Error()
	}
	return doc
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Emit writes the metrics document to dir/<script>_metrics.json and mirrors the totals into the
// sam_loader Prometheus counters.
func (m *LoadMetrics) Emit(dir string) (string, error) {
	doc := m.Document()
	m.observe(doc)

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create metrics dir %s", dir)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode metrics")
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_metrics.json", m.Script))
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil { //nolint:gosec
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}

func (m *LoadMetrics) observe(doc MetricsDocument) {
	p := promSingleton()
	p.runs.WithLabelValues(m.Script, doc.Status).Inc()
	p.filesProcessed.WithLabelValues(m.Script).Add(float64(len(doc.FilesProcessed)))
	p.filesSkipped.WithLabelValues(m.Script).Add(float64(len(doc.FilesSkipped)))
	p.recordsReceived.WithLabelValues(m.Script).Add(float64(doc.RecordsReceived))
	p.recordsProcessed.WithLabelValues(m.Script).Add(float64(doc.RecordsProcessed))
	p.recordsAdded.WithLabelValues(m.Script).Add(float64(doc.RecordsAdded))
	p.recordsUpdated.WithLabelValues(m.Script).Add(float64(doc.RecordsUpdated))
	p.parentRows.WithLabelValues(m.Script).Add(float64(doc.ParentRowsUpdated))
	p.runDuration.WithLabelValues(m.Script).Observe(doc.Duration)
}

// pushMetrics sends the default registry to a Pushgateway. Failures are logged and swallowed.
func pushMetrics(url, script string, runID uuid.UUID, logger *logrus.Entry) {
	if url == "" {
		return
	}
	err := push.New(url, "sam_loader").
		Gatherer(prometheus.DefaultGatherer).
		Grouping("script", script).
		Grouping("run_id", runID.String()).
		Push()
	if err != nil {
		logger.WithError(err).Warn("metrics push failed")
	}
}

// emitMetrics records the terminal state of a run, writes the document and pushes the counters.
func emitMetrics(m *LoadMetrics, runErr error, dir, pushURL string, logger *logrus.Entry) {
	if runErr != nil {
		m.Fail(runErr)
	}
	path, err := m.Emit(dir)
	if err != nil {
		logger.WithError(err).WithField("stage", stageEmitMetrics).Error("metrics not written")
	} else {
		logger.WithFields(logrus.Fields{"stage": stageEmitMetrics, "path": path}).Info("metrics written")
	}
	pushMetrics(pushURL, m.Script, m.RunID, logger)
}

// EmitAborted writes the failed document of a run that stopped before its coordinator started, for
// example when the database or the file transport could not be reached.
func EmitAborted(script string, runID uuid.UUID, runErr error, dir, pushURL string, logger *logrus.Entry) MetricsDocument {
	if logger == nil {
		logger = logging.Nop()
	}
	m := NewLoadMetrics(script, runID, nil)
	emitMetrics(m, runErr, dir, pushURL, logger)
	return m.Document()
}
