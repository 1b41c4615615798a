package services

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/persistence"
)

func counterValue(t *testing.T, script, status string) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, promSingleton().runs.WithLabelValues(script, status).Write(&m))
	return m.GetCounter().GetValue()
}

func TestLoadMetrics_UpdatedExcludesAdded(t *testing.T) {
	t.Parallel()

	m := NewLoadMetrics(ScriptLoadDUNS, uuid.New(), nil)
	m.RecordChanges(
		persistence.Changes{Added: []string{"1", "2"}, Updated: []string{"3"}},
		persistence.Changes{Updated: []string{"1", "3", "4"}},
	)
	require.Equal(t, 2, m.RecordsAdded())
	require.Equal(t, 2, m.RecordsUpdated())
}

func TestLoadMetrics_Emit(t *testing.T) {
	start := time.Date(2021, 2, 6, 10, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }
	script := fmt.Sprintf("test_emit_%d", time.Now().UnixNano())
	runsBefore := counterValue(t, script, "failed")

	m := NewLoadMetrics(script, uuid.New(), now)
	m.SkipFile("SAM_FOUO_UTF-8_DAILY_V2_20210207.ZIP")
	clock = start.Add(90 * time.Second)
	m.Fail(fmt.Errorf("%w: daily missing", samerrors.ErrParse))

	dir := filepath.Join(t.TempDir(), "nested")
	path, err := m.Emit(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, script+"_metrics.json"), path)

	doc := readMetrics(t, dir, script)
	require.Equal(t, "failed", doc.Status)
	require.Equal(t, "SAM_PARSE_ERROR", doc.ErrorKind)
	require.InDelta(t, 90, doc.Duration, 0.001)
	require.Equal(t, "2021-02-06T10:00:00Z", doc.StartTime)
	require.Equal(t, []string{}, doc.FilesProcessed)
	require.Equal(t, []string{"SAM_FOUO_UTF-8_DAILY_V2_20210207.ZIP"}, doc.FilesSkipped)

	require.InDelta(t, runsBefore+1, counterValue(t, script, "failed"), 0)
}

func TestEmitAborted_WritesFailedDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runID := uuid.New()
	script := fmt.Sprintf("test_aborted_%d", time.Now().UnixNano())

	doc := EmitAborted(script, runID, fmt.Errorf("%w: missing upstream.wsdl", samerrors.ErrConfigInvalid), dir, "", nil)
	require.Equal(t, "failed", doc.Status)
	require.Equal(t, "SAM_CONFIG_INVALID", doc.ErrorKind)

	written := readMetrics(t, dir, script)
	require.Equal(t, runID.String(), written.RunID)
	require.Equal(t, "configuration invalid: missing upstream.wsdl", written.Error)
	require.Zero(t, written.RecordsProcessed)
	require.Equal(t, []string{}, written.FilesSkipped)
}
