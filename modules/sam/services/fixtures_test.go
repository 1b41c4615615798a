package services

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const v1Width = 202

// row builds a data line from V1 column positions. A non-empty uei produces the V2 layout.
func row(uei string, cells map[int]string) string {
	shift := 0
	if uei != "" {
		shift = 1
	}
	parts := make([]string, v1Width+shift)
	if shift == 1 {
		parts[0] = uei
	}
	for i, v := range cells {
		parts[i+shift] = v
	}
	return strings.Join(parts, "|")
}

func writeExtract(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create(strings.TrimSuffix(name, filepath.Ext(name)) + ".dat")
	require.NoError(t, err)
	body := "BOF PUBLIC\n" + strings.Join(lines, "\n") + "\nEOF PUBLIC\n"
	if len(lines) == 0 {
		body = "BOF PUBLIC\nEOF PUBLIC\n"
	}
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func readMetrics(t *testing.T, dir, script string) MetricsDocument {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(dir, script+"_metrics.json"))
	require.NoError(t, err)
	var doc MetricsDocument
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

// requireConsistent checks added + updated <= processed <= received.
func requireConsistent(t *testing.T, doc MetricsDocument) {
	t.Helper()

	require.LessOrEqual(t, doc.RecordsAdded+doc.RecordsUpdated, doc.RecordsProcessed)
	require.LessOrEqual(t, doc.RecordsProcessed, doc.RecordsReceived)
}
