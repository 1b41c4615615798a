package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
)

func monthlies(t *testing.T, names ...string) []extract.FileName {
	t.Helper()

	out := make([]extract.FileName, 0, len(names))
	for _, n := range names {
		f, err := extract.ParseFileName(n)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func fileNames(files []extract.FileName) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestYearEndMonthlies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		files []string
		want  []string
	}{
		{
			name: "latest year not yet closed",
			files: []string{
				"SAM_FOUO_UTF-8_MONTHLY_V2_20201206.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20201227.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20210606.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20211205.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20220306.ZIP",
			},
			want: []string{
				"SAM_FOUO_UTF-8_MONTHLY_V2_20201227.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20211205.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20220306.ZIP",
			},
		},
		{
			name: "latest is a december file",
			files: []string{
				"SAM_FOUO_UTF-8_MONTHLY_V2_20210606.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20211205.ZIP",
			},
			want: []string{"SAM_FOUO_UTF-8_MONTHLY_V2_20211205.ZIP"},
		},
		{
			name: "no december yet",
			files: []string{
				"SAM_FOUO_UTF-8_MONTHLY_V2_20210207.ZIP",
				"SAM_FOUO_UTF-8_MONTHLY_V2_20210307.ZIP",
			},
			want: []string{"SAM_FOUO_UTF-8_MONTHLY_V2_20210307.ZIP"},
		},
		{name: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := fileNames(YearEndMonthlies(monthlies(t, tc.files...)))
			if tc.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLoader_RunHistoricParents(t *testing.T) {
	t.Parallel()

	dir, metricsDir := t.TempDir(), t.TempDir()
	writeExtract(t, dir, "SAM_FOUO_UTF-8_MONTHLY_V2_20201227.ZIP",
		row("UEI000000001", map[int]string{0: "000000001", 4: "A", 10: "One", 199: "Old Parent", 201: "000000090"}),
	)
	writeExtract(t, dir, "SAM_FOUO_UTF-8_MONTHLY_V2_20210606.ZIP",
		row("UEI000000001", map[int]string{0: "000000001", 4: "A", 10: "One", 199: "Mid Parent", 201: "000000091"}),
	)
	writeExtract(t, dir, "SAM_FOUO_UTF-8_MONTHLY_V2_20211205.ZIP",
		row("UEI000000001", map[int]string{0: "000000001", 4: "A", 10: "One", 199: "New Parent", 201: "000000092"}),
		row("UEI000000002", map[int]string{0: "000000002", 4: "A", 10: "Two"}),
	)
	store := newMemStore()

	doc, err := localLoader(store, dir, metricsDir).RunHistoricParents(context.Background(), uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, []string{
		"SAM_FOUO_UTF-8_MONTHLY_V2_20201227.ZIP",
		"SAM_FOUO_UTF-8_MONTHLY_V2_20211205.ZIP",
	}, doc.FilesProcessed)
	require.Equal(t, 3, doc.RecordsAdded)
	requireConsistent(t, doc)

	require.Len(t, store.parents, 3)
	p2020 := store.parents["000000001:2020"]
	require.Equal(t, "000000090", p2020.ParentDUNS)
	require.Equal(t, "Old Parent", p2020.ParentLegalName)
	require.Equal(t, "UEI000000001", p2020.UEI)
	require.Equal(t, "000000092", store.parents["000000001:2021"].ParentDUNS)
	require.Empty(t, store.entities, "the registry itself is untouched")

	require.Equal(t, "success", readMetrics(t, metricsDir, ScriptLoadHistoricParents).Status)
}

func TestLoader_RunHistoricParentsNeedsListing(t *testing.T) {
	t.Parallel()

	metricsDir := t.TempDir()
	loader := NewLoader(LoaderOptions{
		Store:      newMemStore(),
		Catalog:    NewCatalog(nil, nil),
		Fetcher:    LocalFiles{Dir: t.TempDir()},
		MetricsDir: metricsDir,
	})
	_, err := loader.RunHistoricParents(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, samerrors.ErrConfigInvalid)
	require.Equal(t, "SAM_CONFIG_INVALID", readMetrics(t, metricsDir, ScriptLoadHistoricParents).ErrorKind)
}
