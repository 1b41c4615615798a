package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/modules/sam/services"
	"github.com/iota-uz/sam-ingest/pkg/configuration"
)

func TestLoadOptions_RunOptions(t *testing.T) {
	t.Parallel()

	ro, err := loadOptions{dataType: "both", update: true, remote: true, reloadDate: "2021-03-14"}.runOptions()
	require.NoError(t, err)
	require.Equal(t, []extract.DataType{extract.Entities, extract.ExecComp}, ro.DataTypes)
	require.Equal(t, services.ModeUpdate, ro.Mode)
	require.Equal(t, time.Date(2021, 3, 14, 0, 0, 0, 0, time.UTC), ro.ReloadDate)

	ro, err = loadOptions{dataType: "duns", historic: true, local: "/data"}.runOptions()
	require.NoError(t, err)
	require.Equal(t, []extract.DataType{extract.Entities}, ro.DataTypes)
	require.Equal(t, services.ModeHistoric, ro.Mode)
	require.True(t, ro.ReloadDate.IsZero())
}

func TestLoadOptions_Conflicts(t *testing.T) {
	t.Parallel()

	cases := map[string]loadOptions{
		"missing data type":       {historic: true, local: "/data"},
		"unknown data type":       {dataType: "awards", historic: true, local: "/data"},
		"historic and update":     {dataType: "duns", historic: true, update: true, local: "/data"},
		"no mode":                 {dataType: "duns", local: "/data"},
		"local and remote":        {dataType: "duns", update: true, local: "/data", remote: true},
		"no source":               {dataType: "duns", update: true},
		"reload date on historic": {dataType: "duns", historic: true, local: "/data", reloadDate: "2021-03-14"},
		"bad reload date":         {dataType: "duns", update: true, local: "/data", reloadDate: "14/03/2021"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := opts.runOptions()
			require.ErrorIs(t, err, samerrors.ErrUsage)
			require.Equal(t, 1, exitCode(err))
		})
	}
}

func TestRootCmd_RejectsConflictingFlags(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd(&rootOptions{})
	cmd.SetArgs([]string{"load", "--data-type", "duns", "--historic", "--update", "--local", t.TempDir()})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.ErrorIs(t, err, samerrors.ErrUsage)
	require.Equal(t, "SAM_USAGE", samerrors.Kind(err))
}

func TestRootCmd_UnknownFlagIsUsageError(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd(&rootOptions{})
	cmd.SetArgs([]string{"load", "--monthly"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.ErrorIs(t, err, samerrors.ErrUsage)
	require.Equal(t, 1, exitCode(err))
}

func TestParentsOptions(t *testing.T) {
	t.Parallel()

	opts, err := parentsOptions{batchStart: 2, batchEnd: 5}.decorateOptions()
	require.NoError(t, err)
	require.Equal(t, 2, opts.BatchStart)
	require.Equal(t, 5, opts.BatchEnd)
	require.False(t, opts.ParentNameOnly)

	_, err = parentsOptions{batchStart: 5, batchEnd: 5}.decorateOptions()
	require.ErrorIs(t, err, samerrors.ErrUsage)
	_, err = parentsOptions{batchStart: -1}.decorateOptions()
	require.ErrorIs(t, err, samerrors.ErrUsage)
}

func TestCheckReadiness(t *testing.T) {
	t.Parallel()

	conf := &configuration.Configuration{}
	r := checkReadiness(conf)
	require.False(t, r.Ready)
	require.Len(t, r.Problems, 2)

	conf.SAM = configuration.SAMOptions{WSDL: "https://sam.example/ws?wsdl", Username: "u", Password: "p", HTTPAPIURL: "https://files.example"}
	r = checkReadiness(conf)
	require.True(t, r.Ready)
	require.True(t, r.LookupReady)
	require.True(t, r.HTTPConfigured)
	require.False(t, r.SFTPConfigured)

	var buf bytes.Buffer
	require.NoError(t, writeJSONLine(&buf, r))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, true, decoded["ready"])
	require.NotContains(t, decoded, "database_ok")
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, 1, exitCode(errors.New("boom")))
	require.Equal(t, 1, exitCode(fmt.Errorf("%w: bad flag", samerrors.ErrUsage)))
}
