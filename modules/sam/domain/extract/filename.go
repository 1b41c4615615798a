// Package extract models SAM extract file names and their pipe-delimited layouts.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
)

// FirstMonthly is the earliest monthly snapshot offered by the HTTP file API.
var FirstMonthly = time.Date(2021, time.February, 1, 0, 0, 0, 0, time.UTC)

const dateLayout = "20060102"

type DataType string

const (
	Entities DataType = "duns"
	ExecComp DataType = "exec_comp"
)

func (d DataType) Valid() bool {
	return d == Entities || d == ExecComp
}

type Cadence string

const (
	Monthly Cadence = "MONTHLY"
	Daily   Cadence = "DAILY"
)

type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

func (v Version) String() string {
	return fmt.Sprintf("V%d", int(v))
}

var fileNamePattern = regexp.MustCompile(`(?i)(MONTHLY|DAILY)(_V2)?_(\d{8})\.ZIP$`)

// FileName is a classified extract file name.
type FileName struct {
	Name     string
	DataType DataType
	Cadence  Cadence
	Version  Version
	Date     time.Time
}

// ParseFileName classifies name. The data type comes from the EXECCOMP token and the version from
// the V2 token; names that match neither cadence pattern fail with ErrParse.
func ParseFileName(name string) (FileName, error) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return FileName{}, fmt.Errorf("%w: unrecognised extract file name %q", samerrors.ErrParse, name)
	}
	date, err := time.Parse(dateLayout, m[3])
	if err != nil {
		return FileName{}, fmt.Errorf("%w: bad date in %q: %v", samerrors.ErrParse, name, err)
	}
	f := FileName{
		Name:     name,
		DataType: Entities,
		Cadence:  Cadence(strings.ToUpper(m[1])),
		Version:  V1,
		Date:     date,
	}
	if m[2] != "" {
		f.Version = V2
	}
	if strings.Contains(strings.ToUpper(name), "EXECCOMP") {
		f.DataType = ExecComp
	}
	return f, nil
}

// Format builds the V2 file name the HTTP file API serves for the given data type, cadence and date.
func Format(dataType DataType, cadence Cadence, date time.Time) string {
	prefix := "SAM_FOUO_UTF-8"
	if dataType == ExecComp {
		prefix = "SAM_EXECCOMP_UTF-8"
	}
	return fmt.Sprintf("%s_%s_V2_%s.ZIP", prefix, cadence, date.UTC().Format(dateLayout))
}

// ParseDate parses a YYYYMMDD extract date. Invalid or empty input yields the zero time.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if len(s) != len(dateLayout) {
		return time.Time{}
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
