package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
)

// Lister enumerates the extract file names available for a data type.
type Lister interface {
	List(ctx context.Context, dataType extract.DataType) ([]string, error)
}

// FileSet is the catalog of one data type in chronological order.
type FileSet struct {
	Monthly []extract.FileName
	Daily   []extract.FileName
	// Listed is false when the names were synthesized rather than read from a listing.
	Listed bool
}

// Catalog resolves the available files for a data type. Without a Lister it synthesizes the names
// the HTTP file API is expected to serve.
type Catalog struct {
	lister Lister
	now    func() time.Time
}

func NewCatalog(lister Lister, now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{lister: lister, now: now}
}

func (c *Catalog) Files(ctx context.Context, dataType extract.DataType) (FileSet, error) {
	if c.lister == nil {
		return SynthesizeFiles(dataType, c.now()), nil
	}
	names, err := c.lister.List(ctx, dataType)
	if err != nil {
		return FileSet{}, err
	}
	return classifyListing(names, dataType), nil
}

// classifyListing keeps the recognised names of dataType and orders each cadence by date then name.
func classifyListing(names []string, dataType extract.DataType) FileSet {
	set := FileSet{Listed: true}
	for _, n := range names {
		f, err := extract.ParseFileName(n)
		if err != nil || f.DataType != dataType {
			continue
		}
		if f.Cadence == extract.Monthly {
			set.Monthly = append(set.Monthly, f)
		} else {
			set.Daily = append(set.Daily, f)
		}
	}
	sortFiles(set.Monthly)
	sortFiles(set.Daily)
	return set
}

func sortFiles(files []extract.FileName) {
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].Date.Equal(files[j].Date) {
			return files[i].Date.Before(files[j].Date)
		}
		return files[i].Name < files[j].Name
	})
}

// SynthesizeFiles returns the first monthly and one daily per day from extract.FirstMonthly through
// today.
func SynthesizeFiles(dataType extract.DataType, today time.Time) FileSet {
	set := FileSet{
		Monthly: []extract.FileName{synthesized(dataType, extract.Monthly, extract.FirstMonthly)},
	}
	last := dateOnlyUTC(today)
	for d := extract.FirstMonthly; !d.After(last); d = d.AddDate(0, 0, 1) {
		set.Daily = append(set.Daily, synthesized(dataType, extract.Daily, d))
	}
	return set
}

func synthesized(dataType extract.DataType, cadence extract.Cadence, date time.Time) extract.FileName {
	return extract.FileName{
		Name:     extract.Format(dataType, cadence, date),
		DataType: dataType,
		Cadence:  cadence,
		Version:  extract.V2,
		Date:     date,
	}
}

func dateOnlyUTC(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	u := t.UTC()
	y, m, d := u.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LocalFiles serves extracts already present in a directory. It lists and fetches without copying.
type LocalFiles struct {
	Dir string
}

func (l LocalFiles) List(_ context.Context, _ extract.DataType) ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", samerrors.ErrConfigInvalid, l.Dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (l LocalFiles) Fetch(_ context.Context, name string) (string, error) {
	path := filepath.Join(l.Dir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", samerrors.ErrFileNotFound, path)
		}
		return "", errors.Wrapf(err, "stat %s", path)
	}
	return path, nil
}
