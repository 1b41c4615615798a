package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/samfile"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/upstream"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

type Mode string

const (
	ModeHistoric Mode = "historic"
	ModeUpdate   Mode = "update"
)

type LoaderOptions struct {
	Store    EntityStore
	Catalog  *Catalog
	Fetcher  upstream.Fetcher
	Backfill *ParentBackfill

	// RemoveFetched deletes each fetched file once it parsed, for downloads into scratch storage.
	RemoveFetched bool

	MetricsDir     string
	PushgatewayURL string

	Now    func() time.Time
	Logger *logrus.Entry
}

// Loader drives one monthly-plus-dailies load per data type.
type Loader struct {
	opts LoaderOptions
}

func NewLoader(opts LoaderOptions) *Loader {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Loader{opts: opts}
}

type RunOptions struct {
	// DataTypes are loaded in order into one metrics document.
	DataTypes []extract.DataType
	Mode      Mode
	// ReloadDate overrides the first daily of an update run.
	ReloadDate time.Time
	RunID      uuid.UUID
}

// ScriptName names the metrics document of a load over dataTypes.
func ScriptName(dataTypes []extract.DataType) string {
	if len(dataTypes) == 1 && dataTypes[0] == extract.Entities {
		return ScriptLoadDUNS
	}
	return ScriptLoadDUNSExecComp
}

func (o RunOptions) validate() error {
	if len(o.DataTypes) == 0 {
		return fmt.Errorf("%w: no data type selected", samerrors.ErrUsage)
	}
	for _, dt := range o.DataTypes {
		if !dt.Valid() {
			return fmt.Errorf("%w: unknown data type %q", samerrors.ErrUsage, dt)
		}
	}
	if o.Mode != ModeHistoric && o.Mode != ModeUpdate {
		return fmt.Errorf("%w: unknown mode %q", samerrors.ErrUsage, o.Mode)
	}
	if !o.ReloadDate.IsZero() && o.Mode != ModeUpdate {
		return fmt.Errorf("%w: a reload date requires an update run", samerrors.ErrUsage)
	}
	return nil
}

// Run loads the selected data types and returns the metrics document, which is also written to
// MetricsDir on every path.
func (l *Loader) Run(ctx context.Context, opts RunOptions) (doc MetricsDocument, err error) {
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	metrics := NewLoadMetrics(ScriptName(opts.DataTypes), opts.RunID, l.opts.Now)
	log := l.opts.Logger.WithFields(logrus.Fields{"run_id": opts.RunID.String(), "mode": string(opts.Mode)})
	defer func() {
		emitMetrics(metrics, err, l.opts.MetricsDir, l.opts.PushgatewayURL, log)
		doc = metrics.Document()
	}()

	if err := opts.validate(); err != nil {
		return doc, err
	}
	log.WithField("stage", stageStart).Info("load started")

	loadsEntities := slices.Contains(opts.DataTypes, extract.Entities)
	var since time.Time
	if loadsEntities {
		// Backfill only visits rows this run touched.
		if since, err = l.opts.Store.Now(ctx); err != nil {
			return doc, err
		}
	}

	for _, dt := range opts.DataTypes {
		if err := l.runDataType(ctx, dt, opts, metrics, log.WithField("data_type", string(dt))); err != nil {
			return doc, err
		}
	}

	if loadsEntities && l.opts.Backfill != nil {
		n, err := l.opts.Backfill.Run(ctx, since)
		metrics.ParentRowsUpdated += n
		if err != nil {
			return doc, err
		}
	}
	log.WithField("stage", stageEmitMetrics).Info("load finished")
	return doc, nil
}

func (l *Loader) runDataType(ctx context.Context, dt extract.DataType, opts RunOptions, metrics *LoadMetrics, log *logrus.Entry) error {
	log.WithField("stage", stageCatalog).Info("listing files")
	files, err := l.opts.Catalog.Files(ctx, dt)
	if err != nil {
		return err
	}

	var start time.Time
	switch opts.Mode {
	case ModeHistoric:
		if len(files.Monthly) == 0 {
			return fmt.Errorf("%w: no %s monthly extract available", samerrors.ErrFileNotFound, dt)
		}
		monthly := files.Monthly[0]
		log.WithFields(logrus.Fields{"stage": stageApplyMonthly, "file": monthly.Name}).Info("applying monthly")
		if err := l.applyFile(ctx, monthly, metrics); err != nil {
			return err
		}
		start = monthly.Date.AddDate(0, 0, 1)
	case ModeUpdate:
		start, err = l.resumePoint(ctx, dt, opts.ReloadDate)
		if err != nil {
			return err
		}
	}

	dailies := dailiesFrom(files.Daily, start)
	log.WithFields(logrus.Fields{
		"stage": stageSelectDailies,
		"from":  start.Format(time.DateOnly),
		"count": len(dailies),
	}).Info("dailies selected")

	for _, f := range dailies {
		flog := log.WithFields(logrus.Fields{"stage": stageApplyDaily, "file": f.Name})
		err := l.applyFile(ctx, f, metrics)
		if errors.Is(err, samerrors.ErrFileNotFound) {
			flog.Warn("daily extract not available, skipping")
			metrics.SkipFile(f.Name)
			continue
		}
		if err != nil {
			return err
		}
		flog.Info("daily applied")
	}
	return nil
}

func (l *Loader) resumePoint(ctx context.Context, dt extract.DataType, reload time.Time) (time.Time, error) {
	if !reload.IsZero() {
		return dateOnlyUTC(reload), nil
	}
	var (
		last  time.Time
		found bool
		err   error
	)
	if dt == extract.ExecComp {
		last, found, err = l.opts.Store.MaxExecCompModDate(ctx)
	} else {
		last, found, err = l.opts.Store.MaxLastSAMModDate(ctx)
	}
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: no stored %s modification date", samerrors.ErrNoResumePoint, dt)
	}
	return dateOnlyUTC(last), nil
}

func dailiesFrom(files []extract.FileName, start time.Time) []extract.FileName {
	var out []extract.FileName
	for _, f := range files {
		if !f.Date.Before(start) {
			out = append(out, f)
		}
	}
	return out
}

// applyFile fetches, parses and stages one extract. Within a file deactivations go first.
func (l *Loader) applyFile(ctx context.Context, f extract.FileName, metrics *LoadMetrics) error {
	path, err := l.opts.Fetcher.Fetch(ctx, f.Name)
	if err != nil {
		return err
	}

	switch f.DataType {
	case extract.ExecComp:
		res, err := samfile.ParseExecComp(path, f.Name)
		if err != nil {
			return err
		}
		l.removeFetched(path)
		ch, err := l.opts.Store.ApplyExecComp(ctx, res.Rows)
		if err != nil {
			return err
		}
		metrics.RecordExecCompFile(res)
		metrics.RecordChanges(ch)
	default:
		res, err := samfile.ParseEntities(path, f.Name)
		if err != nil {
			return err
		}
		l.removeFetched(path)
		deactivated, err := l.opts.Store.ApplyDeactivations(ctx, res.Deactivations)
		if err != nil {
			return err
		}
		upserted, err := l.opts.Store.ApplyUpserts(ctx, res.Upserts)
		if err != nil {
			return err
		}
		metrics.RecordEntityFile(res)
		metrics.RecordChanges(deactivated, upserted)
	}
	return nil
}

func (l *Loader) removeFetched(path string) {
	if !l.opts.RemoveFetched {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.opts.Logger.WithError(err).WithField("file", path).Warn("could not remove downloaded extract")
	}
}
