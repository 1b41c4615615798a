package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/samfile"
)

// YearEndMonthlies picks the last December monthly of every year in monthlies, plus the most recent
// monthly when its year has no December file yet. monthlies must be in chronological order.
func YearEndMonthlies(monthlies []extract.FileName) []extract.FileName {
	byYear := map[int]extract.FileName{}
	var years []int
	for _, f := range monthlies {
		if f.Date.Month() != time.December {
			continue
		}
		y := f.Date.Year()
		if _, ok := byYear[y]; !ok {
			years = append(years, y)
		}
		byYear[y] = f
	}
	if n := len(monthlies); n > 0 {
		latest := monthlies[n-1]
		if _, ok := byYear[latest.Date.Year()]; !ok {
			years = append(years, latest.Date.Year())
			byYear[latest.Date.Year()] = latest
		}
	}
	out := make([]extract.FileName, 0, len(years))
	for _, y := range years {
		out = append(out, byYear[y])
	}
	return out
}

// RunHistoricParents loads the parent of every entity as of each year-end monthly into the per-year
// historic parent table. It needs a real listing; synthesized catalogs carry no year-end files.
func (l *Loader) RunHistoricParents(ctx context.Context, runID uuid.UUID) (doc MetricsDocument, err error) {
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	metrics := NewLoadMetrics(ScriptLoadHistoricParents, runID, l.opts.Now)
	log := l.opts.Logger.WithFields(logrus.Fields{"run_id": runID.String(), "data_type": string(extract.Entities)})
	defer func() {
		emitMetrics(metrics, err, l.opts.MetricsDir, l.opts.PushgatewayURL, log)
		doc = metrics.Document()
	}()

	log.WithField("stage", stageCatalog).Info("listing monthlies")
	files, err := l.opts.Catalog.Files(ctx, extract.Entities)
	if err != nil {
		return doc, err
	}
	if !files.Listed {
		return doc, fmt.Errorf("%w: historic parent load needs a local directory or SFTP listing", samerrors.ErrConfigInvalid)
	}
	selected := YearEndMonthlies(files.Monthly)
	if len(selected) == 0 {
		return doc, fmt.Errorf("%w: no entity monthly extract available", samerrors.ErrFileNotFound)
	}

	for _, f := range selected {
		flog := log.WithFields(logrus.Fields{"stage": stageApplyMonthly, "file": f.Name, "year": f.Date.Year()})
		path, err := l.opts.Fetcher.Fetch(ctx, f.Name)
		if err != nil {
			return doc, err
		}
		res, err := samfile.ParseEntities(path, f.Name)
		if err != nil {
			return doc, err
		}
		l.removeFetched(path)

		rows := historicParents(res, f.Date.Year())
		ch, err := l.opts.Store.ApplyHistoricParents(ctx, rows)
		if err != nil {
			return doc, err
		}
		metrics.RecordEntityFile(res)
		metrics.RecordChanges(ch)
		flog.WithField("rows", len(rows)).Info("historic parents applied")
	}
	return doc, nil
}

func historicParents(res *samfile.EntityResult, year int) []entity.HistoricParent {
	rows := make([]entity.HistoricParent, 0, len(res.Upserts))
	for _, e := range res.Upserts {
		rows = append(rows, entity.HistoricParent{
			DUNS:              e.DUNS,
			UEI:               e.UEI,
			Year:              year,
			LegalBusinessName: e.LegalBusinessName,
			ParentDUNS:        e.ParentDUNS,
			ParentUEI:         e.ParentUEI,
			ParentLegalName:   e.ParentLegalName,
		})
	}
	return rows
}
