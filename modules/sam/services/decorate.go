package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

const defaultDecorateBatch = 100

// Lookuper resolves entity records by duns; *upstream.LookupClient implements it.
type Lookuper interface {
	Lookup(ctx context.Context, duns []string) ([]entity.Entity, error)
}

type DecoratorOptions struct {
	Store    DecorationStore
	Lookup   Lookuper
	Backfill *ParentBackfill

	MetricsDir     string
	PushgatewayURL string

	Now    func() time.Time
	Logger *logrus.Entry
}

// Decorator refreshes rows carried over from historic snapshots with live lookup data and then
// settles parent names.
type Decorator struct {
	opts DecoratorOptions
}

func NewDecorator(opts DecoratorOptions) *Decorator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Decorator{opts: opts}
}

type DecorateOptions struct {
	// BatchStart and BatchEnd select batches [BatchStart, BatchEnd). BatchEnd <= 0 runs to the end.
	BatchStart int
	BatchEnd   int
	BatchSize  int
	// ParentNameOnly skips the lookup and only runs the parent-name backfill.
	ParentNameOnly bool
	RunID          uuid.UUID
}

func (o *DecorateOptions) validate() error {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultDecorateBatch
	}
	if o.BatchStart < 0 {
		return fmt.Errorf("%w: batch start must not be negative", samerrors.ErrUsage)
	}
	if o.BatchEnd > 0 && o.BatchEnd <= o.BatchStart {
		return fmt.Errorf("%w: batch end %d must be greater than batch start %d", samerrors.ErrUsage, o.BatchEnd, o.BatchStart)
	}
	return nil
}

func (d *Decorator) Run(ctx context.Context, opts DecorateOptions) (doc MetricsDocument, err error) {
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	metrics := NewLoadMetrics(ScriptUpdateParentNames, opts.RunID, d.opts.Now)
	log := d.opts.Logger.WithField("run_id", opts.RunID.String())
	defer func() {
		emitMetrics(metrics, err, d.opts.MetricsDir, d.opts.PushgatewayURL, log)
		doc = metrics.Document()
	}()

	if err := opts.validate(); err != nil {
		return doc, err
	}
	if !opts.ParentNameOnly {
		if d.opts.Lookup == nil {
			return doc, fmt.Errorf("%w: entity lookup is not configured", samerrors.ErrConfigInvalid)
		}
		if err := d.decorate(ctx, opts, metrics, log); err != nil {
			return doc, err
		}
	}

	if d.opts.Backfill != nil {
		log.WithField("stage", stageBackfill).Info("filling parent names")
		n, err := d.opts.Backfill.RunUntilStable(ctx, time.Time{})
		metrics.ParentRowsUpdated += n
		if err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func (d *Decorator) decorate(ctx context.Context, opts DecorateOptions, metrics *LoadMetrics, log *logrus.Entry) error {
	for b := opts.BatchStart; opts.BatchEnd <= 0 || b < opts.BatchEnd; b++ {
		duns, err := d.opts.Store.HistoricDUNS(ctx, b*opts.BatchSize, opts.BatchSize)
		if err != nil {
			return err
		}
		if len(duns) == 0 {
			break
		}
		blog := log.WithFields(logrus.Fields{"stage": stageLookup, "batch": b, "duns_count": len(duns)})

		found, err := d.opts.Lookup.Lookup(ctx, duns)
		if err != nil {
			return err
		}
		rows := dedupeByDUNS(found)
		metrics.RecordsReceived += len(found)
		metrics.RecordsProcessed += len(rows)
		ch, err := d.opts.Store.ApplyDecorations(ctx, rows)
		if err != nil {
			return err
		}
		metrics.RecordChanges(ch)
		blog.WithField("found", len(rows)).Info("batch decorated")

		if len(duns) < opts.BatchSize {
			break
		}
	}
	return nil
}

// dedupeByDUNS keeps the first record of each duns.
func dedupeByDUNS(rows []entity.Entity) []entity.Entity {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, e := range rows {
		if e.DUNS == "" {
			continue
		}
		if _, ok := seen[e.DUNS]; ok {
			continue
		}
		seen[e.DUNS] = struct{}{}
		out = append(out, e)
	}
	return out
}
