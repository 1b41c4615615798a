package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

const (
	defaultBackfillBatch = 10000
	// maxBackfillPasses bounds RunUntilStable.
	maxBackfillPasses = 10
)

// BuildParentNames maps each parent duns to its single observed name. A parent duns seen with two
// different names is left out, and stays out however often either name recurs.
func BuildParentNames(pairs []entity.ParentName) map[string]string {
	names := make(map[string]string, len(pairs))
	ambiguous := map[string]struct{}{}
	for _, p := range pairs {
		duns, name := strings.TrimSpace(p.ParentDUNS), strings.TrimSpace(p.Name)
		if duns == "" || name == "" {
			continue
		}
		if _, bad := ambiguous[duns]; bad {
			continue
		}
		if prev, ok := names[duns]; ok && prev != name {
			delete(names, duns)
			ambiguous[duns] = struct{}{}
			continue
		}
		names[duns] = name
	}
	return names
}

type ParentBackfillOptions struct {
	BatchSize int
	Logger    *logrus.Entry
}

// ParentBackfill fills missing parent names from rows that already carry them.
type ParentBackfill struct {
	store BackfillStore
	opts  ParentBackfillOptions
}

func NewParentBackfill(store BackfillStore, opts ParentBackfillOptions) *ParentBackfill {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBackfillBatch
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &ParentBackfill{store: store, opts: opts}
}

// Run makes one pass over rows lacking a parent name, restricted to rows updated at or after since
// when since is set, and returns how many rows it filled.
func (b *ParentBackfill) Run(ctx context.Context, since time.Time) (int64, error) {
	pairs, err := b.store.ParentNames(ctx)
	if err != nil {
		return 0, err
	}
	names := BuildParentNames(pairs)

	var total int64
	after := ""
	for {
		missing, err := b.store.MissingParentNames(ctx, since, after, b.opts.BatchSize)
		if err != nil {
			return total, err
		}
		if len(missing) == 0 {
			break
		}
		duns := make([]string, 0, len(missing))
		fill := make([]string, 0, len(missing))
		for _, m := range missing {
			if name, ok := names[m.ParentDUNS]; ok {
				duns = append(duns, m.DUNS)
				fill = append(fill, name)
			}
		}
		n, err := b.store.SetParentNames(ctx, duns, fill)
		if err != nil {
			return total, err
		}
		total += n
		after = missing[len(missing)-1].DUNS
		b.opts.Logger.WithFields(logrus.Fields{
			"stage":      stageBackfill,
			"candidates": len(missing),
			"filled":     n,
		}).Debug("parent name batch done")
		if len(missing) < b.opts.BatchSize {
			break
		}
	}
	b.opts.Logger.WithFields(logrus.Fields{"stage": stageBackfill, "filled": total}).Info("parent names backfilled")
	return total, nil
}

// RunUntilStable repeats Run until a pass fills nothing, or the pass limit is reached.
func (b *ParentBackfill) RunUntilStable(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	for pass := 0; pass < maxBackfillPasses; pass++ {
		n, err := b.Run(ctx, since)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
	return total, nil
}
