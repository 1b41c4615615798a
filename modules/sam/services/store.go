// Package services coordinates SAM ingestion runs: file selection, extract application, parent-name
// backfill, lookup decoration and run metrics.
package services

import (
	"context"
	"time"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/persistence"
)

// EntityStore applies parsed extracts and reports resume points.
type EntityStore interface {
	ApplyUpserts(ctx context.Context, rows []entity.Entity) (persistence.Changes, error)
	ApplyDeactivations(ctx context.Context, rows []entity.Entity) (persistence.Changes, error)
	ApplyExecComp(ctx context.Context, rows []entity.ExecComp) (persistence.Changes, error)
	ApplyHistoricParents(ctx context.Context, rows []entity.HistoricParent) (persistence.Changes, error)
	MaxLastSAMModDate(ctx context.Context) (time.Time, bool, error)
	MaxExecCompModDate(ctx context.Context) (time.Time, bool, error)
	Now(ctx context.Context) (time.Time, error)
}

// BackfillStore serves the parent-name backfill.
type BackfillStore interface {
	ParentNames(ctx context.Context) ([]entity.ParentName, error)
	MissingParentNames(ctx context.Context, since time.Time, after string, limit int) ([]persistence.MissingParent, error)
	SetParentNames(ctx context.Context, duns, names []string) (int64, error)
}

// DecorationStore pages historic rows and merges lookup results into them.
type DecorationStore interface {
	HistoricDUNS(ctx context.Context, offset, limit int) ([]string, error)
	ApplyDecorations(ctx context.Context, rows []entity.Entity) (persistence.Changes, error)
}

// Store is everything a run needs; *persistence.Store satisfies it.
type Store interface {
	EntityStore
	BackfillStore
	DecorationStore
}

var _ Store = (*persistence.Store)(nil)

// Run stages, used as the "stage" log field.
const (
	stageStart         = "start"
	stageCatalog       = "catalog"
	stageApplyMonthly  = "apply_monthly"
	stageSelectDailies = "select_dailies"
	stageApplyDaily    = "apply_daily"
	stageBackfill      = "backfill"
	stageLookup        = "lookup"
	stageEmitMetrics   = "emit_metrics"
)
