package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
)

// Queries reads the registry for resume points, backfill candidates and lookup paging.
type Queries struct {
	db DB
}

func NewQueries(db DB) *Queries {
	return &Queries{db: db}
}

// Store bundles the staging engine and the read queries over one pool.
type Store struct {
	*Stager
	*Queries
}

func NewStore(db DB, s *Stager) *Store {
	return &Store{Stager: s, Queries: NewQueries(db)}
}

func (q *Queries) maxDate(ctx context.Context, col string) (time.Time, bool, error) {
	var d pgtype.Date
	sql := fmt.Sprintf("SELECT max(%s) FROM %s", ident(col), ident(entityTable))
	if err := q.db.QueryRow(ctx, sql).Scan(&d); err != nil {
		return time.Time{}, false, errors.Wrapf(err, "max %s", col)
	}
	if !d.Valid {
		return time.Time{}, false, nil
	}
	return d.Time, true, nil
}

// MaxLastSAMModDate returns the newest stored upstream modification date, if any row has one.
func (q *Queries) MaxLastSAMModDate(ctx context.Context) (time.Time, bool, error) {
	return q.maxDate(ctx, "last_sam_mod_date")
}

func (q *Queries) MaxExecCompModDate(ctx context.Context) (time.Time, bool, error) {
	return q.maxDate(ctx, "last_exec_comp_mod_date")
}

// Now returns the database clock, used to scope the backfill to rows written by this run.
func (q *Queries) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := q.db.QueryRow(ctx, "SELECT now()").Scan(&now); err != nil {
		return time.Time{}, errors.Wrap(err, "select now")
	}
	return now, nil
}

// ParentNames returns the distinct non-empty (parent duns, parent name) pairs in the registry.
func (q *Queries) ParentNames(ctx context.Context) ([]entity.ParentName, error) {
	rows, err := q.db.Query(ctx, `
SELECT DISTINCT parent_duns, parent_legal_name
FROM duns
WHERE coalesce(parent_duns, '') <> '' AND coalesce(parent_legal_name, '') <> ''
ORDER BY parent_duns, parent_legal_name`)
	if err != nil {
		return nil, errors.Wrap(err, "select parent names")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.ParentName, error) {
		var p entity.ParentName
		err := row.Scan(&p.ParentDUNS, &p.Name)
		return p, err
	})
}

// MissingParent is a row whose parent duns has no name yet.
type MissingParent struct {
	DUNS       string
	ParentDUNS string
}

// MissingParentNames pages rows lacking a parent name in duns order, after the given key. A zero
// since disables the updated_at filter.
func (q *Queries) MissingParentNames(ctx context.Context, since time.Time, after string, limit int) ([]MissingParent, error) {
	var sinceArg pgtype.Timestamptz
	if !since.IsZero() {
		sinceArg = pgtype.Timestamptz{Time: since, Valid: true}
	}
	rows, err := q.db.Query(ctx, `
SELECT duns, parent_duns
FROM duns
WHERE coalesce(parent_duns, '') <> ''
  AND coalesce(parent_legal_name, '') = ''
  AND ($1::timestamptz IS NULL OR updated_at >= $1)
  AND duns > $2
ORDER BY duns
LIMIT $3`, sinceArg, after, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select missing parent names")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MissingParent, error) {
		var m MissingParent
		err := row.Scan(&m.DUNS, &m.ParentDUNS)
		return m, err
	})
}

// SetParentNames sets parent_legal_name for each duns and returns the number of rows changed.
func (q *Queries) SetParentNames(ctx context.Context, duns, names []string) (int64, error) {
	if len(duns) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx, `
UPDATE duns AS d
SET parent_legal_name = u.name, updated_at = now()
FROM unnest($1::text[], $2::text[]) AS u(duns, name)
WHERE d.duns = u.duns AND coalesce(d.parent_legal_name, '') = ''`, duns, names)
	if err != nil {
		return 0, errors.Wrap(err, "update parent names")
	}
	return tag.RowsAffected(), nil
}

// HistoricDUNS returns one page of historic rows in duns order.
func (q *Queries) HistoricDUNS(ctx context.Context, offset, limit int) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT duns FROM duns WHERE historic ORDER BY duns OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select historic duns")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
