package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

// Staging table names are fixed; concurrent runs share them.
const (
	EntityStagingTable         = "temp_duns_update"
	ExecCompStagingTable       = "temp_exec_comp_update"
	DecorationStagingTable     = "temp_duns_lookup_update"
	HistoricParentStagingTable = "temp_historic_parent_duns_update"
)

// Changes lists the keys a staged batch inserted and the stored keys it changed. Rows held back by
// the modification-date guard or identical to what is stored are in neither list.
type Changes struct {
	Added   []string
	Updated []string
}

var entityPayload = []column{
	{"uei", "text"},
	{"legal_business_name", "text"},
	{"dba_name", "text"},
	{"address_line_1", "text"},
	{"address_line_2", "text"},
	{"city", "text"},
	{"state", "text"},
	{"zip", "text"},
	{"zip4", "text"},
	{"country_code", "text"},
	{"congressional_district", "text"},
	{"entity_structure", "text"},
	{"business_types_codes", "text[]"},
	{"business_types", "text[]"},
	{"parent_duns", "text"},
	{"parent_uei", "text"},
	{"parent_legal_name", "text"},
	{"registration_date", "date"},
	{"activation_date", "date"},
	{"expiration_date", "date"},
	{"last_sam_mod_date", "date"},
}

var officerColumns = func() []column {
	cols := make([]column, 0, 2*entity.OfficerSlots)
	for i := 1; i <= entity.OfficerSlots; i++ {
		cols = append(cols,
			column{fmt.Sprintf("officer%d_name", i), "text"},
			column{fmt.Sprintf("officer%d_amount", i), "numeric"},
		)
	}
	return cols
}()

var decorationPayload = append([]column{
	{"legal_business_name", "text"},
	{"dba_name", "text"},
	{"address_line_1", "text"},
	{"address_line_2", "text"},
	{"city", "text"},
	{"state", "text"},
	{"zip", "text"},
	{"zip4", "text"},
	{"country_code", "text"},
	{"congressional_district", "text"},
	{"business_types_codes", "text[]"},
	{"business_types", "text[]"},
	{"parent_duns", "text"},
	{"parent_legal_name", "text"},
}, officerColumns...)

var historicParentPayload = []column{
	{"uei", "text"},
	{"legal_business_name", "text"},
	{"parent_duns", "text"},
	{"parent_uei", "text"},
	{"parent_legal_name", "text"},
}

var (
	dunsColumn           = column{"duns", "text"}
	deactivationColumn   = column{"deactivation_date", "date"}
	yearColumn           = column{"year", "integer"}
	execCompModColumn    = column{"last_exec_comp_mod_date", "date"}
	entityStagingColumns = concat([]column{dunsColumn}, entityPayload, []column{deactivationColumn})
)

func concat(parts ...[]column) []column {
	var out []column
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Stager applies batches to the registry through a staging table, one transaction per batch.
type Stager struct {
	db     DB
	logger *logrus.Entry
}

func NewStager(db DB, logger *logrus.Entry) *Stager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Stager{db: db, logger: logger}
}

type stage struct {
	mode    string
	table   string
	columns []column
	rows    [][]any
	// added selects the keys of staged rows missing from the target, updated those of stored rows the
	// statements are about to change.
	added   string
	updated string
	// statements run in order after the key queries.
	statements []string
}

func (s *Stager) apply(ctx context.Context, st stage) (Changes, error) {
	var ch Changes
	if len(st.rows) == 0 {
		return ch, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return ch, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	table := ident(st.table)
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, columnDefs(st.columns))); err != nil {
		return ch, errors.Wrapf(err, "create %s", st.table)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE "+table); err != nil {
		return ch, errors.Wrapf(err, "truncate %s", st.table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{st.table}, columnNames(st.columns), pgx.CopyFromRows(st.rows)); err != nil {
		return ch, errors.Wrapf(err, "copy into %s", st.table)
	}
	if st.added != "" {
		if ch.Added, err = collectKeys(ctx, tx, st.added); err != nil {
			return ch, errors.Wrap(err, "select added")
		}
	}
	if ch.Updated, err = collectKeys(ctx, tx, st.updated); err != nil {
		return ch, errors.Wrap(err, "select updated")
	}
	for _, stmt := range st.statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return ch, errors.Wrapf(err, "%s apply", st.mode)
		}
	}
	if _, err := tx.Exec(ctx, "DROP TABLE "+table); err != nil {
		return ch, errors.Wrapf(err, "drop %s", st.table)
	}
	if err := tx.Commit(ctx); err != nil {
		return ch, errors.Wrap(err, "commit")
	}

	s.logger.WithFields(logrus.Fields{
		"mode":    st.mode,
		"staged":  len(st.rows),
		"added":   len(ch.Added),
		"updated": len(ch.Updated),
	}).Info("staged batch applied")
	return ch, nil
}

func collectKeys(ctx context.Context, tx pgx.Tx, sql string) ([]string, error) {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func addedKeysSQL(staging, target string, key string) string {
	return fmt.Sprintf(
		"SELECT %[3]s FROM %[1]s AS s LEFT JOIN %[2]s AS d ON %[4]s WHERE d.duns IS NULL ORDER BY 1",
		ident(staging), ident(target), keyExpr(key), joinOn(key),
	)
}

// updatedKeysSQL selects the keys of stored rows satisfying match, the predicate of the UPDATE that
// follows.
func updatedKeysSQL(staging, target string, key string, match string) string {
	return fmt.Sprintf(
		"SELECT %[3]s FROM %[1]s AS s JOIN %[2]s AS d ON %[4]s WHERE %[5]s ORDER BY 1",
		ident(staging), ident(target), keyExpr(key), joinOn(key), match,
	)
}

const (
	keyDUNS     = "duns"
	keyDUNSYear = "duns_year"
)

func keyExpr(key string) string {
	if key == keyDUNSYear {
		return "s.duns || ':' || s.year::text"
	}
	return "s.duns"
}

func joinOn(key string) string {
	if key == keyDUNSYear {
		return "d.duns = s.duns AND d.year = s.year"
	}
	return "d.duns = s.duns"
}

// assignments renders "col = expr" pairs where expr(c) yields the new value of c.
func assignments(cols []column, expr func(column) string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c.name) + " = " + expr(c)
	}
	return strings.Join(out, ", ")
}

// changed renders "(d.cols) IS DISTINCT FROM (exprs)" so unchanged rows are left untouched.
func changed(cols []column, expr func(column) string) string {
	news := make([]string, len(cols))
	for i, c := range cols {
		news[i] = expr(c)
	}
	return fmt.Sprintf("ROW(%s) IS DISTINCT FROM ROW(%s)", qualified("d", cols), strings.Join(news, ", "))
}

func fromStaging(c column) string { return "s." + ident(c.name) }

// upsertValue keeps the stored modification date when the extract carries none.
func upsertValue(c column) string {
	if c.name == "last_sam_mod_date" {
		return "COALESCE(s.last_sam_mod_date, d.last_sam_mod_date)"
	}
	return fromStaging(c)
}

func coalesceStored(c column) string {
	return fmt.Sprintf("COALESCE(s.%[1]s, d.%[1]s)", ident(c.name))
}

// notOlder is the monotonic guard: a stored row is never overwritten by an older extract row.
const notOlder = "(d.last_sam_mod_date IS NULL OR s.last_sam_mod_date IS NULL OR d.last_sam_mod_date <= s.last_sam_mod_date)"

func insertMissingEntitiesSQL(staging string) string {
	cols := entityStagingColumns
	return fmt.Sprintf(
		"INSERT INTO %[1]s (%[3]s, historic, created_at, updated_at) "+
			"SELECT %[4]s, false, now(), now() FROM %[2]s AS s "+
			"WHERE NOT EXISTS (SELECT 1 FROM %[1]s AS d WHERE d.duns = s.duns)",
		ident(entityTable), ident(staging), qualifiedBare(cols), qualified("s", cols),
	)
}

func qualifiedBare(cols []column) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c.name)
	}
	return strings.Join(out, ", ")
}

func entityRow(e entity.Entity) []any {
	return []any{
		pgText(e.DUNS),
		pgText(e.UEI),
		pgText(e.LegalBusinessName),
		pgText(e.DBAName),
		pgText(e.Address.Line1),
		pgText(e.Address.Line2),
		pgText(e.Address.City),
		pgText(e.Address.State),
		pgText(e.Address.Zip),
		pgText(e.Address.Zip4),
		pgText(e.Address.CountryCode),
		pgText(e.Address.CongressionalDistrict),
		pgText(e.EntityStructure),
		pgTextArray(e.BusinessTypeCodes),
		pgTextArray(e.BusinessTypes),
		pgText(e.ParentDUNS),
		pgText(e.ParentUEI),
		pgText(e.ParentLegalName),
		pgDateOnlyUTC(e.RegistrationDate),
		pgDateOnlyUTC(e.ActivationDate),
		pgDateOnlyUTC(e.ExpirationDate),
		pgDateOnlyUTC(e.LastSAMModDate),
		pgDateOnlyUTC(e.DeactivationDate),
	}
}

func officerValues(officers [entity.OfficerSlots]entity.Officer) []any {
	out := make([]any, 0, 2*entity.OfficerSlots)
	for _, o := range officers {
		out = append(out, pgText(o.Name), pgNumeric(o.Amount))
	}
	return out
}

// ApplyUpserts inserts unknown entities and overwrites the payload of known ones, clearing their
// deactivation date and historic flag.
func (s *Stager) ApplyUpserts(ctx context.Context, rows []entity.Entity) (Changes, error) {
	staged := make([][]any, len(rows))
	for i, e := range rows {
		e.DeactivationDate = time.Time{}
		staged[i] = entityRow(e)
	}
	match := notOlder + " AND (" + changed(entityPayload, upsertValue) + " OR d.deactivation_date IS NOT NULL OR d.historic)"
	update := fmt.Sprintf(
		"UPDATE %[1]s AS d SET %[3]s, deactivation_date = NULL, historic = false, updated_at = now() "+
			"FROM %[2]s AS s WHERE d.duns = s.duns AND %[4]s",
		ident(entityTable), ident(EntityStagingTable), assignments(entityPayload, upsertValue), match,
	)
	return s.apply(ctx, stage{
		mode:       "upsert",
		table:      EntityStagingTable,
		columns:    entityStagingColumns,
		rows:       staged,
		added:      addedKeysSQL(EntityStagingTable, entityTable, keyDUNS),
		updated:    updatedKeysSQL(EntityStagingTable, entityTable, keyDUNS, match),
		statements: []string{update, insertMissingEntitiesSQL(EntityStagingTable)},
	})
}

// ApplyDeactivations sets the deactivation date of known entities, leaving their payload alone, and
// inserts entities never seen before as already deactivated.
func (s *Stager) ApplyDeactivations(ctx context.Context, rows []entity.Entity) (Changes, error) {
	staged := make([][]any, len(rows))
	for i, e := range rows {
		staged[i] = entityRow(e)
	}
	match := notOlder + " AND (d.deactivation_date IS DISTINCT FROM s.deactivation_date OR d.historic)"
	update := fmt.Sprintf(
		"UPDATE %[1]s AS d SET deactivation_date = s.deactivation_date, historic = false, updated_at = now() "+
			"FROM %[2]s AS s WHERE d.duns = s.duns AND %[3]s",
		ident(entityTable), ident(EntityStagingTable), match,
	)
	return s.apply(ctx, stage{
		mode:       "deactivate",
		table:      EntityStagingTable,
		columns:    entityStagingColumns,
		rows:       staged,
		added:      addedKeysSQL(EntityStagingTable, entityTable, keyDUNS),
		updated:    updatedKeysSQL(EntityStagingTable, entityTable, keyDUNS, match),
		statements: []string{update, insertMissingEntitiesSQL(EntityStagingTable)},
	})
}

// ApplyExecComp overwrites the officer slots of known entities. Rows for unknown entities are
// dropped, so Changes.Added is always empty.
func (s *Stager) ApplyExecComp(ctx context.Context, rows []entity.ExecComp) (Changes, error) {
	cols := concat([]column{dunsColumn}, officerColumns, []column{execCompModColumn})
	payload := concat(officerColumns, []column{execCompModColumn})
	staged := make([][]any, len(rows))
	for i, r := range rows {
		v := []any{pgText(r.DUNS)}
		v = append(v, officerValues(r.Officers)...)
		staged[i] = append(v, pgDateOnlyUTC(r.LastExecCompModDate))
	}
	match := "(d.last_exec_comp_mod_date IS NULL OR d.last_exec_comp_mod_date <= s.last_exec_comp_mod_date) AND " +
		changed(payload, fromStaging)
	update := fmt.Sprintf(
		"UPDATE %[1]s AS d SET %[3]s, updated_at = now() FROM %[2]s AS s WHERE d.duns = s.duns AND %[4]s",
		ident(entityTable), ident(ExecCompStagingTable), assignments(payload, fromStaging), match,
	)
	return s.apply(ctx, stage{
		mode:       "exec_comp",
		table:      ExecCompStagingTable,
		columns:    cols,
		rows:       staged,
		updated:    updatedKeysSQL(ExecCompStagingTable, entityTable, keyDUNS, match),
		statements: []string{update},
	})
}

// ApplyDecorations merges lookup results into known entities: non-null incoming values replace
// stored ones and nulls keep what is stored. The historic flag is left as is.
func (s *Stager) ApplyDecorations(ctx context.Context, rows []entity.Entity) (Changes, error) {
	cols := concat([]column{dunsColumn}, decorationPayload)
	staged := make([][]any, len(rows))
	for i, e := range rows {
		v := []any{
			pgText(e.DUNS),
			pgText(e.LegalBusinessName),
			pgText(e.DBAName),
			pgText(e.Address.Line1),
			pgText(e.Address.Line2),
			pgText(e.Address.City),
			pgText(e.Address.State),
			pgText(e.Address.Zip),
			pgText(e.Address.Zip4),
			pgText(e.Address.CountryCode),
			pgText(e.Address.CongressionalDistrict),
			pgTextArray(e.BusinessTypeCodes),
			pgTextArray(e.BusinessTypes),
			pgText(e.ParentDUNS),
			pgText(e.ParentLegalName),
		}
		staged[i] = append(v, officerValues(e.Officers)...)
	}
	match := changed(decorationPayload, coalesceStored)
	update := fmt.Sprintf(
		"UPDATE %[1]s AS d SET %[3]s, updated_at = now() FROM %[2]s AS s WHERE d.duns = s.duns AND %[4]s",
		ident(entityTable), ident(DecorationStagingTable), assignments(decorationPayload, coalesceStored), match,
	)
	return s.apply(ctx, stage{
		mode:       "decorate",
		table:      DecorationStagingTable,
		columns:    cols,
		rows:       staged,
		updated:    updatedKeysSQL(DecorationStagingTable, entityTable, keyDUNS, match),
		statements: []string{update},
	})
}

// ApplyHistoricParents upserts parent observations keyed by (duns, year). Keys are reported as
// "duns:year".
func (s *Stager) ApplyHistoricParents(ctx context.Context, rows []entity.HistoricParent) (Changes, error) {
	cols := concat([]column{dunsColumn, yearColumn}, historicParentPayload)
	staged := make([][]any, len(rows))
	for i, p := range rows {
		staged[i] = []any{
			pgText(p.DUNS),
			int32(p.Year),
			pgText(p.UEI),
			pgText(p.LegalBusinessName),
			pgText(p.ParentDUNS),
			pgText(p.ParentUEI),
			pgText(p.ParentLegalName),
		}
	}
	table, staging := ident(historicParentTable), ident(HistoricParentStagingTable)
	match := changed(historicParentPayload, fromStaging)
	update := fmt.Sprintf(
		"UPDATE %[1]s AS d SET %[3]s, updated_at = now() FROM %[2]s AS s "+
			"WHERE d.duns = s.duns AND d.year = s.year AND %[4]s",
		table, staging, assignments(historicParentPayload, fromStaging), match,
	)
	insert := fmt.Sprintf(
		"INSERT INTO %[1]s (%[3]s, created_at, updated_at) SELECT %[4]s, now(), now() FROM %[2]s AS s "+
			"WHERE NOT EXISTS (SELECT 1 FROM %[1]s AS d WHERE d.duns = s.duns AND d.year = s.year)",
		table, staging, qualifiedBare(cols), qualified("s", cols),
	)
	return s.apply(ctx, stage{
		mode:       "historic_parent",
		table:      HistoricParentStagingTable,
		columns:    cols,
		rows:       staged,
		added:      addedKeysSQL(HistoricParentStagingTable, historicParentTable, keyDUNSYear),
		updated:    updatedKeysSQL(HistoricParentStagingTable, historicParentTable, keyDUNSYear, match),
		statements: []string{update, insert},
	})
}
