package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
)

func q(s string) string { return regexp.QuoteMeta(s) }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func expectStaging(mock pgxmock.PgxPoolIface, table string, cols []column, n int64) {
	mock.ExpectBegin()
	mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS "` + table + `"`)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(q(`TRUNCATE "` + table + `"`)).WillReturnResult(pgxmock.NewResult("TRUNCATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{table}, columnNames(cols)).WillReturnResult(n)
}

func TestStager_ApplyUpserts(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	expectStaging(mock, EntityStagingTable, entityStagingColumns, 2)
	mock.ExpectQuery(q(`LEFT JOIN "duns" AS d ON d.duns = s.duns WHERE d.duns IS NULL`)).
		WillReturnRows(mock.NewRows([]string{"duns"}).AddRow("000000004"))
	mock.ExpectQuery(q(`FROM "temp_duns_update" AS s JOIN "duns" AS d ON d.duns = s.duns WHERE `+notOlder) + ".*" + q(`IS DISTINCT FROM`)).
		WillReturnRows(mock.NewRows([]string{"duns"}).AddRow("000000002"))
	mock.ExpectExec(q(`deactivation_date = NULL, historic = false, updated_at = now()`) + ".*" +
		q(`d.last_sam_mod_date <= s.last_sam_mod_date`) + ".*" + q(`IS DISTINCT FROM`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q(`INSERT INTO "duns"`) + ".*" + q(`WHERE NOT EXISTS (SELECT 1 FROM "duns" AS d WHERE d.duns = s.duns)`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q(`DROP TABLE "temp_duns_update"`)).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectCommit()

	rows := []entity.Entity{
		{DUNS: "000000002", LegalBusinessName: "Beta", DeactivationDate: time.Date(2021, 2, 6, 0, 0, 0, 0, time.UTC)},
		{DUNS: "000000004", LegalBusinessName: "Delta"},
	}
	ch, err := NewStager(mock, nil).ApplyUpserts(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, []string{"000000004"}, ch.Added)
	require.Equal(t, []string{"000000002"}, ch.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStager_ApplyDeactivations(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	expectStaging(mock, EntityStagingTable, entityStagingColumns, 1)
	mock.ExpectQuery(q(`WHERE d.duns IS NULL`)).WillReturnRows(mock.NewRows([]string{"duns"}))
	mock.ExpectQuery(q(`JOIN "duns" AS d ON d.duns = s.duns WHERE `+notOlder+` AND (d.deactivation_date IS DISTINCT FROM s.deactivation_date OR d.historic)`)).
		WillReturnRows(mock.NewRows([]string{"duns"}).AddRow("000000001"))
	mock.ExpectExec(q(`SET deactivation_date = s.deactivation_date, historic = false`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q(`INSERT INTO "duns"`)).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(q(`DROP TABLE "temp_duns_update"`)).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectCommit()

	ch, err := NewStager(mock, nil).ApplyDeactivations(context.Background(), []entity.Entity{
		{DUNS: "000000001", DeactivationDate: time.Date(2021, 2, 6, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	require.Empty(t, ch.Added)
	require.Equal(t, []string{"000000001"}, ch.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStager_ApplyExecComp_OnlyMatchesKnownRows(t *testing.T) {
	t.Parallel()

	cols := concat([]column{dunsColumn}, officerColumns, []column{execCompModColumn})
	mock := newMock(t)
	expectStaging(mock, ExecCompStagingTable, cols, 1)
	mock.ExpectQuery(q(`FROM "temp_exec_comp_update" AS s JOIN "duns" AS d ON d.duns = s.duns WHERE (d.last_exec_comp_mod_date IS NULL`)).
		WillReturnRows(mock.NewRows([]string{"duns"}).AddRow("000000003"))
	mock.ExpectExec(q(`"officer1_name" = s."officer1_name"`) + ".*" + q(`"last_exec_comp_mod_date" = s."last_exec_comp_mod_date"`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q(`DROP TABLE "temp_exec_comp_update"`)).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectCommit()

	var officers [entity.OfficerSlots]entity.Officer
	officers[0] = entity.Officer{Name: "Alice", Amount: decimal.NewNullDecimal(decimal.NewFromInt(100))}
	ch, err := NewStager(mock, nil).ApplyExecComp(context.Background(), []entity.ExecComp{
		{DUNS: "000000003", Officers: officers, LastExecCompModDate: time.Date(2021, 2, 6, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	require.Empty(t, ch.Added)
	require.Equal(t, []string{"000000003"}, ch.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStager_ApplyDecorations_CoalescesOverStoredValues(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	expectStaging(mock, DecorationStagingTable, concat([]column{dunsColumn}, decorationPayload), 1)
	mock.ExpectQuery(q(`FROM "temp_duns_lookup_update" AS s JOIN "duns"`)).
		WillReturnRows(mock.NewRows([]string{"duns"}).AddRow("000000007"))
	mock.ExpectExec(q(`"parent_legal_name" = COALESCE(s."parent_legal_name", d."parent_legal_name")`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q(`DROP TABLE "temp_duns_lookup_update"`)).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectCommit()

	ch, err := NewStager(mock, nil).ApplyDecorations(context.Background(), []entity.Entity{{DUNS: "000000007", ParentDUNS: "P1"}})
	require.NoError(t, err)
	require.Equal(t, []string{"000000007"}, ch.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStager_ApplyHistoricParents_KeysByYear(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	expectStaging(mock, HistoricParentStagingTable, concat([]column{dunsColumn, yearColumn}, historicParentPayload), 1)
	mock.ExpectQuery(q(`SELECT s.duns || ':' || s.year::text`) + ".*" + q(`WHERE d.duns IS NULL`)).
		WillReturnRows(mock.NewRows([]string{"key"}).AddRow("000000001:2020"))
	mock.ExpectQuery(q(`JOIN "historic_parent_duns" AS d ON d.duns = s.duns AND d.year = s.year WHERE ROW(`)).
		WillReturnRows(mock.NewRows([]string{"key"}))
	mock.ExpectExec(q(`UPDATE "historic_parent_duns"`)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(q(`INSERT INTO "historic_parent_duns"`)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q(`DROP TABLE "temp_historic_parent_duns_update"`)).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectCommit()

	ch, err := NewStager(mock, nil).ApplyHistoricParents(context.Background(), []entity.HistoricParent{
		{DUNS: "000000001", Year: 2020, ParentDUNS: "P1"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"000000001:2020"}, ch.Added)
	require.Empty(t, ch.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStager_FailureRollsBack(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	expectStaging(mock, EntityStagingTable, entityStagingColumns, 1)
	mock.ExpectQuery(q(`WHERE d.duns IS NULL`)).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := NewStager(mock, nil).ApplyUpserts(context.Background(), []entity.Entity{{DUNS: "000000001"}})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStager_EmptyBatchTouchesNothing(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	ch, err := NewStager(mock, nil).ApplyUpserts(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, ch.Added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgNumeric(t *testing.T) {
	t.Parallel()

	n := pgNumeric(decimal.NewNullDecimal(decimal.RequireFromString("100.50")))
	require.True(t, n.Valid)
	require.Equal(t, int32(-2), n.Exp)
	require.Equal(t, "10050", n.Int.String())
	require.False(t, pgNumeric(decimal.NullDecimal{}).Valid)
}
