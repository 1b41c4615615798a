package common

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestMissingTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("information_schema.tables").WithArgs("duns").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("information_schema.tables").WithArgs("historic_parent_duns").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	missing, err := MissingTables(context.Background(), mock, "duns", "historic_parent_duns")
	require.NoError(t, err)
	require.Equal(t, []string{"historic_parent_duns"}, missing)
	require.NoError(t, mock.ExpectationsWereMet())
}
