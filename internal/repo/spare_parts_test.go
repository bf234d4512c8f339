package repo

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecrementStockReportsShortfall(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stmt := regexp.QuoteMeta(`UPDATE spare_parts SET current_stock=current_stock-? WHERE id=? AND current_stock>=?`)
	mock.ExpectExec(stmt).WithArgs(2, "part-1", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).WithArgs(5, "part-1", 5).WillReturnResult(sqlmock.NewResult(0, 0))

	r := Repo{DB: db}
	ok, err := r.DecrementStock(context.Background(), nil, "part-1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.DecrementStock(context.Background(), nil, "part-1", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepairJobLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE repair_jobs SET l2_engineer_id=?`)).
		WithArgs("l2-b", "UNDER_REPAIR", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", "job-1", "REPAIR_CLOSED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	r := Repo{DB: db}
	ok, err := r.ClaimRepairJob(context.Background(), tx, "job-1", "l2-b", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSparePartByCodeNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,part_code,name,current_stock,min_stock,max_stock FROM spare_parts WHERE part_code=? COLLATE NOCASE`)).
		WithArgs("RAM-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "part_code", "name", "current_stock", "min_stock", "max_stock"}))

	_, err = Repo{DB: db}.GetSparePartByCode(context.Background(), nil, "  RAM-404 ")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
