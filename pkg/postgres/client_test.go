package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

func TestIsConnError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"bad conn", driver.ErrBadConn, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"undefined table", &pq.Error{Code: "42P01"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsConnError(tc.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify("select", nil))
	assert.ErrorIs(t, Classify("select", &pq.Error{Code: "08001"}), apperrors.ErrUnavailable)

	err := Classify("select", &pq.Error{Code: "42601"})
	assert.NotErrorIs(t, err, apperrors.ErrUnavailable)
	assert.False(t, apperrors.IsTransient(err))
}

func TestReadTxCommitsAndRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	client := NewFromDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectCommit()
	err = client.ReadTx(context.Background(), func(tx Querier) error {
		rows, err := tx.QueryContext(context.Background(), "SELECT 1")
		if err != nil {
			return err
		}
		return rows.Close()
	})
	require.NoError(t, err)

	failure := errors.New("stage failed")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = client.ReadTx(context.Background(), func(Querier) error { return failure })
	assert.ErrorIs(t, err, failure)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadTxKeepsFailureWhenRollbackFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	client := NewFromDB(db)

	failure := errors.New("stage failed")
	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("connection reset"))
	err = client.ReadTx(context.Background(), func(Querier) error { return failure })

	require.ErrorIs(t, err, failure)
	assert.True(t, strings.HasPrefix(err.Error(), "stage failed"))
	assert.Contains(t, err.Error(), "rollback failed: connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}
