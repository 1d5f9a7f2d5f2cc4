package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessQuerySelectReturnsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name FROM animals WHERE species = \$1`).
		WithArgs("dog").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, []byte("Rex")).
			AddRow(2, "Bolt"))

	result, err := NewBusinessStore(db).Query(context.Background(), "SELECT id, name FROM animals WHERE species = $1", "dog")
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Rex", result.Rows[0]["name"])
	assert.Equal(t, int64(2), result.RowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBusinessQueryExecReportsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE animals SET status`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	result, err := NewBusinessStore(db).Query(context.Background(), "UPDATE animals SET status = 'available' WHERE status = 'quarantine'")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.RowsAffected)
	assert.Empty(t, result.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailableAnimals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name, species FROM animals WHERE status = 'available' ORDER BY id LIMIT 3`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "species"}).
			AddRow("7", "Mel", "cat").
			AddRow("9", nil, "dog"))

	animals, err := NewBusinessStore(db).AvailableAnimals(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, animals, 2)
	assert.Equal(t, "Mel", animals[0].Name)
	assert.Equal(t, "", animals[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailableAnimalsPropagatesErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name, species FROM animals`).WillReturnError(errors.New("no such table: animals"))

	_, err = NewBusinessStore(db).AvailableAnimals(context.Background(), 3)
	assert.ErrorContains(t, err, "no such table")
}

func TestOpenBusinessRejectsUnknownDriver(t *testing.T) {
	_, err := OpenBusiness("oracle", "dsn")
	assert.Error(t, err)
}
