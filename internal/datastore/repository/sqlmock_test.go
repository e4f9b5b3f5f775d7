package repository

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/colossusbot/modwatch/internal/errors"
)

// newMockDB returns a gorm handle backed by sqlmock for driver failure paths.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(gorm_logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestAlertRepository_StoreFailureIsNotNotFound(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewAlertRepository(db)

	storeErr := errors.NewStd("connection refused")
	mock.ExpectQuery("SELECT .* FROM `alerts`").WillReturnError(storeErr)

	_, err := repo.GetAlert(t.Context(), "a1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlertNotFound)
	assert.ErrorIs(t, err, storeErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepository_OpenOrAppendStoreFailureNotRetried(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewAlertRepository(db)

	storeErr := errors.NewStd("deadline exceeded")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `alerts`").WillReturnError(storeErr)
	mock.ExpectRollback()

	_, _, err := repo.OpenOrAppend(t.Context(), newAlert("g1", "u1", "nsfw"), newEvidence("x"))
	require.ErrorIs(t, err, storeErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepository_TransitionStoreFailure(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewAlertRepository(db)

	storeErr := errors.NewStd("broken pipe")
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `alerts`").WillReturnError(storeErr)
	mock.ExpectRollback()

	alert := newAlert("g1", "u1", "nsfw")
	alert.ID = "a1"
	alert.State = "OPEN"
	alert.Version = 1
	err := repo.Transition(t.Context(), alert, AlertTransition{AwaitingPenalty: boolPtr(true)})
	require.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, alert.Version, "failed transition must not touch the in-memory alert")
	require.NoError(t, mock.ExpectationsWereMet())
}
