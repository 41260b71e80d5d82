package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"datapack-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_ApplyConsumption(t *testing.T) {
	testCases := []struct {
		name             string
		prevConsumedMB   int64
		newConsumedMB    int64
		newStatus        model.AllowanceStatus
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      error
	}{
		{
			name:           "Guarded update commits when the read value still holds",
			prevConsumedMB: 200,
			newConsumedMB:  500,
			newStatus:      model.AllowanceActive,
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "allowances" SET`)).
					WithArgs(int64(500), "active", Any{}, "allowance-1", int64(200), "active").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			expectedErr: nil,
		},
		{
			name:           "Lost race affects zero rows and surfaces a conflict",
			prevConsumedMB: 200,
			newConsumedMB:  500,
			newStatus:      model.AllowanceActive,
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "allowances" SET`)).
					WithArgs(int64(500), "active", Any{}, "allowance-1", int64(200), "active").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			expectedErr: ErrConflict,
		},
		{
			name:           "Exhaustion transition rides the same update",
			prevConsumedMB: 900,
			newConsumedMB:  1000,
			newStatus:      model.AllowanceExhausted,
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "allowances" SET`)).
					WithArgs(int64(1000), "exhausted", Any{}, "allowance-1", int64(900), "active").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			expectedErr: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			err := store.ApplyConsumption(context.Background(), "allowance-1", tc.prevConsumedMB, tc.newConsumedMB, tc.newStatus)

			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_ApplyConsumption_RejectsDecrease(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	// No SQL is issued for a counter rollback.
	err := store.ApplyConsumption(context.Background(), "allowance-1", 500, 400, model.AllowanceActive)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_MarkAllowanceExpired(t *testing.T) {
	t.Run("Transition reported on the pass that flips the row", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "allowances" SET`)).
			WithArgs("expired", Any{}, "allowance-1", "active").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		transitioned, err := store.MarkAllowanceExpired(context.Background(), "allowance-1")
		assert.NoError(t, err)
		assert.True(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already expired row reports no transition", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "allowances" SET`)).
			WithArgs("expired", Any{}, "allowance-1", "active").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		transitioned, err := store.MarkAllowanceExpired(context.Background(), "allowance-1")
		assert.NoError(t, err)
		assert.False(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_SetAllowanceAlert_UnknownThreshold(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	err := store.SetAllowanceAlert(context.Background(), "allowance-1", 50)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetAllowance_NotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "allowances"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetAllowance(context.Background(), "no-such-allowance")
	assert.ErrorIs(t, err, ErrAllowanceNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetSession_NotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sessions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetSession(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
