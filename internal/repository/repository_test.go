package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-forwarder/internal/model"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "transaction_id", "status", "batch_id", "attempts", "max_attempts",
		"first_attempted_at", "last_attempted_at", "completed_at",
		"request_payload", "response_data", "response_status_code",
		"error_message", "created_at", "updated_at",
	})
}

func TestGetOrCreateFreshRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO forwarding_records").
		WithArgs(int64(42), model.DefaultMaxAttempts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// A fresh row has NULL batch, timestamps, payloads, status code and error.
	mock.ExpectQuery("SELECT id, transaction_id, status").
		WithArgs(int64(42)).
		WillReturnRows(recordRows().
			AddRow(int64(1), int64(42), "pending", "", 0, model.DefaultMaxAttempts,
				nil, nil, nil, nil, nil, nil, "", created, created))

	rec, err := repo.GetOrCreate(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, int64(42), rec.TransactionID)
	assert.Equal(t, model.ForwardPending, rec.Status)
	assert.Empty(t, rec.BatchID)
	assert.Zero(t, rec.Attempts)
	assert.Equal(t, model.DefaultMaxAttempts, rec.MaxAttempts)
	assert.Nil(t, rec.FirstAttemptedAt)
	assert.Nil(t, rec.RequestPayload)
	assert.Nil(t, rec.ResponseData)
	assert.Nil(t, rec.ResponseStatusCode)
	assert.Empty(t, rec.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateExistingRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	attempted := created.Add(time.Minute)
	payload := []byte(`{"transaction_id":"TXN-1"}`)

	mock.ExpectExec("INSERT INTO forwarding_records").
		WithArgs(int64(42), model.DefaultMaxAttempts).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, transaction_id, status").
		WithArgs(int64(42)).
		WillReturnRows(recordRows().
			AddRow(int64(1), int64(42), "failed", "batch-1", 2, model.DefaultMaxAttempts,
				attempted, attempted, nil, payload, nil, 503,
				"HTTP_5XX_RETRYABLE: downstream returned status 503", created, attempted))

	rec, err := repo.GetOrCreate(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, model.ForwardFailed, rec.Status)
	assert.Equal(t, "batch-1", rec.BatchID)
	assert.Equal(t, 2, rec.Attempts)
	assert.JSONEq(t, string(payload), string(rec.RequestPayload))
	require.NotNil(t, rec.ResponseStatusCode)
	assert.Equal(t, 503, *rec.ResponseStatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInProgressIncrementsAttempts(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"transaction_id":"TXN-1"}`)

	mock.ExpectExec(`(?s)UPDATE forwarding_records.*attempts = attempts \+ 1.*status <> 'completed'`).
		WithArgs(int64(7), "batch-1", payload, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkInProgress(context.Background(), 7, "batch-1", payload, now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInProgressRejectsCompletedRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE forwarding_records").
		WithArgs(int64(7), "batch-1", []byte(`{}`), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkInProgress(context.Background(), 7, "batch-1", []byte(`{}`), now)
	assert.ErrorContains(t, err, "completed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedIsGuardedAtMostOnce(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	response := []byte(`{"ack":"ok"}`)

	mock.ExpectExec(`(?s)UPDATE forwarding_records.*status = 'completed'.*status <> 'completed'`).
		WithArgs(int64(7), now, 200, response).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Second completion matches zero rows and stays a no-op.
	mock.ExpectExec(`(?s)UPDATE forwarding_records.*status = 'completed'.*status <> 'completed'`).
		WithArgs(int64(7), now, 200, response).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkCompleted(context.Background(), 7, 200, response, now))
	require.NoError(t, repo.MarkCompleted(context.Background(), 7, 200, response, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedStoresClassifiedError(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	statusCode := 503

	mock.ExpectExec(`(?s)UPDATE forwarding_records.*status = 'failed'.*status <> 'completed'`).
		WithArgs(int64(9), now, 503, "HTTP_5XX_RETRYABLE: downstream returned status 503").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFailed(context.Background(), 9, &statusCode, "HTTP_5XX_RETRYABLE: downstream returned status 503", now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBySubmissionScansFreshAndCompletedRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	completed := created.Add(time.Minute)
	payload := []byte(`{"transaction_id":"TXN-1"}`)
	response := []byte(`{"ack":"ok"}`)

	mock.ExpectQuery("SELECT fr.id, fr.transaction_id, fr.status").
		WithArgs("sub-1").
		WillReturnRows(recordRows().
			AddRow(int64(1), int64(42), "completed", "batch-1", 1, model.DefaultMaxAttempts,
				completed, completed, completed, payload, response, 200, "", created, completed).
			AddRow(int64(2), int64(43), "pending", "", 0, model.DefaultMaxAttempts,
				nil, nil, nil, nil, nil, nil, "", created, created))

	records, err := repo.ListBySubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, model.ForwardCompleted, records[0].Status)
	assert.JSONEq(t, string(response), string(records[0].ResponseData))
	assert.Equal(t, model.ForwardPending, records[1].Status)
	assert.Nil(t, records[1].RequestPayload)
	assert.Nil(t, records[1].ResponseData)
	assert.NoError(t, mock.ExpectationsWereMet())
}
