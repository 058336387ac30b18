package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"pos-forwarder/internal/model"
)

// TransactionRepository reads validated transactions for forwarding.
type TransactionRepository interface {
	// ListForwardable returns VALID, job-completed transactions without a
	// completed forwarding record, newest job completion first, capped at limit.
	ListForwardable(ctx context.Context, limit int) ([]model.Transaction, error)
	// GetTransaction loads a single transaction with its line items.
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
}

// ForwardingRecordRepository persists per-transaction delivery bookkeeping.
type ForwardingRecordRepository interface {
	// GetOrCreate returns the record for a transaction, creating the pending
	// row on first eligibility. The unique constraint keeps it one per
	// transaction.
	GetOrCreate(ctx context.Context, transactionID int64) (*model.ForwardingRecord, error)
	// MarkInProgress moves the record to in_progress for a new attempt cycle:
	// assigns the batch id, refreshes the request payload, increments
	// attempts, and stamps first/last attempted.
	MarkInProgress(ctx context.Context, recordID int64, batchID string, payload json.RawMessage, now time.Time) error
	// MarkCompleted finalizes the record. The status guard makes completion
	// happen at most once; later calls are no-ops.
	MarkCompleted(ctx context.Context, recordID int64, statusCode int, responseData json.RawMessage, now time.Time) error
	// MarkFailed records a failed attempt with the classified error text.
	MarkFailed(ctx context.Context, recordID int64, statusCode *int, errorMessage string, now time.Time) error
	// ListBySubmission returns the records for all transactions sharing a
	// submission UUID.
	ListBySubmission(ctx context.Context, submissionUUID string) ([]*model.ForwardingRecord, error)
}

// PostgresRepository implements both repositories on PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an initialized database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transactionColumns = `t.id, t.transaction_id, t.tenant_id, t.tenant_code, t.tenant_name,
	t.terminal_id, t.terminal_serial, t.callback_url, t.gross_amount, t.net_amount,
	t.validation_status, t.job_status, t.submission_uuid, t.transaction_timestamp, t.processed_at`

func (r *PostgresRepository) ListForwardable(ctx context.Context, limit int) ([]model.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions t
		LEFT JOIN forwarding_records fr ON fr.transaction_id = t.id AND fr.status = 'completed'
		WHERE t.validation_status = 'VALID'
			AND t.job_status = 'COMPLETED'
			AND fr.id IS NULL
		ORDER BY t.processed_at DESC
		LIMIT $1`, transactionColumns)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("forwardable transaction query failed: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("forwardable transaction scan failed: %w", err)
	}

	for i := range txs {
		if err := r.loadLineItems(ctx, &txs[i]); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions t WHERE t.id = $1`, transactionColumns)

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	if err := r.loadLineItems(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	tx := &model.Transaction{}
	err := row.Scan(
		&tx.ID,
		&tx.TransactionID,
		&tx.TenantID,
		&tx.TenantCode,
		&tx.TenantName,
		&tx.TerminalID,
		&tx.TerminalSerial,
		&tx.CallbackURL,
		&tx.GrossAmount,
		&tx.NetAmount,
		&tx.ValidationStatus,
		&tx.JobStatus,
		&tx.SubmissionUUID,
		&tx.TransactionTimestamp,
		&tx.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) loadLineItems(ctx context.Context, tx *model.Transaction) error {
	adjustments, err := r.queryLineItems(ctx, "transaction_adjustments", tx.ID)
	if err != nil {
		return fmt.Errorf("adjustment query failed for transaction %d: %w", tx.ID, err)
	}
	taxes, err := r.queryLineItems(ctx, "transaction_taxes", tx.ID)
	if err != nil {
		return fmt.Errorf("tax query failed for transaction %d: %w", tx.ID, err)
	}
	tx.Adjustments = adjustments
	tx.Taxes = taxes
	return nil
}

func (r *PostgresRepository) queryLineItems(ctx context.Context, table string, transactionID int64) ([]model.LineItem, error) {
	query := fmt.Sprintf(`SELECT type, amount FROM %s WHERE transaction_id = $1 ORDER BY type`, table)

	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		var item model.LineItem
		if err := rows.Scan(&item.Type, &item.Amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, transactionID int64) (*model.ForwardingRecord, error) {
	insert := `
		INSERT INTO forwarding_records (transaction_id, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, 'pending', 0, $2, NOW(), NOW())
		ON CONFLICT (transaction_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insert, transactionID, model.DefaultMaxAttempts); err != nil {
		return nil, fmt.Errorf("forwarding record insert failed: %w", err)
	}

	query := `
		SELECT id, transaction_id, status, COALESCE(batch_id, ''), attempts, max_attempts,
			first_attempted_at, last_attempted_at, completed_at,
			request_payload, response_data, response_status_code,
			COALESCE(error_message, ''), created_at, updated_at
		FROM forwarding_records
		WHERE transaction_id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		return nil, fmt.Errorf("forwarding record query failed: %w", err)
	}
	return rec, nil
}

// scanRecord reads one forwarding_records row. request_payload and
// response_data stay NULL until an attempt stores them, so they scan through
// []byte intermediates; json.RawMessage destinations reject NULL.
func scanRecord(row rowScanner) (*model.ForwardingRecord, error) {
	rec := &model.ForwardingRecord{}
	var requestPayload, responseData []byte
	err := row.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.Status,
		&rec.BatchID,
		&rec.Attempts,
		&rec.MaxAttempts,
		&rec.FirstAttemptedAt,
		&rec.LastAttemptedAt,
		&rec.CompletedAt,
		&requestPayload,
		&responseData,
		&rec.ResponseStatusCode,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.RequestPayload = requestPayload
	rec.ResponseData = responseData
	return rec, nil
}

func (r *PostgresRepository) MarkInProgress(ctx context.Context, recordID int64, batchID string, payload json.RawMessage, now time.Time) error {
	query := `
		UPDATE forwarding_records
		SET status = 'in_progress',
			batch_id = $2,
			request_payload = $3,
			attempts = attempts + 1,
			first_attempted_at = COALESCE(first_attempted_at, $4),
			last_attempted_at = $4,
			updated_at = $4
		WHERE id = $1 AND status <> 'completed'`

	res, err := r.db.ExecContext(ctx, query, recordID, batchID, []byte(payload), now)
	if err != nil {
		return fmt.Errorf("forwarding record in_progress update failed: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("forwarding record %d is completed and cannot re-enter in_progress", recordID)
	}
	return nil
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, recordID int64, statusCode int, responseData json.RawMessage, now time.Time) error {
	query := `
		UPDATE forwarding_records
		SET status = 'completed',
			completed_at = $2,
			last_attempted_at = $2,
			response_status_code = $3,
			response_data = $4,
			error_message = NULL,
			updated_at = $2
		WHERE id = $1 AND status <> 'completed'`

	res, err := r.db.ExecContext(ctx, query, recordID, now, statusCode, []byte(responseData))
	if err != nil {
		return fmt.Errorf("forwarding record completion failed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		log.Printf("FORWARD_RECORD_ALREADY_COMPLETED: record=%d", recordID)
	}
	return nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, recordID int64, statusCode *int, errorMessage string, now time.Time) error {
	query := `
		UPDATE forwarding_records
		SET status = 'failed',
			response_status_code = $3,
			error_message = $4,
			last_attempted_at = $2,
			updated_at = $2
		WHERE id = $1 AND status <> 'completed'`

	if _, err := r.db.ExecContext(ctx, query, recordID, now, statusCode, errorMessage); err != nil {
		return fmt.Errorf("forwarding record failure update failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListBySubmission(ctx context.Context, submissionUUID string) ([]*model.ForwardingRecord, error) {
	query := `
		SELECT fr.id, fr.transaction_id, fr.status, COALESCE(fr.batch_id, ''), fr.attempts, fr.max_attempts,
			fr.first_attempted_at, fr.last_attempted_at, fr.completed_at,
			fr.request_payload, fr.response_data, fr.response_status_code,
			COALESCE(fr.error_message, ''), fr.created_at, fr.updated_at
		FROM forwarding_records fr
		JOIN transactions t ON t.id = fr.transaction_id
		WHERE t.submission_uuid = $1
		ORDER BY fr.id`

	rows, err := r.db.QueryContext(ctx, query, submissionUUID)
	if err != nil {
		return nil, fmt.Errorf("submission record query failed: %w", err)
	}
	defer rows.Close()

	var records []*model.ForwardingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("submission record scan failed: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
