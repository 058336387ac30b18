package model

import "time"

// ValidationStatus is the inbound validation outcome of a transaction.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "PENDING"
	ValidationValid   ValidationStatus = "VALID"
	ValidationInvalid ValidationStatus = "INVALID"
)

// JobStatus is the completion state of a transaction's processing job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// AdjustmentTypes is the full fixed set emitted on every payload. Types
// absent on a transaction are zero-filled so the schema stays shape-stable.
var AdjustmentTypes = []string{"SERVICE_CHARGE", "DISCOUNT", "VOID", "REFUND", "OTHER"}

// TaxTypes is the full fixed set of tax lines emitted on every payload.
var TaxTypes = []string{"VAT", "SERVICE_TAX", "OTHER_TAX"}

// LineItem is an adjustment or tax line on a transaction.
type LineItem struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

// Transaction is a point-of-sale transaction, read-only to the forwarding
// core. Rows are owned by the ingestion/validation subsystem; the forwarder
// only sees them once ValidationStatus is VALID and the job is COMPLETED.
type Transaction struct {
	ID                   int64            `json:"id" db:"id"`
	TransactionID        string           `json:"transaction_id" db:"transaction_id"`
	TenantID             string           `json:"tenant_id" db:"tenant_id"`
	TenantCode           string           `json:"tenant_code" db:"tenant_code"`
	TenantName           string           `json:"tenant_name" db:"tenant_name"`
	TerminalID           string           `json:"terminal_id" db:"terminal_id"`
	TerminalSerial       string           `json:"terminal_serial" db:"terminal_serial"`
	CallbackURL          string           `json:"callback_url" db:"callback_url"`
	GrossAmount          float64          `json:"gross_amount" db:"gross_amount"`
	NetAmount            float64          `json:"net_amount" db:"net_amount"`
	ValidationStatus     ValidationStatus `json:"validation_status" db:"validation_status"`
	JobStatus            JobStatus        `json:"job_status" db:"job_status"`
	SubmissionUUID       string           `json:"submission_uuid" db:"submission_uuid"`
	TransactionTimestamp time.Time        `json:"transaction_timestamp" db:"transaction_timestamp"`
	ProcessedAt          time.Time        `json:"processed_at" db:"processed_at"`
	Adjustments          []LineItem       `json:"adjustments"`
	Taxes                []LineItem       `json:"taxes"`
}

// Forwardable reports whether the transaction is eligible for forwarding.
func (t *Transaction) Forwardable() bool {
	return t.ValidationStatus == ValidationValid && t.JobStatus == JobCompleted
}
