package model

import (
	"encoding/json"
	"time"
)

// ForwardStatus represents the lifecycle state of a forwarding record.
//
// State machine:
//
//	[pending] ---(cycle picks up)---> [in_progress]
//	[in_progress] ---(downstream ack)---> [completed]
//	[in_progress] ---(failure)---> [failed]
//	[failed] ---(next cycle, attempts < max)---> [in_progress]
//
// completed is terminal: a completed record is permanently excluded from
// candidate selection. failed becomes terminal once attempts reach the
// maximum, at which point the terminal-failure callback fires.
type ForwardStatus string

const (
	ForwardPending    ForwardStatus = "pending"
	ForwardInProgress ForwardStatus = "in_progress"
	ForwardCompleted  ForwardStatus = "completed"
	ForwardFailed     ForwardStatus = "failed"
)

func (s ForwardStatus) String() string { return string(s) }

func (s ForwardStatus) IsValid() bool {
	switch s {
	case ForwardPending, ForwardInProgress, ForwardCompleted, ForwardFailed:
		return true
	}
	return false
}

// DefaultMaxAttempts bounds forwarding retry cycles per record.
const DefaultMaxAttempts = 3

// ForwardingRecord tracks delivery attempts and outcome for one transaction.
// There is exactly one record per transaction (unique constraint).
type ForwardingRecord struct {
	ID                 int64           `json:"id" db:"id"`
	TransactionID      int64           `json:"transaction_id" db:"transaction_id"`
	Status             ForwardStatus   `json:"status" db:"status"`
	BatchID            string          `json:"batch_id" db:"batch_id"`
	Attempts           int             `json:"attempts" db:"attempts"`
	MaxAttempts        int             `json:"max_attempts" db:"max_attempts"`
	FirstAttemptedAt   *time.Time      `json:"first_attempted_at,omitempty" db:"first_attempted_at"`
	LastAttemptedAt    *time.Time      `json:"last_attempted_at,omitempty" db:"last_attempted_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	RequestPayload     json.RawMessage `json:"request_payload,omitempty" db:"request_payload"`
	ResponseData       json.RawMessage `json:"response_data,omitempty" db:"response_data"`
	ResponseStatusCode *int            `json:"response_status_code,omitempty" db:"response_status_code"`
	ErrorMessage       string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Exhausted reports whether the record has used up its retry budget.
func (r *ForwardingRecord) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}
