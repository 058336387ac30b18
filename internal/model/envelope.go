package model

// SchemaVersion identifies the envelope schema sent downstream.
const SchemaVersion = "2.0"

// Sentinel identity values substituted when a reference is missing so the
// payload never carries null identity fields.
const (
	UnknownTenant     = "UNKNOWN_TENANT"
	UnknownTenantName = "UNKNOWN_TENANT_NAME"
	UnknownTerminal   = "UNKNOWN_TERMINAL"
)

// TransactionPayload is the per-transaction body sent inside an envelope.
// Monetary amounts are fixed to two decimals so the serialized bytes, and
// therefore the checksum, are stable on both sides.
type TransactionPayload struct {
	TransactionID        string            `json:"transaction_id"`
	TerminalSerial       string            `json:"terminal_serial"`
	TenantCode           string            `json:"tenant_code"`
	TenantName           string            `json:"tenant_name"`
	TransactionTimestamp string            `json:"transaction_timestamp"`
	Amount               string            `json:"amount"`
	NetAmount            string            `json:"net_amount"`
	ValidationStatus     string            `json:"validation_status"`
	ProcessedAt          string            `json:"processed_at"`
	SubmissionUUID       string            `json:"submission_uuid"`
	Adjustments          []LineItemPayload `json:"adjustments"`
	Taxes                []LineItemPayload `json:"taxes"`
	Checksum             string            `json:"checksum"`
}

// LineItemPayload is a shape-stable adjustment or tax line.
type LineItemPayload struct {
	Type   string `json:"type"`
	Amount string `json:"amount"`
}

// Envelope is the top-level structure POSTed to the downstream endpoint.
type Envelope struct {
	Source           string               `json:"source"`
	SchemaVersion    string               `json:"schema_version"`
	BatchID          string               `json:"batch_id"`
	Timestamp        string               `json:"timestamp"`
	TenantID         string               `json:"tenant_id"`
	TerminalID       string               `json:"terminal_id"`
	TransactionCount int                  `json:"transaction_count"`
	BatchChecksum    string               `json:"batch_checksum"`
	Transactions     []TransactionPayload `json:"transactions"`
}
