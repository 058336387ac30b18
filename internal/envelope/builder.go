// Package envelope assembles the batch envelopes sent downstream: one
// checksum per transaction plus a batch checksum over the set.
package envelope

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"pos-forwarder/internal/checksum"
	"pos-forwarder/internal/clock"
	"pos-forwarder/internal/model"
)

var (
	// ErrEmptyBatch is returned when no transactions are supplied.
	ErrEmptyBatch = errors.New("envelope requires at least one transaction")
	// ErrMixedBatch is returned when transactions in one batch span more than
	// one tenant or terminal. Raised before any network call.
	ErrMixedBatch = errors.New("envelope batch mixes tenants or terminals; split the batch per tenant and terminal")
)

// envelopeTimestamp is ISO-8601 with millisecond precision in UTC.
const envelopeTimestamp = "2006-01-02T15:04:05.000Z"

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Builder constructs envelopes for a fixed source tag.
type Builder struct {
	source string
	clock  clock.Clock
}

// NewBuilder returns a Builder stamping envelopes with source.
func NewBuilder(source string, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Builder{source: source, clock: clk}
}

// NewBatchID generates an identifier for a forwarding attempt cycle.
func NewBatchID() string {
	return uuid.NewString()
}

// Build assembles and validates an envelope for the given transactions under
// batchID. The homogeneity check runs first so a misrouted batch never
// reaches payload construction, let alone the network.
func (b *Builder) Build(batchID string, txs []model.Transaction) (*model.Envelope, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := CheckHomogeneity(txs); err != nil {
		return nil, err
	}

	payloads := make([]model.TransactionPayload, 0, len(txs))
	for i := range txs {
		payload, err := BuildPayload(&txs[i])
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, *payload)
	}

	env := b.Assemble(batchID, txs[0].TenantID, txs[0].TerminalID, payloads)
	if err := Validate(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Assemble wraps already-built payloads in an envelope and computes the
// batch checksum over their transaction checksums.
func (b *Builder) Assemble(batchID, tenantID, terminalID string, payloads []model.TransactionPayload) *model.Envelope {
	sums := make([]string, 0, len(payloads))
	for i := range payloads {
		sums = append(sums, payloads[i].Checksum)
	}

	tenantID = orSentinel(tenantID, model.UnknownTenant)
	terminalID = orSentinel(terminalID, model.UnknownTerminal)

	return &model.Envelope{
		Source:           b.source,
		SchemaVersion:    model.SchemaVersion,
		BatchID:          batchID,
		Timestamp:        b.clock.Now().UTC().Format(envelopeTimestamp),
		TenantID:         tenantID,
		TerminalID:       terminalID,
		TransactionCount: len(payloads),
		BatchChecksum: checksum.ComputeBatch(
			model.SchemaVersion, b.source, batchID, tenantID, terminalID, len(payloads), sums,
		),
		Transactions: payloads,
	}
}

// BuildPayload normalizes one transaction into its wire payload. Identity
// fields fall back to sentinel strings, the full fixed adjustment and tax
// sets are zero-filled, and the checksum is computed and attached last.
func BuildPayload(tx *model.Transaction) (*model.TransactionPayload, error) {
	payload := &model.TransactionPayload{
		TransactionID:        tx.TransactionID,
		TerminalSerial:       orSentinel(tx.TerminalSerial, model.UnknownTerminal),
		TenantCode:           orSentinel(tx.TenantCode, model.UnknownTenant),
		TenantName:           orSentinel(tx.TenantName, model.UnknownTenantName),
		TransactionTimestamp: tx.TransactionTimestamp.UTC().Format(envelopeTimestamp),
		Amount:               formatAmount(tx.GrossAmount),
		NetAmount:            formatAmount(tx.NetAmount),
		ValidationStatus:     string(tx.ValidationStatus),
		ProcessedAt:          tx.ProcessedAt.UTC().Format(envelopeTimestamp),
		SubmissionUUID:       tx.SubmissionUUID,
		Adjustments:          fillLineItems(model.AdjustmentTypes, tx.Adjustments),
		Taxes:                fillLineItems(model.TaxTypes, tx.Taxes),
	}

	digest, err := checksum.ComputePayload(*payload)
	if err != nil {
		return nil, fmt.Errorf("payload checksum failed for transaction %s: %w", tx.TransactionID, err)
	}
	payload.Checksum = digest
	return payload, nil
}

// Validate performs local schema validation of a fully-built envelope so
// contract violations are rejected before any dispatch.
func Validate(env *model.Envelope) error {
	switch {
	case env.Source == "":
		return errors.New("envelope source is required")
	case env.SchemaVersion != model.SchemaVersion:
		return fmt.Errorf("envelope schema_version must be %q, got %q", model.SchemaVersion, env.SchemaVersion)
	case env.BatchID == "":
		return errors.New("envelope batch_id is required")
	case env.Timestamp == "":
		return errors.New("envelope timestamp is required")
	case env.TenantID == "":
		return errors.New("envelope tenant_id is required")
	case env.TerminalID == "":
		return errors.New("envelope terminal_id is required")
	case env.TransactionCount != len(env.Transactions):
		return fmt.Errorf("envelope transaction_count %d does not match %d transactions",
			env.TransactionCount, len(env.Transactions))
	case !hexDigest.MatchString(env.BatchChecksum):
		return errors.New("envelope batch_checksum must be a 64-character hex digest")
	}

	for i := range env.Transactions {
		if err := validatePayload(&env.Transactions[i]); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

func validatePayload(p *model.TransactionPayload) error {
	switch {
	case p.TransactionID == "":
		return errors.New("transaction_id is required")
	case p.SubmissionUUID == "":
		return errors.New("submission_uuid is required")
	case !hexDigest.MatchString(p.Checksum):
		return errors.New("checksum must be a 64-character hex digest")
	}

	for _, field := range []struct {
		name  string
		value string
	}{{"amount", p.Amount}, {"net_amount", p.NetAmount}} {
		amount, err := strconv.ParseFloat(field.value, 64)
		if err != nil {
			return fmt.Errorf("%s %q is not numeric", field.name, field.value)
		}
		if amount < 0 {
			return fmt.Errorf("%s must not be negative", field.name)
		}
	}
	return nil
}

// CheckHomogeneity enforces the batch contract: every transaction in one
// batch shares the same tenant and terminal.
func CheckHomogeneity(txs []model.Transaction) error {
	tenant, terminal := txs[0].TenantID, txs[0].TerminalID
	for i := 1; i < len(txs); i++ {
		if txs[i].TenantID != tenant || txs[i].TerminalID != terminal {
			return fmt.Errorf("%w: saw tenant=%s terminal=%s and tenant=%s terminal=%s",
				ErrMixedBatch, tenant, terminal, txs[i].TenantID, txs[i].TerminalID)
		}
	}
	return nil
}

// fillLineItems emits every known type exactly once, summing duplicates and
// zero-filling the rest, so the payload shape never depends on content.
func fillLineItems(types []string, items []model.LineItem) []model.LineItemPayload {
	amounts := make(map[string]float64, len(types))
	for _, item := range items {
		amounts[item.Type] += item.Amount
	}

	out := make([]model.LineItemPayload, 0, len(types))
	for _, typ := range types {
		out = append(out, model.LineItemPayload{
			Type:   typ,
			Amount: formatAmount(amounts[typ]),
		})
	}
	return out
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func orSentinel(value, sentinel string) string {
	if value == "" {
		return sentinel
	}
	return value
}
