// Package forwarder orchestrates outbound delivery: candidate selection,
// idempotency, breaker gating, envelope construction, dispatch, and the
// forwarding record state machine.
package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"pos-forwarder/internal/breaker"
	"pos-forwarder/internal/classify"
	"pos-forwarder/internal/clock"
	"pos-forwarder/internal/config"
	"pos-forwarder/internal/envelope"
	"pos-forwarder/internal/model"
	"pos-forwarder/internal/notifier"
	"pos-forwarder/internal/repository"
)

var (
	// ErrEndpointNotConfigured is returned when forwarding runs without a
	// downstream endpoint URL.
	ErrEndpointNotConfigured = errors.New("forwarding endpoint URL is not configured")
	// ErrNotForwardable is returned for transactions that are not VALID or
	// whose processing job has not completed.
	ErrNotForwardable = errors.New("transaction is not eligible for forwarding")
)

// Outcome summarizes how a forwarding cycle ended.
type Outcome string

const (
	OutcomeDisabled           Outcome = "disabled"
	OutcomeSkippedBreakerOpen Outcome = "skipped_breaker_open"
	OutcomeNoCandidates       Outcome = "no_candidates"
	OutcomeAlreadyCompleted   Outcome = "already_completed"
	OutcomeCompleted          Outcome = "completed"
	OutcomeCaptured           Outcome = "captured"
	OutcomeFailed             Outcome = "failed"
)

// CycleResult reports one forwarding cycle.
type CycleResult struct {
	Outcome          Outcome `json:"outcome"`
	BatchID          string  `json:"batch_id,omitempty"`
	TransactionCount int     `json:"transaction_count"`
	FailureClass     string  `json:"failure_class,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Forwarder ties the forwarding core together.
type Forwarder struct {
	cfg        config.Config
	txRepo     repository.TransactionRepository
	records    repository.ForwardingRecordRepository
	breaker    *breaker.Breaker
	builder    *envelope.Builder
	dispatcher Dispatcher
	notifier   notifier.Sender
	observer   *TenantObserver
	clock      clock.Clock
}

// New wires a Forwarder.
func New(
	cfg config.Config,
	txRepo repository.TransactionRepository,
	records repository.ForwardingRecordRepository,
	brk *breaker.Breaker,
	builder *envelope.Builder,
	dispatcher Dispatcher,
	sender notifier.Sender,
	observer *TenantObserver,
	clk clock.Clock,
) *Forwarder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Forwarder{
		cfg:        cfg,
		txRepo:     txRepo,
		records:    records,
		breaker:    brk,
		builder:    builder,
		dispatcher: dispatcher,
		notifier:   sender,
		observer:   observer,
		clock:      clk,
	}
}

// candidate pairs a transaction with its forwarding record for one cycle.
type candidate struct {
	tx       model.Transaction
	rec      *model.ForwardingRecord
	attempts int
}

// ProcessUnforwarded runs one forwarding cycle over eligible transactions.
func (f *Forwarder) ProcessUnforwarded(ctx context.Context) (*CycleResult, error) {
	if !f.cfg.Enabled {
		return &CycleResult{Outcome: OutcomeDisabled}, nil
	}
	if f.cfg.EndpointURL == "" && !f.cfg.CaptureOnly {
		return nil, ErrEndpointNotConfigured
	}

	allowed, err := f.breaker.Allow(ctx)
	if err != nil {
		return nil, err
	}
	if !allowed {
		log.Printf("FORWARD_SKIPPED: breaker open, no dispatch attempted")
		return &CycleResult{Outcome: OutcomeSkippedBreakerOpen}, nil
	}

	txs, err := f.txRepo.ListForwardable(ctx, f.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("candidate selection failed: %w", err)
	}
	if len(txs) == 0 {
		return &CycleResult{Outcome: OutcomeNoCandidates}, nil
	}

	// One batch per cycle must stay homogeneous, so restrict the cycle to
	// the first candidate's tenant and terminal; the rest wait for the next
	// cycle.
	group := txs[:0:0]
	for _, tx := range txs {
		if tx.TenantID == txs[0].TenantID && tx.TerminalID == txs[0].TerminalID {
			group = append(group, tx)
		}
	}

	return f.forward(ctx, group)
}

// ForwardImmediately sends a single transaction as a one-element batch for
// low-latency delivery, going through the same build/validate/dispatch path.
func (f *Forwarder) ForwardImmediately(ctx context.Context, transactionID int64) (*CycleResult, error) {
	if !f.cfg.Enabled {
		return &CycleResult{Outcome: OutcomeDisabled}, nil
	}
	if f.cfg.EndpointURL == "" && !f.cfg.CaptureOnly {
		return nil, ErrEndpointNotConfigured
	}

	allowed, err := f.breaker.Allow(ctx)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return &CycleResult{Outcome: OutcomeSkippedBreakerOpen}, nil
	}

	tx, err := f.txRepo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.Forwardable() {
		return nil, fmt.Errorf("%w: transaction %s has validation_status=%s job_status=%s",
			ErrNotForwardable, tx.TransactionID, tx.ValidationStatus, tx.JobStatus)
	}

	return f.forward(ctx, []model.Transaction{*tx})
}

func (f *Forwarder) forward(ctx context.Context, txs []model.Transaction) (*CycleResult, error) {
	if done, result := f.checkSubmissionIdempotency(ctx, txs); done {
		return result, nil
	}

	candidates, err := f.collectCandidates(ctx, txs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &CycleResult{Outcome: OutcomeNoCandidates}, nil
	}

	batchID := envelope.NewBatchID()
	dispatched, payloads := f.markInProgress(ctx, batchID, candidates)
	if len(dispatched) == 0 {
		return &CycleResult{
			Outcome:      OutcomeFailed,
			BatchID:      batchID,
			FailureClass: classify.LocalValidationFailed.String(),
			Error:        "no payload could be built for this cycle",
		}, nil
	}

	// Both entry points pre-group by tenant and terminal; this guard catches
	// any future caller that does not. It runs after markInProgress so the
	// failed attempt still counts toward exhaustion.
	dispatchedTxs := make([]model.Transaction, 0, len(dispatched))
	for _, c := range dispatched {
		dispatchedTxs = append(dispatchedTxs, c.tx)
	}
	if err := envelope.CheckHomogeneity(dispatchedTxs); err != nil {
		msg := err.Error() + "; re-run forwarding so each tenant/terminal group is batched separately"
		f.failCandidates(ctx, dispatched, classify.LocalBatchContractFailed, nil, msg)
		f.notifyExhausted(ctx, dispatched, msg)
		return &CycleResult{
			Outcome:          OutcomeFailed,
			BatchID:          batchID,
			TransactionCount: len(dispatched),
			FailureClass:     classify.LocalBatchContractFailed.String(),
			Error:            msg,
		}, nil
	}

	env := f.builder.Assemble(batchID, dispatched[0].tx.TenantID, dispatched[0].tx.TerminalID, payloads)
	if err := envelope.Validate(env); err != nil {
		msg := err.Error() + "; correct the transaction data before the next cycle"
		f.failCandidates(ctx, dispatched, classify.LocalValidationFailed, nil, msg)
		f.notifyExhausted(ctx, dispatched, msg)
		return &CycleResult{
			Outcome:          OutcomeFailed,
			BatchID:          batchID,
			TransactionCount: len(dispatched),
			FailureClass:     classify.LocalValidationFailed.String(),
			Error:            msg,
		}, nil
	}

	if f.cfg.CaptureOnly {
		f.completeCandidates(ctx, dispatched, 0, json.RawMessage(`{"captured":true}`))
		log.Printf("FORWARD_CAPTURED: batch=%s transactions=%d capture-only mode, no dispatch", batchID, len(dispatched))
		return &CycleResult{Outcome: OutcomeCaptured, BatchID: batchID, TransactionCount: len(dispatched)}, nil
	}

	f.observer.RecordAttempts(ctx, env.TenantID, len(dispatched))

	log.Printf("FORWARD_DISPATCH: batch=%s tenant=%s terminal=%s transactions=%d",
		batchID, env.TenantID, env.TerminalID, len(dispatched))
	result := f.dispatcher.Dispatch(ctx, env)

	if result.Success() {
		f.completeCandidates(ctx, dispatched, result.StatusCode, result.Body)
		if err := f.breaker.Reset(ctx); err != nil {
			log.Printf("BREAKER_RESET_ERROR: %v", err)
		}
		log.Printf("FORWARD_COMPLETED: batch=%s transactions=%d status=%d", batchID, len(dispatched), result.StatusCode)
		return &CycleResult{Outcome: OutcomeCompleted, BatchID: batchID, TransactionCount: len(dispatched)}, nil
	}

	class, msg, statusCode := f.classifyFailure(result)
	log.Printf("FORWARD_FAILED: batch=%s class=%s err=%s", batchID, class, msg)

	if class.Retryable() {
		if err := f.breaker.RecordFailure(ctx); err != nil {
			log.Printf("BREAKER_RECORD_ERROR: %v", err)
		}
		f.observer.RecordRetryableFailures(ctx, env.TenantID, len(dispatched))
	}

	f.failCandidates(ctx, dispatched, class, statusCode, msg)
	f.notifyExhausted(ctx, dispatched, msg)

	return &CycleResult{
		Outcome:          OutcomeFailed,
		BatchID:          batchID,
		TransactionCount: len(dispatched),
		FailureClass:     class.String(),
		Error:            msg,
	}, nil
}

// checkSubmissionIdempotency short-circuits when every transaction shares a
// submission UUID whose records are already all completed. A repeated
// submission then becomes a no-op success instead of a duplicate delivery.
func (f *Forwarder) checkSubmissionIdempotency(ctx context.Context, txs []model.Transaction) (bool, *CycleResult) {
	submission := txs[0].SubmissionUUID
	if submission == "" {
		return false, nil
	}
	for _, tx := range txs {
		if tx.SubmissionUUID != submission {
			return false, nil
		}
	}

	records, err := f.records.ListBySubmission(ctx, submission)
	if err != nil {
		log.Printf("IDEMPOTENCY_CHECK_ERROR: submission=%s err=%v", submission, err)
		return false, nil
	}
	if len(records) < len(txs) {
		return false, nil
	}
	for _, rec := range records {
		if rec.Status != model.ForwardCompleted {
			return false, nil
		}
	}

	log.Printf("FORWARD_IDEMPOTENT_NOOP: submission=%s records=%d already completed", submission, len(records))
	return true, &CycleResult{Outcome: OutcomeAlreadyCompleted, TransactionCount: len(txs)}
}

func (f *Forwarder) collectCandidates(ctx context.Context, txs []model.Transaction) ([]candidate, error) {
	candidates := make([]candidate, 0, len(txs))
	for _, tx := range txs {
		rec, err := f.records.GetOrCreate(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if rec.Status == model.ForwardCompleted {
			continue
		}
		if rec.Exhausted() {
			log.Printf("FORWARD_RECORD_EXHAUSTED: transaction=%s attempts=%d max=%d",
				tx.TransactionID, rec.Attempts, rec.MaxAttempts)
			continue
		}
		candidates = append(candidates, candidate{tx: tx, rec: rec})
	}
	return candidates, nil
}

// markInProgress refreshes each record for the new cycle: new batch id, a
// payload rebuilt from current transaction state, attempts+1, and attempt
// timestamps. Records whose payload cannot be built are failed individually
// and dropped; one bad transaction never aborts the whole cycle.
func (f *Forwarder) markInProgress(ctx context.Context, batchID string, candidates []candidate) ([]candidate, []model.TransactionPayload) {
	now := f.clock.Now()
	dispatched := make([]candidate, 0, len(candidates))
	payloads := make([]model.TransactionPayload, 0, len(candidates))

	for i := range candidates {
		c := candidates[i]
		payload, err := envelope.BuildPayload(&c.tx)
		if err != nil {
			log.Printf("PAYLOAD_BUILD_ERROR: transaction=%s err=%v", c.tx.TransactionID, err)
			f.markFailed(ctx, c, classify.LocalValidationFailed, nil, err.Error())
			continue
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Printf("PAYLOAD_MARSHAL_ERROR: transaction=%s err=%v", c.tx.TransactionID, err)
			f.markFailed(ctx, c, classify.LocalValidationFailed, nil, err.Error())
			continue
		}
		if err := f.records.MarkInProgress(ctx, c.rec.ID, batchID, raw, now); err != nil {
			log.Printf("RECORD_IN_PROGRESS_ERROR: transaction=%s err=%v", c.tx.TransactionID, err)
			continue
		}
		c.attempts = c.rec.Attempts + 1
		dispatched = append(dispatched, c)
		payloads = append(payloads, *payload)
	}
	return dispatched, payloads
}

func (f *Forwarder) classifyFailure(result DispatchResult) (classify.Class, string, *int) {
	if result.Err != nil {
		return classify.TransportError(result.Err), result.Err.Error(), nil
	}
	class := classify.Response(result.StatusCode)
	msg := fmt.Sprintf("downstream returned status %d: %s", result.StatusCode, truncate(result.Body, 512))
	code := result.StatusCode
	return class, msg, &code
}

func (f *Forwarder) completeCandidates(ctx context.Context, candidates []candidate, statusCode int, body []byte) {
	now := f.clock.Now()
	for _, c := range candidates {
		if err := f.records.MarkCompleted(ctx, c.rec.ID, statusCode, normalizeResponse(body), now); err != nil {
			log.Printf("RECORD_COMPLETE_ERROR: transaction=%s err=%v", c.tx.TransactionID, err)
		}
	}
}

func (f *Forwarder) failCandidates(ctx context.Context, candidates []candidate, class classify.Class, statusCode *int, msg string) {
	for _, c := range candidates {
		f.markFailed(ctx, c, class, statusCode, msg)
	}
}

func (f *Forwarder) markFailed(ctx context.Context, c candidate, class classify.Class, statusCode *int, msg string) {
	message := class.String() + ": " + msg
	if err := f.records.MarkFailed(ctx, c.rec.ID, statusCode, message, f.clock.Now()); err != nil {
		log.Printf("RECORD_FAIL_ERROR: transaction=%s err=%v", c.tx.TransactionID, err)
	}
}

// notifyExhausted fires the terminal-failure callback for records that have
// just used up their retry budget. Exhausted records are excluded from later
// cycles, so the callback fires exactly once per record. Callback failures
// are logged and never abort the cycle.
func (f *Forwarder) notifyExhausted(ctx context.Context, candidates []candidate, msg string) {
	for _, c := range candidates {
		if c.attempts < c.rec.MaxAttempts {
			continue
		}
		log.Printf("FORWARD_RECORD_PERMANENT_FAILURE: transaction=%s attempts=%d", c.tx.TransactionID, c.attempts)
		if err := f.notifier.NotifyPermanentFailure(ctx, c.tx.CallbackURL, c.tx.TransactionID, msg); err != nil {
			log.Printf("CALLBACK_ERROR: transaction=%s err=%v", c.tx.TransactionID, err)
		}
	}
}

func normalizeResponse(body []byte) json.RawMessage {
	if json.Valid(body) {
		return body
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return json.RawMessage(`null`)
	}
	return quoted
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
