// Package notifier delivers terminal-failure callbacks to the POS terminal
// that owns a transaction.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// FailureNotice is the callback body sent when a record permanently fails.
type FailureNotice struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Error         string `json:"error"`
}

// Sender posts failure notices to per-terminal callback URLs.
type Sender interface {
	NotifyPermanentFailure(ctx context.Context, callbackURL, transactionID, errorMessage string) error
}

// HTTPSender implements Sender over plain HTTP POST.
type HTTPSender struct {
	httpClient *http.Client
}

// NewHTTPSender builds a sender with the given request timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NotifyPermanentFailure posts {transaction_id, status: "FAILED", error} to
// the callback URL. A missing URL is not an error; the terminal simply has
// no callback configured.
func (s *HTTPSender) NotifyPermanentFailure(ctx context.Context, callbackURL, transactionID, errorMessage string) error {
	if callbackURL == "" {
		log.Printf("CALLBACK_SKIPPED: transaction=%s no callback URL configured", transactionID)
		return nil
	}

	notice := FailureNotice{
		TransactionID: transactionID,
		Status:        "FAILED",
		Error:         errorMessage,
	}
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("callback body marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("callback request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback rejected with status %d", resp.StatusCode)
	}

	log.Printf("CALLBACK_SENT: transaction=%s url=%s", transactionID, callbackURL)
	return nil
}
