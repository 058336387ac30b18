package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pos-forwarder/internal/model"
)

// DispatchResult is the typed outcome of one envelope dispatch. Either Err is
// set (transport-level failure) or StatusCode carries the downstream answer.
type DispatchResult struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Success reports a 2xx response with no transport error.
func (r DispatchResult) Success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Dispatcher delivers an envelope downstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *model.Envelope) DispatchResult
}

// HTTPDispatcher posts envelopes to the configured endpoint with bearer-token
// auth and a bounded timeout.
type HTTPDispatcher struct {
	endpointURL string
	authToken   string
	httpClient  *http.Client
}

// NewHTTPDispatcher builds a dispatcher. skipTLSVerify disables certificate
// verification, for staging endpoints with self-signed certificates only.
func NewHTTPDispatcher(endpointURL, authToken string, timeout time.Duration, skipTLSVerify bool) *HTTPDispatcher {
	client := &http.Client{Timeout: timeout}
	if skipTLSVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &HTTPDispatcher{
		endpointURL: endpointURL,
		authToken:   authToken,
		httpClient:  client,
	}
}

// Dispatch performs the single outbound HTTP call of a forwarding cycle.
// There is no cancellation mid-dispatch: the call completes, errors, or
// times out.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, env *model.Envelope) DispatchResult {
	body, err := json.Marshal(env)
	if err != nil {
		return DispatchResult{Err: fmt.Errorf("envelope marshal failed: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpointURL, bytes.NewBuffer(body))
	if err != nil {
		return DispatchResult{Err: fmt.Errorf("dispatch request creation failed: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.authToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return DispatchResult{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return DispatchResult{StatusCode: resp.StatusCode, Err: fmt.Errorf("response read failed: %w", err)}
	}

	return DispatchResult{StatusCode: resp.StatusCode, Body: respBody}
}
