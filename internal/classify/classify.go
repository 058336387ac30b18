// Package classify maps forwarding outcomes to a failure taxonomy. Only
// retryable classes are allowed to feed the circuit breaker: a malformed
// payload must never take down delivery for everyone.
package classify

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// Class is the failure taxonomy for a forwarding outcome.
type Class string

const (
	// LocalValidationFailed marks an envelope rejected before any network call.
	LocalValidationFailed Class = "LOCAL_VALIDATION_FAILED"
	// LocalBatchContractFailed marks a batch-contract violation (e.g., mixed
	// tenant or terminal) detected before any network call.
	LocalBatchContractFailed Class = "LOCAL_BATCH_CONTRACT_FAILED"
	// HTTP422Validation marks a downstream contract rejection.
	HTTP422Validation Class = "HTTP_422_VALIDATION"
	// HTTP4xx marks any other client error, non-retryable by policy.
	HTTP4xx Class = "HTTP_4XX"
	// HTTP5xxRetryable marks a downstream server error.
	HTTP5xxRetryable Class = "HTTP_5XX_RETRYABLE"
	// NetworkDNS marks a host-resolution failure.
	NetworkDNS Class = "NETWORK_DNS"
	// NetworkOther marks any other transport-level failure, timeouts included.
	NetworkOther Class = "NETWORK_OTHER"
)

func (c Class) String() string { return string(c) }

// Retryable reports whether the class may feed the circuit breaker and be
// retried on a later cycle.
func (c Class) Retryable() bool {
	switch c {
	case HTTP5xxRetryable, NetworkDNS, NetworkOther:
		return true
	}
	return false
}

// Response classifies a non-2xx HTTP status code.
func Response(statusCode int) Class {
	switch {
	case statusCode == http.StatusUnprocessableEntity:
		return HTTP422Validation
	case statusCode >= 500:
		return HTTP5xxRetryable
	default:
		return HTTP4xx
	}
}

// TransportError classifies a transport-level error from the HTTP client.
func TransportError(err error) Class {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NetworkDNS
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "name resolution") {
		return NetworkDNS
	}
	return NetworkOther
}
