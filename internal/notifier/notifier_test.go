package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPermanentFailurePostsNotice(t *testing.T) {
	var received FailureNotice
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewHTTPSender(5 * time.Second)
	err := sender.NotifyPermanentFailure(context.Background(), srv.URL, "TXN-001", "HTTP_5XX_RETRYABLE: status 503")

	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "TXN-001", received.TransactionID)
	assert.Equal(t, "FAILED", received.Status)
	assert.Equal(t, "HTTP_5XX_RETRYABLE: status 503", received.Error)
}

func TestNotifyPermanentFailureEmptyURLIsNoop(t *testing.T) {
	sender := NewHTTPSender(5 * time.Second)
	err := sender.NotifyPermanentFailure(context.Background(), "", "TXN-001", "boom")
	assert.NoError(t, err)
}

func TestNotifyPermanentFailureNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewHTTPSender(5 * time.Second)
	err := sender.NotifyPermanentFailure(context.Background(), srv.URL, "TXN-001", "boom")
	assert.ErrorContains(t, err, "502")
}

func TestNotifyPermanentFailureTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	sender := NewHTTPSender(time.Second)
	err := sender.NotifyPermanentFailure(context.Background(), srv.URL, "TXN-001", "boom")
	assert.Error(t, err)
}
