package forwarder

import (
	"context"
	"log"
	"time"
)

// WindowStore counts events in a sliding window. The redis store satisfies
// this with INCR+EXPIRE.
type WindowStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

const (
	observationWindow       = 15 * time.Minute
	observationMinAttempts  = 10
	observationFailureRatio = 0.5
)

// TenantObserver tracks attempts vs retryable failures per tenant. It only
// warns when a tenant's failure ratio crosses the threshold; it never blocks
// traffic.
type TenantObserver struct {
	store WindowStore
}

// NewTenantObserver wraps a window store. A nil store disables observation.
func NewTenantObserver(store WindowStore) *TenantObserver {
	return &TenantObserver{store: store}
}

// RecordAttempts counts forwarding attempts for a tenant.
func (o *TenantObserver) RecordAttempts(ctx context.Context, tenantID string, n int) {
	if o == nil || o.store == nil {
		return
	}
	for i := 0; i < n; i++ {
		if _, err := o.store.IncrWithTTL(ctx, "tenant:"+tenantID+":attempts", observationWindow); err != nil {
			log.Printf("TENANT_OBSERVATION_ERROR: tenant=%s err=%v", tenantID, err)
			return
		}
	}
}

// RecordRetryableFailures counts retryable failures for a tenant and warns
// when the window's failure ratio crosses the threshold.
func (o *TenantObserver) RecordRetryableFailures(ctx context.Context, tenantID string, n int) {
	if o == nil || o.store == nil {
		return
	}
	var failures int64
	for i := 0; i < n; i++ {
		count, err := o.store.IncrWithTTL(ctx, "tenant:"+tenantID+":retryable_failures", observationWindow)
		if err != nil {
			log.Printf("TENANT_OBSERVATION_ERROR: tenant=%s err=%v", tenantID, err)
			return
		}
		failures = count
	}

	attempts, err := o.store.Get(ctx, "tenant:"+tenantID+":attempts")
	if err != nil {
		log.Printf("TENANT_OBSERVATION_ERROR: tenant=%s err=%v", tenantID, err)
		return
	}
	if attempts < observationMinAttempts {
		return
	}
	ratio := float64(failures) / float64(attempts)
	if ratio >= observationFailureRatio {
		log.Printf("TENANT_FAILURE_RATIO_HIGH: tenant=%s attempts=%d failures=%d ratio=%.2f window=%v",
			tenantID, attempts, failures, ratio, observationWindow)
	}
}
