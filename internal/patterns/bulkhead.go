package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/ashendes/storefront-checkout/internal/metrics"
)

// Bulkhead caps concurrent calls to one collaborator
type Bulkhead struct {
	semaphore  chan struct{}
	name       string
	service    string
	acquireFor time.Duration
}

// NewBulkhead creates a new bulkhead with specified capacity
func NewBulkhead(size int, name, service string) *Bulkhead {
	return &Bulkhead{
		semaphore:  make(chan struct{}, size),
		name:       name,
		service:    service,
		acquireFor: time.Second,
	}
}

// Execute runs fn once a slot is free, giving up after a second or when ctx ends
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	timer := time.NewTimer(b.acquireFor)
	defer timer.Stop()

	select {
	case b.semaphore <- struct{}{}:
		metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Inc()
		defer func() {
			<-b.semaphore
			metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Dec()
		}()
		return fn()

	case <-ctx.Done():
		return ctx.Err()

	case <-timer.C:
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return fmt.Errorf("bulkhead %s: timeout acquiring resource: %w", b.name, ErrUnavailable)
	}
}

// GetName returns the bulkhead name
func (b *Bulkhead) GetName() string {
	return b.name
}
