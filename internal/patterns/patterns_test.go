package patterns

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refusal struct{}

func (refusal) Error() string  { return "refused" }
func (refusal) Rejected() bool { return true }

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test-open", "patterns-test")
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, cb.GetStateValue())
	assert.Equal(t, "open", cb.GetState())
}

func TestCircuitBreaker_RejectionsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("test-rejected", "patterns-test")

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, refusal{} })
		assert.Error(t, err)
	}
	assert.Equal(t, 0, cb.GetStateValue())
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	b := NewBulkhead(1, "test-full", "patterns-test")
	b.acquireFor = 20 * time.Millisecond

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrUnavailable)

	close(release)
	wg.Wait()
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
}

func TestBulkhead_HonoursContext(t *testing.T) {
	b := NewBulkhead(0, "test-ctx", "patterns-test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_PassesThroughError(t *testing.T) {
	g := NewGuard("test-guard", "patterns-test", 2)
	boom := errors.New("boom")

	err := g.Do(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, g.Do(context.Background(), func() error { return nil }))
}
