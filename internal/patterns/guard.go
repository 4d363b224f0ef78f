package patterns

import "context"

// Guard nests a circuit breaker inside a bulkhead, the way every collaborator
// call is protected.
type Guard struct {
	Bulkhead *Bulkhead
	Breaker  *CircuitBreaker
}

func NewGuard(name, service string, capacity int) *Guard {
	return &Guard{
		Bulkhead: NewBulkhead(capacity, name, service),
		Breaker:  NewCircuitBreaker(name, service),
	}
}

// Do runs fn under both protections
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	return g.Bulkhead.Execute(ctx, func() error {
		_, err := g.Breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		return err
	})
}
