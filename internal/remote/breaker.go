package remote

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings configures WithBreaker.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
}

// DefaultBreakerSettings returns production defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, Timeout: 10 * time.Second, MaxRequests: 1}
}

// Breaker wraps a DocStore with a circuit breaker. Not-found and caller
// cancellation do not count as failures.
type Breaker struct {
	next DocStore
	cb   *gobreaker.CircuitBreaker[any]
}

// WithBreaker wraps next so repeated transient failures fail fast with
// gobreaker.ErrOpenState.
func WithBreaker(next DocStore, s BreakerSettings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = DefaultBreakerSettings().FailureThreshold
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "remote",
		MaxRequests: s.MaxRequests,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("remote circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.GetDocument(ctx, collection, id)
	})
	doc, _ := v.(Document)
	return doc, err
}

func (b *Breaker) SetDocument(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.SetDocument(ctx, collection, id, data, merge)
	})
	return err
}

func (b *Breaker) UpdateDocument(ctx context.Context, collection, id string, updates map[string]any) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.UpdateDocument(ctx, collection, id, updates)
	})
	return err
}

func (b *Breaker) AddDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.AddDocument(ctx, collection, data)
	})
	id, _ := v.(string)
	return id, err
}

func (b *Breaker) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.DeleteDocument(ctx, collection, id)
	})
	return err
}

func (b *Breaker) Query(ctx context.Context, q Query) ([]Document, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Query(ctx, q)
	})
	docs, _ := v.([]Document)
	return docs, err
}

func (b *Breaker) SubscribeQuery(ctx context.Context, q Query, fn QueryListener) (func(), error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.SubscribeQuery(ctx, q, fn)
	})
	unsubscribe, _ := v.(func())
	return unsubscribe, err
}

func (b *Breaker) SubscribeDocument(ctx context.Context, collection, id string, fn DocumentListener) (func(), error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.SubscribeDocument(ctx, collection, id, fn)
	})
	unsubscribe, _ := v.(func())
	return unsubscribe, err
}
