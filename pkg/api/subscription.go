package api

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type SubscriptionState int

const (
	Idle SubscriptionState = iota
	Loading
	Streaming
	Failed
)

func (s SubscriptionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Streaming:
		return "streaming"
	case Failed:
		return "error"
	}
	return "unknown"
}

// Snapshot is what a UI renders for a subscription: the data, whether the
// first result is still pending, and the error message if the stream failed.
type Snapshot[T any] struct {
	Data    T                 `json:"data"`
	Loading bool              `json:"loading"`
	Error   string            `json:"error,omitempty"`
	State   SubscriptionState `json:"-"`
}

// Iterator is a live query. Next blocks until the store delivers the next
// full result set and returns an error once the query is cancelled or broken.
// Next and Stop are called from a single goroutine.
type Iterator[T any] interface {
	Next() (T, error)
	Stop()
}

// Subscription delivers every result set of a live query until Unsubscribe
// is called or the query fails. A failed subscription stays failed; callers
// re-subscribe to try again.
type Subscription[T any] struct {
	mu      sync.RWMutex
	current Snapshot[T]
	changed chan struct{}

	updates chan Snapshot[T]
	cancel  context.CancelFunc
	done    chan struct{}
}

func idleSubscription[T any]() *Subscription[T] {
	s := &Subscription[T]{
		current: Snapshot[T]{State: Idle},
		changed: make(chan struct{}),
		updates: make(chan Snapshot[T]),
		cancel:  func() {},
		done:    make(chan struct{}),
	}
	close(s.updates)
	close(s.done)
	return s
}

func subscribe[T any](ctx context.Context, open func(ctx context.Context) Iterator[T], logger *zap.Logger) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		current: Snapshot[T]{Loading: true, State: Loading},
		changed: make(chan struct{}),
		updates: make(chan Snapshot[T], 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.updates <- s.current

	go s.run(ctx, open(ctx), logger)
	return s
}

func (s *Subscription[T]) run(ctx context.Context, it Iterator[T], logger *zap.Logger) {
	defer close(s.done)
	defer close(s.updates)
	defer it.Stop()

	for {
		data, err := it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("live query failed", zap.Error(err))
			s.publish(Snapshot[T]{Error: ErrorMessage(storeError("watch", err)), State: Failed})
			return
		}
		s.publish(Snapshot[T]{Data: data, State: Streaming})
	}
}

// publish is only called from run, so the drain-then-send below never blocks.
func (s *Subscription[T]) publish(snapshot Snapshot[T]) {
	s.mu.Lock()
	s.current = snapshot
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	select {
	case <-s.updates:
	default:
	}
	s.updates <- snapshot
}

func (s *Subscription[T]) Current() Snapshot[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Updates yields snapshots as they arrive. Only the newest undelivered
// snapshot is kept. The channel is closed when the subscription ends.
func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.updates
}

// Wait blocks until the subscription has left the Loading state and returns
// the snapshot it settled on.
func (s *Subscription[T]) Wait(ctx context.Context) (Snapshot[T], error) {
	for {
		s.mu.RLock()
		current, changed := s.current, s.changed
		s.mu.RUnlock()

		if current.State != Loading {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-s.done:
			if latest := s.Current(); latest.State != Loading {
				return latest, nil
			}
			return current, context.Canceled
		case <-changed:
		}
	}
}

// Unsubscribe stops the live query and waits for it to wind down. It is safe
// to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has ended.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

type mappedIterator[S, T any] struct {
	it Iterator[S]
	fn func(S) (T, error)
}

func mapIterator[S, T any](it Iterator[S], fn func(S) (T, error)) Iterator[T] {
	return &mappedIterator[S, T]{it: it, fn: fn}
}

func (m *mappedIterator[S, T]) Next() (T, error) {
	data, err := m.it.Next()
	if err != nil {
		var zero T
		return zero, err
	}
	return m.fn(data)
}

func (m *mappedIterator[S, T]) Stop() {
	m.it.Stop()
}
