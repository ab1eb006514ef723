package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

type subscription struct {
	queue    string
	consumer string
	cancel   context.CancelFunc
	halt     func() error
	done     chan struct{}

	once    sync.Once
	haltErr error
}

// StartSubscription runs loop on its own goroutine with a context that is
// independent of any caller, and returns the handle controlling it. halt is
// called once by Stop before the loop context is cancelled; transports use it
// to cancel the consumer so the delivery stream ends. halt may be nil.
func StartSubscription(queue, consumer string, halt func() error, loop func(ctx context.Context)) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		queue:    queue,
		consumer: consumer,
		cancel:   cancel,
		halt:     halt,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer cancel()
		loop(ctx)
	}()
	return s
}

func (s *subscription) Queue() string { return s.queue }

func (s *subscription) Consumer() string { return s.consumer }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Stop(ctx context.Context) error {
	s.once.Do(func() {
		if s.halt != nil {
			select {
			case <-s.done:
			default:
				s.haltErr = s.halt()
			}
		}
		s.cancel()
	})
	select {
	case <-s.done:
		return s.haltErr
	case <-ctx.Done():
		return fmt.Errorf("eventbus: stop consumer %q: %w", s.consumer, ctx.Err())
	}
}

// SubscriptionSet tracks the subscriptions of one bus so Close can stop them
// all. It also hands out consumer tags that are unique per queue.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs []Subscription
	tags map[string]int
}

// NextTag returns the consumer tag for the next subscription on queue:
// the queue name itself, then "<queue>-2", "<queue>-3", ...
func (s *SubscriptionSet) NextTag(queue string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]int)
	}
	s.tags[queue]++
	if n := s.tags[queue]; n > 1 {
		return queue + "-" + strconv.Itoa(n)
	}
	return queue
}

// Add registers a running subscription.
func (s *SubscriptionSet) Add(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// Active returns the subscriptions whose loop has not exited yet.
func (s *SubscriptionSet) Active() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Subscription
	for _, sub := range s.subs {
		select {
		case <-sub.Done():
		default:
			out = append(out, sub)
		}
	}
	return out
}

// StopAll stops every subscription concurrently and waits for all of them,
// bounded by ctx. The set is empty afterwards.
func (s *SubscriptionSet) StopAll(ctx context.Context) error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	errCh := make(chan error, len(subs))
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			errCh <- sub.Stop(ctx)
		}(sub)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
