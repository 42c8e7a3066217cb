package eventlog

import (
	"context"
	"sync"

	"github.com/noteflowhq/noteflow/internal/event"
)

// notifier wakes tailing subscriptions when an append lands. Each subscriber
// holds a buffered signal channel; broadcast is a non-blocking send, so a
// subscriber that is mid-read coalesces wakeups instead of queueing them.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan struct{})}
}

func (n *notifier) subscribe() (int, chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	ch := make(chan struct{}, 1)
	if n.closed {
		close(ch)
		return id, ch
	}
	n.subs[id] = ch
	return id, ch
}

func (n *notifier) unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, id)
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}

// Subscription delivers events in position order: first everything already
// in the log past the starting position, then live appends as they land.
type Subscription struct {
	out    chan event.Envelope
	cancel context.CancelFunc
	done   chan struct{}
}

// Events is the ordered event stream. Closed when the subscription stops,
// either via Close, context cancellation, or store shutdown.
func (sub *Subscription) Events() <-chan event.Envelope {
	return sub.out
}

// Close stops the subscription and waits for the delivery goroutine to exit.
func (sub *Subscription) Close() {
	sub.cancel()
	<-sub.done
}

// Subscribe starts tailing the log from position after (0 for the full log).
// Delivery preserves position order with no gaps or duplicates: the
// subscription catches up via reads, then blocks on the append signal.
func (s *Store) Subscribe(ctx context.Context, after int64) *Subscription {
	ctx, cancel := context.WithCancel(ctx)

	sub := &Subscription{
		out:    make(chan event.Envelope),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	id, signal := s.notifier.subscribe()

	go func() {
		defer close(sub.done)
		defer close(sub.out)
		defer s.notifier.unsubscribe(id)

		pos := after
		for {
			envs, err := s.ReadFrom(ctx, pos)
			if err != nil {
				// Store closed or context cancelled mid-read; either way
				// the subscription is over.
				return
			}
			for _, env := range envs {
				select {
				case sub.out <- env:
					pos = env.Position
				case <-ctx.Done():
					return
				}
			}

			select {
			case _, ok := <-signal:
				if !ok {
					// Store shut down; drain whatever landed before the
					// close, then stop.
					envs, err := s.ReadFrom(context.Background(), pos)
					if err != nil {
						return
					}
					for _, env := range envs {
						select {
						case sub.out <- env:
							pos = env.Position
						case <-ctx.Done():
							return
						}
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub
}
