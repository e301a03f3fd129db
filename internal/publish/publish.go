// Package publish fans state snapshots out to subscribers through
// single-slot mailboxes. Delivery is latest-wins: a slow subscriber
// skips intermediate snapshots instead of stalling the reconciler.
package publish

import (
	"sync"

	"github.com/argus-watch/argus/internal/state"
)

// Subscriber receives snapshots on C. The channel closes on
// Unsubscribe or when the publisher shuts down.
type Subscriber struct {
	ch chan state.Snapshot
}

// C is the subscriber's receive channel.
func (s *Subscriber) C() <-chan state.Snapshot {
	return s.ch
}

// Publisher coalesces snapshots per subscriber.
type Publisher struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates an empty publisher.
func New() *Publisher {
	return &Publisher{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber with an empty mailbox.
func (p *Publisher) Subscribe() *Subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Subscriber{ch: make(chan state.Snapshot, 1)}
	if p.closed {
		close(s.ch)
		return s
	}
	p.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes the subscriber and closes its channel.
func (p *Publisher) Unsubscribe(s *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[s]; !ok {
		return
	}
	delete(p.subs, s)
	close(s.ch)
}

// Publish offers the snapshot to every subscriber without blocking. A
// full mailbox is drained first so the newest snapshot always wins.
func (p *Publisher) Publish(snap state.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for s := range p.subs {
		select {
		case s.ch <- snap:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- snap:
			default:
			}
		}
	}
}

// SubscriberCount reports the current number of subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close shuts the publisher down and closes all subscriber channels.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for s := range p.subs {
		delete(p.subs, s)
		close(s.ch)
	}
}
