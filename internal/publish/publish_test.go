package publish

import (
	"testing"

	"github.com/argus-watch/argus/internal/state"
)

func snapAt(ms int64) state.Snapshot {
	return state.Snapshot{LastUpdated: ms}
}

func TestLatestWins(t *testing.T) {
	p := New()
	defer p.Close()
	sub := p.Subscribe()

	// Three publishes with no reader in between: only the newest survives.
	p.Publish(snapAt(1))
	p.Publish(snapAt(2))
	p.Publish(snapAt(3))

	got := <-sub.C()
	if got.LastUpdated != 3 {
		t.Errorf("received snapshot %d, want 3", got.LastUpdated)
	}
	select {
	case extra := <-sub.C():
		t.Errorf("unexpected second snapshot %d", extra.LastUpdated)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	p := New()
	defer p.Close()
	p.Subscribe() // never read

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 100; i++ {
			p.Publish(snapAt(i))
		}
		close(done)
	}()
	<-done
}

func TestIndependentMailboxes(t *testing.T) {
	p := New()
	defer p.Close()
	fast := p.Subscribe()
	p.Subscribe() // slow, never reads

	p.Publish(snapAt(1))
	if got := <-fast.C(); got.LastUpdated != 1 {
		t.Errorf("fast subscriber got %d, want 1", got.LastUpdated)
	}
	p.Publish(snapAt(2))
	if got := <-fast.C(); got.LastUpdated != 2 {
		t.Errorf("fast subscriber got %d, want 2", got.LastUpdated)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := New()
	defer p.Close()
	sub := p.Subscribe()

	p.Unsubscribe(sub)
	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Unsubscribe")
	}
	// Double unsubscribe must not panic.
	p.Unsubscribe(sub)
	if p.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", p.SubscriberCount())
	}
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	p := New()
	a := p.Subscribe()
	b := p.Subscribe()

	p.Close()
	if _, ok := <-a.C(); ok {
		t.Error("subscriber a still open after Close")
	}
	if _, ok := <-b.C(); ok {
		t.Error("subscriber b still open after Close")
	}

	// Publishing and subscribing after Close are no-ops.
	p.Publish(snapAt(9))
	late := p.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("late subscriber channel open after Close")
	}
}
