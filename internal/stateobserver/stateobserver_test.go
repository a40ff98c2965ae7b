package stateobserver

import (
	"testing"

	"github.com/facebook/fboss-sub029/internal/switchstate"
)

type fakeSyncer struct {
	enqueued []*switchstate.State
}

func (f *fakeSyncer) Enqueue(state *switchstate.State) {
	f.enqueued = append(f.enqueued, state)
}

func TestAttachForwardsEveryDelta(t *testing.T) {
	store := switchstate.NewStore(switchstate.NewState())
	fs := &fakeSyncer{}
	o := New(fs)
	unsub := o.Attach(store)
	defer unsub()

	store.Publish(func(s *switchstate.State) *switchstate.State {
		return s.WithInterface(&switchstate.Interface{ID: 1})
	})
	store.Publish(func(s *switchstate.State) *switchstate.State {
		return s.WithInterface(&switchstate.Interface{ID: 2})
	})

	if len(fs.enqueued) != 2 {
		t.Fatalf("expected 2 enqueued states, got %d", len(fs.enqueued))
	}
	if _, ok := fs.enqueued[1].Interfaces[1]; !ok {
		t.Errorf("expected second enqueued state to retain interface 1")
	}
	if _, ok := fs.enqueued[1].Interfaces[2]; !ok {
		t.Errorf("expected second enqueued state to include interface 2")
	}
}

func TestUnsubscribeStopsForwarding(t *testing.T) {
	store := switchstate.NewStore(switchstate.NewState())
	fs := &fakeSyncer{}
	o := New(fs)
	unsub := o.Attach(store)
	unsub()

	store.Publish(func(s *switchstate.State) *switchstate.State {
		return s.WithInterface(&switchstate.Interface{ID: 1})
	})

	if len(fs.enqueued) != 0 {
		t.Errorf("expected no enqueue after unsubscribe, got %d", len(fs.enqueued))
	}
}
