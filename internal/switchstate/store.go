package switchstate

import (
	"sync"
	"sync/atomic"
)

// StateDelta describes a single published transition of the switch state
// tree, handed to subscribers (spec §3: "The core's observer subscribes
// to StateDelta(old, new) events produced by that swap").
type StateDelta struct {
	Old *State
	New *State
}

// Store holds the current switch state as an atomically-swapped pointer.
// Readers call Current and never block; the single writer calls Publish,
// which is itself serialized by an internal mutex so that "publish a new
// root via an atomic swap" (spec §3) is well-defined under concurrent
// writers, even though the core's own producer (KernelEventHandler) is
// single-threaded.
//
// This follows the same mutex-on-write, lock-free-read idiom used
// elsewhere in this tree for shared state: instead of making every
// reader take a lock, only the writer pays a lock; readers pay nothing.
type Store struct {
	root atomic.Pointer[State]

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[int]func(StateDelta)
	nextID int
}

// NewStore creates a Store with the given initial state (NewState() if nil).
func NewStore(initial *State) *Store {
	if initial == nil {
		initial = NewState()
	}
	s := &Store{subs: map[int]func(StateDelta){}}
	s.root.Store(initial)
	return s
}

// Current returns the current state snapshot. Safe to call from any
// goroutine without additional synchronization.
func (s *Store) Current() *State {
	return s.root.Load()
}

// Publish computes a new root by applying fn to the current state and
// atomically swaps it in, then notifies subscribers with the delta.
// Publishers are serialized against each other; readers of Current are
// never blocked.
func (s *Store) Publish(fn func(*State) *State) *State {
	s.writeMu.Lock()
	old := s.root.Load()
	next := fn(old)
	if next == nil {
		next = old
	}
	s.root.Store(next)
	s.writeMu.Unlock()

	if next != old {
		s.notify(StateDelta{Old: old, New: next})
	}
	return next
}

// Subscribe registers fn to be called with every published delta.
// It returns an unsubscribe function.
func (s *Store) Subscribe(fn func(StateDelta)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(delta StateDelta) {
	s.subMu.Lock()
	fns := make([]func(StateDelta), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(delta)
	}
}
