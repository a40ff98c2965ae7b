// Package stateobserver implements StateObserver (spec §4.F): it
// registers with the switch-state update queue and, for each delta,
// posts a sync job to the syncer's executor without holding the
// switch-state lock across the post.
package stateobserver

import "github.com/facebook/fboss-sub029/internal/switchstate"

// Syncer is the subset of *syncer.Syncer this package depends on.
type Syncer interface {
	Enqueue(state *switchstate.State)
}

// Observer bridges a switchstate.Store to a Syncer.
type Observer struct {
	syncer Syncer
}

// New constructs an Observer.
func New(syncer Syncer) *Observer {
	return &Observer{syncer: syncer}
}

// Attach subscribes to store and returns the unsubscribe func. Every
// delta enqueues the new state; Store.Publish has already released its
// write lock by the time subscribers run; this method just forwards
// without acquiring any lock of its own.
func (o *Observer) Attach(store *switchstate.Store) (unsubscribe func()) {
	return store.Subscribe(func(delta switchstate.StateDelta) {
		o.syncer.Enqueue(delta.New)
	})
}
