// Package eventhandler implements KernelEventHandler (spec §4.G):
// translates classified kernel events from internal/kernelobserver back
// into switch-state updates, each formulated as a pure
// fn(old *switchstate.State) *switchstate.State published through a
// switchstate.Store. Every link, address and neighbor rule here is a
// no-op when the event refers to an interface switch state no longer
// has (one removed out from under a pending event, §8 S6). Route events
// are applied to the route table by table id without that check.
package eventhandler

import (
	"log/slog"

	"github.com/facebook/fboss-sub029/internal/kernelobserver"
	"github.com/facebook/fboss-sub029/internal/switchstate"
)

// Handler drains a kernelobserver.Observer's event channel and applies
// each to a switchstate.Store.
type Handler struct {
	store  *switchstate.Store
	policy switchstate.NeighborTablePolicy
	log    *slog.Logger
}

// New constructs a Handler. policy selects whether neighbor entries are
// keyed under a VLAN or the owning interface (spec §9 open question).
func New(store *switchstate.Store, policy switchstate.NeighborTablePolicy, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, policy: policy, log: log}
}

// Run drains events until the channel is closed (the observer exited,
// normally because its context was cancelled).
func (h *Handler) Run(events <-chan kernelobserver.Event) {
	for ev := range events {
		h.Handle(ev)
	}
}

// Handle applies one event synchronously; exported so tests and the
// packet/ingress-triggered fast paths can drive it directly.
func (h *Handler) Handle(ev kernelobserver.Event) {
	switch ev.Kind {
	case kernelobserver.KindLinkChanged:
		h.handleLinkChanged(ev.LinkChanged)
	case kernelobserver.KindAddrAdded:
		h.handleAddrAdded(ev.AddrAdded)
	case kernelobserver.KindAddrRemoved:
		h.handleAddrRemoved(ev.AddrRemoved)
	case kernelobserver.KindNeighborAdded:
		h.handleNeighborAdded(ev.NeighborAdded)
	case kernelobserver.KindNeighborRemoved:
		h.handleNeighborRemoved(ev.NeighborRemoved)
	case kernelobserver.KindRouteAdded:
		h.handleRouteChanged(ev.RouteAdded, true)
	case kernelobserver.KindRouteRemoved:
		h.handleRouteChanged(ev.RouteRemoved, false)
	}
}

func (h *Handler) handleLinkChanged(ev *kernelobserver.LinkChanged) {
	h.store.Publish(func(old *switchstate.State) *switchstate.State {
		iface, ok := old.Interfaces[ev.IfaceID]
		if !ok {
			return old
		}
		if string(iface.MAC) == string(ev.MAC) && iface.MTU == ev.MTU {
			return old
		}
		updated := *iface
		updated.MAC = ev.MAC
		updated.MTU = ev.MTU
		return old.WithInterface(&updated)
	})
}

func (h *Handler) handleAddrAdded(ev *kernelobserver.AddrChanged) {
	h.store.Publish(func(old *switchstate.State) *switchstate.State {
		iface, ok := old.Interfaces[ev.IfaceID]
		if !ok {
			return old
		}
		want := switchstate.IPNet{IP: ev.IP, PrefixLen: ev.PrefixLen}
		for _, a := range iface.Addresses {
			if a.Equal(want) {
				return old
			}
		}
		updated := *iface
		updated.Addresses = append(append([]switchstate.IPNet(nil), iface.Addresses...), want)
		return old.WithInterface(&updated)
	})
}

func (h *Handler) handleAddrRemoved(ev *kernelobserver.AddrChanged) {
	h.store.Publish(func(old *switchstate.State) *switchstate.State {
		iface, ok := old.Interfaces[ev.IfaceID]
		if !ok {
			return old
		}
		want := switchstate.IPNet{IP: ev.IP, PrefixLen: ev.PrefixLen}
		kept := make([]switchstate.IPNet, 0, len(iface.Addresses))
		found := false
		for _, a := range iface.Addresses {
			if a.Equal(want) {
				found = true
				continue
			}
			kept = append(kept, a)
		}
		if !found {
			return old
		}
		updated := *iface
		updated.Addresses = kept
		return old.WithInterface(&updated)
	})
}

func (h *Handler) handleNeighborAdded(ev *kernelobserver.NeighborChanged) {
	h.store.Publish(func(old *switchstate.State) *switchstate.State {
		iface, ok := old.Interfaces[ev.IfaceID]
		if !ok {
			return old
		}
		entry := switchstate.NeighborEntry{
			IP:      ev.IP,
			MAC:     ev.MAC,
			PortID:  iface.PortID,
			IfaceID: iface.ID,
		}
		table, _ := old.NeighborTableFor(iface, h.policy)
		if existing, ok := table.Lookup(ev.IP); ok && existing.Equal(entry) {
			return old
		}
		return old.UpsertNeighbor(iface, h.policy, entry)
	})
}

func (h *Handler) handleNeighborRemoved(ev *kernelobserver.NeighborChanged) {
	h.store.Publish(func(old *switchstate.State) *switchstate.State {
		iface, ok := old.Interfaces[ev.IfaceID]
		if !ok {
			return old
		}
		return old.RemoveNeighbor(iface, h.policy, ev.IP)
	})
}

func (h *Handler) handleRouteChanged(ev *kernelobserver.RouteChanged, added bool) {
	h.store.Publish(func(old *switchstate.State) *switchstate.State {
		if added {
			return old.WithRoute(switchstate.RouteEntry{
				Family:    ev.Family,
				Dest:      ev.Dest,
				PrefixLen: ev.PrefixLen,
				TableID:   ev.TableID,
				Ifindex:   ev.Ifindex,
				Gateway:   ev.Gateway,
			})
		}
		return old.WithoutRoute(ev.TableID, ev.Dest, ev.PrefixLen)
	})
}
