package eventhandler

import (
	"net"
	"testing"

	"github.com/facebook/fboss-sub029/internal/ids"
	"github.com/facebook/fboss-sub029/internal/kernelobserver"
	"github.com/facebook/fboss-sub029/internal/switchstate"
)

func newStoreWithIface(id ids.InterfaceID) *switchstate.Store {
	st := switchstate.NewState().WithInterface(&switchstate.Interface{ID: id, Name: "fboss2001"})
	return switchstate.NewStore(st)
}

// S4: kernel-originated neighbor add installs an ARP entry; a second
// identical event produces no update.
func TestScenarioS4NeighborAdd(t *testing.T) {
	store := newStoreWithIface(2001)
	h := New(store, switchstate.NeighborTableByVLAN, nil)

	var deltas int
	unsub := store.Subscribe(func(switchstate.StateDelta) { deltas++ })
	defer unsub()

	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	ev := kernelobserver.Event{
		Kind: kernelobserver.KindNeighborAdded,
		NeighborAdded: &kernelobserver.NeighborChanged{
			IfaceID: 2001,
			IP:      net.ParseIP("10.0.0.2"),
			MAC:     mac,
		},
	}

	h.Handle(ev)
	if deltas != 1 {
		t.Fatalf("expected 1 publish after first neighbor add, got %d", deltas)
	}

	iface := store.Current().Interfaces[2001]
	table, _ := store.Current().NeighborTableFor(iface, switchstate.NeighborTableByVLAN)
	entry, ok := table.Lookup(net.ParseIP("10.0.0.2"))
	if !ok || entry.MAC.String() != mac.String() {
		t.Fatalf("neighbor entry not installed: %+v", entry)
	}

	h.Handle(ev)
	if deltas != 1 {
		t.Errorf("expected no second publish for an identical neighbor add, got %d total", deltas)
	}
}

// S6 (eventhandler half): once an interface is gone from switch state,
// a late AddrRemoved event for it is a no-op.
func TestScenarioS6LateEventIsNoop(t *testing.T) {
	store := switchstate.NewStore(switchstate.NewState())
	h := New(store, switchstate.NeighborTableByVLAN, nil)

	var deltas int
	unsub := store.Subscribe(func(switchstate.StateDelta) { deltas++ })
	defer unsub()

	h.Handle(kernelobserver.Event{
		Kind: kernelobserver.KindAddrRemoved,
		AddrRemoved: &kernelobserver.AddrChanged{
			IfaceID:   2001,
			IP:        net.ParseIP("face:b00c::1"),
			PrefixLen: 127,
		},
	})

	if deltas != 0 {
		t.Errorf("expected no publish for an interface switch state no longer knows, got %d", deltas)
	}
}

func TestAddrAddedDedupes(t *testing.T) {
	store := newStoreWithIface(2001)
	h := New(store, switchstate.NeighborTableByVLAN, nil)

	ev := kernelobserver.Event{
		Kind: kernelobserver.KindAddrAdded,
		AddrAdded: &kernelobserver.AddrChanged{
			IfaceID:   2001,
			IP:        net.ParseIP("10.0.0.1"),
			PrefixLen: 31,
		},
	}
	h.Handle(ev)
	h.Handle(ev)

	iface := store.Current().Interfaces[2001]
	if len(iface.Addresses) != 1 {
		t.Errorf("expected exactly 1 address after duplicate AddrAdded, got %d: %+v", len(iface.Addresses), iface.Addresses)
	}
}

func TestAddrRemovedSymmetric(t *testing.T) {
	store := newStoreWithIface(2001)
	h := New(store, switchstate.NeighborTableByVLAN, nil)

	h.Handle(kernelobserver.Event{
		Kind: kernelobserver.KindAddrAdded,
		AddrAdded: &kernelobserver.AddrChanged{
			IfaceID:   2001,
			IP:        net.ParseIP("10.0.0.1"),
			PrefixLen: 31,
		},
	})
	h.Handle(kernelobserver.Event{
		Kind: kernelobserver.KindAddrRemoved,
		AddrRemoved: &kernelobserver.AddrChanged{
			IfaceID:   2001,
			IP:        net.ParseIP("10.0.0.1"),
			PrefixLen: 31,
		},
	})

	iface := store.Current().Interfaces[2001]
	if len(iface.Addresses) != 0 {
		t.Errorf("expected address removed, got %+v", iface.Addresses)
	}
}

func TestRouteAddedAndRemoved(t *testing.T) {
	store := newStoreWithIface(2001)
	h := New(store, switchstate.NeighborTableByVLAN, nil)

	dest := net.ParseIP("0.0.0.0")
	h.Handle(kernelobserver.Event{
		Kind: kernelobserver.KindRouteAdded,
		RouteAdded: &kernelobserver.RouteChanged{
			IfaceID: 2001,
			Dest:    dest,
			TableID: 5,
		},
	})
	if _, ok := store.Current().Routes.Tables[5]["0.0.0.0/0"]; !ok {
		t.Fatalf("expected route installed in table 5")
	}

	h.Handle(kernelobserver.Event{
		Kind: kernelobserver.KindRouteRemoved,
		RouteRemoved: &kernelobserver.RouteChanged{
			IfaceID: 2001,
			Dest:    dest,
			TableID: 5,
		},
	})
	if _, ok := store.Current().Routes.Tables[5]["0.0.0.0/0"]; ok {
		t.Errorf("expected route removed from table 5")
	}
}
