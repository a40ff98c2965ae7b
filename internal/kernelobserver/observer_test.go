package kernelobserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/facebook/fboss-sub029/internal/ids"
)

type fakeTapLookup struct {
	byIfindex map[int]ids.InterfaceID
	tables    map[ids.InterfaceID]ids.RouterID
}

func (f *fakeTapLookup) LookupByIfindex(ifindex int) (ids.InterfaceID, bool) {
	id, ok := f.byIfindex[ifindex]
	return id, ok
}

func (f *fakeTapLookup) TableIDFor(id ids.InterfaceID) (ids.RouterID, bool) {
	t, ok := f.tables[id]
	return t, ok
}

type fakeSubscriber struct {
	links  chan netlink.LinkUpdate
	addrs  chan netlink.AddrUpdate
	routes chan netlink.RouteUpdate
	neighs chan netlink.NeighUpdate
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		links:  make(chan netlink.LinkUpdate, 4),
		addrs:  make(chan netlink.AddrUpdate, 4),
		routes: make(chan netlink.RouteUpdate, 4),
		neighs: make(chan netlink.NeighUpdate, 4),
	}
}

func (f *fakeSubscriber) SubscribeLinks(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	go forward(f.links, ch, done)
	return nil
}
func (f *fakeSubscriber) SubscribeAddrs(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	go forwardAddr(f.addrs, ch, done)
	return nil
}
func (f *fakeSubscriber) SubscribeRoutes(ch chan<- netlink.RouteUpdate, done <-chan struct{}) error {
	go forwardRoute(f.routes, ch, done)
	return nil
}
func (f *fakeSubscriber) SubscribeNeighbors(ch chan<- netlink.NeighUpdate, done <-chan struct{}) error {
	go forwardNeigh(f.neighs, ch, done)
	return nil
}

func forward(src chan netlink.LinkUpdate, dst chan<- netlink.LinkUpdate, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case v := <-src:
			dst <- v
		}
	}
}
func forwardAddr(src chan netlink.AddrUpdate, dst chan<- netlink.AddrUpdate, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case v := <-src:
			dst <- v
		}
	}
}
func forwardRoute(src chan netlink.RouteUpdate, dst chan<- netlink.RouteUpdate, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case v := <-src:
			dst <- v
		}
	}
}
func forwardNeigh(src chan netlink.NeighUpdate, dst chan<- netlink.NeighUpdate, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case v := <-src:
			dst <- v
		}
	}
}

func TestHandleLinkIgnoresDelAndUnknown(t *testing.T) {
	t.Parallel()

	taps := &fakeTapLookup{byIfindex: map[int]ids.InterfaceID{10: 7}}
	events := make(chan Event, 8)
	o := New(newFakeSubscriber(), taps, nil, events)

	o.handleLink(netlink.LinkUpdate{
		Header: unix.NlMsghdr{Type: unix.RTM_DELLINK},
		Link:   &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 10}},
	})
	o.handleLink(netlink.LinkUpdate{
		Header: unix.NlMsghdr{Type: unix.RTM_NEWLINK},
		Link:   &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 99}},
	})

	select {
	case ev := <-events:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestHandleLinkEmitsForKnownTap(t *testing.T) {
	t.Parallel()

	taps := &fakeTapLookup{byIfindex: map[int]ids.InterfaceID{10: 7}}
	events := make(chan Event, 8)
	o := New(newFakeSubscriber(), taps, nil, events)

	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	o.handleLink(netlink.LinkUpdate{
		Header: unix.NlMsghdr{Type: unix.RTM_NEWLINK},
		Link:   &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 10, HardwareAddr: mac, MTU: 1500}},
	})

	ev := <-events
	if ev.Kind != KindLinkChanged || ev.LinkChanged.IfaceID != 7 || ev.LinkChanged.MTU != 1500 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHandleRouteIgnoresNonUnicastAndChange(t *testing.T) {
	t.Parallel()

	taps := &fakeTapLookup{
		byIfindex: map[int]ids.InterfaceID{10: 7},
		tables:    map[ids.InterfaceID]ids.RouterID{7: 5},
	}
	events := make(chan Event, 8)
	o := New(newFakeSubscriber(), taps, nil, events)

	o.handleRoute(netlink.RouteUpdate{
		Type:  unix.RTM_NEWROUTE,
		Route: netlink.Route{LinkIndex: 10, Type: unix.RTN_BROADCAST},
	})
	o.handleRoute(netlink.RouteUpdate{
		Type:  unix.RTM_NEWROUTE + 100, // not ADD or DEL: simulate CHANGE
		Route: netlink.Route{LinkIndex: 10, Type: unix.RTN_UNICAST},
	})

	select {
	case ev := <-events:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestHandleRouteEmitsForKnownTap(t *testing.T) {
	t.Parallel()

	taps := &fakeTapLookup{
		byIfindex: map[int]ids.InterfaceID{10: 7},
		tables:    map[ids.InterfaceID]ids.RouterID{7: 5},
	}
	events := make(chan Event, 8)
	o := New(newFakeSubscriber(), taps, nil, events)

	_, dst, _ := net.ParseCIDR("10.0.0.0/24")
	o.handleRoute(netlink.RouteUpdate{
		Type:  unix.RTM_NEWROUTE,
		Route: netlink.Route{LinkIndex: 10, Type: unix.RTN_UNICAST, Dst: dst, Family: unix.AF_INET},
	})

	ev := <-events
	if ev.Kind != KindRouteAdded || ev.RouteAdded.TableID != 5 || ev.RouteAdded.PrefixLen != 24 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	taps := &fakeTapLookup{byIfindex: map[int]ids.InterfaceID{}}
	events := make(chan Event, 1)
	o := New(newFakeSubscriber(), taps, nil, events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
