package kernelobserver

import (
	"context"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/facebook/fboss-sub029/internal/ids"
)

// TapLookup resolves kernel-level identifiers (ifindex) back to the
// core's own identifiers. It is satisfied by the syncer (internal/syncer)
// so the observer never needs direct access to the tap map.
type TapLookup interface {
	// LookupByIfindex reports whether ifindex belongs to a core-owned
	// tap, and if so its InterfaceID.
	LookupByIfindex(ifindex int) (ids.InterfaceID, bool)

	// TableIDFor reports the routing-table id assigned to an
	// InterfaceID, used to attribute route events.
	TableIDFor(id ids.InterfaceID) (ids.RouterID, bool)
}

// subscriber is the subset of netlinkclient.Client the observer drives;
// narrowed so tests can inject fake channels.
type subscriber interface {
	SubscribeLinks(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error
	SubscribeAddrs(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error
	SubscribeRoutes(ch chan<- netlink.RouteUpdate, done <-chan struct{}) error
	SubscribeNeighbors(ch chan<- netlink.NeighUpdate, done <-chan struct{}) error
}

// Observer runs the cache-manager poll and classifies events for
// KernelEventHandler (spec §4.D).
type Observer struct {
	client subscriber
	taps   TapLookup
	log    *slog.Logger
	events chan Event
}

// New constructs an Observer. events should be buffered (the caller
// picks the depth) so a slow consumer doesn't stall the kernel
// subscription channels.
func New(client subscriber, taps TapLookup, log *slog.Logger, events chan Event) *Observer {
	if log == nil {
		log = slog.Default()
	}
	return &Observer{client: client, taps: taps, log: log, events: events}
}

// Events returns the channel classified events are delivered on.
func (o *Observer) Events() <-chan Event { return o.events }

// Run subscribes to the link/address/route/neighbor caches and
// classifies events until ctx is cancelled. A subscription failure is
// fatal: a netlink socket failure invalidates every cache the core
// depends on, so Run logs and returns rather than limping on half blind
// (spec §4.D).
func (o *Observer) Run(ctx context.Context) error {
	defer close(o.events)

	done := ctx.Done()

	linkCh := make(chan netlink.LinkUpdate)
	addrCh := make(chan netlink.AddrUpdate)
	routeCh := make(chan netlink.RouteUpdate)
	neighCh := make(chan netlink.NeighUpdate)

	if err := o.client.SubscribeLinks(linkCh, done); err != nil {
		o.log.Error("subscribing to link cache failed", "err", err)
		return err
	}
	if err := o.client.SubscribeAddrs(addrCh, done); err != nil {
		o.log.Error("subscribing to address cache failed", "err", err)
		return err
	}
	if err := o.client.SubscribeRoutes(routeCh, done); err != nil {
		o.log.Error("subscribing to route cache failed", "err", err)
		return err
	}
	if err := o.client.SubscribeNeighbors(neighCh, done); err != nil {
		o.log.Error("subscribing to neighbor cache failed", "err", err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-linkCh:
			if !ok {
				o.log.Error("link cache channel closed")
				return nil
			}
			o.handleLink(up)
		case up, ok := <-addrCh:
			if !ok {
				o.log.Error("address cache channel closed")
				return nil
			}
			o.handleAddr(up)
		case up, ok := <-routeCh:
			if !ok {
				o.log.Error("route cache channel closed")
				return nil
			}
			o.handleRoute(up)
		case up, ok := <-neighCh:
			if !ok {
				o.log.Error("neighbor cache channel closed")
				return nil
			}
			o.handleNeigh(up)
		}
	}
}

// handleLink: DEL is ignored for known taps (emitted only by the
// syncer's own teardown path, never synthesized from a kernel DEL);
// ADD/CHANGE on a known tap is compared against nothing here — the
// snapshot comparison is the event handler's job once it has the
// interface it's updating — so the observer simply forwards MAC/MTU.
func (o *Observer) handleLink(up netlink.LinkUpdate) {
	if up.Header.Type == unix.RTM_DELLINK {
		return
	}
	attrs := up.Link.Attrs()
	ifaceID, known := o.taps.LookupByIfindex(attrs.Index)
	if !known {
		return
	}
	o.emit(Event{
		Kind: KindLinkChanged,
		LinkChanged: &LinkChanged{
			IfaceID: ifaceID,
			Ifindex: attrs.Index,
			MAC:     attrs.HardwareAddr,
			MTU:     attrs.MTU,
		},
	})
}

func (o *Observer) handleAddr(up netlink.AddrUpdate) {
	ifaceID, known := o.taps.LookupByIfindex(up.LinkIndex)
	if !known {
		return
	}
	ones, _ := up.LinkAddress.Mask.Size()
	payload := &AddrChanged{
		IfaceID:   ifaceID,
		Ifindex:   up.LinkIndex,
		IP:        up.LinkAddress.IP,
		PrefixLen: ones,
	}
	if up.NewAddr {
		o.emit(Event{Kind: KindAddrAdded, AddrAdded: payload})
	} else {
		o.emit(Event{Kind: KindAddrRemoved, AddrRemoved: payload})
	}
}

// handleRoute: non-unicast ignored; CHANGE is logged, not translated —
// the source of truth is the subsequent ADD/DEL pair, if any (spec §4.D).
func (o *Observer) handleRoute(up netlink.RouteUpdate) {
	if up.Route.Type != unix.RTN_UNICAST {
		return
	}
	if up.Type != unix.RTM_NEWROUTE && up.Type != unix.RTM_DELROUTE {
		o.log.Debug("ignoring route CHANGE, awaiting subsequent ADD/DEL", "dest", up.Route.Dst)
		return
	}

	ifaceID, known := o.taps.LookupByIfindex(up.Route.LinkIndex)
	if !known {
		return
	}
	tableID, known := o.taps.TableIDFor(ifaceID)
	if !known {
		return
	}

	var dest net.IP
	prefix := 0
	family := up.Route.Family
	if up.Route.Dst != nil {
		dest = up.Route.Dst.IP
		prefix, _ = up.Route.Dst.Mask.Size()
	} else if family == unix.AF_INET {
		dest = net.IPv4zero
	} else {
		dest = net.IPv6zero
	}

	payload := &RouteChanged{
		IfaceID:   ifaceID,
		Ifindex:   up.Route.LinkIndex,
		Family:    family,
		Dest:      dest,
		PrefixLen: prefix,
		TableID:   tableID,
		Gateway:   up.Route.Gw,
	}
	if up.Type == unix.RTM_NEWROUTE {
		o.emit(Event{Kind: KindRouteAdded, RouteAdded: payload})
	} else {
		o.emit(Event{Kind: KindRouteRemoved, RouteRemoved: payload})
	}
}

func (o *Observer) handleNeigh(up netlink.NeighUpdate) {
	ifaceID, known := o.taps.LookupByIfindex(up.Neigh.LinkIndex)
	if !known {
		return
	}
	payload := &NeighborChanged{
		IfaceID: ifaceID,
		Ifindex: up.Neigh.LinkIndex,
		IP:      up.Neigh.IP,
		MAC:     up.Neigh.HardwareAddr,
	}
	switch up.Type {
	case unix.RTM_NEWNEIGH:
		o.emit(Event{Kind: KindNeighborAdded, NeighborAdded: payload})
	case unix.RTM_DELNEIGH:
		o.emit(Event{Kind: KindNeighborRemoved, NeighborRemoved: payload})
	}
}

func (o *Observer) emit(ev Event) {
	o.events <- ev
}
