// Package kernelobserver runs the long-lived netlink cache-manager poll
// and classifies raw link/address/route/neighbor events into the
// typed events KernelEventHandler (internal/eventhandler) consumes
// (spec §4.D).
package kernelobserver

import (
	"net"

	"github.com/facebook/fboss-sub029/internal/ids"
)

// Event is the sum type delivered on Observer.Events(). Exactly one of
// the typed fields is non-nil/non-zero per event, selected by Kind.
type Event struct {
	Kind Kind

	LinkChanged     *LinkChanged
	AddrAdded       *AddrChanged
	AddrRemoved     *AddrChanged
	NeighborAdded   *NeighborChanged
	NeighborRemoved *NeighborChanged
	RouteAdded      *RouteChanged
	RouteRemoved    *RouteChanged
}

// Kind discriminates Event's payload.
type Kind int

const (
	KindLinkChanged Kind = iota
	KindAddrAdded
	KindAddrRemoved
	KindNeighborAdded
	KindNeighborRemoved
	KindRouteAdded
	KindRouteRemoved
)

// LinkChanged reports a MAC/MTU change on a known, core-owned tap.
type LinkChanged struct {
	IfaceID ids.InterfaceID
	Ifindex int
	MAC     net.HardwareAddr
	MTU     int
}

// AddrChanged reports an address add or removal on a known tap.
type AddrChanged struct {
	IfaceID   ids.InterfaceID
	Ifindex   int
	IP        net.IP
	PrefixLen int
}

// NeighborChanged reports an ARP/NDP cache add or removal.
type NeighborChanged struct {
	IfaceID ids.InterfaceID
	Ifindex int
	IP      net.IP
	MAC     net.HardwareAddr
}

// RouteChanged reports a unicast route add or removal in a core-owned
// tap's table.
type RouteChanged struct {
	IfaceID   ids.InterfaceID
	Ifindex   int
	Family    int
	Dest      net.IP
	PrefixLen int
	TableID   ids.RouterID
	Gateway   net.IP
}
