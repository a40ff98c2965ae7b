// Package netlinkclient wraps a single NETLINK_ROUTE socket with typed
// request builders for links, addresses, rules, routes and neighbors
// (spec §4.B), plus the cache-manager subscription handles the
// KernelObserver (§4.D) and KernelProber (§4.C) consume.
//
// All route-add messages carry the vendor-assigned protocol id so
// operators can filter them with `ip route show proto 80`.
package netlinkclient

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"

	"github.com/facebook/fboss-sub029/internal/hosterr"
)

// RouteProtocol is the vendor-assigned protocol id (>= static) core-
// installed routes carry, so operators can filter for them.
const RouteProtocol = 80

// Client is a thin, typed wrapper over github.com/vishvananda/netlink.
// It owns no goroutines of its own; KernelObserver drives the
// subscription handles it returns.
type Client struct{}

// New returns a Client. Opening the underlying netlink socket is handled
// per-call by the vishvananda/netlink package; Client exists to give the
// core a single seam for error classification and typed request building.
func New() *Client {
	return &Client{}
}

// --- Links ---

// LinkByName resolves a link by its host interface name.
func (c *Client) LinkByName(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, classify(err, "link %s", name)
	}
	return link, nil
}

// LinkSetUp brings a link administratively up with an RTM_NEWLINK
// message. The syncer uses it (and LinkSetDown) for every tap's admin
// state; there is no SIOCSIFFLAGS path for admin up/down in this module.
// MTU changes, by contrast, go through SIOCSIFMTU in the tapdevice
// package rather than RTM_NEWLINK.
func (c *Client) LinkSetUp(link netlink.Link) error {
	if err := netlink.LinkSetUp(link); err != nil {
		return classify(err, "set link %s up", link.Attrs().Name)
	}
	return nil
}

// LinkSetDown brings a link administratively down.
func (c *Client) LinkSetDown(link netlink.Link) error {
	if err := netlink.LinkSetDown(link); err != nil {
		return classify(err, "set link %s down", link.Attrs().Name)
	}
	return nil
}

// LinkSetAddrGenModeNone disables IPv6's automatic link-local address
// generation (IFLA_INET6_ADDR_GEN_MODE = IN6_ADDR_GEN_MODE_NONE) for
// link, so the kernel doesn't race the core's own address installation
// with an auto-generated one. Not every kernel exposes this attribute;
// callers should treat an error as non-fatal and proceed without it.
func (c *Client) LinkSetAddrGenModeNone(link netlink.Link) error {
	if err := netlink.LinkSetAddrGenMode(link, netlink.IN6_ADDR_GEN_MODE_NONE); err != nil {
		return classify(err, "disable addr_gen_mode on %s", link.Attrs().Name)
	}
	return nil
}

// LinkSetHardwareAddr assigns a deterministic MAC to link, used for
// Ethernet-framed taps once addr_gen_mode is disabled so the interface
// still has a stable, collision-free hardware address instead of
// whatever the kernel would otherwise auto-assign (spec §4.A).
func (c *Client) LinkSetHardwareAddr(link netlink.Link, addr net.HardwareAddr) error {
	if err := netlink.LinkSetHardwareAddr(link, addr); err != nil {
		return classify(err, "set hardware address on %s", link.Attrs().Name)
	}
	return nil
}

// LinkList dumps all links (used by KernelProber).
func (c *Client) LinkList() ([]netlink.Link, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, classify(err, "listing links")
	}
	return links, nil
}

// --- Addresses ---

// AddrReplace idempotently adds (or replaces) an address on a link.
// Address adds use REPLACE semantics so re-applying the same address is
// a no-op rather than an error (spec §4.B).
func (c *Client) AddrReplace(link netlink.Link, addr *netlink.Addr) error {
	if err := netlink.AddrReplace(link, addr); err != nil {
		return classify(err, "replacing address %s on %s", addr, link.Attrs().Name)
	}
	return nil
}

// AddrDel removes an address from a link. A NOTFOUND error (the kernel
// already purged it, e.g. the link itself was removed) is downgraded to
// the NotFound kind rather than surfaced as a sweep-aborting failure.
func (c *Client) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	if err := netlink.AddrDel(link, addr); err != nil {
		return classify(err, "deleting address %s from %s", addr, link.Attrs().Name)
	}
	return nil
}

// AddrList dumps addresses on a link for the given family
// (netlink.FAMILY_V4, FAMILY_V6 or FAMILY_ALL).
func (c *Client) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	addrs, err := netlink.AddrList(link, family)
	if err != nil {
		return nil, classify(err, "listing addresses on %s", link.Attrs().Name)
	}
	return addrs, nil
}

// --- Routes ---

// NewDefaultRoute builds the v4 (0.0.0.0/0) or v6 (::/0) default route
// for a tap's derived table, with the tap's ifindex as nexthop
// (spec §3's per-interface routing table).
func NewDefaultRoute(family int, ifindex, table int) *netlink.Route {
	dst := &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)}
	if family == netlink.FAMILY_V6 {
		dst = &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}
	}
	return &netlink.Route{
		LinkIndex: ifindex,
		Dst:       dst,
		Table:     table,
		Protocol:  RouteProtocol,
	}
}

// RouteReplace idempotently installs a route (REPLACE semantics).
func (c *Client) RouteReplace(route *netlink.Route) error {
	if err := netlink.RouteReplace(route); err != nil {
		return classify(err, "replacing route %s table %d", route.Dst, route.Table)
	}
	return nil
}

// RouteDel removes a route. The kernel auto-purges routes when their
// link is deleted, so a NOTFOUND here is expected and downgraded.
func (c *Client) RouteDel(route *netlink.Route) error {
	if err := netlink.RouteDel(route); err != nil {
		return classify(err, "deleting route %s table %d", route.Dst, route.Table)
	}
	return nil
}

// RouteListFiltered dumps the routes of a family that match filter on
// the fields selected by mask (netlink.RT_FILTER_* bits).
func (c *Client) RouteListFiltered(family int, filter *netlink.Route, mask uint64) ([]netlink.Route, error) {
	routes, err := netlink.RouteListFiltered(family, filter, mask)
	if err != nil {
		return nil, classify(err, "listing routes")
	}
	return routes, nil
}

// --- Rules ---

// RuleAdd installs a source-routing rule. Rule adds deliberately do NOT
// use REPLACE semantics: the kernel accumulates duplicate rules instead
// of merging them, so the syncer must track rule presence itself
// (spec §4.B) and only call RuleAdd when it knows the rule is absent.
func (c *Client) RuleAdd(rule *netlink.Rule) error {
	if err := netlink.RuleAdd(rule); err != nil {
		return classify(err, "adding rule from %s table %d", rule.Src, rule.Table)
	}
	return nil
}

// RuleDel removes a source-routing rule. Unknown-rule deletes are
// downgraded to NotFound (expected when racing link/address removal).
func (c *Client) RuleDel(rule *netlink.Rule) error {
	if err := netlink.RuleDel(rule); err != nil {
		return classify(err, "deleting rule from %s table %d", rule.Src, rule.Table)
	}
	return nil
}

// RuleList dumps all rules for a family, used by the syncer to discover
// rule presence left over from a previous process lifetime.
func (c *Client) RuleList(family int) ([]netlink.Rule, error) {
	rules, err := netlink.RuleList(family)
	if err != nil {
		return nil, classify(err, "listing rules")
	}
	return rules, nil
}

// --- Neighbors ---

// NeighSet upserts a neighbor (ARP/NDP) cache entry.
func (c *Client) NeighSet(neigh *netlink.Neigh) error {
	if err := netlink.NeighSet(neigh); err != nil {
		return classify(err, "setting neighbor %s", neigh.IP)
	}
	return nil
}

// NeighDel removes a neighbor cache entry.
func (c *Client) NeighDel(neigh *netlink.Neigh) error {
	if err := netlink.NeighDel(neigh); err != nil {
		return classify(err, "deleting neighbor %s", neigh.IP)
	}
	return nil
}

// NeighList dumps the neighbor cache for a link and family.
func (c *Client) NeighList(ifindex, family int) ([]netlink.Neigh, error) {
	neighs, err := netlink.NeighList(ifindex, family)
	if err != nil {
		return nil, classify(err, "listing neighbors")
	}
	return neighs, nil
}

// --- Cache-manager subscriptions (consumed by KernelObserver) ---

// SubscribeLinks starts delivering link add/del/change events to ch until
// done is closed.
func (c *Client) SubscribeLinks(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	if err := netlink.LinkSubscribe(ch, done); err != nil {
		return hosterr.Wrapf(hosterr.Fatal, "subscribing to link cache: %w", err)
	}
	return nil
}

// SubscribeAddrs starts delivering address add/del events to ch.
func (c *Client) SubscribeAddrs(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	if err := netlink.AddrSubscribe(ch, done); err != nil {
		return hosterr.Wrapf(hosterr.Fatal, "subscribing to address cache: %w", err)
	}
	return nil
}

// SubscribeRoutes starts delivering route add/del/change events to ch.
func (c *Client) SubscribeRoutes(ch chan<- netlink.RouteUpdate, done <-chan struct{}) error {
	if err := netlink.RouteSubscribe(ch, done); err != nil {
		return hosterr.Wrapf(hosterr.Fatal, "subscribing to route cache: %w", err)
	}
	return nil
}

// SubscribeNeighbors starts delivering neighbor add/del events to ch.
func (c *Client) SubscribeNeighbors(ch chan<- netlink.NeighUpdate, done <-chan struct{}) error {
	if err := netlink.NeighSubscribe(ch, done); err != nil {
		return hosterr.Wrapf(hosterr.Fatal, "subscribing to neighbor cache: %w", err)
	}
	return nil
}

// classify maps a raw netlink/syscall error into the spec §7 error-kind
// taxonomy: ENOENT/ESRCH on a mutator (almost always a delete racing
// kernel-side cleanup) becomes NotFound; everything else becomes Kernel.
func classify(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ESRCH) {
		return hosterr.Wrapf(hosterr.NotFound, "%s: %w", msg, err)
	}
	return hosterr.Wrapf(hosterr.Kernel, "%s: %w", msg, err)
}
