// Package policyrouter computes routing-table ids and source-routing
// rules from interface identity (spec §4.I). It is pure: given the same
// InterfaceID and strategy configuration it always returns the same
// table id, with no kernel or switch-state access.
package policyrouter

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/facebook/fboss-sub029/internal/ids"
)

// minTableID and maxTableID bound the usable kernel routing-table range;
// the kernel reserves 0 (unspecified), 254 (main) and 255 (local).
const (
	minTableID = 1
	maxTableID = 253
	tableSpan  = maxTableID - minTableID + 1 // 253
)

// Strategy selects which table-id derivation formula to use.
type Strategy int

const (
	// Bucketed derives the table id from the disjoint per-type band the
	// InterfaceID falls into (see bucketedTableID). Appropriate for
	// non-VoQ deployments, where several InterfaceID types can coexist
	// on one switch at once.
	Bucketed Strategy = iota

	// VoQ derives the table id as an offset from the first switch's
	// system-port-range minimum, for VoQ-style deployments where
	// InterfaceID and system port id share a numbering space.
	VoQ
)

// Config parameterizes the chosen Strategy.
type Config struct {
	Strategy Strategy

	// SystemPortRangeMin is the VoQ strategy's offset: the first
	// switch's system-port-range minimum. Unused by Bucketed.
	SystemPortRangeMin int32
}

// Router is the pure InterfaceID -> table-id mapping plus the
// source-routing rule builder.
type Router struct {
	cfg Config
}

// New constructs a Router for the given configuration.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// TableID derives the routing-table id for an interface. For the VoQ
// strategy the result is always in [1, 253]. For Bucketed, each
// InterfaceID type (virtual, 2000s, 3000s, 4000s — see bucketedTableID)
// owns a disjoint sub-band of [1, 253]; the result stays in range as
// long as the deployment's live id count per type stays within that
// type's band width, the same assumption the formula this is ported
// from enforces with a fatal range check at startup. Contract: for any
// two distinct InterfaceIDs present concurrently in one agent instance,
// this must return distinct values.
func (r *Router) TableID(id ids.InterfaceID) ids.RouterID {
	switch r.cfg.Strategy {
	case VoQ:
		offset := int64(id) - int64(r.cfg.SystemPortRangeMin)
		return ids.RouterID(minTableID + int(mod(offset, tableSpan)))
	default: // Bucketed
		return ids.RouterID(bucketedTableID(id))
	}
}

// bucketedTableID partitions the InterfaceID ranges that actually coexist
// on one switch into disjoint sub-bands of [1,253], so that two ids from
// different bands never collide even when their offsets within their own
// band happen to match. The band boundaries and offsets mirror the
// kernel route-table assignment a switch agent performs for Type-1
// (2000s), Type-2 (3000s), Type-3 (4000s) and virtual (10-249)
// interfaces.
func bucketedTableID(id ids.InterfaceID) int {
	switch {
	case id >= 4000:
		return int(id) - 4000 + 201 // 201, 202, 203, ...
	case id >= 3000:
		return int(id) - 3000 + 101 // 101, 102, 103, ...
	case id >= 2000:
		return int(id) - 2000 + 1 // 1, 2, 3, ...
	default:
		return 250 - (int(id) - 10) // 250, 249, 248, ... (virtual interfaces)
	}
}

// mod is Euclidean modulo: always in [0, m).
func mod(n, m int64) int64 {
	r := n % m
	if r < 0 {
		r += m
	}
	return r
}

// Rule builds the source-routing rule `from addr lookup tableID` for a
// core-installed address (spec §3, §4.I). Link-local addresses are
// skipped entirely (ok=false) because they are not globally unique
// across interfaces.
func (r *Router) Rule(addr net.IP, prefixLen int, tableID ids.RouterID) (rule *netlink.Rule, ok bool) {
	if addr.IsLinkLocalUnicast() {
		return nil, false
	}

	nr := netlink.NewRule()
	bits := 32
	if addr.To4() == nil {
		bits = 128
	}
	nr.Src = &net.IPNet{IP: addr, Mask: net.CIDRMask(prefixLen, bits)}
	nr.Table = int(tableID)
	nr.Family = familyOf(addr)
	return nr, true
}

func familyOf(ip net.IP) int {
	if ip.To4() != nil {
		return netlink.FAMILY_V4
	}
	return netlink.FAMILY_V6
}

// String renders a strategy name for logging.
func (s Strategy) String() string {
	switch s {
	case VoQ:
		return "voq"
	case Bucketed:
		return "bucketed"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}
