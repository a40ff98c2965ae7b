// Package switchstate models the immutable, copy-on-write switch state
// tree the host-kernel integration core consumes: the interface map, the
// VLAN map, and the ARP/NDP neighbor tables that hang off one or the
// other depending on deployment (spec §3, §9). This package owns a
// reference implementation of that tree so the core is independently
// runnable and testable; a real agent may substitute its own tree behind
// the same Store contract.
package switchstate

import (
	"net"

	"github.com/facebook/fboss-sub029/internal/ids"
)

// NeighborTablePolicy selects whether ARP/NDP entries are keyed under a
// VLAN or under the owning interface. This is a runtime parameter rather
// than a compile-time choice because the two source deployments disagree
// (spec §9 open question).
type NeighborTablePolicy int

const (
	NeighborTableByVLAN NeighborTablePolicy = iota
	NeighborTableByInterface
)

// IPNet is a lightweight, comparable stand-in for net.IPNet sized for
// switch-state addresses: an IP plus a prefix length.
type IPNet struct {
	IP        net.IP
	PrefixLen int
}

// String renders the address in CIDR notation.
func (n IPNet) String() string {
	if n.IP == nil {
		return ""
	}
	return (&net.IPNet{IP: n.IP, Mask: maskFor(n.IP, n.PrefixLen)}).String()
}

// Equal reports whether two IPNet values denote the same address/prefix.
func (n IPNet) Equal(o IPNet) bool {
	return n.IP.Equal(o.IP) && n.PrefixLen == o.PrefixLen
}

// IsLinkLocal reports whether the address is link-local (not globally
// unique across interfaces, so it is never source-routed — spec §4.I).
func (n IPNet) IsLinkLocal() bool {
	return n.IP.IsLinkLocalUnicast()
}

func maskFor(ip net.IP, prefixLen int) net.IPMask {
	if ip.To4() != nil {
		return net.CIDRMask(prefixLen, 32)
	}
	return net.CIDRMask(prefixLen, 128)
}

// NeighborEntry is one ARP (v4) or NDP (v6) entry.
type NeighborEntry struct {
	IP      net.IP
	MAC     net.HardwareAddr
	Pending bool
	PortID  int32
	IfaceID ids.InterfaceID
}

// key is the map key NeighborTable uses: the string form of the IP.
func (e NeighborEntry) key() string { return e.IP.String() }

// Equal reports whether two entries describe the same resolved mapping.
// It is false whenever either entry is Pending (a pending placeholder is
// never "identical" to a resolved entry — spec §4.G S4).
func (e NeighborEntry) Equal(o NeighborEntry) bool {
	return e.IP.Equal(o.IP) &&
		string(e.MAC) == string(o.MAC) &&
		e.PortID == o.PortID &&
		e.IfaceID == o.IfaceID &&
		!e.Pending && !o.Pending
}

// NeighborTable is an immutable map of resolved/pending neighbor entries.
type NeighborTable struct {
	Entries map[string]NeighborEntry
}

func newNeighborTable() *NeighborTable {
	return &NeighborTable{Entries: map[string]NeighborEntry{}}
}

func (t *NeighborTable) clone() *NeighborTable {
	if t == nil {
		return newNeighborTable()
	}
	out := newNeighborTable()
	for k, v := range t.Entries {
		out.Entries[k] = v
	}
	return out
}

// Lookup returns the entry for ip, if present.
func (t *NeighborTable) Lookup(ip net.IP) (NeighborEntry, bool) {
	if t == nil {
		return NeighborEntry{}, false
	}
	e, ok := t.Entries[ip.String()]
	return e, ok
}

// withUpsert returns a new table with entry upserted.
func (t *NeighborTable) withUpsert(e NeighborEntry) *NeighborTable {
	out := t.clone()
	out.Entries[e.key()] = e
	return out
}

// withRemoved returns a new table with the entry for ip removed, if present.
func (t *NeighborTable) withRemoved(ip net.IP) *NeighborTable {
	out := t.clone()
	delete(out.Entries, ip.String())
	return out
}

// Interface is a logical switch interface.
type Interface struct {
	ID           ids.InterfaceID
	Name         string
	MemberPortUp bool // true iff any member port is UP
	Virtual      bool // virtual interfaces are always treated as UP
	SyncDisabled bool // sync-disabled interfaces are always treated as UP
	Addresses    []IPNet
	MTU          int
	MAC          net.HardwareAddr
	VLANID       ids.VLANID // 0 == none
	PortID       int32
	SystemPortID int32
	Neighbors    *NeighborTable // only populated under NeighborTableByInterface
}

// Status derives the UP/DOWN status per spec §4.E step 1: UP iff any
// member port is UP, else DOWN; virtual or sync-disabled interfaces are
// always treated as UP regardless of member port state.
func (i *Interface) Status() bool {
	if i.Virtual || i.SyncDisabled {
		return true
	}
	return i.MemberPortUp
}

func (i *Interface) clone() *Interface {
	out := *i
	out.Addresses = append([]IPNet(nil), i.Addresses...)
	out.MAC = append(net.HardwareAddr(nil), i.MAC...)
	if i.Neighbors != nil {
		out.Neighbors = i.Neighbors.clone()
	}
	return &out
}

// VLAN groups interfaces for broadcast/neighbor-resolution purposes.
type VLAN struct {
	ID        ids.VLANID
	Neighbors *NeighborTable // only populated under NeighborTableByVLAN
}

func (v *VLAN) clone() *VLAN {
	out := *v
	if v.Neighbors != nil {
		out.Neighbors = v.Neighbors.clone()
	}
	return &out
}

// State is the immutable switch state tree. Never mutate a State in
// place; obtain a modified copy via the With* helpers and publish it
// through a Store.
type State struct {
	Interfaces map[ids.InterfaceID]*Interface
	VLANs      map[ids.VLANID]*VLAN
	Routes     *RouteTables
}

// NewState returns an empty state tree.
func NewState() *State {
	return &State{
		Interfaces: map[ids.InterfaceID]*Interface{},
		VLANs:      map[ids.VLANID]*VLAN{},
		Routes:     newRouteTables(),
	}
}

// clone returns a shallow copy of the top-level maps; callers that mutate
// a specific Interface/VLAN must replace it wholesale (via WithInterface/
// WithVLAN) rather than mutating the shared pointer. Routes is left
// pointing at the same RouteTables; callers that mutate routes replace it
// via WithRoute/WithoutRoute, which clone it themselves.
func (s *State) clone() *State {
	out := &State{
		Interfaces: make(map[ids.InterfaceID]*Interface, len(s.Interfaces)),
		VLANs:      make(map[ids.VLANID]*VLAN, len(s.VLANs)),
		Routes:     s.Routes,
	}
	for k, v := range s.Interfaces {
		out.Interfaces[k] = v
	}
	for k, v := range s.VLANs {
		out.VLANs[k] = v
	}
	return out
}

// WithInterface returns a new State with iface inserted/replaced.
func (s *State) WithInterface(iface *Interface) *State {
	out := s.clone()
	out.Interfaces[iface.ID] = iface
	return out
}

// WithoutInterface returns a new State with id removed.
func (s *State) WithoutInterface(id ids.InterfaceID) *State {
	out := s.clone()
	delete(out.Interfaces, id)
	return out
}

// WithVLAN returns a new State with vlan inserted/replaced.
func (s *State) WithVLAN(vlan *VLAN) *State {
	out := s.clone()
	out.VLANs[vlan.ID] = vlan
	return out
}

// vlanFor returns the VLAN for id, creating an empty one if absent.
func (s *State) vlanFor(id ids.VLANID) *VLAN {
	if v, ok := s.VLANs[id]; ok {
		return v
	}
	return &VLAN{ID: id, Neighbors: newNeighborTable()}
}

// NeighborTableFor resolves the correct neighbor table for an interface
// under the given policy, creating an empty one if none exists yet. It
// returns the table and a setter that, given a new table, returns the
// State updated to hold it in the right place.
func (s *State) NeighborTableFor(iface *Interface, policy NeighborTablePolicy) (*NeighborTable, func(*NeighborTable) *State) {
	switch policy {
	case NeighborTableByInterface:
		table := iface.Neighbors
		if table == nil {
			table = newNeighborTable()
		}
		return table, func(nt *NeighborTable) *State {
			updated := iface.clone()
			updated.Neighbors = nt
			return s.WithInterface(updated)
		}
	default: // NeighborTableByVLAN
		vlan := s.vlanFor(iface.VLANID)
		table := vlan.Neighbors
		if table == nil {
			table = newNeighborTable()
		}
		return table, func(nt *NeighborTable) *State {
			updated := vlan.clone()
			updated.Neighbors = nt
			return s.WithVLAN(updated)
		}
	}
}

// UpsertNeighbor returns a new State with the neighbor entry upserted
// into the correct table for iface's id under policy.
func (s *State) UpsertNeighbor(iface *Interface, policy NeighborTablePolicy, entry NeighborEntry) *State {
	table, setter := s.NeighborTableFor(iface, policy)
	return setter(table.withUpsert(entry))
}

// RemoveNeighbor returns a new State with ip removed from the correct
// table for iface's id under policy. A no-op (same State) if absent.
func (s *State) RemoveNeighbor(iface *Interface, policy NeighborTablePolicy, ip net.IP) *State {
	table, setter := s.NeighborTableFor(iface, policy)
	if _, ok := table.Lookup(ip); !ok {
		return s
	}
	return setter(table.withRemoved(ip))
}
