package switchstate

import (
	"net"

	"github.com/facebook/fboss-sub029/internal/ids"
)

// RouteEntry is a single route as mirrored from (or destined for) the
// kernel RIB (spec §4.G RouteAdded/Removed): family, destination prefix,
// the router table it lives in, the owning tap's ifindex, and an
// optional gateway.
type RouteEntry struct {
	Family    int // unix.AF_INET or unix.AF_INET6
	Dest      net.IP
	PrefixLen int
	TableID   ids.RouterID
	Ifindex   int
	Gateway   net.IP
}

func (r RouteEntry) key() string {
	return r.Dest.String() + "/" + itoa(r.PrefixLen)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RouteTables holds, per router table id, the routes installed in it.
// This is consulted by the KernelEventHandler (spec §4.G) when mirroring
// kernel RouteAdded/RouteRemoved events back into switch state.
type RouteTables struct {
	Tables map[ids.RouterID]map[string]RouteEntry
}

func newRouteTables() *RouteTables {
	return &RouteTables{Tables: map[ids.RouterID]map[string]RouteEntry{}}
}

func (rt *RouteTables) clone() *RouteTables {
	if rt == nil {
		return newRouteTables()
	}
	out := newRouteTables()
	for tid, routes := range rt.Tables {
		cp := make(map[string]RouteEntry, len(routes))
		for k, v := range routes {
			cp[k] = v
		}
		out.Tables[tid] = cp
	}
	return out
}

// WithRoute returns a State with the given route upserted into its table.
func (s *State) WithRoute(r RouteEntry) *State {
	out := s.clone()
	out.Routes = s.routesOrEmpty().clone()
	tbl, ok := out.Routes.Tables[r.TableID]
	if !ok {
		tbl = map[string]RouteEntry{}
		out.Routes.Tables[r.TableID] = tbl
	}
	tbl[r.key()] = r
	return out
}

// WithoutRoute returns a State with the matching route removed from its
// table, or the same State if no such route is present (idempotent).
func (s *State) WithoutRoute(tableID ids.RouterID, dest net.IP, prefixLen int) *State {
	routes := s.routesOrEmpty()
	tbl, ok := routes.Tables[tableID]
	if !ok {
		return s
	}
	key := RouteEntry{Dest: dest, PrefixLen: prefixLen}.key()
	if _, ok := tbl[key]; !ok {
		return s
	}
	out := s.clone()
	out.Routes = routes.clone()
	delete(out.Routes.Tables[tableID], key)
	return out
}

func (s *State) routesOrEmpty() *RouteTables {
	if s.Routes == nil {
		return newRouteTables()
	}
	return s.Routes
}
