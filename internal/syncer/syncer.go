//go:build linux

// Package syncer implements InterfaceSyncer, the reconciler at the core
// of the core (spec §4.E). Every switch-state delta and every startup
// probe is serialized through one executor goroutine, eliminating
// lost-update races against netlink; the tap map itself is guarded by a
// mutex because KernelObserver (LookupByIfindex, TableIDFor) and the
// control server (Status) read it from other goroutines.
package syncer

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/facebook/fboss-sub029/internal/hosterr"
	"github.com/facebook/fboss-sub029/internal/ids"
	"github.com/facebook/fboss-sub029/internal/kernelprobe"
	"github.com/facebook/fboss-sub029/internal/netlinkclient"
	"github.com/facebook/fboss-sub029/internal/policyrouter"
	"github.com/facebook/fboss-sub029/internal/switchstate"
	"github.com/facebook/fboss-sub029/internal/tapdevice"
)

// Netlink is the subset of netlinkclient.Client the syncer mutates the
// kernel through. Narrowed to an interface so tests can substitute an
// in-memory recorder satisfying the same shape as the real client
// (spec §8, a fake-collaborator test idiom).
type Netlink interface {
	LinkByName(name string) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetAddrGenModeNone(link netlink.Link) error
	LinkSetHardwareAddr(link netlink.Link, addr net.HardwareAddr) error
	AddrReplace(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error
}

// Tap is the subset of *tapdevice.Device the syncer needs; narrowed so
// tests can substitute an in-memory fd-less fake. Read/Write are part
// of this contract (rather than a separate interface) because the same
// value registered here is also what PacketPump reads from and the
// control/egress path writes to.
type Tap interface {
	Fd() int
	Name() string
	SetMTU(mtu int) error
	Close() error
	Read(buf []byte) (int, error)
	Write(pkt []byte) (int, error)
}

// TapFactory opens (or re-attaches to) a tap device by name.
type TapFactory func(name string, ethernet bool) (Tap, error)

// PumpRegistrar receives tap lifecycle notifications so PacketPump's
// epoll set always matches the syncer's live tap map (spec §4.H reads
// "registered with every TapDevice fd").
type PumpRegistrar interface {
	Register(id ids.InterfaceID, dev Tap)
	Unregister(id ids.InterfaceID)
}

// tapEntry is the syncer's view of one live tap: everything needed to
// detect drift against a new desired state and to tear it down cleanly.
type tapEntry struct {
	id        ids.InterfaceID
	device    Tap
	ifindex   int
	status    bool
	addresses []switchstate.IPNet
	mtu       int
	rulesUp   bool // whether source-routing rules are installed (skipped on DOWN->UP transitions)
}

// Syncer is InterfaceSyncer (spec §4.E).
type Syncer struct {
	netlink    Netlink
	router     *policyrouter.Router
	prober     *kernelprobe.Prober
	tapOpen    TapFactory
	ethernet   bool
	defaultMTU int
	pump       PumpRegistrar
	log        *slog.Logger

	mu             sync.Mutex
	taps           map[ids.InterfaceID]*tapEntry
	probed         bool
	syncsPerformed uint64

	jobs chan *switchstate.State
	wg   sync.WaitGroup
}

// Config bundles the Syncer's collaborators.
type Config struct {
	Netlink    Netlink
	Router     *policyrouter.Router
	Prober     *kernelprobe.Prober
	TapOpen    TapFactory
	Ethernet   bool
	DefaultMTU int
	Pump       PumpRegistrar
	Log        *slog.Logger
}

// New constructs a Syncer. Call Start to begin consuming enqueued syncs.
func New(cfg Config) *Syncer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	mtu := cfg.DefaultMTU
	if mtu == 0 {
		mtu = 9000
	}
	return &Syncer{
		netlink:    cfg.Netlink,
		router:     cfg.Router,
		prober:     cfg.Prober,
		tapOpen:    cfg.TapOpen,
		ethernet:   cfg.Ethernet,
		defaultMTU: mtu,
		pump:       cfg.Pump,
		log:        log,
		taps:       map[ids.InterfaceID]*tapEntry{},
		jobs:       make(chan *switchstate.State, 16),
	}
}

// Start spins up the single-consumer executor goroutine. It returns
// immediately; the goroutine runs until ctx is cancelled.
func (s *Syncer) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case state := <-s.jobs:
				s.syncOnce(ctx, state)
			}
		}
	}()
}

// Shutdown waits for the executor goroutine to drain after its context
// has been cancelled, then closes every remaining tap device.
func (s *Syncer) Shutdown() {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.taps {
		if err := entry.device.Close(); err != nil {
			s.log.Warn("closing tap during shutdown", "iface", id, "err", err)
		}
	}
}

// Enqueue posts a sync job to the executor (spec §4.F: StateObserver
// avoids holding the switch-state lock across this call, which is why
// it is a plain channel send rather than a synchronous call).
func (s *Syncer) Enqueue(state *switchstate.State) {
	s.jobs <- state
}

// LookupByIfindex resolves a kernel ifindex to the core's InterfaceID,
// for KernelObserver (spec §4.D).
func (s *Syncer) LookupByIfindex(ifindex int) (ids.InterfaceID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.taps {
		if entry.ifindex == ifindex {
			return id, true
		}
	}
	return 0, false
}

// TableIDFor returns the routing-table id assigned to an InterfaceID.
func (s *Syncer) TableIDFor(id ids.InterfaceID) (ids.RouterID, bool) {
	s.mu.Lock()
	_, known := s.taps[id]
	s.mu.Unlock()
	if !known {
		return 0, false
	}
	return s.router.TableID(id), true
}

// Status is a snapshot for the ControlServer (spec §4.L).
type Status struct {
	Interfaces     []InterfaceStatus
	SyncsPerformed uint64
	Probed         bool
}

// InterfaceStatus is one tap's reported state.
type InterfaceStatus struct {
	ID        ids.InterfaceID
	Name      string
	Ifindex   int
	Up        bool
	MTU       int
	Addresses []string
}

// Status returns a point-in-time snapshot of every live tap.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Status{SyncsPerformed: s.syncsPerformed, Probed: s.probed}
	for id, entry := range s.taps {
		addrs := make([]string, 0, len(entry.addresses))
		for _, a := range entry.addresses {
			addrs = append(addrs, a.String())
		}
		out.Interfaces = append(out.Interfaces, InterfaceStatus{
			ID:        id,
			Name:      entry.device.Name(),
			Ifindex:   entry.ifindex,
			Up:        entry.status,
			MTU:       entry.mtu,
			Addresses: addrs,
		})
	}
	sort.Slice(out.Interfaces, func(i, j int) bool { return out.Interfaces[i].ID < out.Interfaces[j].ID })
	return out
}

// syncOnce performs one full reconciliation pass against desired
// (spec §4.E steps 1-6).
func (s *Syncer) syncOnce(ctx context.Context, desired *switchstate.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.probed && s.prober != nil {
		found, err := s.prober.Probe(ctx)
		if err != nil {
			s.log.Error("startup probe failed", "err", err)
		} else {
			s.mergeProbed(found, desired)
		}
		s.probed = true
	}

	desiredIDs := make([]ids.InterfaceID, 0, len(desired.Interfaces))
	for id := range desired.Interfaces {
		desiredIDs = append(desiredIDs, id)
	}
	currentIDs := make([]ids.InterfaceID, 0, len(s.taps))
	for id := range s.taps {
		currentIDs = append(currentIDs, id)
	}

	newOnly, oldOnly, both := diffIDs(desiredIDs, currentIDs)

	for _, id := range both {
		entry := s.taps[id]
		iface := desired.Interfaces[id]
		mtu := iface.MTU
		if mtu == 0 {
			mtu = s.defaultMTU
		}
		if entry.mtu != mtu {
			if err := entry.device.SetMTU(mtu); err != nil {
				s.log.Error("SetMTU failed", "iface", id, "err", err)
			} else {
				entry.mtu = mtu
			}
		}
	}

	for _, id := range newOnly {
		s.addNewInterface(desired.Interfaces[id])
	}
	for _, id := range oldOnly {
		s.removeInterface(id)
	}
	for _, id := range both {
		s.updateExisting(desired.Interfaces[id])
	}

	s.syncsPerformed++
}

// mergeProbed folds startup-discovered taps into the current map
// without issuing any kernel writes, so the diff treats a pre-existing
// kernel tap as already reconciled rather than new (spec §4.E step 3).
// A probed tap whose id is absent from desired is left untouched
// entirely (spec §8 boundary behavior).
func (s *Syncer) mergeProbed(found []kernelprobe.Found, desired *switchstate.State) {
	for _, f := range found {
		if _, known := desired.Interfaces[f.ID]; !known {
			continue
		}
		if _, already := s.taps[f.ID]; already {
			continue
		}
		dev, err := s.tapOpen(f.Name, s.ethernet)
		if err != nil {
			s.log.Error("re-attaching probed tap failed", "iface", f.ID, "err", err)
			continue
		}
		s.taps[f.ID] = &tapEntry{
			id:        f.ID,
			device:    dev,
			ifindex:   f.Ifindex,
			status:    f.Up,
			addresses: addrsFromNetlink(f.Addresses),
			mtu:       f.MTU,
			rulesUp:   true,
		}
		if s.pump != nil {
			s.pump.Register(f.ID, dev)
		}
	}
}

// addNewInterface runs the add sequence from spec §4.E.
func (s *Syncer) addNewInterface(iface *switchstate.Interface) {
	name := iface.ID.TapName()
	dev, err := s.tapOpen(name, s.ethernet)
	if err != nil {
		s.log.Error("opening tap failed", "iface", iface.ID, "err", err)
		return
	}

	mtu := iface.MTU
	if mtu == 0 {
		mtu = s.defaultMTU
	}
	if err := dev.SetMTU(mtu); err != nil {
		s.log.Error("SetMTU failed", "iface", iface.ID, "err", err)
	}

	link, err := s.netlink.LinkByName(name)
	if err != nil {
		s.log.Error("resolving new tap link failed", "iface", iface.ID, "err", err)
		return
	}

	// Best-effort: disable IPv6 addr_gen_mode so the kernel doesn't
	// assign its own auto-generated link-local address alongside the
	// ones switch state installs. Older kernels don't support the
	// attribute at all, so a failure here is logged and skipped rather
	// than treated as fatal (spec §4.A).
	if err := s.netlink.LinkSetAddrGenModeNone(link); err != nil {
		s.log.Info("disabling IPv6 addr_gen_mode not supported, skipping", "iface", iface.ID, "err", err)
	}

	if s.ethernet {
		if err := s.netlink.LinkSetHardwareAddr(link, tapdevice.HardwareAddr(name)); err != nil {
			s.log.Info("setting deterministic hardware address failed, leaving kernel-assigned", "iface", iface.ID, "err", err)
		}
	}

	status := iface.Status()
	if status {
		if err := s.netlink.LinkSetUp(link); err != nil {
			s.log.Error("bringing up new tap failed", "iface", iface.ID, "err", err)
		}
	}

	table := s.router.TableID(iface.ID)
	s.installDefaultRoutes(link.Attrs().Index, table)

	for _, addr := range iface.Addresses {
		s.installRule(addr, table)
		s.installAddr(link, addr)
	}

	s.taps[iface.ID] = &tapEntry{
		id:        iface.ID,
		device:    dev,
		ifindex:   link.Attrs().Index,
		status:    status,
		addresses: append([]switchstate.IPNet(nil), iface.Addresses...),
		mtu:       mtu,
		rulesUp:   true,
	}
	if s.pump != nil {
		s.pump.Register(iface.ID, dev)
	}
}

// removeInterface deletes the interface's source-routing rules and
// default routes, unregisters its tap from the pump and closes the tap's
// fd. The kernel link itself is not deleted: the device stays
// persistent, with its addresses still on it. Per-mutation failures
// (notably NotFound, when the kernel already dropped a rule or route)
// are logged and do not abort the rest of the teardown.
func (s *Syncer) removeInterface(id ids.InterfaceID) {
	entry := s.taps[id]
	table := s.router.TableID(id)

	for _, addr := range entry.addresses {
		s.deleteRule(addr, table)
	}
	s.removeDefaultRoutes(entry.ifindex, table)

	if s.pump != nil {
		s.pump.Unregister(id)
	}
	if err := entry.device.Close(); err != nil {
		s.log.Warn("closing removed tap", "iface", id, "err", err)
	}
	delete(s.taps, id)
}

// updateExisting runs the status-change and address-diff sequence from
// spec §4.E for an interface present both before and after.
func (s *Syncer) updateExisting(iface *switchstate.Interface) {
	entry := s.taps[iface.ID]
	link, err := s.netlink.LinkByName(iface.ID.TapName())
	if err != nil {
		s.log.Error("resolving existing tap link failed", "iface", iface.ID, "err", err)
		return
	}

	desiredStatus := iface.Status()
	transitionedUp := !entry.status && desiredStatus
	if entry.status != desiredStatus {
		if desiredStatus {
			if err := s.netlink.LinkSetUp(link); err != nil {
				s.log.Error("bringing up tap failed", "iface", iface.ID, "err", err)
			}
		} else {
			if err := s.netlink.LinkSetDown(link); err != nil {
				s.log.Error("bringing down tap failed", "iface", iface.ID, "err", err)
			}
		}
		entry.status = desiredStatus
	}

	table := s.router.TableID(iface.ID)

	if transitionedUp {
		// Re-install the table and every address, but skip rules: the
		// kernel silently duplicates source-routing rules on replace,
		// and they were never removed on the DOWN transition.
		s.installDefaultRoutes(link.Attrs().Index, table)
		for _, addr := range iface.Addresses {
			s.installAddr(link, addr)
		}
		entry.addresses = append([]switchstate.IPNet(nil), iface.Addresses...)
		return
	}

	s.diffAddresses(link, entry, iface.Addresses, table)
}

// diffAddresses runs the three-way address walk from spec §4.E.
func (s *Syncer) diffAddresses(link netlink.Link, entry *tapEntry, desired []switchstate.IPNet, table ids.RouterID) {
	byKey := func(addrs []switchstate.IPNet) map[string]switchstate.IPNet {
		m := make(map[string]switchstate.IPNet, len(addrs))
		for _, a := range addrs {
			m[a.IP.String()] = a
		}
		return m
	}
	desiredByIP := byKey(desired)
	currentByIP := byKey(entry.addresses)

	var keys []string
	seen := map[string]bool{}
	for k := range desiredByIP {
		if !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for k := range currentByIP {
		if !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		want, wantOK := desiredByIP[k]
		have, haveOK := currentByIP[k]
		switch {
		case wantOK && !haveOK:
			if entry.status {
				s.installRule(want, table)
			}
			s.installAddr(link, want)
		case !wantOK && haveOK:
			s.deleteRule(have, table)
			s.deleteAddr(link, have)
		case wantOK && haveOK && want.PrefixLen != have.PrefixLen:
			s.deleteRule(have, table)
			s.deleteAddr(link, have)
			s.installRule(want, table)
			s.installAddr(link, want)
		}
	}

	entry.addresses = append([]switchstate.IPNet(nil), desired...)
}

func (s *Syncer) installDefaultRoutes(ifindex int, table ids.RouterID) {
	v4 := netlinkclient.NewDefaultRoute(netlink.FAMILY_V4, ifindex, int(table))
	if err := s.netlink.RouteReplace(v4); err != nil {
		s.log.Error("installing default v4 route failed", "table", table, "err", err)
	}
	v6 := netlinkclient.NewDefaultRoute(netlink.FAMILY_V6, ifindex, int(table))
	if err := s.netlink.RouteReplace(v6); err != nil {
		s.log.Error("installing default v6 route failed", "table", table, "err", err)
	}
}

func (s *Syncer) removeDefaultRoutes(ifindex int, table ids.RouterID) {
	v4 := netlinkclient.NewDefaultRoute(netlink.FAMILY_V4, ifindex, int(table))
	if err := s.netlink.RouteDel(v4); err != nil && !hosterr.IsNotFound(err) {
		s.log.Error("removing default v4 route failed", "table", table, "err", err)
	}
	v6 := netlinkclient.NewDefaultRoute(netlink.FAMILY_V6, ifindex, int(table))
	if err := s.netlink.RouteDel(v6); err != nil && !hosterr.IsNotFound(err) {
		s.log.Error("removing default v6 route failed", "table", table, "err", err)
	}
}

func (s *Syncer) installRule(addr switchstate.IPNet, table ids.RouterID) {
	rule, ok := s.router.Rule(addr.IP, addr.PrefixLen, table)
	if !ok {
		return
	}
	if err := s.netlink.RuleAdd(rule); err != nil {
		s.log.Error("installing rule failed", "addr", addr, "err", err)
	}
}

func (s *Syncer) deleteRule(addr switchstate.IPNet, table ids.RouterID) {
	rule, ok := s.router.Rule(addr.IP, addr.PrefixLen, table)
	if !ok {
		return
	}
	if err := s.netlink.RuleDel(rule); err != nil && !hosterr.IsNotFound(err) {
		s.log.Error("deleting rule failed", "addr", addr, "err", err)
	}
}

func (s *Syncer) installAddr(link netlink.Link, addr switchstate.IPNet) {
	na := toNetlinkAddr(addr)
	if err := s.netlink.AddrReplace(link, na); err != nil {
		s.log.Error("installing address failed", "addr", addr, "err", err)
	}
}

func (s *Syncer) deleteAddr(link netlink.Link, addr switchstate.IPNet) {
	na := toNetlinkAddr(addr)
	if err := s.netlink.AddrDel(link, na); err != nil && !hosterr.IsNotFound(err) {
		s.log.Error("deleting address failed", "addr", addr, "err", err)
	}
}

func toNetlinkAddr(addr switchstate.IPNet) *netlink.Addr {
	bits := 32
	if addr.IP.To4() == nil {
		bits = 128
	}
	return &netlink.Addr{IPNet: &net.IPNet{IP: addr.IP, Mask: net.CIDRMask(addr.PrefixLen, bits)}}
}

func addrsFromNetlink(addrs []netlink.Addr) []switchstate.IPNet {
	out := make([]switchstate.IPNet, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ones, _ := a.IPNet.Mask.Size()
		out = append(out, switchstate.IPNet{IP: a.IPNet.IP, PrefixLen: ones})
	}
	return out
}

// diffIDs performs the sorted three-way walk from spec §4.E step 5.
func diffIDs(desired, current []ids.InterfaceID) (newOnly, oldOnly, both []ids.InterfaceID) {
	d := map[ids.InterfaceID]bool{}
	for _, id := range desired {
		d[id] = true
	}
	c := map[ids.InterfaceID]bool{}
	for _, id := range current {
		c[id] = true
	}
	for id := range d {
		if c[id] {
			both = append(both, id)
		} else {
			newOnly = append(newOnly, id)
		}
	}
	for id := range c {
		if !d[id] {
			oldOnly = append(oldOnly, id)
		}
	}
	sort.Slice(newOnly, func(i, j int) bool { return newOnly[i] < newOnly[j] })
	sort.Slice(oldOnly, func(i, j int) bool { return oldOnly[i] < oldOnly[j] })
	sort.Slice(both, func(i, j int) bool { return both[i] < both[j] })
	return newOnly, oldOnly, both
}
