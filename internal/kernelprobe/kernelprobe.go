// Package kernelprobe implements the one-shot startup reconciliation
// pass (spec §4.C): on process start, before the KernelObserver's event
// loop is listening, the core must discover which fboss<ID> tap devices
// already exist in the kernel (left over from a previous process
// lifetime) so the syncer's initial diff is against reality, not an
// empty set.
package kernelprobe

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/facebook/fboss-sub029/internal/hosterr"
	"github.com/facebook/fboss-sub029/internal/ids"
)

// linkLister is the subset of netlinkclient.Client the prober needs;
// narrowed to an interface so tests can supply a fake cache dump
// without a kernel.
type linkLister interface {
	LinkList() ([]netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// Found describes one pre-existing tap device discovered at startup.
type Found struct {
	ID        ids.InterfaceID
	Name      string
	Ifindex   int
	Up        bool
	MTU       int
	Addresses []netlink.Addr
}

// Prober runs the startup link/address cache dump and filters it down
// to devices this core owns (the `fboss<ID>` naming convention).
type Prober struct {
	client linkLister
	prefix string
}

// New constructs a Prober. prefix is the tap name prefix the core owns
// ("fboss" in the default deployment); links that don't match
// `<prefix><decimal InterfaceID>` exactly are left untouched as foreign
// interfaces.
func New(client linkLister, prefix string) *Prober {
	return &Prober{client: client, prefix: prefix}
}

// Probe dumps the kernel's link and address caches once and returns every
// link owned by this core, each tagged with the InterfaceID encoded in
// its name.
func (p *Prober) Probe(ctx context.Context) ([]Found, error) {
	links, err := p.client.LinkList()
	if err != nil {
		return nil, hosterr.Wrapf(hosterr.Kernel, "probing link cache: %w", err)
	}

	var found []Found
	for _, link := range links {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		attrs := link.Attrs()
		id, ok := p.parseID(attrs.Name)
		if !ok {
			continue
		}

		addrs, err := p.client.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			return nil, hosterr.Wrapf(hosterr.Kernel, "probing addresses on %s: %w", attrs.Name, err)
		}

		found = append(found, Found{
			ID:        id,
			Name:      attrs.Name,
			Ifindex:   attrs.Index,
			Up:        attrs.Flags&net.FlagUp != 0 || attrs.OperState == netlink.OperUp,
			MTU:       attrs.MTU,
			Addresses: addrs,
		})
	}
	return found, nil
}

// parseID extracts the InterfaceID from a name of the form
// "<prefix><decimal>", e.g. "fboss12" -> 12. Names that don't match
// exactly (wrong prefix, trailing garbage, empty suffix) are rejected;
// those interfaces belong to something else on the host.
func (p *Prober) parseID(name string) (ids.InterfaceID, bool) {
	suffix, ok := strings.CutPrefix(name, p.prefix)
	if !ok || suffix == "" || suffix[0] < '0' || suffix[0] > '9' {
		return 0, false
	}
	n, err := strconv.ParseInt(suffix, 10, 32)
	if err != nil || n < 0 {
		return 0, false
	}
	return ids.InterfaceID(n), true
}
