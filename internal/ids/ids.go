// Package ids defines the small set of identifier types shared across the
// host-kernel integration core, so that packages on either side of the
// kernel boundary (switch state, netlink, tap devices) agree on a single
// representation without importing each other's full type trees.
package ids

import "fmt"

// InterfaceID is a stable, agent-assigned identifier for a logical switch
// interface. Its host-side tap device is named deterministically from it.
type InterfaceID int32

// TapName returns the deterministic host interface name for this ID.
func (id InterfaceID) TapName() string {
	return fmt.Sprintf("fboss%d", id)
}

// VLANID identifies a VLAN in the switch state tree. Zero means "no VLAN".
type VLANID int32

// RouterID identifies a routing-table id derived by the policy router.
// Valid values are in [1, 253]; the kernel reserves 0, 254 and 255.
type RouterID int
