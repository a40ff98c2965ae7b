//go:build linux

// Package tapdevice creates and drives the per-interface /dev/net/tun
// character devices the core uses to exchange packets with the host
// kernel (spec §4.A). Devices are opened in persistent TAP (Ethernet-
// framed) or TUN (L3) mode with IFF_NO_PI, non-blocking and close-on-exec,
// so a crash of the owning process never leaves a half-configured fd
// lingering in a child.
package tapdevice

import (
	"errors"
	"net"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/facebook/fboss-sub029/internal/hosterr"
)

const (
	tunPath = "/dev/net/tun"

	// EthHdrSizeTagged is the Ethernet header size, in bytes, for a
	// VLAN-tagged frame (dst MAC + src MAC + 802.1Q tag + ethertype).
	EthHdrSizeTagged = 18

	// EthHdrSizeUntagged is the Ethernet header size, in bytes, for an
	// untagged frame (dst MAC + src MAC + ethertype).
	EthHdrSizeUntagged = 14
)

// ioctl request numbers and flags from linux/if_tun.h. vishvananda/netlink
// does not cover tun/tap device creation, so the core opens the character
// device directly via raw unix.Syscall rather than pulling in a second
// netlink-ish dependency for a one-ioctl job.
const (
	tunsetiff    = 0x400454ca
	tunsetpersist = 0x400454cb
	iffTun        = 0x0001
	iffTap        = 0x0002
	iffNoPI       = 0x1000
)

// ifReq mirrors struct ifreq's relevant prefix: a 16-byte interface name
// followed by a flags short. The kernel ignores trailing padding.
type ifReq struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// Device is one open tap (or tun) character device plus the bookkeeping
// needed to reconfigure and tear it down.
type Device struct {
	mu       sync.Mutex
	fd       int
	name     string
	ethernet bool
	mtu      int
}

// Open creates (or re-attaches to) a persistent tap/tun device named
// name. ethernet selects TAP (Ethernet-framed, used when the core needs
// L2 neighbor resolution visibility) versus TUN (L3, IFF_NO_PI) framing.
func Open(name string, ethernet bool) (*Device, error) {
	fd, err := unix.Open(tunPath, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, hosterr.Wrapf(hosterr.Kernel, "opening %s: %w", tunPath, err)
	}

	var req ifReq
	copy(req.name[:], name)
	req.flags = iffNoPI
	if ethernet {
		req.flags |= iffTap
	} else {
		req.flags |= iffTun
	}

	if err := ioctl(fd, tunsetiff, unsafe.Pointer(&req)); err != nil {
		unix.Close(fd)
		return nil, hosterr.Wrapf(hosterr.Kernel, "TUNSETIFF %s: %w", name, err)
	}

	if err := ioctl(fd, tunsetpersist, unsafe.Pointer(uintptr(1))); err != nil {
		unix.Close(fd)
		return nil, hosterr.Wrapf(hosterr.Kernel, "TUNSETPERSIST %s: %w", name, err)
	}

	return &Device{fd: fd, name: name, ethernet: ethernet}, nil
}

// Fd returns the raw file descriptor for epoll registration
// (packetpump.Pump).
func (d *Device) Fd() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd
}

// Name returns the device's host interface name.
func (d *Device) Name() string { return d.name }

// headerSize returns the per-packet framing overhead this device adds,
// used by callers that need to size RX buffers (spec §4.H).
func (d *Device) headerSize(tagged bool) int {
	if !d.ethernet {
		return 0
	}
	if tagged {
		return EthHdrSizeTagged
	}
	return EthHdrSizeUntagged
}

// SetMTU sets the host-visible MTU for this device via SIOCSIFMTU on an
// ioctl socket (tun/tap devices reject RTM_NEWLINK-based MTU changes on
// some kernels, so this bypasses netlink entirely and uses a raw ioctl
// for this one operation instead).
func (d *Device) SetMTU(mtu int) error {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return hosterr.Wrapf(hosterr.Kernel, "opening ioctl socket: %w", err)
	}
	defer unix.Close(sock)

	var req struct {
		name [unix.IFNAMSIZ]byte
		mtu  int32
		_    [8]byte
	}
	copy(req.name[:], d.name)
	req.mtu = int32(mtu)

	if err := ioctl(sock, unix.SIOCSIFMTU, unsafe.Pointer(&req)); err != nil {
		return hosterr.Wrapf(hosterr.Kernel, "SIOCSIFMTU %s: %w", d.name, err)
	}

	d.mu.Lock()
	d.mtu = mtu
	d.mu.Unlock()
	return nil
}

// Write sends one packet/frame to the host kernel through the device.
// For an ethernet device, pkt must already include the Ethernet header
// the caller built (packetpump.SendToHost passes packets through
// unchanged); TUN devices expect a bare L3 packet.
func (d *Device) Write(pkt []byte) (int, error) {
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()

	n, err := unix.Write(fd, pkt)
	if err != nil {
		return n, hosterr.Wrapf(hosterr.Kernel, "writing to %s: %w", d.name, err)
	}
	return n, nil
}

// Read reads one packet/frame from the device into buf. Callers driving
// an epoll loop should treat EAGAIN as "no more data this wakeup", not
// an error (spec §4.H).
func (d *Device) Read(buf []byte) (int, error) {
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()

	n, err := unix.Read(fd, buf)
	if err != nil {
		return n, err
	}
	return n, nil
}

// Close closes the fd and only reclaims this process's handle. The
// persistent flag set by Open is not cleared, so the kernel interface
// outlives Close; nothing in this package deletes the link.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return hosterr.Wrapf(hosterr.Kernel, "closing %s: %w", d.name, err)
	}
	return nil
}

// HardwareAddr derives a deterministic MAC for a tap device from its
// InterfaceID-derived name. The syncer assigns this to Ethernet-framed
// taps once it has disabled (or attempted to disable) addr_gen_mode, so
// the interface never ends up with a kernel auto-generated address
// instead (spec §4.A).
func HardwareAddr(name string) net.HardwareAddr {
	sum := fnv1a(name)
	mac := make(net.HardwareAddr, 6)
	mac[0] = 0x02 // locally administered, unicast
	mac[1] = byte(sum >> 24)
	mac[2] = byte(sum >> 16)
	mac[3] = byte(sum >> 8)
	mac[4] = byte(sum)
	mac[5] = byte(len(name))
	return mac
}

func fnv1a(s string) uint32 {
	const (
		offset uint32 = 2166136261
		prime  uint32 = 16777619
	)
	h := offset
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// ErrClosed is an error value for operations on a closed Device. No
// Device method returns it: Read and Write on a closed Device hand fd -1
// to the kernel and fail with EBADF, and a second Close returns nil.
var ErrClosed = errors.New("tapdevice: device closed")
