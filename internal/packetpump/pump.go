//go:build linux

// Package packetpump implements PacketPump (spec §4.H): a dedicated
// goroutine blocks on a level-triggered fd-readiness mechanism (epoll)
// registered with every live tap fd, reads one packet per wakeup per
// fd, and hands it to the dataplane submitter tagged with the owning
// interface id.
package packetpump

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/facebook/fboss-sub029/internal/hosterr"
	"github.com/facebook/fboss-sub029/internal/ids"
)

// maxPacketsPerWakeup bounds how many fds are serviced per epoll_wait
// return, in either framing mode, so one very chatty interface cannot
// starve the others registered in the same set (spec §4.H).
const maxPacketsPerWakeup = 16

// Source is the subset of tapdevice.Device (or syncer.Tap) the pump
// needs: a pollable fd, a name for logging, and packet read/write.
type Source interface {
	Fd() int
	Name() string
	Read(buf []byte) (int, error)
	Write(pkt []byte) (int, error)
}

// Submitter is the external dataplane collaborator packets are handed
// to (out of scope for this module — spec §1). L3 and L2 are separate
// methods because a tap opened in TUN mode never produces/accepts
// Ethernet-framed payloads and vice versa.
type Submitter interface {
	SubmitL3(id ids.InterfaceID, pkt []byte)
	SubmitL2(id ids.InterfaceID, pkt []byte)
}

// registration is one fd's bookkeeping: its source, owning interface,
// and framing mode.
type registration struct {
	id       ids.InterfaceID
	source   Source
	ethernet bool
	mtu      int
}

// Pump is PacketPump.
type Pump struct {
	submitter Submitter
	log       *slog.Logger

	epfd int

	mu          sync.Mutex
	byFd        map[int]*registration
	byIfaceID   map[ids.InterfaceID]int
	rxDropped   uint64
	rxProcessed uint64
}

// New creates a Pump with its own epoll instance.
func New(submitter Submitter, log *slog.Logger) (*Pump, error) {
	if log == nil {
		log = slog.Default()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, hosterr.Wrapf(hosterr.Kernel, "epoll_create1: %w", err)
	}
	return &Pump{
		submitter: submitter,
		log:       log,
		epfd:      epfd,
		byFd:      map[int]*registration{},
		byIfaceID: map[ids.InterfaceID]int{},
	}, nil
}

// RegisterWithFraming adds dev's fd to the epoll set with explicit
// framing mode and MTU (used to size the RX buffer).
func (p *Pump) RegisterWithFraming(id ids.InterfaceID, dev Source, ethernet bool, mtu int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fd := dev.Fd()
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		p.log.Error("epoll_ctl ADD failed", "iface", id, "fd", fd, "err", err)
		return
	}
	p.byFd[fd] = &registration{id: id, source: dev, ethernet: ethernet, mtu: mtu}
	p.byIfaceID[id] = fd
}

// Unregister removes an interface's fd from the epoll set. A
// non-recoverable read error on an fd also triggers this path, forcing
// the syncer to recreate the tap on its next reconciliation.
func (p *Pump) Unregister(id ids.InterfaceID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fd, ok := p.byIfaceID[id]
	if !ok {
		return
	}
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.byFd, fd)
	delete(p.byIfaceID, id)
}

// Run blocks servicing fd readiness until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, maxPacketsPerWakeup)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := unix.EpollWait(p.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return hosterr.Wrapf(hosterr.Fatal, "epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			p.service(int(events[i].Fd))
		}
	}
}

// service handles one ready fd: allocate an RX buffer sized to the
// interface's MTU (plus ethernet framing overhead when applicable),
// read once, and hand off or drop per spec §4.H.
func (p *Pump) service(fd int) {
	p.mu.Lock()
	reg, ok := p.byFd[fd]
	p.mu.Unlock()
	if !ok {
		return
	}

	overhead := 0
	if reg.ethernet {
		overhead = 18 // tagged Ethernet header upper bound
	}
	buf := make([]byte, reg.mtu+overhead)

	n, err := reg.source.Read(buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		p.log.Error("non-recoverable read error, unregistering", "iface", reg.id, "err", err)
		p.Unregister(reg.id)
		return
	}
	if n == 0 {
		p.log.Debug("zero-length read, ignoring", "iface", reg.id)
		return
	}
	if n > len(buf) {
		p.log.Warn("read exceeded RX buffer, dropping", "iface", reg.id, "n", n)
		p.mu.Lock()
		p.rxDropped++
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.rxProcessed++
	p.mu.Unlock()

	pkt := buf[:n]
	if reg.ethernet {
		p.submitter.SubmitL2(reg.id, pkt)
	} else {
		p.submitter.SubmitL3(reg.id, pkt)
	}
}

// SendToHost writes an egress packet (switch -> kernel) to the tap
// owning id, looked up by the same registration table Run reads from.
func (p *Pump) SendToHost(id ids.InterfaceID, pkt []byte) (int, error) {
	p.mu.Lock()
	fd, ok := p.byIfaceID[id]
	if !ok {
		p.mu.Unlock()
		return 0, hosterr.Wrapf(hosterr.NotFound, "no registered tap for interface %d", id)
	}
	reg := p.byFd[fd]
	p.mu.Unlock()
	return reg.source.Write(pkt)
}

// Counters returns a snapshot of the RX accounting.
func (p *Pump) Counters() (processed, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxProcessed, p.rxDropped
}

// Close releases the epoll fd.
func (p *Pump) Close() error {
	return unix.Close(p.epfd)
}
