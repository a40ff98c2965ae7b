// Package dataplane provides the default packetpump.Submitter wired by
// the CLI when no ASIC/SDK driver is configured. The real dataplane
// forwarding path is out of scope for this module; LoggingSubmitter
// exists so `hostsync run` has something concrete to hand ingress
// packets to and so operators can verify the capture path end to end
// before a real driver is wired in.
package dataplane

import (
	"log/slog"
	"sync/atomic"

	"github.com/facebook/fboss-sub029/internal/ids"
)

// LoggingSubmitter counts and logs ingress packets instead of forwarding
// them into a dataplane.
type LoggingSubmitter struct {
	log *slog.Logger

	l3Count atomic.Uint64
	l2Count atomic.Uint64
}

// NewLoggingSubmitter constructs a LoggingSubmitter.
func NewLoggingSubmitter(log *slog.Logger) *LoggingSubmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingSubmitter{log: log.With("component", "dataplane")}
}

// SubmitL3 implements packetpump.Submitter.
func (l *LoggingSubmitter) SubmitL3(id ids.InterfaceID, pkt []byte) {
	n := l.l3Count.Add(1)
	l.log.Debug("L3 packet received", "iface", id, "bytes", len(pkt), "total", n)
}

// SubmitL2 implements packetpump.Submitter.
func (l *LoggingSubmitter) SubmitL2(id ids.InterfaceID, pkt []byte) {
	n := l.l2Count.Add(1)
	l.log.Debug("L2 packet received", "iface", id, "bytes", len(pkt), "total", n)
}

// Counts returns the running L3/L2 packet counts.
func (l *LoggingSubmitter) Counts() (l3, l2 uint64) {
	return l.l3Count.Load(), l.l2Count.Load()
}
