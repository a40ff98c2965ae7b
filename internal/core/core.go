//go:build linux

// Package core is the top-level orchestrator that wires together kernel
// probing, kernel observation, switch-state, the syncer, the packet
// pump and the control server into one runnable process (spec §4.M,
// §2's control flow): one Run call that blocks until the context is
// cancelled and tears every collaborator down in order.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/facebook/fboss-sub029/internal/config"
	"github.com/facebook/fboss-sub029/internal/control"
	"github.com/facebook/fboss-sub029/internal/dataplane"
	"github.com/facebook/fboss-sub029/internal/eventhandler"
	"github.com/facebook/fboss-sub029/internal/ids"
	"github.com/facebook/fboss-sub029/internal/kernelobserver"
	"github.com/facebook/fboss-sub029/internal/kernelprobe"
	"github.com/facebook/fboss-sub029/internal/netlinkclient"
	"github.com/facebook/fboss-sub029/internal/packetpump"
	"github.com/facebook/fboss-sub029/internal/policyrouter"
	"github.com/facebook/fboss-sub029/internal/stateobserver"
	"github.com/facebook/fboss-sub029/internal/switchstate"
	"github.com/facebook/fboss-sub029/internal/syncer"
	"github.com/facebook/fboss-sub029/internal/tapdevice"
)

// tapNamePrefix is the prefix KernelProber filters host interfaces by,
// and the prefix ids.InterfaceID.TapName derives its names from.
const tapNamePrefix = "fboss"

// pumpRegistrar adapts *packetpump.Pump to syncer.PumpRegistrar. It lives
// here, not in either package, because Go requires the adapted method's
// parameter type to be exactly syncer.Tap for the adaptation to satisfy
// syncer.PumpRegistrar — only a caller that imports both syncer and
// packetpump can write that signature.
type pumpRegistrar struct {
	pump     *packetpump.Pump
	ethernet bool
	mtu      int
}

func (r *pumpRegistrar) Register(id ids.InterfaceID, dev syncer.Tap) {
	r.pump.RegisterWithFraming(id, dev, r.ethernet, r.mtu)
}

func (r *pumpRegistrar) Unregister(id ids.InterfaceID) {
	r.pump.Unregister(id)
}

// Core bundles every collaborator the host-kernel integration core
// needs and runs their executors together.
type Core struct {
	cfg *config.Config
	log *slog.Logger

	store      *switchstate.Store
	syncer     *syncer.Syncer
	pump       *packetpump.Pump
	kobserver  *kernelobserver.Observer
	ehandler   *eventhandler.Handler
	sobserver  *stateobserver.Observer
	control    *control.Server
	dataplane  *dataplane.LoggingSubmitter
}

// New builds a Core from cfg. No kernel state is touched until Run is
// called, except for the epoll instance PacketPump owns, which is
// created here so New can fail fast on a resource-exhausted host.
func New(cfg *config.Config, log *slog.Logger) (*Core, error) {
	if log == nil {
		log = slog.Default()
	}

	store := switchstate.NewStore(nil)
	nlClient := netlinkclient.New()
	router := policyrouter.New(cfg.PolicyRouterConfig())
	prober := kernelprobe.New(nlClient, tapNamePrefix)
	submitter := dataplane.NewLoggingSubmitter(log)

	pump, err := packetpump.New(submitter, log)
	if err != nil {
		return nil, fmt.Errorf("creating packet pump: %w", err)
	}

	reg := &pumpRegistrar{pump: pump, ethernet: !cfg.Core.TunEnabled, mtu: cfg.Core.DefaultMTU}

	sy := syncer.New(syncer.Config{
		Netlink:    nlClient,
		Router:     router,
		Prober:     prober,
		TapOpen:    func(name string, ethernet bool) (syncer.Tap, error) { return tapdevice.Open(name, ethernet) },
		Ethernet:   !cfg.Core.TunEnabled,
		DefaultMTU: cfg.Core.DefaultMTU,
		Pump:       reg,
		Log:        log,
	})

	events := make(chan kernelobserver.Event, 64)
	kobs := kernelobserver.New(nlClient, sy, log, events)
	eh := eventhandler.New(store, cfg.Core.NeighborTablePolicyResolved, log)
	sobs := stateobserver.New(sy)

	socketPath := cfg.Control.SocketPath
	if socketPath == "" {
		socketPath = control.ResolveSocketPath()
	}
	ctrl := control.NewServer(socketPath, func() control.Status { return statusFrom(sy) }, log)

	return &Core{
		cfg:       cfg,
		log:       log,
		store:     store,
		syncer:    sy,
		pump:      pump,
		kobserver: kobs,
		ehandler:  eh,
		sobserver: sobs,
		control:   ctrl,
		dataplane: submitter,
	}, nil
}

// statusFrom builds the control.Status snapshot from the syncer's own
// Status (spec §4.L).
func statusFrom(sy *syncer.Syncer) control.Status {
	s := sy.Status()
	out := control.Status{SyncsPerformed: s.SyncsPerformed, Probed: s.Probed}
	for _, i := range s.Interfaces {
		out.Interfaces = append(out.Interfaces, control.InterfaceStatus{
			ID:        int32(i.ID),
			Name:      i.Name,
			Ifindex:   i.Ifindex,
			Up:        i.Up,
			MTU:       i.MTU,
			Addresses: i.Addresses,
		})
	}
	return out
}

// Run wires the executors together and blocks until ctx is cancelled,
// then tears them down in the spec §5 order: stop accepting new kernel
// events, drain the syncer, close taps, stop the control server.
func (c *Core) Run(ctx context.Context) error {
	unsubscribe := c.sobserver.Attach(c.store)
	defer unsubscribe()

	c.syncer.Start(ctx)

	if err := c.control.Start(); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	defer c.control.Stop()

	defer c.pump.Close()

	// Trigger an initial reconciliation against the empty state so the
	// syncer's startup probe runs even before any switch-state update
	// arrives.
	c.syncer.Enqueue(c.store.Current())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.ehandler.Run(c.kobserver.Events())
		return nil
	})
	g.Go(func() error { return c.pump.Run(gctx) })
	g.Go(func() error { return c.kobserver.Run(gctx) })
	g.Go(func() error { c.resyncLoop(gctx); return nil })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		c.log.Error("core executor exited", "err", err)
	}

	// Detach from switch-state updates before draining the syncer, so no
	// delta arriving during teardown can Enqueue onto an executor that's
	// about to stop accepting work (spec §5 teardown order).
	unsubscribe()
	c.syncer.Shutdown()
	return ctx.Err()
}

// resyncLoop periodically re-enqueues the current switch state so the
// syncer re-diffs against kernel reality even if no switch-state delta
// or netlink event arrives in the meantime. KernelObserver's
// subscriptions are push-based, not polled, so this is the net that
// catches a notification the kernel dropped or that raced the core's
// own startup, the same reason an interface monitor built on this same
// netlink-subscription style runs a periodic resync alongside it rather
// than trusting the subscription alone.
func (c *Core) resyncLoop(ctx context.Context) {
	interval := c.cfg.Core.PollIntervalDuration
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncer.Enqueue(c.store.Current())
		}
	}
}

// Store exposes the switch-state store for external producers (the
// larger agent publishing real switch state) to drive through.
func (c *Core) Store() *switchstate.Store { return c.store }
