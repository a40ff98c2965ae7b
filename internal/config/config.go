// Package config loads the process configuration for the host-kernel
// integration core from a TOML file (spec §4.K).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/facebook/fboss-sub029/internal/policyrouter"
	"github.com/facebook/fboss-sub029/internal/switchstate"
)

// DefaultConfigPath is where `hostsync run` looks for a config file when
// none is given explicitly.
const DefaultConfigPath = "/etc/hostsync/config.toml"

// Config is the top-level process configuration.
type Config struct {
	Core    CoreConfig    `toml:"core"`
	Routing RoutingConfig `toml:"routing"`
	Control ControlConfig `toml:"control"`
}

// CoreConfig controls the kernel-integration core's general behavior.
type CoreConfig struct {
	// TunEnabled selects TUN (L3, no Ethernet header) framing for tap
	// devices when true, TAP (L2, Ethernet-framed) when false.
	TunEnabled bool `toml:"tun_enabled"`

	// ManagementInterface is the host network interface used to reach
	// the control plane (excluded from kernel probing and sync).
	ManagementInterface string `toml:"management_interface"`

	// PollInterval is how often Core re-enqueues the current switch
	// state for a full resync pass, independent of any netlink event
	// arriving (as a Go duration string, e.g. "30s"). KernelObserver's
	// subscriptions are event-driven, not polled, so this is the core's
	// self-healing net against a missed or dropped netlink notification
	// rather than a literal re-probe cadence. Stored in the file as a
	// string and parsed into PollIntervalDuration by Validate.
	PollInterval         string        `toml:"poll_interval"`
	PollIntervalDuration time.Duration `toml:"-"`

	// DefaultMTU is the MTU assigned to tap devices that switch state
	// does not specify one for.
	DefaultMTU int `toml:"default_mtu"`

	// NeighborTablePolicy selects whether ARP/NDP entries are keyed by
	// VLAN or by interface: "vlan" or "interface".
	NeighborTablePolicy         string                            `toml:"neighbor_table_policy"`
	NeighborTablePolicyResolved switchstate.NeighborTablePolicy `toml:"-"`
}

// RoutingConfig selects the policy-routing table-id strategy.
type RoutingConfig struct {
	// Strategy is "voq" or "bucketed".
	Strategy string `toml:"strategy"`

	// SystemPortRangeMin is the VoQ strategy's offset parameter. Unused
	// by the bucketed strategy.
	SystemPortRangeMin int32 `toml:"system_port_range_min,omitempty"`

	StrategyResolved policyrouter.Strategy `toml:"-"`
}

// ControlConfig configures the Unix-socket control server.
type ControlConfig struct {
	// SocketPath overrides control.ResolveSocketPath when non-empty.
	SocketPath string `toml:"socket_path,omitempty"`
}

// Default returns a Config populated with sensible defaults (routing
// strategy "bucketed"). The required field management_interface is left
// empty and must be supplied by the operator; Validate rejects it if
// still empty at load time.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			TunEnabled:           false,
			PollInterval:         "30s",
			PollIntervalDuration: 30 * time.Second,
			DefaultMTU:           9000,
			NeighborTablePolicy:  "vlan",
		},
		Routing: RoutingConfig{
			Strategy: "bucketed",
		},
	}
}

// Load reads and validates a config file at path.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks required fields and resolves the string-typed fields
// (poll_interval, neighbor_table_policy, routing.strategy) into their
// runtime-typed equivalents. Required fields are checked explicitly
// rather than via struct tags, matching how the bulk of this codebase's
// config validation is written.
func (c *Config) Validate() error {
	if c.Core.ManagementInterface == "" {
		return errors.New("core.management_interface is required")
	}

	if c.Core.PollInterval == "" {
		return errors.New("core.poll_interval is required")
	}
	d, err := time.ParseDuration(c.Core.PollInterval)
	if err != nil {
		return fmt.Errorf("core.poll_interval: %w", err)
	}
	if d <= 0 {
		return errors.New("core.poll_interval must be positive")
	}
	c.Core.PollIntervalDuration = d

	if c.Core.DefaultMTU <= 0 {
		return errors.New("core.default_mtu must be positive")
	}

	switch c.Core.NeighborTablePolicy {
	case "", "vlan":
		c.Core.NeighborTablePolicyResolved = switchstate.NeighborTableByVLAN
	case "interface":
		c.Core.NeighborTablePolicyResolved = switchstate.NeighborTableByInterface
	default:
		return fmt.Errorf("core.neighbor_table_policy: unknown value %q", c.Core.NeighborTablePolicy)
	}

	switch c.Routing.Strategy {
	case "", "bucketed":
		c.Routing.StrategyResolved = policyrouter.Bucketed
	case "voq":
		c.Routing.StrategyResolved = policyrouter.VoQ
		if c.Routing.SystemPortRangeMin == 0 {
			return errors.New("routing.system_port_range_min is required when routing.strategy = \"voq\"")
		}
	default:
		return fmt.Errorf("routing.strategy: unknown value %q", c.Routing.Strategy)
	}

	return nil
}

// PolicyRouterConfig builds the policyrouter.Config this configuration
// resolves to, for use by cmd/hostsync's wiring.
func (c *Config) PolicyRouterConfig() policyrouter.Config {
	return policyrouter.Config{
		Strategy:           c.Routing.StrategyResolved,
		SystemPortRangeMin: c.Routing.SystemPortRangeMin,
	}
}
