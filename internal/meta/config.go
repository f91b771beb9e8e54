package meta

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dnsmux/internal/network"
	"dnsmux/internal/reactor"
)

const (
	// ConfigPathEnv names the environment variable supplying the default config path.
	ConfigPathEnv = "DNSMUX_CONFIG"
	// PollTimeoutEnv names the environment variable overriding the reactor poll timeout, in
	// milliseconds.
	PollTimeoutEnv = "DNSMUX_POLL_TIMEOUT"
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn" toml:"sentry_dsn"`
}

// StatsdConfig describes the statsd server metrics are reported to.
type StatsdConfig struct {
	Address    string  `yaml:"addr" toml:"addr"`
	SampleRate float64 `yaml:"sample_rate" toml:"sample_rate"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *StatsdConfig `yaml:"statsd" toml:"statsd"`
}

// ReactorConfig is a top-level block for reactor configuration.
type ReactorConfig struct {
	// PollTimeout is the upper bound, in milliseconds, of a single readiness wait. Nil when omitted.
	PollTimeout *int `yaml:"poll_timeout" toml:"poll_timeout"`
}

// TraceConfig is a top-level block for packet trace configuration.
type TraceConfig struct {
	// Packets enables the structured packet log.
	Packets bool `yaml:"packets" toml:"packets"`
	// File is the path the packet log is appended to. Empty writes to stderr.
	File string `yaml:"file" toml:"file"`
}

// ListenerConfig is a top-level block for the optional forwarding listeners.
type ListenerConfig struct {
	UDP *struct {
		Address string `yaml:"addr" toml:"addr"`
	} `yaml:"udp" toml:"udp"`
	TCP *struct {
		Address string `yaml:"addr" toml:"addr"`
	} `yaml:"tcp" toml:"tcp"`
	// RequestTimeout bounds the resolution of a single forwarded request.
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
}

// UpstreamServer describes parameters for a single upstream server.
type UpstreamServer struct {
	Address   string `yaml:"addr" toml:"addr"`
	Transport string `yaml:"transport" toml:"transport"`
}

// UpstreamConfig is a top-level block for upstream configuration.
type UpstreamConfig struct {
	LoadBalancingPolicy string           `yaml:"load_balancing_policy" toml:"load_balancing_policy"`
	QueryTimeout        time.Duration    `yaml:"query_timeout" toml:"query_timeout"`
	Servers             []UpstreamServer `yaml:"servers" toml:"servers"`
}

// Config describes all application configuration options.
type Config struct {
	Application *ApplicationConfig `yaml:"application" toml:"application"`
	Metrics     *MetricsConfig     `yaml:"metrics" toml:"metrics"`
	Reactor     *ReactorConfig     `yaml:"reactor" toml:"reactor"`
	Trace       *TraceConfig       `yaml:"trace" toml:"trace"`
	Listener    *ListenerConfig    `yaml:"listener" toml:"listener"`
	Upstream    *UpstreamConfig    `yaml:"upstream" toml:"upstream"`
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk. Files with a
// .toml extension are parsed as TOML; anything else as YAML. Environment overrides are applied
// before validation.
func ParseConfig(path string) (*Config, error) {
	return parseConfig(path, os.LookupEnv)
}

func parseConfig(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%v", err)
	}

	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("config: error parsing config: path=%s err=%v", path, err)
	}

	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Upstreams returns the configured upstream servers.
func (c *Config) Upstreams() ([]network.Upstream, error) {
	upstreams := make([]network.Upstream, 0, len(c.Upstream.Servers))

	for idx, server := range c.Upstream.Servers {
		upstream, err := server.parse()
		if err != nil {
			return nil, fmt.Errorf("config: invalid upstream server: idx=%d err=%v", idx, err)
		}

		upstreams = append(upstreams, upstream)
	}

	return upstreams, nil
}

// PollTimeout returns the reactor poll timeout in milliseconds.
func (c *Config) PollTimeout() int {
	if c.Reactor == nil || c.Reactor.PollTimeout == nil {
		return reactor.DefaultPollTimeout
	}

	return *c.Reactor.PollTimeout
}

// LoadBalancingPolicy returns the configured policy, Failover if unset.
func (c *Config) LoadBalancingPolicy() network.LoadBalancingPolicy {
	if c.Upstream.LoadBalancingPolicy == "" {
		return network.Failover
	}

	policy, _ := network.ParseLoadBalancingPolicy(c.Upstream.LoadBalancingPolicy)

	return policy
}

// applyEnv overrides configuration from the environment.
func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	if value, ok := lookupEnv(PollTimeoutEnv); ok && strings.TrimSpace(value) != "" {
		timeout, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid %s: value=%q err=%v", PollTimeoutEnv, value, err)
		}

		if c.Reactor == nil {
			c.Reactor = &ReactorConfig{}
		}

		c.Reactor.PollTimeout = &timeout
	}

	return nil
}

// applyDefaults fills in omitted optional values.
func (c *Config) applyDefaults() {
	if c.Reactor == nil {
		c.Reactor = &ReactorConfig{}
	}

	// Only an omitted value is defaulted; an explicit zero is rejected by validate.
	if c.Reactor.PollTimeout == nil {
		timeout := reactor.DefaultPollTimeout
		c.Reactor.PollTimeout = &timeout
	}

	if c.Upstream != nil && c.Upstream.QueryTimeout == 0 {
		c.Upstream.QueryTimeout = network.DefaultQueryTimeout
	}
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics != nil && c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return fmt.Errorf("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return fmt.Errorf("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	/* Reactor */

	if timeout := c.PollTimeout(); timeout < reactor.MinPollTimeout || timeout > reactor.MaxPollTimeout {
		return fmt.Errorf(
			"config: reactor poll timeout must be in range [%d, %d]: poll_timeout=%d",
			reactor.MinPollTimeout,
			reactor.MaxPollTimeout,
			timeout,
		)
	}

	/* Listener */

	// The listener block is optional; without it the binary only resolves names given on the
	// command line.
	if c.Listener != nil {
		if c.Listener.TCP == nil && c.Listener.UDP == nil {
			return fmt.Errorf("config: at least one TCP or UDP listener must be specified")
		}

		if c.Listener.TCP != nil && c.Listener.TCP.Address == "" {
			return fmt.Errorf("config: missing TCP server listening address")
		}

		if c.Listener.UDP != nil && c.Listener.UDP.Address == "" {
			return fmt.Errorf("config: missing UDP server listening address")
		}
	}

	/* Upstream */

	if c.Upstream == nil {
		return fmt.Errorf("config: missing top-level upstream config key")
	}

	// Validate the load balancing policy, only if provided (empty signifies default).
	if c.Upstream.LoadBalancingPolicy != "" {
		if _, ok := network.ParseLoadBalancingPolicy(c.Upstream.LoadBalancingPolicy); !ok {
			return fmt.Errorf(
				"config: unknown load balancing policy: policy=%s",
				c.Upstream.LoadBalancingPolicy,
			)
		}
	}

	if c.Upstream.QueryTimeout < 0 {
		return fmt.Errorf("config: upstream query timeout must be positive")
	}

	if len(c.Upstream.Servers) == 0 {
		return fmt.Errorf("config: no upstream servers specified")
	}

	if _, err := c.Upstreams(); err != nil {
		return err
	}

	return nil
}

// parse converts the server block into a network.Upstream. The transport defaults to UDP and the
// port to 53.
func (s UpstreamServer) parse() (network.Upstream, error) {
	if s.Address == "" {
		return network.Upstream{}, fmt.Errorf("missing server address")
	}

	addr, err := netipAddrPort(s.Address)
	if err != nil {
		return network.Upstream{}, err
	}

	transport := network.UDP
	if s.Transport != "" {
		var ok bool
		if transport, ok = network.ParseTransport(s.Transport); !ok {
			return network.Upstream{}, fmt.Errorf("unknown transport: transport=%s", s.Transport)
		}
	}

	return network.Upstream{Addr: addr, Transport: transport}, nil
}

// netipAddrPort parses an IP address with an optional port, defaulting to port 53.
func netipAddrPort(addr string) (netip.AddrPort, error) {
	if addrPort, err := netip.ParseAddrPort(addr); err == nil {
		return addrPort, nil
	}

	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid address: addr=%s", addr)
	}

	return netip.AddrPortFrom(ip, 53), nil
}
