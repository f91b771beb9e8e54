package meta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnsmux/internal/network"
)

const yamlConfig = `
application:
  sentry_dsn: https://key@sentry.example.com/1
metrics:
  statsd:
    addr: 127.0.0.1:8125
    sample_rate: 0.5
reactor:
  poll_timeout: 250
trace:
  packets: true
  file: /tmp/packets.log
upstream:
  load_balancing_policy: RoundRobin
  query_timeout: 3s
  servers:
    - addr: 192.0.2.1
    - addr: "[2001:db8::1]:5353"
      transport: tcp
`

const tomlConfig = `
[reactor]
poll_timeout = 10

[listener]
request_timeout = "4s"

[listener.udp]
addr = "127.0.0.1:5300"

[upstream]
query_timeout = "2s"

[[upstream.servers]]
addr = "192.0.2.2:53"
transport = "udp"
`

func writeConfig(t *testing.T, name string, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func noEnv(string) (string, bool) {
	return "", false
}

func TestParseConfigYAML(t *testing.T) {
	cfg, err := parseConfig(writeConfig(t, "dnsmux.yaml", yamlConfig), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "https://key@sentry.example.com/1", cfg.Application.SentryDSN)
	assert.Equal(t, "127.0.0.1:8125", cfg.Metrics.Statsd.Address)
	assert.Equal(t, 0.5, cfg.Metrics.Statsd.SampleRate)
	assert.Equal(t, 250, cfg.PollTimeout())
	assert.True(t, cfg.Trace.Packets)
	assert.Equal(t, "/tmp/packets.log", cfg.Trace.File)
	assert.Nil(t, cfg.Listener)
	assert.Equal(t, 3*time.Second, cfg.Upstream.QueryTimeout)
	assert.Equal(t, network.RoundRobin, cfg.LoadBalancingPolicy())

	upstreams, err := cfg.Upstreams()
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1:53/UDP", upstreams[0].String())
	assert.Equal(t, "[2001:db8::1]:5353/TCP", upstreams[1].String())
}

func TestParseConfigTOML(t *testing.T) {
	cfg, err := parseConfig(writeConfig(t, "dnsmux.toml", tomlConfig), noEnv)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.PollTimeout())
	assert.Equal(t, "127.0.0.1:5300", cfg.Listener.UDP.Address)
	assert.Nil(t, cfg.Listener.TCP)
	assert.Equal(t, 4*time.Second, cfg.Listener.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Upstream.QueryTimeout)
	assert.Equal(t, network.Failover, cfg.LoadBalancingPolicy())
	assert.Nil(t, cfg.Metrics)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(writeConfig(t, "dnsmux.yml", "upstream:\n  servers:\n    - addr: 192.0.2.1\n"), noEnv)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.PollTimeout())
	assert.Equal(t, network.DefaultQueryTimeout, cfg.Upstream.QueryTimeout)
}

func TestParseConfigRejectsZeroPollTimeout(t *testing.T) {
	_, err := parseConfig(writeConfig(t, "dnsmux.yaml", "reactor:\n  poll_timeout: 0\nupstream:\n  servers:\n    - addr: 192.0.2.1\n"), noEnv)
	assert.ErrorContains(t, err, "poll_timeout=0")

	_, err = parseConfig(writeConfig(t, "dnsmux.toml", "[reactor]\npoll_timeout = 0\n\n[[upstream.servers]]\naddr = \"192.0.2.1\"\n"), noEnv)
	assert.ErrorContains(t, err, "poll_timeout=0")

	_, err = parseConfig(writeConfig(t, "dnsmux.yml", "upstream:\n  servers:\n    - addr: 192.0.2.1\n"), func(key string) (string, bool) {
		return "0", key == PollTimeoutEnv
	})
	assert.ErrorContains(t, err, "poll_timeout=0")
}

func TestParseConfigPollTimeoutOverride(t *testing.T) {
	path := writeConfig(t, "dnsmux.yaml", yamlConfig)

	env := func(value string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			if key == PollTimeoutEnv {
				return value, true
			}
			return "", false
		}
	}

	cfg, err := parseConfig(path, env(" 1 "))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.PollTimeout())

	_, err = parseConfig(path, env("0"))
	assert.ErrorContains(t, err, "poll timeout")

	_, err = parseConfig(path, env("1001"))
	assert.ErrorContains(t, err, "poll timeout")

	_, err = parseConfig(path, env("fast"))
	assert.ErrorContains(t, err, PollTimeoutEnv)
}

func TestParseConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing upstream":     "reactor:\n  poll_timeout: 5\n",
		"no servers":           "upstream:\n  servers: []\n",
		"bad address":          "upstream:\n  servers:\n    - addr: example.com\n",
		"bad transport":        "upstream:\n  servers:\n    - addr: 192.0.2.1\n      transport: tls\n",
		"bad policy":           "upstream:\n  load_balancing_policy: fastest\n  servers:\n    - addr: 192.0.2.1\n",
		"bad sample rate":      "metrics:\n  statsd:\n    addr: 127.0.0.1:8125\n    sample_rate: 2\nupstream:\n  servers:\n    - addr: 192.0.2.1\n",
		"missing statsd addr":  "metrics:\n  statsd:\n    sample_rate: 1\nupstream:\n  servers:\n    - addr: 192.0.2.1\n",
		"empty listener":       "listener: {}\nupstream:\n  servers:\n    - addr: 192.0.2.1\n",
		"listener no address":  "listener:\n  tcp: {}\nupstream:\n  servers:\n    - addr: 192.0.2.1\n",
		"poll timeout too big": "reactor:\n  poll_timeout: 5000\nupstream:\n  servers:\n    - addr: 192.0.2.1\n",
		"poll timeout zero":    "reactor:\n  poll_timeout: 0\nupstream:\n  servers:\n    - addr: 192.0.2.1\n",
	}

	for name, contents := range cases {
		_, err := parseConfig(writeConfig(t, "dnsmux.yaml", contents), noEnv)
		assert.Error(t, err, name)
	}

	_, err := ParseConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config")
}
