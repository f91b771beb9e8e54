package metrics

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
)

const (
	// statsdPrefix namespaces every metric emitted by the application.
	statsdPrefix = "dnsmux"
	// statsdFlushInterval bounds how long a metric waits in the send buffer.
	statsdFlushInterval = 300 * time.Millisecond
)

// statsdEmitter ships metrics to a statsd server over buffered UDP. Tags are written InfluxDB-style
// (metric,key=value:...) and every metric carries the emitter's base tags.
type statsdEmitter struct {
	backend    statsd.Statter
	baseTags   []statsd.Tag
	sampleRate float32
}

// newStatsdEmitter creates an emitter for the statsd server at addr. Every metric it emits is
// tagged with the host name and, if non-empty, the application version.
func newStatsdEmitter(addr string, sampleRate float32, version string) (*statsdEmitter, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("statsd: error resolving hostname: err=%v", err)
	}

	baseTags := []statsd.Tag{{"host", hostname}}
	if version != "" {
		baseTags = append(baseTags, statsd.Tag{"version", version})
	}

	return dialStatsd(addr, sampleRate, baseTags)
}

func dialStatsd(addr string, sampleRate float32, baseTags []statsd.Tag) (*statsdEmitter, error) {
	backend, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address:       addr,
		Prefix:        statsdPrefix,
		UseBuffered:   true,
		FlushInterval: statsdFlushInterval,
		TagFormat:     statsd.InfixComma,
	})
	if err != nil {
		return nil, fmt.Errorf("statsd: error creating statsd client: addr=%s err=%v", addr, err)
	}

	return &statsdEmitter{
		backend:    backend,
		baseTags:   baseTags,
		sampleRate: sampleRate,
	}, nil
}

func (e *statsdEmitter) count(metric string, delta int64, tags ...statsd.Tag) {
	_ = e.backend.Inc(url.QueryEscape(metric), delta, e.sampleRate, e.tags(tags)...)
}

func (e *statsdEmitter) gauge(metric string, value int64, tags ...statsd.Tag) {
	_ = e.backend.Gauge(url.QueryEscape(metric), value, e.sampleRate, e.tags(tags)...)
}

func (e *statsdEmitter) timing(metric string, duration time.Duration, tags ...statsd.Tag) {
	_ = e.backend.TimingDuration(url.QueryEscape(metric), duration, e.sampleRate, e.tags(tags)...)
}

// size reports a payload size in bytes. It is aggregated like a timing.
func (e *statsdEmitter) size(metric string, bytes int64, tags ...statsd.Tag) {
	_ = e.backend.Timing(url.QueryEscape(metric), bytes, e.sampleRate, e.tags(tags)...)
}

func (e *statsdEmitter) close() error {
	return e.backend.Close()
}

// tags merges extra over the base tags. Keys and values are URL escaped, since the statsd line
// protocol reserves characters like colons, and sorted by key so a series always serializes the
// same way.
func (e *statsdEmitter) tags(extra []statsd.Tag) []statsd.Tag {
	merged := make(map[string]string, len(e.baseTags)+len(extra))
	for _, tag := range e.baseTags {
		merged[tag[0]] = tag[1]
	}
	for _, tag := range extra {
		merged[tag[0]] = tag[1]
	}

	tags := make([]statsd.Tag, 0, len(merged))
	for key, value := range merged {
		tags = append(tags, statsd.Tag{url.QueryEscape(key), url.QueryEscape(value)})
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i][0] < tags[j][0] })

	return tags
}

// addrTags describes the peer of a query or request.
func addrTags(addr net.Addr) []statsd.Tag {
	return []statsd.Tag{
		{"addr", ipFromAddr(addr)},
		{"transport", transportFromAddr(addr)},
	}
}

// ipFromAddr returns the IP address from a full net.Addr, or null if unavailable.
func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.UDPAddr:
		return networkAddr.IP.String()
	case *net.TCPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}

// transportFromAddr returns the transport protocol (as a string) behind a net.Addr, or null if
// unavailable.
func transportFromAddr(addr net.Addr) string {
	switch addr.(type) {
	case *net.UDPAddr:
		return "udp"
	case *net.TCPAddr:
		return "tcp"
	default:
		return "null"
	}
}
