//go:generate go run golang.org/x/tools/cmd/stringer -type=LoadBalancingPolicy

package network

import (
	"fmt"
	"math/rand"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"
)

// LoadBalancingPolicy formalizes the order in which upstreams are attempted for a query.
type LoadBalancingPolicy int

const (
	// RoundRobin rotates the first upstream attempted on every query.
	RoundRobin LoadBalancingPolicy = iota
	// Random attempts upstreams in a random order.
	Random
	// HistoricalQueries attempts first the upstream that has, up until the time of the query,
	// answered the fewest queries.
	HistoricalQueries
	// Availability attempts upstreams in a random order, temporarily skipping those that failed
	// recently with an exponential backoff.
	Availability
	// Failover attempts upstreams in configuration order, only failing over to secondary
	// upstreams when the primary fails.
	Failover
)

// Upstream is a single server queries can be exchanged with.
type Upstream struct {
	Addr      netip.AddrPort
	Transport Transport
}

// String implements the Stringer interface for human-consumable representation.
func (u Upstream) String() string {
	return fmt.Sprintf("%s/%s", u.Addr, u.Transport)
}

// Stats formalizes stats tracked per upstream.
type Stats struct {
	// Successes is the number of queries the upstream answered.
	Successes int
	// Failures is the number of queries the upstream failed to answer.
	Failures int
}

// Balancer decides the order in which upstreams are attempted.
type Balancer interface {
	// Order returns the upstreams to attempt for a single query, in order.
	Order() ([]Upstream, error)

	// Report records the outcome of an exchange with an upstream.
	Report(upstream Upstream, err error)

	// Stats returns historical stats aggregated across all upstreams.
	Stats() Stats
}

// BalancerFactory is a type alias for a unary constructor function that returns a Balancer over
// several upstreams.
type BalancerFactory func([]Upstream) Balancer

// RoundRobinBalancer rotates through upstreams fairly in round-robin order.
type RoundRobinBalancer struct {
	history

	// Current round robin index
	rrIdx int
}

// RandomBalancer shuffles upstreams for every query.
type RandomBalancer struct {
	history
}

// HistoricalQueriesBalancer orders upstreams by the number of queries they have answered, fewest
// first. It is best used when there is a need to ensure that load is distributed to all upstreams
// fairly even if one of them has failed.
type HistoricalQueriesBalancer struct {
	history
}

// AvailabilityBalancer prioritizes upstreams that are successful in answering queries. A failed
// upstream is temporarily pulled out of the order with an exponential backoff policy.
type AvailabilityBalancer struct {
	history

	// Tracks the timestamp at which each upstream last errored
	lastError map[Upstream]time.Time
	// Tracks the current duration of time to wait before a failed upstream is once again
	// available for use.
	errorExpiry map[Upstream]time.Duration
}

// FailoverBalancer attempts upstreams in priority order.
type FailoverBalancer struct {
	history
}

// history tracks per-upstream stats shared by every balancer.
type history struct {
	upstreams []Upstream
	stats     map[Upstream]*Stats
	mutex     sync.Mutex
}

// NewBalancer creates a Balancer over upstreams governed by a load balancing policy. It returns an
// error if there are no upstreams or if the policy has no associated factory.
func NewBalancer(upstreams []Upstream, lbPolicy LoadBalancingPolicy) (Balancer, error) {
	factories := map[LoadBalancingPolicy]BalancerFactory{
		RoundRobin:        NewRoundRobinBalancer,
		Random:            NewRandomBalancer,
		HistoricalQueries: NewHistoricalQueriesBalancer,
		Availability:      NewAvailabilityBalancer,
		Failover:          NewFailoverBalancer,
	}

	if len(upstreams) == 0 {
		return nil, fmt.Errorf("sharding: no upstreams specified")
	}

	factory, ok := factories[lbPolicy]
	if !ok {
		return nil, fmt.Errorf(
			"sharding: no factory configured for load balancing policy: policy=%s",
			lbPolicy,
		)
	}

	return factory(upstreams), nil
}

// NewRoundRobinBalancer is a balancer factory for the round robin load balancing policy.
func NewRoundRobinBalancer(upstreams []Upstream) Balancer {
	return &RoundRobinBalancer{history: newHistory(upstreams)}
}

// Order starts from the next upstream in the round robin index.
func (b *RoundRobinBalancer) Order() ([]Upstream, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	start := b.rrIdx
	b.rrIdx = (b.rrIdx + 1) % len(b.upstreams)

	order := make([]Upstream, 0, len(b.upstreams))
	order = append(order, b.upstreams[start:]...)
	order = append(order, b.upstreams[:start]...)

	return order, nil
}

// NewRandomBalancer is a balancer factory for the random load balancing policy.
func NewRandomBalancer(upstreams []Upstream) Balancer {
	return &RandomBalancer{history: newHistory(upstreams)}
}

// Order returns a random permutation of the upstreams.
func (b *RandomBalancer) Order() ([]Upstream, error) {
	order := append([]Upstream(nil), b.upstreams...)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	return order, nil
}

// NewHistoricalQueriesBalancer is a balancer factory for the historical queries load balancing
// policy.
func NewHistoricalQueriesBalancer(upstreams []Upstream) Balancer {
	return &HistoricalQueriesBalancer{history: newHistory(upstreams)}
}

// Order sorts the upstreams by successful queries, ascending. Ties keep configuration order.
func (b *HistoricalQueriesBalancer) Order() ([]Upstream, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	order := append([]Upstream(nil), b.upstreams...)
	sort.SliceStable(order, func(i, j int) bool {
		return b.stats[order[i]].Successes < b.stats[order[j]].Successes
	})

	return order, nil
}

// NewAvailabilityBalancer is a balancer factory for the availability load balancing policy.
func NewAvailabilityBalancer(upstreams []Upstream) Balancer {
	lastError := make(map[Upstream]time.Time)
	errorExpiry := make(map[Upstream]time.Duration)

	for _, upstream := range upstreams {
		lastError[upstream] = time.Time{}
		errorExpiry[upstream] = 0
	}

	return &AvailabilityBalancer{
		history:     newHistory(upstreams),
		lastError:   lastError,
		errorExpiry: errorExpiry,
	}
}

// Order returns the eligible upstreams in a random order. It is possible for this method to error
// if every upstream failed too recently.
func (b *AvailabilityBalancer) Order() ([]Upstream, error) {
	var eligible []Upstream

	b.mutex.Lock()
	for _, candidate := range b.upstreams {
		lastError := b.lastError[candidate]

		// The upstream is considered eligible if it has never errored or if its current
		// failure lifetime has expired.
		if lastError.IsZero() || time.Since(lastError) > b.errorExpiry[candidate] {
			eligible = append(eligible, candidate)
		}
	}
	b.mutex.Unlock()

	if len(eligible) == 0 {
		return nil, fmt.Errorf("sharding: no live upstreams are available")
	}

	rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })

	return eligible, nil
}

// Report records the outcome and, on failure, extends the upstream's backoff.
func (b *AvailabilityBalancer) Report(upstream Upstream, err error) {
	b.history.Report(upstream, err)

	if err == nil {
		return
	}

	// Describes the amount of time that must elapse before resetting an upstream's error expiry
	// timer. Otherwise, the upstream is pulled out of the order for exponentially increasing
	// durations of time.
	failedUpstreamExpiry := 30 * time.Second

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.lastError[upstream].IsZero() || time.Since(b.lastError[upstream]) > failedUpstreamExpiry {
		// Start the exponential backoff timer at 100 ms.
		b.errorExpiry[upstream] = 100 * time.Millisecond
	} else {
		b.errorExpiry[upstream] *= 2
	}

	b.lastError[upstream] = time.Now()
}

// NewFailoverBalancer is a balancer factory for the failover load balancing policy.
func NewFailoverBalancer(upstreams []Upstream) Balancer {
	return &FailoverBalancer{history: newHistory(upstreams)}
}

// Order returns the upstreams in configuration order.
func (b *FailoverBalancer) Order() ([]Upstream, error) {
	return append([]Upstream(nil), b.upstreams...), nil
}

// ParseLoadBalancingPolicy parses a LoadBalancingPolicy constant from its stringified
// representation in a case-insensitive manner.
func ParseLoadBalancingPolicy(lbPolicy string) (LoadBalancingPolicy, bool) {
	knownLbPolicies := []LoadBalancingPolicy{
		RoundRobin,
		Random,
		HistoricalQueries,
		Availability,
		Failover,
	}

	for _, knownLbPolicy := range knownLbPolicies {
		if strings.EqualFold(lbPolicy, knownLbPolicy.String()) {
			return knownLbPolicy, true
		}
	}

	return RoundRobin, false
}

func newHistory(upstreams []Upstream) history {
	stats := make(map[Upstream]*Stats, len(upstreams))
	for _, upstream := range upstreams {
		stats[upstream] = &Stats{}
	}

	return history{upstreams: append([]Upstream(nil), upstreams...), stats: stats}
}

// Report records the outcome of an exchange with an upstream.
func (h *history) Report(upstream Upstream, err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats, ok := h.stats[upstream]
	if !ok {
		return
	}

	if err != nil {
		stats.Failures++
	} else {
		stats.Successes++
	}
}

// Stats aggregates stats from all upstreams.
func (h *history) Stats() Stats {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var aggregated Stats

	for _, stats := range h.stats {
		aggregated.Successes += stats.Successes
		aggregated.Failures += stats.Failures
	}

	return aggregated
}
