package network

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpstreams = []Upstream{
	{Addr: netip.MustParseAddrPort("192.0.2.1:53"), Transport: UDP},
	{Addr: netip.MustParseAddrPort("192.0.2.2:53"), Transport: UDP},
	{Addr: netip.MustParseAddrPort("192.0.2.3:53"), Transport: TCP},
}

func TestNewBalancer(t *testing.T) {
	_, err := NewBalancer(nil, RoundRobin)
	assert.Error(t, err)

	_, err = NewBalancer(testUpstreams, LoadBalancingPolicy(42))
	assert.Error(t, err)

	for _, policy := range []LoadBalancingPolicy{RoundRobin, Random, HistoricalQueries, Availability, Failover} {
		balancer, err := NewBalancer(testUpstreams, policy)
		require.NoError(t, err)

		order, err := balancer.Order()
		require.NoError(t, err)
		assert.ElementsMatch(t, testUpstreams, order, "policy %s", policy)
	}
}

func TestRoundRobinBalancer(t *testing.T) {
	balancer := NewRoundRobinBalancer(testUpstreams)

	for i := 0; i < 2*len(testUpstreams); i++ {
		order, err := balancer.Order()
		require.NoError(t, err)
		assert.Equal(t, testUpstreams[i%len(testUpstreams)], order[0])
		assert.Len(t, order, len(testUpstreams))
	}
}

func TestHistoricalQueriesBalancer(t *testing.T) {
	balancer := NewHistoricalQueriesBalancer(testUpstreams)

	balancer.Report(testUpstreams[0], nil)
	balancer.Report(testUpstreams[0], nil)
	balancer.Report(testUpstreams[1], nil)

	order, err := balancer.Order()
	require.NoError(t, err)
	assert.Equal(t, []Upstream{testUpstreams[2], testUpstreams[1], testUpstreams[0]}, order)
	assert.Equal(t, Stats{Successes: 3}, balancer.Stats())
}

func TestAvailabilityBalancer(t *testing.T) {
	balancer := NewAvailabilityBalancer(testUpstreams[:2])

	balancer.Report(testUpstreams[0], errors.New("timeout"))

	order, err := balancer.Order()
	require.NoError(t, err)
	assert.Equal(t, []Upstream{testUpstreams[1]}, order)

	balancer.Report(testUpstreams[1], errors.New("timeout"))

	_, err = balancer.Order()
	assert.Error(t, err)
	assert.Equal(t, Stats{Failures: 2}, balancer.Stats())
}

func TestFailoverBalancer(t *testing.T) {
	balancer := NewFailoverBalancer(testUpstreams)
	balancer.Report(testUpstreams[0], errors.New("refused"))

	order, err := balancer.Order()
	require.NoError(t, err)
	assert.Equal(t, testUpstreams, order)
}

func TestParseLoadBalancingPolicy(t *testing.T) {
	policy, ok := ParseLoadBalancingPolicy("historicalqueries")
	assert.True(t, ok)
	assert.Equal(t, HistoricalQueries, policy)

	_, ok = ParseLoadBalancingPolicy("fastest")
	assert.False(t, ok)
}

func TestParseTransport(t *testing.T) {
	transport, ok := ParseTransport(" tcp ")
	assert.True(t, ok)
	assert.Equal(t, TCP, transport)

	_, ok = ParseTransport("tls")
	assert.False(t, ok)

	assert.Equal(t, "udp", UDP.Addr(testUpstreams[0].Addr).Network())
	assert.Equal(t, "192.0.2.3:53/TCP", testUpstreams[2].String())
}
