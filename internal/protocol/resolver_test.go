package protocol

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnsmux/internal/network"
	"dnsmux/internal/reactor"
)

type exchangeCall struct {
	transport network.Transport
	remote    netip.AddrPort
}

// scriptedExchanger answers each exchange with the next scripted function.
type scriptedExchanger struct {
	calls   []exchangeCall
	answers []func(query *dns.Msg) (*dns.Msg, error)
}

func (e *scriptedExchanger) Exchange(ctx context.Context, transport network.Transport, remote netip.AddrPort, payload []byte) ([]byte, error) {
	e.calls = append(e.calls, exchangeCall{transport, remote})

	query := new(dns.Msg)
	if err := query.Unpack(payload); err != nil {
		return nil, err
	}

	answer := e.answers[0]
	e.answers = e.answers[1:]

	resp, err := answer(query)
	if err != nil {
		return nil, err
	}

	return resp.Pack()
}

func answerA(query *dns.Msg) (*dns.Msg, error) {
	resp := new(dns.Msg)
	resp.SetReply(query)

	rr, err := dns.NewRR(query.Question[0].Name + " 60 IN A 192.0.2.10")
	if err != nil {
		return nil, err
	}
	resp.Answer = append(resp.Answer, rr)

	return resp, nil
}

var (
	primary   = network.Upstream{Addr: netip.MustParseAddrPort("192.0.2.1:53"), Transport: network.UDP}
	secondary = network.Upstream{Addr: netip.MustParseAddrPort("192.0.2.2:53"), Transport: network.TCP}
)

func newTestResolver(t *testing.T, exchanger Exchanger, upstreams ...network.Upstream) (*Resolver, network.Balancer) {
	t.Helper()

	balancer, err := network.NewBalancer(upstreams, network.Failover)
	require.NoError(t, err)

	return NewResolver(exchanger, balancer, nil), balancer
}

func TestResolverExchange(t *testing.T) {
	exchanger := &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){answerA}}
	resolver, balancer := newTestResolver(t, exchanger, primary)

	query := NewQuery("example.com", dns.TypeA)

	resp, err := resolver.Exchange(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.10", resp.Answer[0].(*dns.A).A.String())
	assert.Equal(t, query.Id, resp.Id)
	assert.True(t, query.RecursionDesired)
	assert.Equal(t, "example.com.", query.Question[0].Name)
	assert.Equal(t, []exchangeCall{{network.UDP, primary.Addr}}, exchanger.calls)
	assert.Equal(t, network.Stats{Successes: 1}, balancer.Stats())
}

func TestResolverRetriesTruncatedOverTCP(t *testing.T) {
	truncated := func(query *dns.Msg) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetReply(query)
		resp.Truncated = true

		return resp, nil
	}

	exchanger := &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){truncated, answerA}}
	resolver, _ := newTestResolver(t, exchanger, primary)

	resp, err := resolver.Exchange(context.Background(), NewQuery("example.com", dns.TypeA))
	require.NoError(t, err)
	assert.False(t, resp.Truncated)
	assert.Len(t, resp.Answer, 1)
	assert.Equal(t, []exchangeCall{{network.UDP, primary.Addr}, {network.TCP, primary.Addr}}, exchanger.calls)
}

func TestResolverFailsOver(t *testing.T) {
	failing := func(*dns.Msg) (*dns.Msg, error) { return nil, errors.New("connection refused") }

	exchanger := &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){failing, answerA}}
	resolver, balancer := newTestResolver(t, exchanger, primary, secondary)

	_, err := resolver.Exchange(context.Background(), NewQuery("example.com", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, []exchangeCall{{network.UDP, primary.Addr}, {network.TCP, secondary.Addr}}, exchanger.calls)
	assert.Equal(t, network.Stats{Successes: 1, Failures: 1}, balancer.Stats())
}

func TestResolverRejectsMismatchedResponses(t *testing.T) {
	wrongID := func(query *dns.Msg) (*dns.Msg, error) {
		resp, err := answerA(query)
		resp.Id = query.Id + 1

		return resp, err
	}

	wrongQuestion := func(query *dns.Msg) (*dns.Msg, error) {
		resp, err := answerA(query)
		resp.Question[0].Name = "attacker.example."

		return resp, err
	}

	exchanger := &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){wrongID}}
	resolver, _ := newTestResolver(t, exchanger, primary)

	_, err := resolver.Exchange(context.Background(), NewQuery("example.com", dns.TypeA))
	assert.ErrorIs(t, err, ErrIDMismatch)

	exchanger = &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){wrongQuestion}}
	resolver, _ = newTestResolver(t, exchanger, primary)

	_, err = resolver.Exchange(context.Background(), NewQuery("example.com", dns.TypeA))
	assert.ErrorIs(t, err, ErrQuestionMismatch)
}

func TestResolverStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	canceling := func(*dns.Msg) (*dns.Msg, error) {
		cancel()
		return nil, context.Canceled
	}

	exchanger := &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){canceling}}
	resolver, _ := newTestResolver(t, exchanger, primary, secondary)

	_, err := resolver.Exchange(ctx, NewQuery("example.com", dns.TypeA))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, exchanger.calls, 1)
}

func TestResolverDoesNotBlameUpstreamForClientShutdown(t *testing.T) {
	for _, cause := range []error{network.ErrClientClosed, reactor.ErrClosing} {
		closed := func(*dns.Msg) (*dns.Msg, error) { return nil, cause }

		exchanger := &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){closed}}
		resolver, balancer := newTestResolver(t, exchanger, primary, secondary)

		_, err := resolver.Exchange(context.Background(), NewQuery("example.com", dns.TypeA))
		assert.ErrorIs(t, err, cause)
		assert.Len(t, exchanger.calls, 1, "no failover after %v", cause)
		assert.Equal(t, network.Stats{}, balancer.Stats(), "no report after %v", cause)
	}
}

func TestResolverAvailabilityIgnoresClientShutdown(t *testing.T) {
	closed := func(*dns.Msg) (*dns.Msg, error) { return nil, network.ErrClientClosed }

	exchanger := &scriptedExchanger{answers: []func(*dns.Msg) (*dns.Msg, error){closed, answerA}}

	balancer, err := network.NewBalancer([]network.Upstream{primary}, network.Availability)
	require.NoError(t, err)

	resolver := NewResolver(exchanger, balancer, nil)

	_, err = resolver.Exchange(context.Background(), NewQuery("example.com", dns.TypeA))
	require.ErrorIs(t, err, network.ErrClientClosed)

	// A backed-off upstream would leave no eligible upstream for the immediate retry.
	_, err = resolver.Exchange(context.Background(), NewQuery("example.com", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, network.Stats{Successes: 1}, balancer.Stats())
}
