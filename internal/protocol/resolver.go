package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"dnsmux/internal/log"
	"dnsmux/internal/network"
	"dnsmux/internal/reactor"
)

var (
	// ErrIDMismatch is returned when an upstream response carries a different message ID than the
	// query it answers.
	ErrIDMismatch = errors.New("resolver: response ID does not match query")
	// ErrQuestionMismatch is returned when an upstream response answers a different question.
	ErrQuestionMismatch = errors.New("resolver: response question does not match query")
)

// Exchanger exchanges raw payloads with a single upstream over a transport. It is implemented by
// network.Client.
type Exchanger interface {
	Exchange(ctx context.Context, transport network.Transport, remote netip.AddrPort, payload []byte) ([]byte, error)
}

// Resolver sends DNS queries to a set of upstream servers, in the order chosen by a load balancing
// policy, until one of them answers.
type Resolver struct {
	client   Exchanger
	balancer network.Balancer
	logger   log.Logger
}

// NewResolver creates a resolver exchanging messages through client with the upstreams managed by
// balancer.
func NewResolver(client Exchanger, balancer network.Balancer, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &Resolver{client: client, balancer: balancer, logger: logger}
}

// NewQuery creates a recursive query for a single question.
func NewQuery(name string, qtype uint16) *dns.Msg {
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(name), qtype)
	query.RecursionDesired = true

	return query
}

// Exchange resolves query against the upstreams. Every upstream attempt uses a fresh random message
// ID; the response carries the ID of query. Responses truncated over UDP are retried over TCP with
// the same upstream.
func (r *Resolver) Exchange(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	order, err := r.balancer.Order()
	if err != nil {
		return nil, err
	}

	var lastErr error

	for _, upstream := range order {
		resp, err := r.exchangeUpstream(ctx, upstream, query)
		if err == nil {
			r.balancer.Report(upstream, nil)
			resp.Id = query.Id

			return resp, nil
		}

		// Neither an abandoned query nor a client shutdown says anything about the upstream.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if localFailure(err) {
			return nil, fmt.Errorf("resolver: client unavailable: upstream=%s err=%w", upstream, err)
		}

		r.balancer.Report(upstream, err)

		r.logger.Warn("resolver: upstream exchange failed, failing over: upstream=%s err=%v", upstream, err)
		lastErr = err
	}

	return nil, fmt.Errorf("resolver: all upstreams failed: upstreams=%d err=%w", len(order), lastErr)
}

func (r *Resolver) exchangeUpstream(ctx context.Context, upstream network.Upstream, query *dns.Msg) (*dns.Msg, error) {
	outbound := query.Copy()
	outbound.Id = dns.Id()

	resp, err := r.exchangeOnce(ctx, upstream.Transport, upstream, outbound)
	if err != nil {
		return nil, err
	}

	if upstream.Transport == network.UDP && resp.Truncated {
		r.logger.Debug("resolver: truncated UDP response, retrying over TCP: upstream=%s", upstream)

		outbound.Id = dns.Id()

		return r.exchangeOnce(ctx, network.TCP, upstream, outbound)
	}

	return resp, nil
}

func (r *Resolver) exchangeOnce(ctx context.Context, transport network.Transport, upstream network.Upstream, query *dns.Msg) (*dns.Msg, error) {
	packed, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("resolver: error packing query: err=%w", err)
	}

	raw, err := r.client.Exchange(ctx, transport, upstream.Addr, packed)
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(raw); err != nil {
		return nil, fmt.Errorf("resolver: error unpacking response: upstream=%s err=%w", upstream, err)
	}

	if resp.Id != query.Id {
		return nil, fmt.Errorf("%w: upstream=%s query_id=%d response_id=%d", ErrIDMismatch, upstream, query.Id, resp.Id)
	}

	if !questionsMatch(query, resp) {
		return nil, fmt.Errorf("%w: upstream=%s", ErrQuestionMismatch, upstream)
	}

	r.logger.Debug(
		"resolver: received response: upstream=%s transport=%s rcode=%s answers=%d",
		upstream,
		transport,
		dns.RcodeToString[resp.Rcode],
		len(resp.Answer),
	)

	return resp, nil
}

// questionsMatch reports whether resp answers the question of query. Responses without a question
// section, as sent with some error codes, are accepted.
// localFailure reports whether err originates in the client's own lifecycle.
func localFailure(err error) bool {
	return errors.Is(err, network.ErrClientClosed) ||
		errors.Is(err, reactor.ErrClosing) ||
		errors.Is(err, reactor.ErrUnsupportedPlatform)
}

func questionsMatch(query *dns.Msg, resp *dns.Msg) bool {
	if len(resp.Question) == 0 {
		return true
	}

	if len(query.Question) != len(resp.Question) {
		return false
	}

	for i, q := range query.Question {
		a := resp.Question[i]
		if q.Qtype != a.Qtype || q.Qclass != a.Qclass || !strings.EqualFold(q.Name, a.Name) {
			return false
		}
	}

	return true
}
