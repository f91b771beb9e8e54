package protocol

import (
	"context"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/miekg/dns"
	"lib.kevinlin.info/aperture/lib"

	"dnsmux/internal/log"
	"dnsmux/internal/metrics"
)

// DNSProxyHandler is a dns.Handler that answers client requests by resolving them against the
// upstream servers.
type DNSProxyHandler struct {
	Resolver  *Resolver
	ProxyHook metrics.ProxyHook
	Logger    log.Logger
	Opts      DNSProxyOpts
}

// DNSProxyOpts formalizes configuration options for the proxy handler.
type DNSProxyOpts struct {
	// Timeout bounds the resolution of a single request, across every upstream attempted. Zero
	// defers to the client's query timeout for each attempt.
	Timeout time.Duration
}

// ServeDNS resolves the request and writes the response back to the client. Failed resolutions are
// answered with SERVFAIL.
func (h *DNSProxyHandler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	rttTxTimer := lib.NewStopwatch()
	transport := w.LocalAddr().Network()

	if packed, err := req.Pack(); err == nil {
		h.ProxyHook.EmitRequestSize(int64(len(packed)), w.RemoteAddr())
	}

	h.Logger.Debug(
		"dns_proxy: read request from client: client=%s transport=%s questions=%d",
		w.RemoteAddr(),
		transport,
		len(req.Question),
	)

	ctx := context.Background()
	if h.Opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Opts.Timeout)
		defer cancel()
	}

	resp, err := h.Resolver.Exchange(ctx, req)
	if err != nil {
		h.ConsumeError(transport, err)

		resp = new(dns.Msg)
		resp.SetRcode(req, dns.RcodeServerFailure)
	}

	// Responses relayed over UDP must fit in the client's advertised buffer.
	if transport == "udp" {
		size := dns.MinMsgSize
		if opt := req.IsEdns0(); opt != nil {
			size = int(opt.UDPSize())
		}

		resp.Truncate(size)
	}

	if err := w.WriteMsg(resp); err != nil {
		h.ConsumeError(transport, err)
		return
	}

	if packed, err := resp.Pack(); err == nil {
		h.ProxyHook.EmitResponseSize(int64(len(packed)), w.RemoteAddr())
	}

	h.ProxyHook.EmitRTT(rttTxTimer.Elapsed(), w.RemoteAddr())

	h.Logger.Debug("dns_proxy: completed proxy: client=%s rcode=%s", w.RemoteAddr(), dns.RcodeToString[resp.Rcode])
}

// ConsumeError simply logs and reports the proxy error.
func (h *DNSProxyHandler) ConsumeError(transport string, err error) {
	h.Logger.Error("dns_proxy: %v", err)
	h.ProxyHook.EmitError()

	raven.CaptureError(err, map[string]string{
		"transport": transport,
	})
}
