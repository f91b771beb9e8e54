package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/getsentry/raven-go"
	"github.com/miekg/dns"

	"dnsmux/internal/exithook"
	"dnsmux/internal/log"
	"dnsmux/internal/meta"
	"dnsmux/internal/metrics"
	"dnsmux/internal/network"
	"dnsmux/internal/protocol"
	"dnsmux/internal/reactor"
	"dnsmux/internal/trace"
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv(meta.ConfigPathEnv),
		"path to the configuration file on disk (YAML, or TOML with a .toml extension)",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled dnsmux version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"error",
		"desired logging verbosity: one of error, warn, info, debug, trace",
	)
	qtype := flag.String(
		"type",
		"A",
		"record type to query for each name given as an argument",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("dnsmux/%s\n", meta.VersionSHA)
		return
	}

	// Logging configuration; default to log.Error verbosity
	level, _ := log.ParseLevel(*verbosity)
	logger := log.NewConsoleLogger(level)
	logger.Debug("main: initialized logger: level=%v", level)

	// Parse application configuration
	logger.Debug("main: reading and parsing config: path=%s", *configPath)
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		panic(err)
	}

	// Configure error reporting
	if config.Application != nil && config.Application.SentryDSN != "" {
		raven.SetDSN(config.Application.SentryDSN)
		raven.SetRelease(meta.VersionSHA)
	}

	// Configure metrics reporting
	reactorHook := metrics.NewNoopReactorHook()
	udpQueryHook := metrics.NewNoopQueryHook()
	tcpQueryHook := metrics.NewNoopQueryHook()
	proxyHook := metrics.NewNoopProxyHook()

	if config.Metrics != nil && config.Metrics.Statsd != nil {
		addr := config.Metrics.Statsd.Address
		sampleRate := float32(config.Metrics.Statsd.SampleRate)

		logger.Info("main: configuring statsd metrics reporting: addr=%s sample_rate=%f", addr, sampleRate)

		if reactorHook, err = metrics.NewAsyncStatsdReactorHook(addr, sampleRate, meta.VersionSHA); err != nil {
			panic(err)
		}

		if udpQueryHook, err = metrics.NewAsyncStatsdQueryHook("udp", addr, sampleRate, meta.VersionSHA); err != nil {
			panic(err)
		}

		if tcpQueryHook, err = metrics.NewAsyncStatsdQueryHook("tcp", addr, sampleRate, meta.VersionSHA); err != nil {
			panic(err)
		}

		if proxyHook, err = metrics.NewAsyncStatsdProxyHook(addr, sampleRate, meta.VersionSHA); err != nil {
			panic(err)
		}
	} else {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	// Configure packet tracing
	var sink trace.PacketLogger

	if config.Trace != nil && config.Trace.Packets {
		if config.Trace.File != "" {
			logger.Info("main: logging packets to file: path=%s", config.Trace.File)

			fileSink, err := trace.NewFilePacketLogger(config.Trace.File)
			if err != nil {
				panic(err)
			}
			defer fileSink.Close()

			sink = fileSink
		} else {
			sink = trace.NewZerologPacketLogger(os.Stderr)
		}
	}

	// Configure the client and its reactor
	client := network.NewClient(network.ClientOpts{
		Reactor: reactor.Options{
			PollTimeout: config.PollTimeout(),
			Logger:      logger,
			Metrics:     reactorHook,
			ExitHooks:   exithook.Default,
		},
		QueryTimeout: config.Upstream.QueryTimeout,
		Tracer:       trace.NewTracer(logger, sink),
		Logger:       logger,
		UDPHook:      udpQueryHook,
		TCPHook:      tcpQueryHook,
	})

	// Closing the client explicitly is preferred; the reactor's exit hook covers termination by
	// signal.
	stopSignals := exithook.Default.NotifyOnSignal(nil)
	defer stopSignals()

	upstreams, err := config.Upstreams()
	if err != nil {
		panic(err)
	}

	lbPolicy := config.LoadBalancingPolicy()
	logger.Debug("main: using load balancing policy for upstreams: policy=%s upstreams=%d", lbPolicy, len(upstreams))

	balancer, err := network.NewBalancer(upstreams, lbPolicy)
	if err != nil {
		panic(err)
	}

	resolver := protocol.NewResolver(client, balancer, logger)

	if config.Listener != nil {
		serve(config, resolver, proxyHook, logger)
		return
	}

	status := resolve(resolver, flag.Args(), *qtype, logger)

	client.Close()
	logger.Debug("main: closed client: stats=%+v", balancer.Stats())

	if status != 0 {
		stopSignals()
		os.Exit(status)
	}
}

// resolve queries every name and prints the responses. It returns the process exit status.
func resolve(resolver *protocol.Resolver, names []string, qtype string, logger log.Logger) int {
	rrtype, ok := dns.StringToType[strings.ToUpper(qtype)]
	if !ok {
		fmt.Fprintf(os.Stderr, "dnsmux: unknown record type: %s\n", qtype)
		return 2
	}

	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "dnsmux: no names given and no listener configured")
		return 2
	}

	status := 0

	for _, name := range names {
		resp, err := resolver.Exchange(context.Background(), protocol.NewQuery(name, rrtype))
		if err != nil {
			logger.Error("main: failed to resolve name: name=%s err=%v", name, err)
			raven.CaptureError(err, map[string]string{"name": name})

			status = 1

			continue
		}

		fmt.Println(resp.String())
	}

	return status
}

// serve forwards requests received on the configured listeners until the process is signaled.
func serve(config *meta.Config, resolver *protocol.Resolver, proxyHook metrics.ProxyHook, logger log.Logger) {
	h := &protocol.DNSProxyHandler{
		Resolver:  resolver,
		ProxyHook: proxyHook,
		Logger:    logger,
		Opts: protocol.DNSProxyOpts{
			Timeout: config.Listener.RequestTimeout,
		},
	}

	var servers []*dns.Server

	if config.Listener.UDP != nil {
		logger.Info("main: configuring UDP server listener: addr=%s", config.Listener.UDP.Address)
		servers = append(servers, &dns.Server{Addr: config.Listener.UDP.Address, Net: "udp", Handler: h})
	}

	if config.Listener.TCP != nil {
		logger.Info("main: configuring TCP server listener: addr=%s", config.Listener.TCP.Address)
		servers = append(servers, &dns.Server{Addr: config.Listener.TCP.Address, Net: "tcp", Handler: h})
	}

	for _, server := range servers {
		server := server
		if _, err := exithook.Default.Add("dns server shutdown "+server.Net, func() {
			if err := server.Shutdown(); err != nil {
				logger.Warn("main: failed to shut down server: net=%s err=%v", server.Net, err)
			}
		}); err != nil {
			panic(err)
		}

		go func() {
			if err := server.ListenAndServe(); err != nil {
				panic(err)
			}
		}()
	}

	// Serve indefinitely
	logger.Info("main: serving indefinitely")
	<-make(chan bool)
}
