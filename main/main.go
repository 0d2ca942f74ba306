package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/synqronlabs/quill"
	"github.com/synqronlabs/quill/config"
	"github.com/synqronlabs/quill/dns"
	"github.com/synqronlabs/quill/dnsbl"
	"github.com/synqronlabs/quill/metrics"
	"github.com/synqronlabs/quill/spool"
)

var version = "dev"

const keyPTR = "ptr"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "quill:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("quill", flag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "Config file (default $CONFIG or "+config.DefaultPath+")")
	addr := fs.StringP("addr", "a", "", "Listen address, overrides server.addr")
	hostname := fs.String("hostname", "", "Server hostname, overrides server.hostname")
	spoolDir := fs.String("spool", "", "Spool directory, overrides spool.dir")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	printEnv := fs.Bool("print-env", false, "Print the environment variable reference and exit")
	showVersion := fs.BoolP("version", "v", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("quill %s\n", version)
		return nil
	}
	if *printEnv {
		fmt.Print(config.Usage())
		return nil
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *hostname != "" {
		cfg.Server.Hostname = *hostname
	}
	if *spoolDir != "" {
		cfg.Spool.Dir = *spoolDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	server, cleanup, err := buildServer(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("grace", cfg.Server.ShutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, quill.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("log format %q: want text or json", cfg.Format)
}

// buildServer composes the hook pipeline. Message hooks run as rate limit,
// sender policy, DNSBL, then the spool which accepts whatever is left.
func buildServer(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*quill.Server, func(), error) {
	dir, err := spool.Open(cfg.Spool.Dir)
	if err != nil {
		return nil, nil, err
	}

	observer, err := metrics.NewObserver(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}

	b := quill.New(cfg.Server.Hostname).
		Addr(cfg.Server.Addr).
		Logger(logger).
		ReadTimeout(cfg.Server.ReadTimeout).
		WriteTimeout(cfg.Server.WriteTimeout).
		DataTimeout(cfg.Server.DataTimeout).
		MaxMessageSize(cfg.Server.MaxMessageSize).
		MaxRecipients(cfg.Server.MaxRecipients).
		MaxConnections(cfg.Server.MaxConnections).
		MaxCommands(cfg.Server.MaxCommands).
		MaxErrors(cfg.Server.MaxErrors).
		Sinks(dir.Sinks).
		Use(quill.DevelopmentDefaults(logger)...)

	filter, err := clientFilter(cfg.Clients)
	if err != nil {
		return nil, nil, err
	}
	if filter != nil {
		b.Use(quill.IPFilterMiddleware(filter))
	}

	if cfg.Server.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return nil, nil, fmt.Errorf("tls: %w", err)
		}
		b.TLS(&tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}

	cleanup := func() {}
	if cfg.RateLimit.Messages > 0 {
		limiter := quill.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window)
		cleanup = limiter.Stop
		b.MessageHook(quill.RateLimitHook(limiter))
	}

	if len(cfg.Senders.Allow) > 0 || len(cfg.Senders.Block) > 0 {
		policy := quill.NewSenderDomainPolicy()
		err := errors.Join(policy.Allow(cfg.Senders.Allow...), policy.Block(cfg.Senders.Block...))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		b.Wire(quill.CategoryMessage, policy)
	}

	var resolver dns.Resolver
	if len(cfg.DNSBL.Zones) > 0 || cfg.Server.ReverseDNS {
		resolver = dns.NewClient(dns.ClientConfig{
			Servers: cfg.DNSBL.Nameservers,
			Timeout: cfg.DNSBL.Timeout,
		})
	}
	if len(cfg.DNSBL.Zones) > 0 {
		h := dnsbl.New(resolver, cfg.DNSBL.Zones...)
		h.FailOpen = cfg.DNSBL.FailOpen
		b.MessageHook(h)
	}
	if cfg.Server.ReverseDNS {
		b.OnConnect(reverseLookup(resolver))
	}

	b.MessageHook(dir.AcceptHook())
	b.ResultHook(quill.LogResults(logger), observer)

	server, err := b.Build()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return server, cleanup, nil
}

// reverseLookup records the client PTR name in the connection state. A
// failed lookup never refuses the connection.
func reverseLookup(resolver dns.Resolver) quill.HandlerFunc {
	return func(c *quill.Context) error {
		s := c.Session
		name, err := dns.ReverseLookup(s.Context(), resolver, s.RemoteAddr())
		if err != nil {
			s.Logger().Debug("reverse lookup failed", slog.Any("error", err))
			return nil
		}
		s.ConnectionState()[keyPTR] = name
		s.Logger().Debug("reverse lookup", slog.String("ptr", name))
		return nil
	}
}

func clientFilter(c config.Clients) (*quill.IPFilter, error) {
	switch {
	case len(c.Allow) > 0:
		f := quill.NewIPFilter(quill.IPFilterModeAllow)
		return f, f.Allow(c.Allow...)
	case len(c.Deny) > 0:
		f := quill.NewIPFilter(quill.IPFilterModeDeny)
		return f, f.Deny(c.Deny...)
	}
	return nil, nil
}
