package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/bridge"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
	"github.com/uscpte7/CAN-Bus1/internal/rules"
	"github.com/uscpte7/CAN-Bus1/internal/server"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *appConfig) error {
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	bcfg := cfg.bridgeConfig()
	if cfg.rulesPath != "" {
		rs, err := rules.Load(cfg.rulesPath)
		if err != nil {
			l.Error("rules_load_error", "path", cfg.rulesPath, "error", err)
			return err
		}
		bcfg.Rules = rs
		l.Info("rules_loaded", "path", cfg.rulesPath, "rewrite", len(rs.Rewrite), "blacklist", len(rs.Blacklist), "routes", len(rs.Routes))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	devs, closeDevs, err := openChannels(ctx, cfg, l)
	if err != nil {
		l.Error("can_open_error", "error", err)
		return err
	}
	defer closeDevs()

	link, err := openControl(ctx, cfg, l)
	if err != nil {
		l.Error("control_open_error", "error", err)
		return err
	}
	defer func() { _ = link.Close() }()

	ind := bridge.NewMetricsIndicator(l)
	var ropts []bridge.RuntimeOption
	ropts = append(ropts, bridge.WithLogger(l.With("component", "runtime")))
	h := initHub(cfg, l)
	if cfg.mirrorAddr != "" {
		ropts = append(ropts, bridge.WithMirror(h.Mirror))
	}
	m := bridge.NewMachine(bcfg, devs, link, ind,
		bridge.WithRuntimeOptions(ropts...),
		bridge.WithMachineLogger(l.With("component", "machine")),
	)

	var srv *server.Server
	if cfg.mirrorAddr != "" {
		srv = newMirrorServer(cfg, h, m, l)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				l.Error("mirror_server_error", "error", err)
				cancel()
			}
		}()
		wg.Add(1)
		go func() { defer wg.Done(); advertise(ctx, cfg, srv, l) }()
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil && m.Running() })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var result error
	stopped := false
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case err := <-runErr:
		stopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("bridge_stopped", "error", err)
			result = err
		}
	case <-ctx.Done():
	}
	cancel()
	if !stopped {
		<-runErr
	}
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			l.Warn("mirror_shutdown_error", "error", err)
		}
		scancel()
	}
	wg.Wait()
	return result
}

// advertise registers the mirror tap over mDNS once its listener is bound
// and keeps it registered until ctx ends.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	port := portOf(srv.Addr())
	cleanup, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
	<-ctx.Done()
	cleanup()
}
