package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/offsync"
	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/bridge/wsbridge"
	"github.com/unkn0wn-root/offsync/config"
	"github.com/unkn0wn-root/offsync/connectivity"
	asynchook "github.com/unkn0wn-root/offsync/hooks/async"
	"github.com/unkn0wn-root/offsync/replay"
	"github.com/unkn0wn-root/offsync/sloghooks"
	"github.com/unkn0wn-root/offsync/syncer"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync bridge, the sync handler and the replay loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg config.Config) error {
	zl, log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	hooks := asynchook.New(sloghooks.New(slog.New(slog.NewJSONHandler(os.Stderr, nil)), sloghooks.Options{
		SyncDroppedEvery:   10,
		CorruptRecordEvery: 1,
		StaleWriteEvery:    100,
	}), 1, 1024)
	defer hooks.Close()

	be, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = be.Close() }()

	policy, err := syncer.ParsePolicy(cfg.Store.Policy)
	if err != nil {
		return err
	}
	interval := cfg.Replay.Interval.Duration
	if interval == 0 {
		interval = -1
	}
	rt, err := offsync.NewRuntime(ctx, offsync.RuntimeOptions{
		Open:           be.open,
		Target:         bridge.Target{DBName: cfg.Store.DBName, StoreName: cfg.Store.StoreName},
		QueueName:      cfg.Replay.QueueName,
		Sender:         &replay.HTTPSender{FailOn5xx: cfg.Replay.FailOn5xx},
		Retention:      cfg.Replay.Retention.Duration,
		ReplayInterval: interval,
		ReplayBackoff:  cfg.Replay.MaxInterval.Duration,
		Policy:         policy,
		BusCapacity:    cfg.Bridge.BusCapacity,
		InitialOnline:  cfg.Connectivity.InitialOnline,
		Logger:         log,
		Hooks:          hooks,
	})
	if err != nil {
		return err
	}
	closeRuntime := func() error {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return rt.Close(sctx)
	}

	var proxy *httputil.ReverseProxy
	if cfg.Replay.ProxyListen != "" {
		up, err := url.Parse(cfg.Replay.Upstream)
		if err == nil && (up.Scheme == "" || up.Host == "") {
			err = errors.New("scheme and host are required")
		}
		if err != nil {
			_ = closeRuntime()
			return fmt.Errorf("replay upstream %q: %w", cfg.Replay.Upstream, err)
		}
		capture, err := rt.Capture(http.DefaultTransport)
		if err != nil {
			_ = closeRuntime()
			return err
		}
		proxy = httputil.NewSingleHostReverseProxy(up)
		proxy.Transport = capture
		if cfg.Connectivity.ProbeAddr == "" {
			cfg.Connectivity.ProbeAddr = hostPort(up.Host, up.Scheme)
		}
	}

	if err := rt.Start(ctx); err != nil {
		_ = closeRuntime()
		return err
	}

	ws := wsbridge.NewServer(wsbridge.ServerOptions{Poster: rt.Poster(), Logger: log, Hooks: hooks})
	unsub := rt.Notifications().Subscribe(ws.Broadcast)

	mux := http.NewServeMux()
	mux.Handle(cfg.Bridge.Path, ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pending, err := rt.Queue().Len(r.Context())
		status := map[string]any{
			"online":  rt.Monitor().Online(),
			"pending": pending,
			"clients": ws.Clients(),
			"bus":     rt.Bus().Pending(),
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			status["err"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, &http.Server{Addr: cfg.Bridge.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	})
	log.Info("sync bridge listening", offsync.Fields{"addr": cfg.Bridge.Listen, "path": cfg.Bridge.Path})

	if proxy != nil {
		g.Go(func() error {
			return serveHTTP(gctx, &http.Server{Addr: cfg.Replay.ProxyListen, Handler: proxy, ReadHeaderTimeout: 10 * time.Second})
		})
		log.Info("capture proxy listening", offsync.Fields{"addr": cfg.Replay.ProxyListen, "upstream": cfg.Replay.Upstream})
	}

	if addr := cfg.Connectivity.ProbeAddr; addr != "" {
		check := connectivity.DialCheck(addr, cfg.Connectivity.ProbeTimeout.Duration)
		g.Go(func() error {
			return connectivity.Watch(gctx, rt.Monitor(), cfg.Connectivity.ProbeInterval.Duration, check)
		})
	}

	werr := g.Wait()

	unsub()
	_ = ws.Close()
	if err := closeRuntime(); err != nil {
		log.Error("runtime close", offsync.Fields{"err": err})
		werr = errors.Join(werr, err)
	}
	log.Info("offsyncd stopped", nil)
	return werr
}

// serveHTTP runs srv until ctx ends, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
