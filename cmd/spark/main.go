// Command spark runs a demo HTTP/1.x server with a Prometheus endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/watt-toolkit/spark/pkg/spark/http1"
	"github.com/watt-toolkit/spark/pkg/spark/router"
	"github.com/watt-toolkit/spark/pkg/spark/server"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	addr          string
	metricsAddr   string
	pollTimeout   time.Duration
	maxConnMemory int
	logLevel      slog.Level
	assets        string
}

func parseFlags(args []string) (options, error) {
	def := server.DefaultConfig()
	o := options{logLevel: slog.LevelInfo}

	fs := flag.NewFlagSet("spark", flag.ContinueOnError)
	fs.StringVar(&o.addr, "addr", def.Addr, "listen address")
	fs.StringVar(&o.metricsAddr, "metrics-addr", ":9090", "Prometheus listen address, empty to disable")
	fs.DurationVar(&o.pollTimeout, "poll-timeout", def.PollTimeout, "idle wait before a connection is dropped")
	fs.IntVar(&o.maxConnMemory, "max-conn-memory", def.MaxConnectionMemory, "per-connection memory budget in bytes, 0 for none")
	fs.StringVar(&o.assets, "assets", "assets", "directory served under /assets/")
	fs.TextVar(&o.logLevel, "log-level", slog.LevelInfo, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

type user struct {
	ID    int64  `json:"id"`
	Agent string `json:"agent,omitempty"`
}

func routes(assets string) *router.Router {
	rt := router.New()
	rt.HandleFunc(http1.MethodGET, "/", func(w *http1.Response, _ *http1.Request, _ router.Params) {
		w.SetHeader("Content-Type", "text/plain")
		w.WriteString("Hello from spark\n")
	})
	rt.HandleFunc(http1.MethodGET, "/users/<int>", func(w *http1.Response, r *http1.Request, p router.Params) {
		id, err := p.Int(0)
		if err != nil {
			w.SetStatus(http1.StatusBadRequest)
			return
		}
		agent, _ := r.Header("User-Agent")
		b, err := json.Marshal(user{ID: id, Agent: agent})
		if err != nil {
			w.SetStatus(http1.StatusInternalServerError)
			return
		}
		w.SetHeader("Content-Type", "application/json")
		w.Write(b)
	})
	rt.HandleFunc(router.MethodAny, "/echo", func(w *http1.Response, r *http1.Request, _ router.Params) {
		if ct, ok := r.Header("Content-Type"); ok {
			w.SetHeader("Content-Type", ct)
		}
		w.Write(r.Content)
	})
	rt.HandleFunc(http1.MethodGET, "/assets/<str>", func(w *http1.Response, r *http1.Request, p router.Params) {
		name := p.Get(0)
		if name == "" || strings.HasPrefix(name, ".") {
			router.HTMLNotFound(w, r, p)
			return
		}
		if err := w.SetFileContent(filepath.Join(assets, name)); errors.Is(err, fs.ErrNotExist) {
			router.HTMLNotFound(w, r, p)
		}
	})
	rt.NotFound(router.HandlerFunc(router.HTMLNotFound))
	return rt
}

func run(ctx context.Context, o options) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: o.logLevel}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := server.DefaultConfig()
	cfg.Addr = o.addr
	cfg.PollTimeout = o.pollTimeout
	cfg.MaxConnectionMemory = o.maxConnMemory
	cfg.Logger = logger
	cfg.Registerer = reg
	srv := server.New(cfg, routes(o.assets))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})

	var ms *http.Server
	if o.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		ms = &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := ms.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if ms != nil {
			ms.Shutdown(sctx)
		}
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("connections closed forcibly", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintln(os.Stderr, "spark:", err)
		os.Exit(1)
	}
}
