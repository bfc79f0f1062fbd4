package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	defaultRoot := flag.String("root", "", "root searched when a request names none")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *defaultRoot != "" {
		cfg.Index.Roots = append(cfg.Index.Roots, *defaultRoot)
	}

	logCloser := logger.Setup(cfg.Logging)
	defer logCloser.Close()
	slog.Info("starting search service", "port", cfg.Server.Port, "roots", len(cfg.Index.Roots))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		shutdown, err := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(cfg.Index, m)
	defer reg.Close()

	checker := health.NewChecker()
	checker.Register("data_dir", health.DirCheck(cfg.Index.DataDir))

	var watchers sync.WaitGroup
	for _, root := range cfg.Index.Roots {
		eng, _, err := reg.Open(ctx, root)
		if err != nil {
			slog.Error("failed to open root", "root", root, "error", err)
			os.Exit(1)
		}
		report, err := eng.Build(ctx, nil)
		if err != nil {
			slog.Error("initial build failed", "root", eng.Root(), "error", err)
			os.Exit(1)
		}
		slog.Info("root indexed", "root", eng.Root(), "report", report.String())
		checker.Register("root:"+eng.Root(), health.DirCheck(eng.Root()))

		if cfg.Index.Watch {
			watchers.Go(func() {
				if err := eng.Watch(ctx, nil); err != nil {
					slog.Error("watcher stopped", "root", eng.Root(), "error", err)
				}
			})
		}
	}

	h := handler.New(reg, executor.New(cfg.Search, m), *defaultRoot)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.CORS(middleware.NewCORSConfig(cfg.Server.AllowOrigins))(chain)
	chain = middleware.Metrics(m, append(handler.Paths, "/health/live", "/health/ready")...)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	stop()
	watchers.Wait()
	slog.Info("search service stopped")
}
