package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/helixdb/helix/backend"
	"github.com/helixdb/helix/backend/memory"
	"github.com/helixdb/helix/server"
	"github.com/helixdb/helix/server/config"
	"github.com/helixdb/helix/server/listener"
)

const version = "0.1.0"

func main() {
	cfg := config.NewConfig()
	err := cfg.Parse(os.Args[1:])

	if cfg.Version {
		fmt.Println("helix-server", version)
		exit(0)
	}

	switch errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		exit(0)
	default:
		log.Fatal("parse cmd flags error", zap.Error(err))
	}

	if err := cfg.SetupLogger(); err != nil {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	// Flushing any buffered log entries
	defer log.Sync()

	b, err := newBackend(cfg)
	if err != nil {
		log.Fatal("create backend failed", zap.Error(err))
	}

	svr := server.New(cfg, b, listener.NewFactory())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svr.Init(ctx); err != nil {
		log.Fatal("initialize server failed", zap.Error(err))
	}
	if err := svr.Start(ctx); err != nil {
		log.Fatal("start server failed", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	sig := <-sc
	log.Info("Got signal to exit", zap.String("signal", sig.String()))

	if err := svr.Stop(ctx); err != nil {
		log.Error("stop server failed", zap.Error(err))
		exit(1)
	}

	switch sig {
	case syscall.SIGTERM:
		exit(0)
	default:
		exit(1)
	}
}

func newBackend(cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend {
	case "memory":
		b := memory.New()
		// Development seed: one superuser and one database.
		b.AddRole("admin", true, "")
		b.AddDatabase("helixdb", []byte(`{"types": []}`))
		return b, nil
	}
	return nil, errors.Errorf("unknown backend %q", cfg.Backend)
}

func serveMetrics(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Error("metrics endpoint failed", zap.Error(err))
	}
}

func exit(code int) {
	log.Sync()
	os.Exit(code)
}
