package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/smtpstrip/internal/obs"
	"github.com/matst80/smtpstrip/internal/relay"
	"github.com/matst80/smtpstrip/internal/stats"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	log := obs.New(os.Stdout, cfg.Verbose)
	log.Debug("remote", obs.Fields{"addr": cfg.RemoteAddr(), "proxy": cfg.UpstreamProxy != ""})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := relay.NewDialer(cfg.UpstreamProxy)
	if err != nil {
		log.Error("dialer", obs.Fields{"err": err.Error()})
		return 1
	}
	store, err := stats.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Error("stats.init", obs.Fields{"err": err.Error()})
		return 1
	}
	defer store.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		log.Error("listen", obs.Fields{"err": err.Error(), "addr": cfg.ListenAddr()})
		return 1
	}

	srv := &server{relay: relay.New(cfg.RemoteAddr(), dialer, log), store: store, log: log}
	if cfg.MetricsAddr != "" {
		go srv.startMetricsServer(ctx, cfg.MetricsAddr)
	}
	log.Info("server.start", obs.Fields{"listen": cfg.ListenAddr(), "remote": cfg.RemoteAddr(), "metrics": cfg.MetricsAddr})

	srv.serve(ctx, ln)
	log.Info("server.shutdown.complete", obs.Fields{})
	return 0
}
