// Command satipd is the SAT>IP streaming server entrypoint: it loads
// satipd.conf, builds one Stream per configured tuner slot, and serves
// RTSP control connections and Prometheus metrics until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satipd/satipd/pkg/config"
	"github.com/satipd/satipd/pkg/descrambler"
	"github.com/satipd/satipd/pkg/frontend/fake"
	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/metrics"
	"github.com/satipd/satipd/pkg/producer"
	"github.com/satipd/satipd/pkg/server"
)

func main() {
	fs := flag.NewFlagSet("satipd", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	confPath := fs.String("config", "satipd.conf", "path to satipd.conf")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "SAT>IP DVB streaming server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	cfg, err := config.Load(*confPath)
	if err != nil {
		log.Warn("could not load config file, falling back to defaults", "path", *confPath, "error", err)
		cfg = config.Default()
	}
	log.Info("configuration loaded",
		"listen_addr", cfg.ListenAddr,
		"stream_count", cfg.StreamCount,
		"oscam_enabled", cfg.OSCamEnabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var filter producer.PidFilter = descrambler.NoFilter{}
	var oscamClient *descrambler.Client
	if cfg.OSCamEnabled() {
		addr := net.JoinHostPort(cfg.OSCamHost, fmt.Sprintf("%d", cfg.OSCamPort))
		oscamClient = descrambler.New(addr, cfg.OSCamRateQPM, log.With("component", "descrambler"))
		oscamClient.Start()
		defer oscamClient.Close()
		filter = oscamClient
		log.Info("OSCam descrambler side channel enabled", "addr", addr)
	}

	sup := server.New(server.DefaultConfig(), log)
	registry := metrics.NewRegistry()
	sup.SetMetrics(registry)
	rtspSrv := newRTSPServer(sup, log)

	// pkg/frontend/fake stands in for a real DVB tuner driver; ioctl/driver
	// code is out of scope, so this binary has no hardware backend to wire
	// in its place.
	for i := 0; i < cfg.StreamCount; i++ {
		fe := fake.New()
		streamLog := log.With("stream_id", i)
		s := server.BuildStream(i, fe, filter, streamLog)
		s.Properties().SetRTCPUpdateRate(cfg.RTCPUpdateRate)
		sup.AddStream(i, s)
		rtspSrv.addStream(i, s)
	}
	sup.Start()
	defer sup.Stop()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Error("failed to listen for RTSP", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}
	defer ln.Close()
	go rtspSrv.serve(ln)
	log.Info("RTSP listening", "addr", cfg.ListenAddr)

	metricsSrv := metrics.NewServer(registry, log)
	if err := metricsSrv.Start(cfg.MetricsAddr); err != nil {
		log.Error("failed to start metrics server", "addr", cfg.MetricsAddr, "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = metricsSrv.Stop(stopCtx)
	}()
	log.Info("metrics listening", "addr", cfg.MetricsAddr)

	log.Info("satipd ready")
	<-ctx.Done()
	log.Info("shutting down")
}
