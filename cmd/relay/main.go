package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/papercomputeco/repcoach/pkg/config"
	"github.com/papercomputeco/repcoach/pkg/logger"
	"github.com/papercomputeco/repcoach/proxy"
)

func main() {
	// Parse command line flags; unset flags fall back to the config file
	configPath := flag.String("config", "", "Path to config file (default ~/.repcoach/config.toml)")
	listenAddr := flag.String("listen", "", "Address to listen on (default from config, :8080)")
	upstreamURL := flag.String("upstream", "", "Upstream AI coach chat function URL")
	dbPath := flag.String("db", "", "Path to SQLite database (default: in-memory)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	jsonLogs := flag.Bool("json", false, "Log as JSON")
	flag.Parse()

	// Set up logger
	var opts []logger.Option
	if *jsonLogs {
		opts = append(opts, logger.WithJSON())
	}
	log := logger.NewLogger(*debug, opts...)
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	// Create and run the relay
	relayConfig := proxy.Config{
		ListenAddr:     firstNonEmpty(*listenAddr, cfg.Relay.Listen),
		UpstreamURL:    firstNonEmpty(*upstreamURL, cfg.Relay.Upstream),
		UpstreamAPIKey: cfg.Relay.UpstreamAPIKey,
		DBPath:         firstNonEmpty(*dbPath, cfg.Relay.DB),
	}

	log.Info("repcoach relay starting",
		zap.String("listen", relayConfig.ListenAddr),
		zap.String("upstream", relayConfig.UpstreamURL),
		zap.Bool("debug", *debug),
	)

	p, err := proxy.New(relayConfig, log)
	if err != nil {
		log.Fatal("failed to create relay", zap.Error(err))
	}
	defer p.Close()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		if err := p.Shutdown(); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	if err := p.Run(); err != nil {
		log.Fatal("relay server failed", zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
