package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomarch/roomarch/ws"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	log.SetLevel(level)

	cfg, err := ws.Load(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if len(cfg.APIKeys) == 0 {
		log.Fatal("no API keys configured; set ROOMARCH_API_KEYS or provide a config file")
	}

	server := ws.New(cfg, log)

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("start server: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
}
