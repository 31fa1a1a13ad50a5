package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/julius-bridge/internal/config"
	"github.com/saker-ai/julius-bridge/pkg/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to conf.yaml (default: <root>/conf.yaml)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	if *printConfig {
		cfg, err := appconfig.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		out, err := appconfig.Dump(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "render config: %v\n", err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	server, err := runtime.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start bridge", zap.Error(err))
	}
	logger := server.Logger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("bridge exited", zap.Error(err))
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := <-done; err != nil {
		logger.Error("bridge exited", zap.Error(err))
	}
}
