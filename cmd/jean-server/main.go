// Command jean-server runs the chat relay: it accepts WebSocket sessions
// from the terminal client, forwards conversation rounds to an
// OpenAI-compatible completions API, and streams the responses back.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/archive"
	"github.com/stulentsev/jean/internal/config"
	"github.com/stulentsev/jean/internal/llm"
	"github.com/stulentsev/jean/internal/logging"
	"github.com/stulentsev/jean/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml, /etc/jean/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "jean-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	manager, err := config.Load(configPath, nil)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := manager.Config()

	logger, level, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Console:    true,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	completer, err := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.RequestTimeout,
	}, logger.Named("llm"))
	if err != nil {
		return fmt.Errorf("build completion client: %w", err)
	}

	var store *archive.Store
	if cfg.Archive.Enabled {
		store, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer store.Close()
		logger.Info("transcript archive enabled", zap.String("path", cfg.Archive.Path))
	}

	srv, err := relay.NewServer(relay.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		MetricsEnabled: cfg.Metrics.Enabled,
	}, completer, store, logger.Named("relay"))
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// Log-level changes from an edited config file apply live; everything
	// else takes effect on restart.
	manager.Watch(func(updated *config.Config) {
		if lvl, err := zap.ParseAtomicLevel(updated.Log.Level); err == nil {
			level.SetLevel(lvl.Level())
		}
	})

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	return srv.Stop()
}
