package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codefionn/relayd/internal/config"
	"github.com/codefionn/relayd/internal/logger"
	"github.com/codefionn/relayd/internal/relay"
	"github.com/codefionn/relayd/internal/toolengine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := flag.String("config", config.GetConfigPath(), "path to config file")
	port := flag.Int("port", -1, "listening port (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error, none (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Environment variables override config file values for logging.
	if envLevel := strings.TrimSpace(os.Getenv("RELAYD_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv("RELAYD_LOG_PATH")); envPath != "" {
		cfg.LogPath = envPath
	}

	// Flags beat everything.
	if *port >= 0 {
		cfg.Listen.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	server := relay.NewServer(cfg)
	server.SetInvoker(builtinEngine(server))
	server.SetReadyObserver(func(addr net.Addr) {
		logger.Info("Relay ready on %s", addr)
		fmt.Fprintf(os.Stderr, "relayd listening on %s\n", addr)
	})

	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	// Apply runtime tunables when the config file changes on disk.
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		logger.Global().SetLevel(logger.ParseLevel(next.LogLevel))
		if next.Queue.Capacity != 0 {
			server.Queue().SetCapacity(next.Queue.Capacity)
		}
	})
	if err != nil {
		logger.Warn("Config watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutdown signal received")
	return nil
}

// builtinEngine registers the tools the daemon serves out of the box.
func builtinEngine(server *relay.Server) *toolengine.Engine {
	engine := toolengine.New()

	engine.Register("ping", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return map[string]interface{}{
			"pong": time.Now().UTC().Format(time.RFC3339Nano),
		}, nil
	})

	engine.Register("relay.stats", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return map[string]interface{}{
			"connections": server.ConnCount(),
			"registered":  server.Registry().Count(),
			"queued":      server.Queue().Len(),
			"evicted":     server.Queue().Evicted(),
		}, nil
	})

	return engine
}
