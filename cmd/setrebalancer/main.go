// Command setrebalancer runs the rebalancing auction coordinator. It loads
// configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/app"
	"github.com/alanyoungcy/setrebalancer/internal/config"
	"github.com/alanyoungcy/setrebalancer/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.String("encrypt-key", "", "read a hex private key from stdin, write it encrypted to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptKey != "" {
		addr, err := writeKeyFile(*encryptKey, os.Stdin, os.Getenv(config.EnvPrefix+"WALLET_KEY_PASSWORD"))
		if err != nil {
			logger.Error("failed to encrypt key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("key file written",
			slog.String("path", *encryptKey),
			slog.String("address", addr.Hex()),
		)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("setrebalancer starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("setrebalancer stopped")
}

// writeKeyFile reads one hex private key line from in and seals it to path
// under password.
func writeKeyFile(path string, in io.Reader, password string) (common.Address, error) {
	if password == "" {
		return common.Address{}, fmt.Errorf("set %sWALLET_KEY_PASSWORD to the key file password", config.EnvPrefix)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return common.Address{}, fmt.Errorf("reading key: %w", err)
	}
	key, err := crypto.ParseKey(line)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.WriteKeyFile(path, key, password)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
