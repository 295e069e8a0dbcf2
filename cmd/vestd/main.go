package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"vestd/audit"
	"vestd/config"
	"vestd/core/events"
	"vestd/gateway/middleware"
	"vestd/observability/logging"
	"vestd/rpc"
	"vestd/state"
	"vestd/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.ServiceName, cfg.Env, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	adminAddr, err := config.ParseAddress(cfg.AdminAddress)
	if err != nil {
		logger.Error("Invalid AdminAddress", slog.Any("error", err))
		os.Exit(1)
	}
	safeAddr, err := config.ParseAddress(cfg.SafeAddress)
	if err != nil {
		logger.Error("Invalid SafeAddress", slog.Any("error", err))
		os.Exit(1)
	}
	vaultAddr, err := config.ParseAddress(cfg.VaultAddress)
	if err != nil {
		logger.Error("Invalid VaultAddress", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager, err := state.NewManager(db, vaultAddr)
	if err != nil {
		logger.Error("Failed to initialise state", slog.Any("error", err))
		os.Exit(1)
	}
	created, err := manager.InitEscrow(safeAddr)
	if err != nil {
		logger.Error("Failed to initialise escrow", slog.Any("error", err))
		os.Exit(1)
	}
	if created {
		if err := applyGenesisBalances(manager, cfg.GenesisBalances); err != nil {
			logger.Error("Failed to apply genesis balances", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Escrow initialised",
			slog.String("safeAddress", cfg.SafeAddress),
			slog.Int("genesisAccounts", len(cfg.GenesisBalances)))
	}

	var journal *audit.Journal
	if cfg.Audit.Enabled {
		journal, err = audit.Open(cfg.Audit.DatabaseURL, cfg.DataDir, logger)
		if err != nil {
			logger.Error("Failed to open audit journal", slog.Any("error", err))
			os.Exit(1)
		}
	}

	emitter := events.MultiEmitter{eventLogger{logger: logger}}
	if journal != nil {
		emitter = append(emitter, journal)
	}

	server, err := rpc.NewServer(rpc.ServerConfig{
		State:               manager,
		Journal:             journal,
		Emitter:             emitter,
		Logger:              logger,
		AdminAddress:        adminAddr,
		AllowPastStartTimes: cfg.AllowPastStartTimes,
		ServiceName:         cfg.ServiceName,
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.AuthSecret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLim.RequestsPerMinute,
			Burst:             cfg.RateLim.Burst,
		},
	})
	if err != nil {
		logger.Error("Failed to construct RPC server", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Starting vesting service",
		slog.String("rpcAddress", cfg.RPCAddress),
		slog.Bool("authEnabled", cfg.Auth.Enabled),
		slog.Bool("auditEnabled", cfg.Audit.Enabled))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// eventLogger mirrors engine events into the service log so operators can
// follow state changes without querying the journal.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	l.logger.Info("vesting event", slog.String("eventType", evt.EventType()))
}

func applyGenesisBalances(manager *state.Manager, balances map[string]string) error {
	for rawAddr, rawAmount := range balances {
		addr, err := config.ParseAddress(rawAddr)
		if err != nil {
			return fmt.Errorf("genesis balance %s: %w", rawAddr, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(rawAmount), 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("genesis balance %s: invalid amount %q", rawAddr, rawAmount)
		}
		if err := manager.Credit(addr, amount); err != nil {
			return fmt.Errorf("genesis balance %s: %w", rawAddr, err)
		}
	}
	return nil
}
