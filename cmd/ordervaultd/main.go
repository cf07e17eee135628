package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ordervault/audit"
	"ordervault/config"
	"ordervault/core"
	"ordervault/core/events"
	"ordervault/crypto"
	"ordervault/observability"
	"ordervault/observability/logging"
	otelinit "ordervault/observability/otel"
	"ordervault/rpc"
	"ordervault/storage"
)

const keystorePassEnv = "ORDERVAULT_KEYSTORE_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis seed YAML file (overrides config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("ordervaultd", cfg.Environment, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		shutdown, err := otelinit.Init(ctx, otelinit.Config{
			ServiceName: "ordervaultd",
			Environment: cfg.Environment,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.Environment != "production",
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	serviceKey, err := crypto.LoadFromKeystore(cfg.ServiceKeystorePath, os.Getenv(keystorePassEnv))
	if err != nil {
		panic(fmt.Sprintf("Failed to load service key: %v", err))
	}
	logger.Info("Service identity loaded", "address", serviceKey.PubKey().Address().String())

	node, err := core.NewNode(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to build node: %v", err))
	}

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	if genesisPath != "" {
		spec, err := core.LoadGenesisSpec(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis spec: %v", err))
		}
		if err := node.ApplyGenesis(spec); err != nil {
			panic(fmt.Sprintf("Failed to apply genesis spec: %v", err))
		}
		logger.Info("Genesis seed applied", "path", genesisPath)
	}

	server := rpc.NewServer(node, rpc.Options{
		AuthSecret: cfg.AuthSecret(),
		RateLimit:  cfg.RPCRateLimit,
		RateBurst:  cfg.RPCRateBurst,
		Logger:     logger,
	})

	emitters := events.MultiEmitter{server.Hub(), observability.TransitionEmitter{}}
	if strings.TrimSpace(cfg.AuditDSN) != "" {
		sink, err := audit.Open(cfg.AuditDSN, logger)
		if err != nil {
			panic(fmt.Sprintf("Failed to open audit store: %v", err))
		}
		defer sink.Close()
		emitters = append(emitters, sink)
	}
	node.SetEmitter(emitters)

	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
