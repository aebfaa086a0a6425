// Command oracled runs the trust-oracle gateway: the device WebSocket
// listener, the management REST listener, and the scheduled batch submitter,
// all over one durable store.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/trustoracle/gateway/api"
	"github.com/trustoracle/gateway/chain"
	"github.com/trustoracle/gateway/config"
	"github.com/trustoracle/gateway/metrics"
	"github.com/trustoracle/gateway/pet"
	"github.com/trustoracle/gateway/session"
	"github.com/trustoracle/gateway/store"
	"github.com/trustoracle/gateway/submitter"
)

func main() {
	cfg := config.FromEnv()

	app := &cli.App{
		Name:  "oracled",
		Usage: "hardware-witness telemetry gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ws-port", Value: cfg.WSPort, Usage: "device WebSocket listen port"},
			&cli.StringFlag{Name: "api-port", Value: cfg.APIPort, Usage: "management REST listen port"},
			&cli.StringFlag{Name: "db", Value: cfg.DBPath, Usage: "path to the bbolt database file"},
			&cli.StringFlag{Name: "log-level", Value: cfg.LogLevel, Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "chain-rpc", Value: cfg.ChainRPCURL, Usage: "ledger fullnode JSON-RPC endpoint"},
			&cli.StringFlag{Name: "chain-package", Value: cfg.ChainPackage, Usage: "deployed oracle package handle"},
			&cli.StringFlag{Name: "chain-registry", Value: cfg.ChainRegistry, Usage: "device registry object handle"},
			&cli.StringFlag{Name: "chain-key", Value: cfg.ChainSigningKey, Usage: "hex Ed25519 server signing key (seed or full key)"},
		},
		Action: func(c *cli.Context) error {
			cfg.WSPort = c.String("ws-port")
			cfg.APIPort = c.String("api-port")
			cfg.DBPath = c.String("db")
			cfg.LogLevel = c.String("log-level")
			cfg.ChainRPCURL = c.String("chain-rpc")
			cfg.ChainPackage = c.String("chain-package")
			cfg.ChainRegistry = c.String("chain-registry")
			cfg.ChainSigningKey = c.String("chain-key")
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "oracled:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := log.NewLogger(os.Stderr, log.LevelOption(level))

	st, err := store.OpenBolt(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "path", cfg.DBPath)

	gw, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := session.NewHub()
	pets := pet.NewOrchestrator(st, gw, logger, 0)
	handlers := session.NewHandlers(st, gw, pets, hub, m, logger, 0)
	wsServer := session.NewServer(handlers.Router(), hub, m, logger)

	sub := submitter.New(st, gw, m, logger, 0)
	if err := sub.Start(); err != nil {
		return fmt.Errorf("start submitter: %w", err)
	}
	defer sub.Stop()

	mgmt := api.New(st, gw, sub, hub, m, logger)

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", wsServer)
	wsSrv := &http.Server{Addr: ":" + cfg.WSPort, Handler: wsMux}
	apiSrv := &http.Server{Addr: ":" + cfg.APIPort, Handler: mgmt.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("device listener up", "addr", wsSrv.Addr, "path", "/ws")
		if err := wsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("device listener: %w", err)
		}
	}()
	go func() {
		logger.Info("management listener up", "addr", apiSrv.Addr)
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("management listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsSrv.Shutdown(shutdownCtx)
	apiSrv.Shutdown(shutdownCtx)
	logger.Info("gateway stopped")
	return nil
}

// buildGateway selects the chain backend: a JSON-RPC gateway when fully
// configured, the nop gateway otherwise.
func buildGateway(cfg *config.Config, logger log.Logger) (chain.Gateway, error) {
	if !cfg.ChainEnabled() {
		logger.Info("chain mirroring disabled, running local-only")
		return chain.NopGateway{}, nil
	}
	key, err := parseSigningKey(cfg.ChainSigningKey)
	if err != nil {
		return nil, fmt.Errorf("chain signing key: %w", err)
	}
	gw, err := chain.NewRPCGateway(cfg.ChainRPCURL, cfg.ChainPackage, cfg.ChainRegistry, key, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("chain mirroring enabled", "endpoint", cfg.ChainRPCURL, "package", cfg.ChainPackage)
	return gw, nil
}

// parseSigningKey accepts a hex-encoded 32-byte seed or 64-byte private key,
// with or without a 0x prefix.
func parseSigningKey(s string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("got %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}
