package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marginledger/config"
	"marginledger/core"
	"marginledger/core/genesis"
	"marginledger/core/state"
	"marginledger/native/flashloan"
	"marginledger/native/health"
	"marginledger/observability/logging"
	"marginledger/rpc"
	"marginledger/storage"
)

const (
	envVar         = "LEDGER_ENV"
	genesisPathEnv = "LEDGER_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis spec JSON file (overrides LEDGER_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Env
	}
	logger := logging.Setup(cfg.ServiceName, env)

	db, err := openBackend(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to open %s backend: %v", cfg.NormalizedBackend(), err))
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to open ledger state: %v", err))
	}

	// A zero root means the backend has never committed: seed it from the
	// genesis spec before accepting batches.
	if manager.Root() == ([32]byte{}) {
		genesisPath := resolveGenesisPath(*genesisFlag, cfg)
		if genesisPath == "" {
			logger.Error("fresh data directory and no genesis spec configured", "config", *configFile)
			os.Exit(1)
		}
		spec, err := genesis.LoadGenesisSpec(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis spec: %v", err))
		}
		if spec.Network != "" && spec.Network != cfg.NetworkName {
			logger.Error("genesis network does not match configuration",
				"genesis", spec.Network,
				"configured", cfg.NetworkName,
			)
			os.Exit(1)
		}
		root, err := genesis.BuildGenesisFromSpec(spec, manager)
		if err != nil {
			panic(fmt.Sprintf("Failed to seed genesis state: %v", err))
		}
		logger.Info("genesis state seeded", "root", fmt.Sprintf("%x", root), "spec", genesisPath)
	}

	processor, err := core.NewProcessor(manager)
	if err != nil {
		panic(fmt.Sprintf("Failed to create batch processor: %v", err))
	}
	processor.SetLogger(logger)

	solvency := health.NewEngine()
	solvency.SetState(manager)

	engine := flashloan.NewEngine()
	engine.SetState(manager)
	engine.SetSolvency(solvency)
	engine.SetEmitter(processor.Emitter())
	engine.SetPauses(cfg.Pauses)

	if err := processor.Register(flashloan.NewProgram(engine)); err != nil {
		panic(fmt.Sprintf("Failed to register flash loan program: %v", err))
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener terminated", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", addr)
	}

	rpcServer := rpc.NewServer(processor, manager)
	rpcErrCh := make(chan error, 1)
	go func() {
		err := rpcServer.Start(cfg.RPCAddress)
		rpcErrCh <- err
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", "error", err)
		os.Exit(1)
	}

	go func() {
		if err, ok := <-rpcErrCh; ok && err != nil {
			logger.Error("RPC server terminated", "error", err)
		}
	}()

	root := manager.Root()
	logger.Info("ledger node initialised and running",
		"network", cfg.NetworkName,
		"backend", cfg.NormalizedBackend(),
		"rpc", cfg.RPCAddress,
		"root", fmt.Sprintf("%x", root),
	)
	select {}
}

// resolveGenesisPath picks the genesis spec location: CLI flag, then the
// environment, then the configuration file.
func resolveGenesisPath(flagValue string, cfg *config.Config) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv(genesisPathEnv)); path != "" {
		return path
	}
	return strings.TrimSpace(cfg.GenesisFile)
}

// openBackend opens the configured storage backend, creating the data
// directory for the file-backed ones.
func openBackend(cfg *config.Config) (storage.Database, error) {
	backend := cfg.NormalizedBackend()
	if backend == config.BackendMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	switch backend {
	case config.BackendLevelDB:
		return storage.NewLevelDB(cfg.DataDir)
	case config.BackendBolt:
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"))
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", backend)
	}
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-deadline.C:
			return fmt.Errorf("RPC server did not start within %s", timeout)
		case <-ticker.C:
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
