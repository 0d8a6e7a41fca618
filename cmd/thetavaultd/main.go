package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/thetavault/pkg/api"
	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/config"
	"github.com/luxfi/thetavault/pkg/deploy"
	"github.com/luxfi/thetavault/pkg/events"
	"github.com/luxfi/thetavault/pkg/keeper"
	"github.com/luxfi/thetavault/pkg/metrics"
	"github.com/luxfi/thetavault/pkg/store"
	"github.com/luxfi/thetavault/pkg/vault"
	"github.com/luxfi/thetavault/pkg/websocket"
)

type Node struct {
	config *config.Config
	logger log.Logger

	db      database.Database
	store   *store.Store
	clock   *chain.ManualClock
	dep     *deploy.Deployment
	seq     *vault.Sequencer
	metrics *metrics.VaultMetrics
	ws      *websocket.Server
	nats    *nats.Conn
	keeper  *keeper.Keeper

	metricsServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNode(cfg *config.Config) (*Node, error) {
	level, err := log.ToLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	logger := log.NewTestLogger(level)
	logger.Info("Initializing thetavault node", "config", cfg.String())

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}
	n := &Node{config: cfg, logger: logger, db: db}
	if err := n.wire(); err != nil {
		db.Close()
		return nil, err
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

func openDatabase(cfg *config.Config, logger log.Logger) (database.Database, error) {
	dataPath := filepath.Join(os.Getenv("HOME"), cfg.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbManager := manager.NewManager(dataPath, nil)

	if cfg.Database == config.DatabaseMemory {
		db, err := dbManager.New(manager.DefaultMemoryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
		return db, nil
	}

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "thetavault"
	db, err := dbManager.New(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	logger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	return db, nil
}

// wire builds the simulation, the vault and every consumer of its events.
func (n *Node) wire() error {
	cfg := n.config

	var clock chain.Clock = chain.SystemClock{}
	if cfg.ManualClock {
		n.clock = chain.NewManualClock(time.Now().UTC())
		clock = n.clock
	}
	world, err := chain.NewWorld(clock, chain.DefaultWorldConfig())
	if err != nil {
		return fmt.Errorf("chain simulation: %w", err)
	}

	n.metrics = metrics.NewVaultMetrics("thetavault", n.logger.New("module", "metrics"))
	fanout := events.NewFanout(clock, n.logger.New("module", "events"))

	n.ws = websocket.NewServer(n.logger.New("module", "websocket"), websocket.DefaultConfig())
	n.ws.OnClientCount(n.metrics.SetWebsocketClients)
	fanout.Subscribe(n.ws)

	if cfg.NATSURL != "" {
		conn, err := events.Connect(cfg.NATSURL, n.logger.New("module", "nats"))
		if err != nil {
			return fmt.Errorf("connect NATS %s: %w", cfg.NATSURL, err)
		}
		n.nats = conn
		pub := events.NewNATSPublisher(conn, cfg.NATSPrefix, n.logger.New("module", "nats"))
		pub.OnPublish(n.metrics.RecordNATSMessage)
		fanout.Subscribe(pub)
		n.logger.Info("Publishing events to NATS", "url", cfg.NATSURL, "prefix", cfg.NATSPrefix)
	}

	params, err := cfg.VaultParams(deploy.DefaultParams(world))
	if err != nil {
		return err
	}
	vaultCfg, err := cfg.VaultConfig()
	if err != nil {
		return err
	}

	n.store = store.New(n.db, n.logger.New("module", "store"))
	snapshot, err := n.store.Load()
	switch {
	case errors.Is(err, store.ErrEmpty):
		snapshot = nil
	case err != nil:
		return fmt.Errorf("load vault state: %w", err)
	case !cfg.Restore:
		return fmt.Errorf("database already holds vault state at round %d; start with -restore or a fresh data dir", snapshot.State.Round)
	}

	n.dep, err = deploy.NewVault(world, params, vaultCfg, deploy.Options{
		Collateral: cfg.CollateralConfig(),
		Store:      n.store,
		Events:     fanout,
		Observer:   n.metrics,
		Logger:     n.logger,
	})
	if err != nil {
		return err
	}
	if snapshot != nil {
		if err := n.dep.Vault.Restore(snapshot); err != nil {
			return fmt.Errorf("restore vault: %w", err)
		}
		// Simulated balances live in memory only.
		n.logger.Warn("Vault state restored onto a fresh chain simulation",
			"round", snapshot.State.Round,
			"pricedRounds", len(snapshot.PricePerShare))
	}

	n.seq = vault.NewSequencer(n.dep.Vault)
	n.ws.SetSnapshot(n.snapshot)
	n.keeper = keeper.New(n.seq, world, keeper.Config{
		Account:  vaultCfg.Keeper,
		Interval: cfg.KeeperInterval,
		Recorder: n.metrics,
	}, n.logger.New("module", "keeper"))
	return nil
}

func (n *Node) snapshot() (interface{}, error) {
	var out map[string]interface{}
	err := n.seq.Do(func(v *vault.Vault) error {
		out = map[string]interface{}{
			"round":        v.Round(),
			"phase":        v.Phase().String(),
			"state":        v.VaultState(),
			"option":       v.OptionState(),
			"totalBalance": v.TotalBalance(),
		}
		return nil
	})
	return out, err
}

func (n *Node) Start() error {
	cfg := n.config
	n.logger.Info("Starting thetavault node",
		"vault", n.dep.Address,
		"http", cfg.HTTPAddr,
		"ws", cfg.WSAddr,
		"manualClock", cfg.ManualClock)

	// JSON-RPC
	rpc := api.NewJSONRPCServer(n.seq, n.dep.World, n.clock, n.logger.New("module", "api"))
	mux := http.NewServeMux()
	mux.Handle("/rpc", rpc)
	mux.HandleFunc("/health", n.handleHealth)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := api.StartJSONRPCServer(n.ctx, cfg.HTTPAddr, mux, n.logger); err != nil {
			n.logger.Error("JSON-RPC server error", "error", err)
		}
	}()

	// WebSocket feed
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.ws.Start(cfg.WSAddr); err != nil {
			n.logger.Error("WebSocket server error", "error", err)
		}
	}()

	if cfg.EnableMetrics {
		n.metricsServer = n.metrics.StartServer(cfg.MetricsAddr)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.metrics.CollectSystemMetrics(n.ctx, 10*time.Second)
		}()
	}

	if cfg.EnableKeeper {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.keeper.Run(n.ctx)
		}()
	}

	n.wg.Add(1)
	go n.printStats()

	n.logger.Info("thetavault node started")
	return nil
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	var round uint16
	var phase string
	n.seq.Do(func(v *vault.Vault) error {
		round, phase = v.Round(), v.Phase().String()
		return nil
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"round":  round,
		"phase":  phase,
		"feed":   n.ws.GetStats(),
	})
}

func (n *Node) printStats() {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.seq.Do(func(v *vault.Vault) error {
				s := v.VaultState()
				dec := v.Params().Decimals
				n.logger.Info("Vault status",
					"round", s.Round,
					"phase", v.Phase().String(),
					"totalBalance", metrics.Units(v.TotalBalance(), dec),
					"locked", metrics.Units(s.LockedAmount, dec),
					"pending", metrics.Units(s.TotalPending, dec),
					"queuedShares", metrics.Units(s.QueuedWithdrawShares, dec))
				return nil
			})
		}
	}
}

func (n *Node) Shutdown() {
	n.logger.Info("Shutting down thetavault node...")

	n.cancel()
	n.ws.Stop()
	if n.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n.metricsServer.Shutdown(ctx)
		cancel()
	}
	n.wg.Wait()

	if n.nats != nil {
		if err := n.nats.Drain(); err != nil {
			n.logger.Warn("NATS drain failed", "error", err)
		}
	}
	if err := n.store.Close(); err != nil {
		n.logger.Warn("Failed to close database", "error", err)
	}

	n.logger.Info("thetavault node shutdown complete")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Flags override the environment
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&cfg.Database, "db", cfg.Database, "Database backend (badgerdb, memory)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "JSON-RPC listen address")
	flag.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "WebSocket listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	flag.BoolVar(&cfg.EnableMetrics, "enable-metrics", cfg.EnableMetrics, "Enable Prometheus metrics")
	flag.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL (empty disables publishing)")
	flag.BoolVar(&cfg.EnableKeeper, "keeper", cfg.EnableKeeper, "Run the keeper")
	flag.DurationVar(&cfg.KeeperInterval, "keeper-interval", cfg.KeeperInterval, "Keeper tick interval")
	flag.BoolVar(&cfg.ManualClock, "manual-clock", cfg.ManualClock, "Advance time only through dev_advanceTime")
	flag.BoolVar(&cfg.Restore, "restore", cfg.Restore, "Resume from the vault state in the database")
	flag.Parse()

	rootLogger := log.Root()
	if err := cfg.Validate(); err != nil {
		rootLogger.Crit("Invalid configuration", "error", err)
		os.Exit(1)
	}

	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), cfg.DataDir))

	node, err := NewNode(cfg)
	if err != nil {
		rootLogger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		rootLogger.Crit("Failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	node.Shutdown()
}
