// Command node runs one consensus-simulator participant: it loads its
// consensus config, opens its chain store, starts its gossip
// transport, and runs until the configured run budget elapses or a
// safety violation forces an early, non-zero exit.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nilchain/consensim/chain"
	"github.com/nilchain/consensim/config"
	"github.com/nilchain/consensim/consensus"
	"github.com/nilchain/consensim/events"
	"github.com/nilchain/consensim/invariant"
	"github.com/nilchain/consensim/logx"
	"github.com/nilchain/consensim/metrics"
	"github.com/nilchain/consensim/p2p"
	"github.com/nilchain/consensim/scenario"
	"github.com/nilchain/consensim/scheduler"
	"github.com/nilchain/consensim/storage"
	"github.com/nilchain/consensim/txgen"
)

const metricsBasePort = 9500

func main() {
	var (
		nodeID      int
		nodeCount   int
		consensusID string
		scenarioID  string
		seed        uint64
		configDir   string
		logLevel    string
		runBudget   time.Duration
		logDir      string
	)

	root := &cobra.Command{
		Use:   "node",
		Short: "Run one node of the consensus simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(runConfig{
				nodeID:      nodeID,
				nodeCount:   nodeCount,
				consensusID: consensusID,
				scenarioID:  scenarioID,
				seed:        seed,
				configDir:   configDir,
				logLevel:    logx.Level(logLevel),
				runBudget:   runBudget,
				logDir:      logDir,
			})
		},
	}

	flags := root.PersistentFlags()
	flags.IntVar(&nodeID, "node-id", -1, "this node's identity in [0, N) (required)")
	flags.IntVar(&nodeCount, "nodes", 5, "total number of nodes in the simulation")
	flags.StringVar(&consensusID, "consensus", "", "consensus engine: pow|hybrid (required)")
	flags.StringVar(&scenarioID, "scenario", "", "network scenario: delays|partition (required)")
	flags.Uint64Var(&seed, "seed", 42, "run seed for deterministic PRNGs")
	flags.StringVar(&configDir, "config-dir", "config", "directory containing pow_config.json / hybrid_config.json")
	flags.StringVar(&logLevel, "log-level", string(logx.Info), "console log level: DEBUG|INFO|WARN|ERROR")
	flags.DurationVar(&runBudget, "run-budget", 30*time.Second, "wall-clock duration the simulation runs before clean shutdown")
	flags.StringVar(&logDir, "log-dir", "logs", "directory for node_<id>.log")
	_ = root.MarkPersistentFlagRequired("node-id")
	_ = root.MarkPersistentFlagRequired("consensus")
	_ = root.MarkPersistentFlagRequired("scenario")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

type runConfig struct {
	nodeID      int
	nodeCount   int
	consensusID string
	scenarioID  string
	seed        uint64
	configDir   string
	logLevel    logx.Level
	runBudget   time.Duration
	logDir      string
}

func run(rc runConfig) error {
	if rc.nodeID < 0 {
		return fmt.Errorf("--node-id is required and must be >= 0")
	}

	emitter := events.NewEmitter()

	logger, err := logx.New(rc.logDir, rc.nodeID, rc.logLevel, emitter)
	if err != nil {
		return fmt.Errorf("node: init logger: %w", err)
	}
	defer logger.Sync()

	engine, finalityDepth, accounts, initialBalances, err := buildEngine(rc)
	if err != nil {
		return fmt.Errorf("node: build consensus engine: %w", err)
	}

	persist, err := storage.OpenEphemeral(rc.nodeID)
	if err != nil {
		return fmt.Errorf("node: open block index: %w", err)
	}
	defer persist.Close()

	store := chain.New(rc.nodeID, engine, finalityDepth, emitter, persist)

	m := metrics.New(rc.nodeID)
	metrics.Observe(emitter, m)
	metricsAddr := fmt.Sprintf("127.0.0.1:%d", metricsBasePort+rc.nodeID)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: m.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("node %d: metrics server: %v", rc.nodeID, err)
		}
	}()
	defer metricsSrv.Close()

	filter, healer, err := buildScenario(rc)
	if err != nil {
		return fmt.Errorf("node: build scenario: %w", err)
	}

	listenAddr := config.PeerAddr(rc.nodeID)
	peerAddrs := config.PeerTable(rc.nodeCount, rc.nodeID)
	node := p2p.NewNode(rc.nodeID, listenAddr, peerAddrs, filter, emitter, 8)

	gen := txgen.New(rc.seed, rc.nodeID, accounts)

	sched := scheduler.New(rc.nodeID, store, engine, node, gen, emitter, healer)
	sched.WireTransport()

	if err := node.Start(); err != nil {
		return fmt.Errorf("node: start transport: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := sched.Run(ctx, rc.runBudget)

	// Stop production and transport before reporting, per the LIFO
	// shutdown ordering: consensus/production first, then transport,
	// then the logger (deferred, runs last).
	node.Stop()

	if runErr != nil {
		log.Printf("node %d: safety violation: %v", rc.nodeID, runErr)
		return runErr
	}

	reportInvariants(rc.nodeID, store, initialBalances)
	return nil
}

func buildEngine(rc runConfig) (consensus.Engine, int64, int, []int, error) {
	switch rc.consensusID {
	case "pow":
		cfg, err := config.LoadPoW(rc.configDir)
		if err != nil {
			return nil, 0, 0, nil, err
		}
		accounts := len(cfg.InitialBalances)
		if accounts == 0 {
			accounts = rc.nodeCount
		}
		return consensus.NewPoW(rc.nodeID, cfg.Difficulty), cfg.FinalityDepth, accounts, cfg.InitialBalances, nil
	case "hybrid":
		cfg, err := config.LoadHybrid(rc.configDir)
		if err != nil {
			return nil, 0, 0, nil, err
		}
		leaderTimeout := time.Duration(cfg.LeaderTimeoutMs) * time.Millisecond
		return consensus.NewHybrid(rc.nodeID, cfg.Stakes, cfg.LightDifficulty, leaderTimeout), cfg.FinalityDepth, len(cfg.Stakes), nil, nil
	default:
		return nil, 0, 0, nil, fmt.Errorf("unknown --consensus %q (want pow|hybrid)", rc.consensusID)
	}
}

func buildScenario(rc runConfig) (p2p.OutboundFilter, scheduler.Healer, error) {
	switch rc.scenarioID {
	case "delays":
		return scenario.NewDelays(rc.seed, rc.nodeID, 50*time.Millisecond, 200*time.Millisecond), nil, nil
	case "partition":
		p := scenario.NewPartition(scenario.DefaultGroupA, 15*time.Second, time.Now())
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unknown --scenario %q (want delays|partition)", rc.scenarioID)
	}
}

func reportInvariants(nodeID int, store *chain.Store, initialBalances []int) {
	if initialBalances == nil {
		return
	}
	chainTo, err := store.ChainTo(store.CurrentTip())
	if err != nil {
		return
	}
	for _, v := range invariant.CheckDoubleSpend(chainTo, initialBalances) {
		log.Printf("node %d: %s", nodeID, v.Error())
	}
}
