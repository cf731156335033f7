package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/timewave-computer/almanac-sub002/pkg/auth"
	"github.com/timewave-computer/almanac-sub002/pkg/chainadapter"
	cosmosadapter "github.com/timewave-computer/almanac-sub002/pkg/chainadapter/cosmos"
	evmadapter "github.com/timewave-computer/almanac-sub002/pkg/chainadapter/evm"
	"github.com/timewave-computer/almanac-sub002/pkg/config"
	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/hotstore"
	"github.com/timewave-computer/almanac-sub002/pkg/metrics"
	"github.com/timewave-computer/almanac-sub002/pkg/query"
	"github.com/timewave-computer/almanac-sub002/pkg/ratelimit"
	"github.com/timewave-computer/almanac-sub002/pkg/registry"
	"github.com/timewave-computer/almanac-sub002/pkg/reorg"
	"github.com/timewave-computer/almanac-sub002/pkg/server"
	"github.com/timewave-computer/almanac-sub002/pkg/smt"
	"github.com/timewave-computer/almanac-sub002/pkg/subscription"
	"github.com/timewave-computer/almanac-sub002/pkg/syncer"
	"github.com/timewave-computer/almanac-sub002/pkg/warmstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the indexer: ingest configured chains and serve the API",
	RunE:  runIndexer,
}

func init() {
	runCmd.Flags().String("api-host", "0.0.0.0", "API bind host")
	runCmd.Flags().Int("api-port", 8080, "API bind port")
	runCmd.Flags().String("eth-rpc", "", "override the first configured EVM chain's rpc_url")
	runCmd.Flags().String("cosmos-rpc", "", "override the first configured Cosmos chain's rpc_url")
	runCmd.Flags().String("config", "almanac.toml", "path to the TOML configuration file")
}

func runIndexer(cmd *cobra.Command, args []string) error {
	apiHost, _ := cmd.Flags().GetString("api-host")
	apiPort, _ := cmd.Flags().GetInt("api-port")
	ethRPCOverride, _ := cmd.Flags().GetString("eth-rpc")
	cosmosRPCOverride, _ := cmd.Flags().GetString("cosmos-rpc")
	configPath, _ := cmd.Flags().GetString("config")

	logger := log.New(os.Stdout, "[almanac] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyRPCOverrides(cfg, ethRPCOverride, cosmosRPCOverride)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hotDir := cfg.Storage.HotStorePath
	if hotDir == "" {
		hotDir = "./data/rocks"
	}
	if err := os.MkdirAll(filepath.Dir(hotDir), 0o755); err != nil {
		return fmt.Errorf("create hot store directory: %w", err)
	}
	db, err := dbm.NewDB("almanac", dbm.GoLevelDBBackend, hotDir)
	if err != nil {
		return fmt.Errorf("open hot store: %w", err)
	}
	hot := hotstore.New(db)

	warm, err := warmstore.NewClient(cfg.Storage.DatabaseURL, warmstore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connect warm store: %w", err)
	}
	defer warm.Close()
	if err := warm.MigrateUp(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	schemas := registry.NewMemoryStore()
	tree := smt.New(hotstore.NewSMTAdapter(hot))
	reorgTracker := reorg.New(reorg.DefaultConfig())
	conns := ratelimit.NewConnectionManager(120)

	adapters, err := buildAdapters(ctx, cfg, schemas, logger)
	if err != nil {
		return err
	}

	subStore := subscription.NewMemoryStore()
	jwtSecret := cfg.Server.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret-change-me"
		logger.Printf("warning: server.jwt_secret is empty, using an insecure development default")
	}
	authState := auth.NewState([]byte(jwtSecret))
	hub := subscription.NewHub(subStore, authState, logger)

	queryCache := query.NewCache(10_000, 30*time.Second)
	engine := query.NewEngine(hotstore.NewQueryAdapter(hot), warm.Events, queryCache)
	agg := query.NewAggregationManager(warm.Events)

	g, gctx := errgroup.WithContext(ctx)

	for chainID, a := range adapters {
		a := a
		chainID := chainID
		g.Go(func() error {
			return ingestChain(gctx, chainID, a, hot, tree, hub, reorgTracker, conns, logger)
		})
		g.Go(func() error {
			return syncer.New(chainID, hot, warmWriter{warm}, syncer.DefaultConfig(), logger).Run(gctx)
		})
	}

	srv := server.New(server.Server{
		Engine:  engine,
		Blocks:  warm.Blocks,
		Schemas: schemas,
		Auth:    authState,
		Agg:     agg,
		Hub:     hub,
		Health:  conns.Health,
		Logger:  logger,
		Version: Version,
	})

	addr := fmt.Sprintf("%s:%d", apiHost, apiPort)
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

	g.Go(func() error {
		logger.Printf("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Printf("shutdown signal received")
	case <-gctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	cancel()

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Printf("shutdown: %v", err)
	}
	return nil
}

// applyRPCOverrides patches the first enabled chain of each family with the
// CLI-supplied RPC URL override, matching spec.md §6's --eth-rpc/--cosmos-rpc
// flags.
func applyRPCOverrides(cfg *config.Config, ethRPC, cosmosRPC string) {
	if ethRPC != "" {
		for id, chain := range cfg.EVMChains {
			if !chain.Enabled {
				continue
			}
			chain.RPCURL = ethRPC
			cfg.EVMChains[id] = chain
			break
		}
	}
	if cosmosRPC != "" {
		for id, chain := range cfg.CosmosChains {
			if !chain.Enabled {
				continue
			}
			chain.RPCURL = cosmosRPC
			cfg.CosmosChains[id] = chain
			break
		}
	}
}

func buildAdapters(ctx context.Context, cfg *config.Config, schemas registry.Store, logger *log.Logger) (map[event.ChainID]chainadapter.Adapter, error) {
	out := make(map[event.ChainID]chainadapter.Adapter)

	for _, chain := range cfg.EVMChains {
		if !chain.Enabled {
			continue
		}
		a, err := evmadapter.New(ctx, evmadapter.Config{
			ChainID:           event.ChainID(chain.ChainID),
			RPCURL:            chain.RPCURL,
			ConfirmationDepth: chain.ConfirmationDepth,
			Schemas:           schemas,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build evm adapter %s: %w", chain.ChainID, err)
		}
		out[a.ChainID()] = a
	}

	for _, chain := range cfg.CosmosChains {
		if !chain.Enabled {
			continue
		}
		a := cosmosadapter.New(cosmosadapter.Config{
			ChainID: event.ChainID(chain.ChainID),
			RPCURL:  chain.RPCURL,
			Logger:  logger,
		})
		out[a.ChainID()] = a
	}

	return out, nil
}

// eventFactDomain separates event-derived SMT leaves from other fact kinds
// that may later share the tree (e.g. valence account state snapshots).
const eventFactDomain = 0x01

// ingestChain drains a's live event subscription into the hot store and
// causality SMT, polls the chain head every five seconds to update the
// reorg tracker, and broadcasts every stored event to WebSocket subscribers.
func ingestChain(ctx context.Context, chain event.ChainID, a chainadapter.Adapter, hot *hotstore.Store, tree *smt.Tree, hub *subscription.Hub, tracker *reorg.Tracker, conns *ratelimit.ConnectionManager, logger *log.Logger) error {
	sub, err := a.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", chain, err)
	}
	defer sub.Close()

	blockTicker := time.NewTicker(5 * time.Second)
	defer blockTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-blockTicker.C:
			block, err := a.GetLatestBlock(ctx)
			if err != nil || block == nil {
				continue
			}
			reorgEvent, err := tracker.Observe(chain, *block)
			if err != nil {
				logger.Printf("ingest[%s]: reorg observe: %v", chain, err)
				continue
			}
			if reorgEvent != nil {
				logger.Printf("ingest[%s]: reorg detected, %d blocks reorganized", chain, len(reorgEvent.ReorganizedBlocks))
				if err := tracker.Apply(hot, reorgEvent); err != nil {
					logger.Printf("ingest[%s]: reorg apply: %v", chain, err)
				}
			}
		case err, ok := <-sub.Err():
			if !ok {
				return nil
			}
			if err != nil {
				conns.Health.RecordFailure(string(chain))
				metrics.IngestionErrorsTotal.WithLabelValues(string(chain)).Inc()
				logger.Printf("ingest[%s]: subscription error: %v", chain, err)
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			// No round-trip timer sits on the push-subscription path, unlike a
			// request/response RPC call, so latency is left unmeasured here.
			conns.Health.RecordSuccess(string(chain), 0)
			if err := hot.StoreEvent(&ev); err != nil {
				logger.Printf("ingest[%s]: store event %s: %v", chain, ev.ID, err)
				continue
			}
			metrics.EventsIngestedTotal.WithLabelValues(string(chain), ev.EventType).Inc()
			metrics.LatestBlockHeight.WithLabelValues(string(chain), "hot").Set(float64(ev.BlockNumber))

			fact := smt.EncodeFact(eventFactDomain, []byte(ev.ID), []byte(ev.EventType))
			if _, err := tree.Insert(fact); err != nil {
				logger.Printf("ingest[%s]: smt insert %s: %v", chain, ev.ID, err)
			} else {
				metrics.SMTRootUpdatesTotal.WithLabelValues(string(chain)).Inc()
			}

			hub.Broadcast(ctx, ev)
		}
	}
}

// warmWriter narrows *warmstore.Client to syncer.WarmWriter.
type warmWriter struct{ c *warmstore.Client }

func (w warmWriter) StoreEvent(ctx context.Context, e *event.Event) error {
	return w.c.Events.StoreEvent(ctx, e)
}
func (w warmWriter) UpsertBlock(ctx context.Context, b *event.Block) error {
	return w.c.Blocks.UpsertBlock(ctx, b)
}
func (w warmWriter) UpdateBlockStatus(ctx context.Context, chain event.ChainID, number uint64, status event.BlockStatus) error {
	return w.c.Blocks.UpdateBlockStatus(ctx, chain, number, status)
}
func (w warmWriter) GetLatestBlock(ctx context.Context, chain event.ChainID) (*event.Block, error) {
	return w.c.Blocks.GetLatestBlock(ctx, chain)
}
func (w warmWriter) SetSyncedLatestBlock(ctx context.Context, chain event.ChainID, block uint64) error {
	return w.c.SyncState.SetSyncedLatestBlock(ctx, chain, block)
}
func (w warmWriter) GetSyncedLatestBlock(ctx context.Context, chain event.ChainID) (uint64, bool, error) {
	return w.c.SyncState.GetSyncedLatestBlock(ctx, chain)
}
