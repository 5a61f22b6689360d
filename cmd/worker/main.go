// Copyright 2025 Jinn Network
//
// cmd/worker wires C1-C8 in dependency order, starts the health and metrics
// servers, and runs the claim loop until a shutdown signal arrives, mirroring
// the teacher's main.go construction order and os/signal handling.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	libp2p "github.com/libp2p/go-libp2p"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/chain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/claimloop"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/config"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/contentstore"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/credential"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/database"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/delivery"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/dispatch"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/gitops"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/health"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/indexer"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/jobcontext"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/metrics"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/peergate"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/pipeline"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/signer"
)

// staticToolRegistry answers jobcontext.ToolRegistry from the configured
// AVAILABLE_TOOLS list (spec §4.6 step 4).
type staticToolRegistry struct{ set map[string]bool }

func newStaticToolRegistry(tools []string) staticToolRegistry {
	set := make(map[string]bool, len(tools))
	for _, t := range tools {
		set[t] = true
	}
	return staticToolRegistry{set: set}
}

func (r staticToolRegistry) Available(tool string) bool { return r.set[tool] }

const unclaimedRequestsPageSize = 50

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger := log.New(log.Writer(), "[Worker] ", log.LstdFlags|log.Lmicroseconds)

	showHelp := flag.Bool("help", false, "Show help message")
	flag.Parse()
	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keyBytes, err := signer.LoadKeystore(cfg.EthPrivateKeyPath, []byte(cfg.KeystorePassphrase))
	if err != nil {
		logger.Fatalf("load operator keystore: %v", err)
	}
	operatorSigner, err := signer.New(hex.EncodeToString(keyBytes), cfg.EthChainID)
	if err != nil {
		logger.Fatalf("construct signer: %v", err)
	}
	logger.Printf("operator address: %s", operatorSigner.DeriveAddress().Hex())

	gateway, err := chain.Dial(ctx, cfg.EthereumURL, cfg.EthChainID, operatorSigner, chain.Addresses{
		Registry:    common.HexToAddress(cfg.RegistryAddress),
		Staking:     common.HexToAddress(cfg.StakingAddress),
		Marketplace: common.HexToAddress(cfg.MarketplaceAddress),
		Safe:        common.HexToAddress(cfg.SafeAddress),
	})
	if err != nil {
		logger.Fatalf("dial chain gateway: %v", err)
	}
	defer gateway.Close()
	gateway.WatchedServiceIDs(watchedServiceIDs(cfg.ServiceID))

	blockstore := contentstore.NewMemoryBlockstore()
	content := contentstore.New(blockstore, cfg.IPFSGatewayURL, cfg.GatewayTimeout,
		contentstore.WithMaxRetries(cfg.GatewayMaxRetry),
		contentstore.WithLogger(log.New(log.Writer(), "[ContentStore] ", log.LstdFlags)),
	)

	gater := peergate.New(gateway, cfg.TrustedPeerIDs, cfg.StakeCacheTTL)
	p2pHost, err := libp2p.New(
		libp2p.ListenAddrStrings(cfg.ListenMultiaddr),
		libp2p.ConnectionGater(gater),
	)
	if err != nil {
		logger.Printf("peer overlay disabled, libp2p host failed to start: %v", err)
	} else {
		defer p2pHost.Close()
		logger.Printf("peer overlay listening, peer id %s", p2pHost.ID())
	}

	indexerClient := indexer.New(cfg.IndexerURL, 10*time.Second, nil)

	credentialClient := credential.New(cfg.CredentialBrokerURL, nil, operatorSigner)
	if err := credentialClient.DiscoverCapabilities(ctx); err != nil {
		logger.Printf("credential capability discovery failed (non-fatal): %v", err)
	}

	metadataFetcher := jobcontext.NewContentMetadataFetcher(content)
	measurementSource := jobcontext.NewContentMeasurementSource(indexerClient, content)
	toolRegistry := newStaticToolRegistry(cfg.AvailableTools)
	contextBuilder := jobcontext.New(metadataFetcher, indexerClient, measurementSource, toolRegistry)

	credentialGate := credential.NewGate(credentialClient, enabledToolsFetcher(metadataFetcher))

	if err := os.MkdirAll(cfg.WorkspacePath, 0o755); err != nil {
		logger.Fatalf("create workspace %s: %v", cfg.WorkspacePath, err)
	}
	gitService := gitops.New(cfg.WorkspacePath, cfg.SSHHostAlias)

	agent := &pipeline.SubprocessAgent{Binary: cfg.AgentBinary}
	var pipelineOpts []pipeline.Option
	pipelineOpts = append(pipelineOpts, pipeline.WithGitOps(gitService))
	pipelineOpts = append(pipelineOpts, pipeline.WithLogger(log.New(log.Writer(), "[Pipeline] ", log.LstdFlags)))
	if cfg.ReflectionEnabled {
		pipelineOpts = append(pipelineOpts, pipeline.WithReflection(agent))
	}
	execPipeline := pipeline.New(contextBuilder, agent, indexerClient, cfg, cfg.InFlightCap, pipelineOpts...)

	dispatcher := dispatch.New(content, gateway, common.HexToAddress(cfg.MechAddress))
	deliverySvc := delivery.New(content, &submitterAdapter{gateway: gateway}, indexerClient, dispatcher, indexerClient,
		delivery.WithLogger(log.New(log.Writer(), "[Delivery] ", log.LstdFlags)),
	)

	var lease leaseStore
	if cfg.DatabaseURL != "" {
		dbClient, err := database.NewClient(cfg.DatabaseURL)
		if err != nil {
			logger.Printf("database connection failed, claim-lease persistence disabled: %v", err)
		} else {
			defer dbClient.Close()
			if err := dbClient.Migrate(ctx); err != nil {
				logger.Printf("database migration failed: %v", err)
			}
			lease = database.NewLeaseRepository(dbClient)
		}
	}

	workerRunner := newRunner(execPipeline, deliverySvc, nil, lease, log.New(log.Writer(), "[Runner] ", log.LstdFlags))

	loop := claimloop.New(
		&requestSourceAdapter{client: indexerClient, limit: unclaimedRequestsPageSize},
		&stakeGateAdapter{gateway: gateway},
		&dependencyCheckerAdapter{client: indexerClient},
		credentialGate,
		&claimerAdapter{gateway: gateway},
		workerRunner,
		cfg.MechAddress,
		cfg.TickInterval,
		claimloop.WithLogger(log.New(log.Writer(), "[ClaimLoop] ", log.LstdFlags)),
	)

	nodeID := common.HexToAddress(cfg.SafeAddress).Hex()
	if len(nodeID) >= 10 {
		nodeID = nodeID[2:10]
	}
	healthStatus := health.New(nodeID, loop)
	healthStatus.SetChain("connected")
	healthStatus.SetContentStore("connected")
	workerRunner.SetHealth(healthStatus)

	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if gater.ColdStartFailOpen() {
					healthStatus.SetOperatorWarning(true)
				}
			}
		}
	}()

	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: healthHandler(healthStatus)}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}

	go func() {
		logger.Printf("health endpoint listening on %s", cfg.HealthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("health server: %v", err)
		}
	}()
	go func() {
		logger.Printf("metrics endpoint listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server: %v", err)
		}
	}()

	go loop.Run(ctx)
	logger.Printf("worker running, mech %s, service %d", mechAddress(cfg.MechAddress).Hex(), cfg.ServiceID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("shutdown signal received, draining in-flight work")

	loop.Stop()
	workerRunner.Wait()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("health server shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown: %v", err)
	}
	logger.Printf("worker stopped")
}

func healthHandler(s *health.Status) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.Handler())
	return mux
}

func watchedServiceIDs(serviceID int64) []*big.Int {
	return []*big.Int{big.NewInt(serviceID)}
}

// enabledToolsFetcher adapts jobcontext's content-addressed metadata
// resolution to pkg/credential.MetadataFetcher's enabled-tools-only shape,
// so the credential gate can derive required providers without duplicating
// the metadata fetch path (spec §4.5 "derive required credential providers
// from the request's enabled-tools list").
func enabledToolsFetcher(fetcher jobcontext.MetadataFetcher) credential.MetadataFetcher {
	return func(ctx context.Context, r domain.Request) ([]string, error) {
		metadata, err := fetcher.FetchMetadata(ctx, r)
		if err != nil {
			return nil, err
		}
		return metadata.EnabledTools, nil
	}
}

func printHelp() {
	fmt.Println(`jinn-worker: decentralized compute worker for the mech marketplace

Usage:
  jinn-worker [flags]

Flags:
  -help    Show this help message

Configuration is read entirely from environment variables; see pkg/config
for the full list of required and optional variables.`)
}
