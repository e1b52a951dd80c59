package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ontosys/omscore/pkg/api"
	"github.com/ontosys/omscore/pkg/audit"
	"github.com/ontosys/omscore/pkg/config"
	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/freezegate"
	"github.com/ontosys/omscore/pkg/health"
	"github.com/ontosys/omscore/pkg/identity"
	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/lockmanager"
	"github.com/ontosys/omscore/pkg/mergeengine"
	"github.com/ontosys/omscore/pkg/outbox"
	"github.com/ontosys/omscore/pkg/security"
	"github.com/ontosys/omscore/pkg/shadowindex"
	"github.com/ontosys/omscore/pkg/store"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "omscore",
	Short:   "omscore runs one replica of the ontology management system",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("omscore version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("replica-id", "replica-1", "This replica's Raft server ID")
	serveCmd.Flags().String("raft-bind-addr", "127.0.0.1:7100", "Address the Raft transport binds")
	serveCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address the HTTP/JSON API binds")
	serveCmd.Flags().String("data-dir", "./data", "Directory for BoltDB and Raft log storage")
	serveCmd.Flags().String("indexer-url", "", "Base URL of the external Indexer service; empty disables shadow-index builds")
	serveCmd.Flags().Bool("bootstrap", false, "Bootstrap a new single-replica Raft cluster instead of joining one")
	serveCmd.Flags().Bool("enable-mtls", false, "Issue an in-process CA and dial the Indexer over mTLS using a client certificate from it")
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this replica's store, lock manager, API server and background workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	replicaID, _ := cmd.Flags().GetString("replica-id")
	raftBindAddr, _ := cmd.Flags().GetString("raft-bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	indexerURL, _ := cmd.Flags().GetString("indexer-url")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	enableMTLS, _ := cmd.Flags().GetBool("enable-mtls")

	v := config.New()
	cfg := config.Load(v)

	s, err := store.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	locks, err := lockmanager.NewManager(&lockmanager.Config{
		ReplicaID:              replicaID,
		BindAddr:               raftBindAddr,
		DataDir:                dataDir,
		TTLSweepInterval:       cfg.LockSweepTTL,
		HeartbeatSweepInterval: cfg.LockSweepHeartbeat,
		DefaultAcquireTimeout:  cfg.LockDefaultTimeout,
		HeartbeatGraceFactor:   int64(cfg.LockHeartbeatGraceFactor),
	}, s)
	if err != nil {
		return fmt.Errorf("create lock manager: %w", err)
	}
	if bootstrap {
		if err := locks.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap raft cluster: %w", err)
		}
	} else {
		if err := locks.Join(); err != nil {
			return fmt.Errorf("join raft cluster: %w", err)
		}
	}
	defer locks.Shutdown()

	var indexer shadowindex.IndexerClient
	var indexerHealth health.Checker
	if indexerURL != "" {
		httpIndexer, err := newHTTPIndexer(indexerURL, replicaID, enableMTLS, s)
		if err != nil {
			return fmt.Errorf("create indexer client: %w", err)
		}
		indexer = shadowindex.NewCircuitIndexerClient(httpIndexer)
		indexerHealth = health.NewHTTPChecker(indexerURL + "/healthz")
	} else {
		indexer = noopIndexerClient{}
	}
	shadow := shadowindex.NewController(s, indexer)
	shadow.Start()
	defer shadow.Stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	dispatcher := outbox.NewDispatcher(s, outbox.NewBrokerTransport(broker), nil)
	dispatcher.Start()
	defer dispatcher.Stop()

	var secretsManager *security.SecretsManager
	if cfg.PIIEncryptionKeyID != "" {
		secretsManager, err = security.NewSecretsManagerFromPassword(cfg.PIIEncryptionKeyID)
		if err != nil {
			return fmt.Errorf("init secrets manager: %w", err)
		}
	}
	sanitizer := outbox.NewSanitizer(outbox.DefaultFieldPatterns(), cfg.PIIHandling.SanitizePolicy(), nil, secretsManager)

	sweeper := audit.NewSweeper(s, audit.DefaultRetentionPolicies(), time.Hour)
	sweeper.Start()
	defer sweeper.Stop()

	recorder := audit.NewRecorder(sanitizer)
	merge := mergeengine.NewEngine(s)
	gate := freezegate.New(locks, s)

	keys, err := identity.NewKeyCache(context.Background(), cfg.JWKSURL, time.Minute)
	if err != nil {
		return fmt.Errorf("load JWKS: %w", err)
	}
	validator := identity.NewValidator(keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AuthTokenCacheTTL)

	roleWatchStop := make(chan struct{})
	go validator.WatchRoleChanges(broker, s, roleWatchStop)
	defer close(roleWatchStop)

	server := api.NewServer(api.Deps{
		Store:         s,
		Locks:         locks,
		Gate:          gate,
		Shadow:        shadow,
		Merge:         merge,
		Audit:         recorder,
		Identity:      validator,
		Broker:        broker,
		IndexerHealth: indexerHealth,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("api listening on %s", apiAddr))
		errCh <- server.Start(apiAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Stop(ctx)
	}
}

// noopIndexerClient is used when no Indexer is configured: shadow
// builds can still be tracked through the lifecycle API via
// UpdateProgress/CompleteShadowBuild called directly, just without the
// core itself kicking one off.
type noopIndexerClient struct{}

func (noopIndexerClient) RequestBuild(_ context.Context, _ shadowindex.BuildRequest) (shadowindex.BuildAck, error) {
	return shadowindex.BuildAck{Accepted: false, Message: "no indexer configured"}, nil
}

// newHTTPIndexer builds the Indexer RPC client, dialing over mTLS when
// enableMTLS is set: it initializes (or loads) a CertAuthority backed by
// the replica's own store, issues this replica a client certificate, and
// hands the resulting tls.Config to the HTTP transport. Without
// enableMTLS it falls back to a plain HTTP client, matching prior
// behavior for deployments that terminate TLS at a sidecar/mesh instead.
func newHTTPIndexer(indexerURL, replicaID string, enableMTLS bool, s store.Store) (*shadowindex.HTTPIndexerClient, error) {
	if !enableMTLS {
		return shadowindex.NewHTTPIndexerClient(indexerURL, 30*time.Second), nil
	}

	// Using the replica ID as the cluster ID mirrors the teacher's own
	// placeholder derivation (security.DeriveKeyFromClusterID(cfg.NodeID));
	// a real multi-replica deployment would derive this from a shared
	// cluster identifier instead so every replica's CA decrypts the same way.
	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(replicaID)); err != nil {
		return nil, fmt.Errorf("set cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(s)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return nil, fmt.Errorf("persist CA: %w", err)
		}
	}
	tlsConfig, err := ca.ClientTLSConfig(replicaID)
	if err != nil {
		return nil, fmt.Errorf("issue indexer client certificate: %w", err)
	}
	return shadowindex.NewHTTPIndexerClientTLS(indexerURL, 30*time.Second, tlsConfig), nil
}
