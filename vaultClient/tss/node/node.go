// Package node assembles the ceremony stack from a config: storage, relay,
// round driver, coordinator, chain registry, ceremony runner and the status
// server.
package node

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/pushchain/push-vault-client/vaultClient/api"
	"github.com/pushchain/push-vault-client/vaultClient/chains"
	"github.com/pushchain/push-vault-client/vaultClient/config"
	"github.com/pushchain/push-vault-client/vaultClient/db"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
	"github.com/pushchain/push-vault-client/vaultClient/metrics"
	"github.com/pushchain/push-vault-client/vaultClient/tss/ceremony"
	"github.com/pushchain/push-vault-client/vaultClient/tss/coordinator"
	"github.com/pushchain/push-vault-client/vaultClient/tss/discovery"
	"github.com/pushchain/push-vault-client/vaultClient/tss/engine"
	"github.com/pushchain/push-vault-client/vaultClient/tss/keyshare"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
	"github.com/pushchain/push-vault-client/vaultClient/tss/round"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
	"github.com/pushchain/push-vault-client/vaultClient/tss/txbroadcaster"
	"github.com/pushchain/push-vault-client/vaultClient/tss/verifier"
)

const keyshareDir = "keyshares"

// Options overrides parts of the stack built from config. Zero values use
// the config-derived defaults.
type Options struct {
	// Database to use instead of the one under the node home.
	Database *db.DB
	// Engine to use instead of the backend named in config.
	Engine engine.Factory
	// DisableStatusServer skips the HTTP status server.
	DisableStatusServer bool
}

// Node owns every long-lived component of a vault client.
type Node struct {
	cfg      config.Config
	database *db.DB
	ownsDB   bool
	pool     *workerpool.WorkerPool
	chains   *chains.Registry
	results  *resultstore.Store
	tracker  *ceremony.Tracker
	runner   *ceremony.Runner
	server   *api.Server
	registry *prometheus.Registry
	logger   zerolog.Logger
}

// New builds a node from cfg. The node is idle until Start.
func New(cfg config.Config, opts Options, logger zerolog.Logger) (*Node, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.LocalPartyID == "" {
		return nil, fmt.Errorf("local_party_id is required")
	}
	if cfg.NodeHome == "" {
		return nil, fmt.Errorf("node_home is required")
	}

	logger = logger.With().Str("component", "vault_node").Str("party", cfg.LocalPartyID).Logger()

	factory := opts.Engine
	if factory == nil {
		f, err := engine.LookupFactory(cfg.EngineBackend)
		if err != nil {
			return nil, err
		}
		factory = f
	}

	n := &Node{cfg: cfg, logger: logger, database: opts.Database}
	if n.database == nil {
		database, err := db.OpenNodeDB(cfg.NodeHome)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		n.database = database
		n.ownsDB = true
	}

	if err := n.build(factory, opts); err != nil {
		_ = n.Stop()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(factory engine.Factory, opts Options) error {
	cfg := &n.cfg

	n.registry = prometheus.NewRegistry()
	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(n.registry)

	n.results = resultstore.NewStore(n.database.Client(), n.logger)
	shares, err := keyshare.NewStore(filepath.Join(cfg.NodeHome, keyshareDir), cfg.KeysharePassword)
	if err != nil {
		return fmt.Errorf("failed to open key share store: %w", err)
	}

	client := relay.NewClient(n.logger)
	n.pool = workerpool.New(cfg.EngineWorkers)
	driver := round.NewDriver(n.pool, client, verifier.New(n.results, client, n.logger), round.Config{
		MaxAttempts:  cfg.RoundMaxAttempts,
		Backoff:      cfg.RoundRetryBackoff(),
		PullInterval: cfg.MessagePullInterval(),
		DedupSize:    cfg.DedupCacheSize,
	}, m, n.logger)

	disc := discovery.New(discovery.Config{MediatorPort: cfg.MediatorPort}, n.logger)
	coord := coordinator.New(client, disc, coordinator.Config{
		RelayURL:           cfg.RelayURL,
		StartPollInterval:  cfg.StartPollInterval(),
		QuorumPollInterval: cfg.QuorumPollInterval(),
		QuorumMaxAttempts:  cfg.QuorumMaxAttempts,
	}, n.logger)

	n.chains, err = chains.NewRegistryFromConfig(cfg, n.logger)
	if err != nil {
		return fmt.Errorf("failed to build chain registry: %w", err)
	}
	dispatcher := txbroadcaster.NewDispatcher(txbroadcaster.Config{
		Registry: n.chains,
		Recorder: n.results,
		Metrics:  m,
		Logger:   n.logger,
	})

	n.tracker, err = ceremony.NewTracker(ceremony.DefaultTrackerSize)
	if err != nil {
		return fmt.Errorf("failed to create status tracker: %w", err)
	}
	n.runner, err = ceremony.NewRunner(ceremony.Config{
		Coordinator:  coord,
		Driver:       driver,
		Relay:        client,
		Engine:       factory,
		Shares:       shares,
		Vaults:       n.results,
		Dispatcher:   dispatcher,
		LocalPartyID: cfg.LocalPartyID,
		Updates:      n.tracker.Updates(),
		Metrics:      m,
		Logger:       n.logger,
	})
	if err != nil {
		return err
	}

	if !opts.DisableStatusServer {
		n.server = api.NewServer(api.Config{
			Ceremonies: n.tracker,
			Vaults:     n.results,
			Broadcasts: n.results,
			Chains:     n.chains,
			Gatherer:   n.registry,
		}, n.logger, cfg.StatusServerPort)
	}
	return nil
}

// Start runs the status tracker until ctx is done and brings up the status server.
func (n *Node) Start(ctx context.Context) error {
	go n.tracker.Run(ctx)
	if n.server != nil {
		if err := n.server.Start(); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
	}
	n.logger.Info().
		Str("relay", n.cfg.RelayURL).
		Strs("chains", n.chains.Chains()).
		Msg("vault node started")
	return nil
}

// Stop releases every component. It is safe to call on a partially built node.
func (n *Node) Stop() error {
	var result *multierror.Error

	if n.server != nil {
		if err := n.server.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop status server: %w", err))
		}
	}
	if n.pool != nil {
		n.pool.StopWait()
	}
	if n.chains != nil {
		n.chains.Close()
	}
	if n.ownsDB && n.database != nil {
		if err := n.database.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	n.logger.Info().Msg("vault node stopped")
	return nil
}

// NewSession creates a session this node initiates.
func (n *Node) NewSession(useRelay bool) (session.Session, error) {
	return session.NewInitiated(n.cfg.ServiceNamePrefix, n.cfg.LocalPartyID, useRelay)
}

// JoinKeygen joins a keygen or reshare from its join envelope.
func (n *Node) JoinKeygen(ctx context.Context, content string) (*resultstore.Vault, error) {
	return n.runner.JoinKeygen(ctx, content)
}

// InitiateKeygen hosts a keygen or reshare.
func (n *Node) InitiateKeygen(ctx context.Context, sess session.Session, params ceremony.KeygenParams, minParties int) (*resultstore.Vault, error) {
	return n.runner.InitiateKeygen(ctx, sess, params, minParties)
}

// JoinKeysign joins a keysign from its join envelope using the vault
// identified by vaultPubKeyECDSA.
func (n *Node) JoinKeysign(ctx context.Context, vaultPubKeyECDSA, content string) (*ceremony.KeysignResult, error) {
	return n.runner.JoinKeysign(ctx, vaultPubKeyECDSA, content)
}

// InitiateKeysign hosts a keysign of payload.
func (n *Node) InitiateKeysign(ctx context.Context, sess session.Session, payload *keysign.Payload, minParties int) (*ceremony.KeysignResult, error) {
	return n.runner.InitiateKeysign(ctx, sess, payload, minParties)
}

// KeygenEnvelope encodes the join envelope of a keygen hosted on sess.
func (n *Node) KeygenEnvelope(sess session.Session, params ceremony.KeygenParams) (string, error) {
	return ceremony.KeygenEnvelope(sess, params)
}

// KeysignEnvelope encodes the join envelope of a keysign hosted on sess.
func (n *Node) KeysignEnvelope(sess session.Session, payload *keysign.Payload) (string, error) {
	return n.runner.KeysignEnvelope(sess, payload)
}

// Status returns the latest status of a ceremony.
func (n *Node) Status(sessionID string) (ceremony.Status, bool) {
	return n.tracker.Get(sessionID)
}

// Vaults lists the vaults stored on this device.
func (n *Node) Vaults() ([]resultstore.Vault, error) {
	return n.results.ListVaults()
}
