// Package chains maps chain names to their transaction builders and RPC adapters.
package chains

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	"github.com/pushchain/push-vault-client/vaultClient/chains/cosmos"
	"github.com/pushchain/push-vault-client/vaultClient/chains/evm"
	"github.com/pushchain/push-vault-client/vaultClient/chains/svm"
	"github.com/pushchain/push-vault-client/vaultClient/chains/utxo"
	"github.com/pushchain/push-vault-client/vaultClient/config"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
)

// AdapterFactory connects a chain adapter on first use.
type AdapterFactory func() (common.ChainAdapter, error)

// Registry holds the builder and adapter of every supported chain.
type Registry struct {
	mu        sync.RWMutex
	builders  map[string]common.TxBuilder
	factories map[string]AdapterFactory
	adapters  map[string]common.ChainAdapter
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		builders:  make(map[string]common.TxBuilder),
		factories: make(map[string]AdapterFactory),
		adapters:  make(map[string]common.ChainAdapter),
		logger:    logger.With().Str("component", "chain_registry").Logger(),
	}
}

// Register adds a chain with a ready adapter. adapter may be nil for
// chains that are only signed, never broadcast from here.
func (r *Registry) Register(chain string, builder common.TxBuilder, adapter common.ChainAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[chain] = builder
	delete(r.factories, chain)
	if adapter != nil {
		r.adapters[chain] = adapter
	} else {
		delete(r.adapters, chain)
	}
}

// RegisterLazy adds a chain whose adapter is connected on first use.
func (r *Registry) RegisterLazy(chain string, builder common.TxBuilder, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[chain] = builder
	delete(r.adapters, chain)
	if factory != nil {
		r.factories[chain] = factory
	} else {
		delete(r.factories, chain)
	}
}

// Builder returns the chain's transaction builder.
func (r *Registry) Builder(chain string) (common.TxBuilder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[chain]
	if !ok {
		return nil, vcerrors.NewUnsupportedChainError(chain)
	}
	return b, nil
}

// HasAdapter reports whether a broadcast path is configured, without connecting.
func (r *Registry) HasAdapter(chain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ready := r.adapters[chain]
	_, lazy := r.factories[chain]
	return ready || lazy
}

// Adapter returns the chain's adapter, connecting it if needed.
func (r *Registry) Adapter(chain string) (common.ChainAdapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[chain]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[chain]; ok {
		return a, nil
	}
	factory, ok := r.factories[chain]
	if !ok {
		return nil, vcerrors.NewUnsupportedChainError(chain).WithContext("reason", "no rpc endpoint configured")
	}
	a, err := factory()
	if err != nil {
		return nil, vcerrors.NewNetworkError(fmt.Sprintf("failed to connect to %s", chain), err).
			WithContext("chain", chain)
	}
	r.adapters[chain] = a
	delete(r.factories, chain)
	r.logger.Info().Str("chain", chain).Msg("chain adapter connected")
	return a, nil
}

// Chains returns the registered chain names, sorted.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down every connected adapter.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chain, a := range r.adapters {
		if c, ok := a.(interface{ Close() }); ok {
			c.Close()
			r.logger.Debug().Str("chain", chain).Msg("chain adapter closed")
		}
	}
	r.adapters = make(map[string]common.ChainAdapter)
}

// NewRegistryFromConfig registers every supported chain. Adapters are
// created only for chains with rpc_urls and connect on first broadcast.
func NewRegistryFromConfig(cfg *config.Config, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for _, chain := range common.Chains() {
		chainCfg := cfg.GetChainConfig(chain)
		builder, factory, err := chainEntry(chain, chainCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to set up chain %s: %w", chain, err)
		}
		r.RegisterLazy(chain, builder, factory)
		r.logger.Debug().
			Str("chain", chain).
			Bool("broadcast", factory != nil).
			Msg("chain registered")
	}
	return r, nil
}

func chainEntry(chain string, cfg *config.ChainSpecificConfig, logger zerolog.Logger) (common.TxBuilder, AdapterFactory, error) {
	kind, _ := common.KindOf(chain)
	urls := cfg.RPCURLs

	switch kind {
	case common.KindUTXO:
		b, err := utxo.NewTxBuilder(chain)
		if err != nil {
			return nil, nil, err
		}
		if len(urls) == 0 {
			return b, nil, nil
		}
		return b, func() (common.ChainAdapter, error) {
			return utxo.NewRPCClient(urls[0], cfg.RPCUser, cfg.RPCPassword, logger)
		}, nil

	case common.KindEVM:
		chainID := evm.DefaultChainIDs[chain]
		if cfg.EVMChainID != nil {
			chainID = *cfg.EVMChainID
		}
		b, err := evm.NewTxBuilder(chainID)
		if err != nil {
			return nil, nil, err
		}
		if len(urls) == 0 {
			return b, nil, nil
		}
		return b, func() (common.ChainAdapter, error) {
			return evm.NewRPCClient(urls, chainID, logger)
		}, nil

	case common.KindCosmos:
		params, ok := cosmos.Params(chain, cfg)
		if !ok {
			return nil, nil, vcerrors.NewUnsupportedChainError(chain)
		}
		b := cosmos.NewTxBuilder(chain, params)
		if len(urls) == 0 {
			return b, nil, nil
		}
		return b, func() (common.ChainAdapter, error) {
			return cosmos.NewRPCClient(urls[0], params.FeeAmount, logger)
		}, nil

	case common.KindSolana:
		b := svm.NewTxBuilder()
		if len(urls) == 0 {
			return b, nil, nil
		}
		return b, func() (common.ChainAdapter, error) {
			return svm.NewRPCClient(urls, logger)
		}, nil
	}
	return nil, nil, vcerrors.NewUnsupportedChainError(chain)
}
