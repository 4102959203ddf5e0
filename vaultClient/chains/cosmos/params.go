package cosmos

import (
	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	"github.com/pushchain/push-vault-client/vaultClient/config"
)

// ChainParams describes one Cosmos-SDK chain.
type ChainParams struct {
	ChainID      string
	Denom        string
	Bech32Prefix string
	DefaultGas   uint64
	FeeAmount    int64
}

var defaults = map[string]ChainParams{
	common.GaiaChain: {ChainID: "cosmoshub-4", Denom: "uatom", Bech32Prefix: "cosmos", DefaultGas: 200000, FeeAmount: 7500},
	common.Kujira:    {ChainID: "kaiyo-1", Denom: "ukuji", Bech32Prefix: "kujira", DefaultGas: 200000, FeeAmount: 1000},
	common.Dydx:      {ChainID: "dydx-mainnet-1", Denom: "adydx", Bech32Prefix: "dydx", DefaultGas: 200000, FeeAmount: 2500000000000000},
	common.THORChain: {ChainID: "thorchain-1", Denom: "rune", Bech32Prefix: "thor", DefaultGas: 20000000, FeeAmount: 0},
	common.MayaChain: {ChainID: "mayachain-mainnet-v1", Denom: "cacao", Bech32Prefix: "maya", DefaultGas: 2000000000, FeeAmount: 0},
}

// Params returns the chain's parameters with any configured overrides applied.
func Params(chain string, cfg *config.ChainSpecificConfig) (ChainParams, bool) {
	p, ok := defaults[chain]
	if !ok {
		return ChainParams{}, false
	}
	if cfg == nil {
		return p, true
	}
	if cfg.CosmosChainID != "" {
		p.ChainID = cfg.CosmosChainID
	}
	if cfg.Denom != "" {
		p.Denom = cfg.Denom
	}
	if cfg.Bech32Prefix != "" {
		p.Bech32Prefix = cfg.Bech32Prefix
	}
	if cfg.FeeAmount != nil {
		p.FeeAmount = *cfg.FeeAmount
	}
	return p, true
}
