package utxo

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
)

// ScriptType is how the vault key locks its outputs on a chain.
type ScriptType int

const (
	P2WPKH ScriptType = iota
	P2PKH
)

// ChainParams describes one UTXO chain.
type ChainParams struct {
	Net        *chaincfg.Params
	ScriptType ScriptType
	DustLimit  int64 // smallest change output worth creating, in base units
}

var litecoinParams = func() chaincfg.Params {
	p := chaincfg.MainNetParams
	p.Name = "litecoin"
	p.Net = wire.BitcoinNet(0xdbb6c0fb)
	p.Bech32HRPSegwit = "ltc"
	p.PubKeyHashAddrID = 0x30
	p.ScriptHashAddrID = 0x32
	p.PrivateKeyID = 0xb0
	return p
}()

var dogecoinParams = func() chaincfg.Params {
	p := chaincfg.MainNetParams
	p.Name = "dogecoin"
	p.Net = wire.BitcoinNet(0xc0c0c0c0)
	p.Bech32HRPSegwit = ""
	p.PubKeyHashAddrID = 0x1e
	p.ScriptHashAddrID = 0x16
	p.PrivateKeyID = 0x9e
	return p
}()

var dashParams = func() chaincfg.Params {
	p := chaincfg.MainNetParams
	p.Name = "dash"
	p.Net = wire.BitcoinNet(0xbd6b0cbf)
	p.Bech32HRPSegwit = ""
	p.PubKeyHashAddrID = 0x4c
	p.ScriptHashAddrID = 0x10
	p.PrivateKeyID = 0xcc
	return p
}()

// Segwit address decoding only accepts registered bech32 prefixes.
func init() {
	if err := chaincfg.Register(&litecoinParams); err != nil {
		panic(fmt.Sprintf("failed to register litecoin params: %v", err))
	}
}

var chains = map[string]ChainParams{
	common.Bitcoin:  {Net: &chaincfg.MainNetParams, ScriptType: P2WPKH, DustLimit: 546},
	common.Litecoin: {Net: &litecoinParams, ScriptType: P2WPKH, DustLimit: 1000},
	common.Dogecoin: {Net: &dogecoinParams, ScriptType: P2PKH, DustLimit: 1000000},
	common.Dash:     {Net: &dashParams, ScriptType: P2PKH, DustLimit: 1000},
}

// Params returns the parameters of a supported UTXO chain.
func Params(chain string) (ChainParams, bool) {
	p, ok := chains[chain]
	return p, ok
}
