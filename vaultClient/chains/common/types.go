package common

import (
	"context"
	"math/big"
	"sort"

	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

// Kind groups chains that share a transaction shape.
type Kind string

const (
	KindUTXO   Kind = "utxo"
	KindEVM    Kind = "evm"
	KindCosmos Kind = "cosmos"
	KindSolana Kind = "solana"
)

// Chain names as carried in keysign payloads.
const (
	Bitcoin  = "Bitcoin"
	Litecoin = "Litecoin"
	Dogecoin = "Dogecoin"
	Dash     = "Dash"

	Ethereum    = "Ethereum"
	BSC         = "BSC"
	Avalanche   = "Avalanche"
	Base        = "Base"
	Arbitrum    = "Arbitrum"
	Polygon     = "Polygon"
	Optimism    = "Optimism"
	Blast       = "Blast"
	CronosChain = "CronosChain"
	Zksync      = "Zksync"

	GaiaChain = "GaiaChain"
	Kujira    = "Kujira"
	Dydx      = "Dydx"
	THORChain = "THORChain"
	MayaChain = "MayaChain"

	Solana = "Solana"
)

var kinds = map[string]Kind{
	Bitcoin: KindUTXO, Litecoin: KindUTXO, Dogecoin: KindUTXO, Dash: KindUTXO,

	Ethereum: KindEVM, BSC: KindEVM, Avalanche: KindEVM, Base: KindEVM, Arbitrum: KindEVM,
	Polygon: KindEVM, Optimism: KindEVM, Blast: KindEVM, CronosChain: KindEVM, Zksync: KindEVM,

	GaiaChain: KindCosmos, Kujira: KindCosmos, Dydx: KindCosmos, THORChain: KindCosmos, MayaChain: KindCosmos,

	Solana: KindSolana,
}

// KindOf returns the transaction family of a chain.
func KindOf(chain string) (Kind, bool) {
	k, ok := kinds[chain]
	return k, ok
}

// Chains returns every supported chain name, sorted.
func Chains() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsesEdDSA reports whether the chain is signed with the vault's EdDSA key.
func UsesEdDSA(chain string) bool {
	return kinds[chain] == KindSolana
}

// Signature is one collected threshold signature, keyed by the hex message it signs.
type Signature struct {
	Msg          string `json:"msg"`
	R            string `json:"r"`
	S            string `json:"s"`
	DerSignature string `json:"der_signature"`
	RecoveryID   string `json:"recovery_id"`
}

// SignedTransaction is a fully assembled transaction ready for broadcast.
type SignedTransaction struct {
	RawTransaction  string `json:"raw_transaction"`  // hex, or base64 for cosmos and base58 for solana
	TransactionHash string `json:"transaction_hash"` // hash computed locally from the raw bytes
}

// TxBuilder turns a keysign payload into messages to sign and, once signed,
// into a broadcastable transaction. Every co-signer must derive the same
// messages in the same order.
type TxBuilder interface {
	// PreSignHashes returns the hex encoded messages the vault must sign.
	// nonceOffset shifts account nonces for transactions queued behind an approve.
	PreSignHashes(payload *keysign.Payload, nonceOffset uint64) ([]string, error)

	// SignedTransaction assembles the transaction from collected signatures.
	SignedTransaction(payload *keysign.Payload, nonceOffset uint64, signatures map[string]Signature) (*SignedTransaction, error)
}

// ChainAdapter is the RPC surface of one chain.
type ChainAdapter interface {
	// Broadcast submits a raw signed transaction. An empty hash with a nil
	// error means the node accepted it without returning an identifier.
	Broadcast(ctx context.Context, raw string) (string, error)

	// EstimateFee returns the current fee unit of the chain (gas price, sat/vbyte, ...).
	EstimateFee(ctx context.Context) (*big.Int, error)
}
