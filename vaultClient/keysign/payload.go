// Package keysign defines what co-signers agree to sign and the compressed
// envelopes that carry session parameters between devices.
package keysign

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
)

// Swap providers.
const (
	ProviderTHORChain = "THORChain"
	ProviderMayaChain = "MayaChain"
	ProviderOneInch   = "OneInch"
)

// Coin is the asset being moved and the vault key that controls it.
type Coin struct {
	Chain           string `json:"chain"`
	Ticker          string `json:"ticker"`
	Address         string `json:"address"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Decimals        int    `json:"decimals"`
	HexPublicKey    string `json:"hexPublicKey"`
	IsNativeToken   bool   `json:"isNativeToken"`
}

type UTXOSpecific struct {
	ByteFee       int64 `json:"byteFee"` // sat/vbyte
	SendMaxAmount bool  `json:"sendMaxAmount"`
}

type EthereumSpecific struct {
	MaxFeePerGasWei string `json:"maxFeePerGasWei"`
	PriorityFeeWei  string `json:"priorityFeeWei"`
	Nonce           uint64 `json:"nonce"`
	GasLimit        uint64 `json:"gasLimit"`
}

type CosmosSpecific struct {
	AccountNumber uint64 `json:"accountNumber"`
	Sequence      uint64 `json:"sequence"`
	Gas           uint64 `json:"gas"`
}

type SolanaSpecific struct {
	RecentBlockHash            string `json:"recentBlockHash"`
	PriorityFee                uint64 `json:"priorityFee"` // micro-lamports per compute unit
	FromTokenAssociatedAddress string `json:"fromAddressPubKey,omitempty"`
	ToTokenAssociatedAddress   string `json:"toAddressPubKey,omitempty"`
}

// ChainSpecific carries exactly one chain family's signing parameters.
type ChainSpecific struct {
	UTXO     *UTXOSpecific     `json:"utxo,omitempty"`
	Ethereum *EthereumSpecific `json:"ethereum,omitempty"`
	Cosmos   *CosmosSpecific   `json:"cosmos,omitempty"`
	Solana   *SolanaSpecific   `json:"solana,omitempty"`
}

func (c ChainSpecific) count() int {
	n := 0
	for _, set := range []bool{c.UTXO != nil, c.Ethereum != nil, c.Cosmos != nil, c.Solana != nil} {
		if set {
			n++
		}
	}
	return n
}

type UTXOInfo struct {
	Hash   string `json:"hash"`
	Amount int64  `json:"amount"`
	Index  uint32 `json:"index"`
}

// OneInchTx is the transaction a 1inch quote asks the vault to send.
type OneInchTx struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      uint64 `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

type SwapPayload struct {
	Provider       string     `json:"provider"`
	FromCoin       Coin       `json:"fromCoin"`
	ToCoin         Coin       `json:"toCoin"`
	VaultAddress   string     `json:"vaultAddress"`
	RouterAddress  string     `json:"routerAddress,omitempty"`
	FromAmount     string     `json:"fromAmount"`
	ToAmount       string     `json:"toAmountDecimal"`
	ExpirationTime uint64     `json:"expirationTime"`
	Memo           string     `json:"memo,omitempty"`
	OneInchTx      *OneInchTx `json:"oneInchTx,omitempty"`
}

// ApprovePayload authorizes Spender to move Amount of the ERC20 coin.
type ApprovePayload struct {
	Amount  string `json:"amount"`
	Spender string `json:"spender"`
}

// Payload is everything a co-signer needs to derive the same messages to sign.
type Payload struct {
	Coin              Coin            `json:"coin"`
	ToAddress         string          `json:"toAddress"`
	ToAmount          string          `json:"toAmount"`
	ChainSpecific     ChainSpecific   `json:"chainSpecific"`
	UTXOs             []UTXOInfo      `json:"utxos,omitempty"`
	Memo              string          `json:"memo,omitempty"`
	SwapPayload       *SwapPayload    `json:"swapPayload,omitempty"`
	ApprovePayload    *ApprovePayload `json:"approvePayload,omitempty"`
	VaultPubKeyECDSA  string          `json:"vaultPubKeyECDSA"`
	VaultLocalPartyID string          `json:"vaultLocalPartyID"`
}

// Validate checks structural consistency. Chain-level checks happen in the builders.
func (p *Payload) Validate() error {
	if p.Coin.Chain == "" {
		return vcerrors.NewValidationError("payload coin has no chain")
	}
	if p.VaultPubKeyECDSA == "" {
		return vcerrors.NewValidationError("payload has no vault public key")
	}
	if p.ChainSpecific.count() != 1 {
		return vcerrors.NewValidationError("payload must carry exactly one chain specific block")
	}
	if p.SwapPayload == nil {
		if p.ToAddress == "" {
			return vcerrors.NewValidationError("payload has no destination address")
		}
		if _, err := ParseAmount(p.ToAmount); err != nil {
			return err
		}
	}
	if p.ApprovePayload != nil {
		if p.ChainSpecific.Ethereum == nil {
			return vcerrors.NewValidationError("approve is only supported on EVM chains")
		}
		if _, err := ParseAmount(p.ApprovePayload.Amount); err != nil {
			return err
		}
	}
	return nil
}

// ToAmountBig returns the transfer amount in base units.
func (p *Payload) ToAmountBig() (*big.Int, error) {
	return ParseAmount(p.ToAmount)
}

// ParseAmount parses a non-negative decimal amount that fits in 256 bits.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, vcerrors.NewValidationError("amount is empty")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid amount %q: %v", s, err))
	}
	return v.ToBig(), nil
}

// MessageID is the relay scope of one signed message.
func MessageID(message string) string {
	sum := md5.Sum([]byte(message))
	return hex.EncodeToString(sum[:])
}
