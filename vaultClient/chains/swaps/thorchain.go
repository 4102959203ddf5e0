// Package swaps builds the source-chain side of cross-chain swaps.
package swaps

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	"github.com/pushchain/push-vault-client/vaultClient/chains/evm"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

// DefaultDepositGasLimit covers a router deposit of a native asset or an ERC20.
const DefaultDepositGasLimit uint64 = 160000

const depositWithExpiry = "depositWithExpiry(address,address,uint256,string,uint256)"

// THORChainBuilder sends the swapped funds into a THORChain inbound vault.
// EVM sources call the router; UTXO and Cosmos sources transfer to the
// vault address with the swap memo attached.
type THORChainBuilder struct {
	chain string
	base  common.TxBuilder
}

// NewTHORChainBuilder wraps the regular builder of the source chain.
func NewTHORChainBuilder(chain string, base common.TxBuilder) (*THORChainBuilder, error) {
	kind, ok := common.KindOf(chain)
	if !ok {
		return nil, vcerrors.NewUnsupportedChainError(chain)
	}
	switch kind {
	case common.KindEVM:
		if _, ok := base.(*evm.TxBuilder); !ok {
			return nil, fmt.Errorf("%s swaps need an EVM builder, got %T", chain, base)
		}
	case common.KindUTXO:
	case common.KindCosmos:
		// Native RUNE and CACAO swap through MsgDeposit, which is not built here.
		if chain == common.THORChain || chain == common.MayaChain {
			return nil, vcerrors.NewUnsupportedChainError(chain).WithContext("provider", keysign.ProviderTHORChain)
		}
	default:
		return nil, vcerrors.NewUnsupportedChainError(chain).WithContext("provider", keysign.ProviderTHORChain)
	}
	return &THORChainBuilder{chain: chain, base: base}, nil
}

func (b *THORChainBuilder) PreSignHashes(payload *keysign.Payload, nonceOffset uint64) ([]string, error) {
	if e, ok := b.base.(*evm.TxBuilder); ok {
		tx, err := b.routerTx(e, payload, nonceOffset)
		if err != nil {
			return nil, err
		}
		return []string{e.SigningHash(tx)}, nil
	}
	transfer, err := vaultTransfer(payload)
	if err != nil {
		return nil, err
	}
	return b.base.PreSignHashes(transfer, nonceOffset)
}

func (b *THORChainBuilder) SignedTransaction(payload *keysign.Payload, nonceOffset uint64, signatures map[string]common.Signature) (*common.SignedTransaction, error) {
	if e, ok := b.base.(*evm.TxBuilder); ok {
		tx, err := b.routerTx(e, payload, nonceOffset)
		if err != nil {
			return nil, err
		}
		return e.Sign(tx, signatures, payload.Coin.HexPublicKey)
	}
	transfer, err := vaultTransfer(payload)
	if err != nil {
		return nil, err
	}
	return b.base.SignedTransaction(transfer, nonceOffset, signatures)
}

// routerTx calls depositWithExpiry(vault, asset, amount, memo, expiry) on the router.
func (b *THORChainBuilder) routerTx(e *evm.TxBuilder, payload *keysign.Payload, nonceOffset uint64) (*types.Transaction, error) {
	swap, err := swapOf(payload)
	if err != nil {
		return nil, err
	}
	eth := payload.ChainSpecific.Ethereum
	if eth == nil {
		return nil, vcerrors.NewValidationError("payload has no ethereum specific block")
	}
	if !ethcommon.IsHexAddress(swap.RouterAddress) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid router address %q", swap.RouterAddress))
	}
	if !ethcommon.IsHexAddress(swap.VaultAddress) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid vault address %q", swap.VaultAddress))
	}
	amount, err := keysign.ParseAmount(swap.FromAmount)
	if err != nil {
		return nil, err
	}

	asset := ethcommon.Address{}
	value := new(big.Int).Set(amount)
	if !swap.FromCoin.IsNativeToken {
		if !ethcommon.IsHexAddress(swap.FromCoin.ContractAddress) {
			return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid token contract %q", swap.FromCoin.ContractAddress))
		}
		asset = ethcommon.HexToAddress(swap.FromCoin.ContractAddress)
		value = big.NewInt(0)
	}

	data, err := evm.EncodeCall(depositWithExpiry,
		[]string{"address", "address", "uint256", "string", "uint256"},
		ethcommon.HexToAddress(swap.VaultAddress),
		asset,
		amount,
		swap.Memo,
		new(big.Int).SetUint64(swap.ExpirationTime),
	)
	if err != nil {
		return nil, err
	}
	return e.NewDynamicFeeTx(eth, nonceOffset, ethcommon.HexToAddress(swap.RouterAddress), value, data, DefaultDepositGasLimit)
}

// vaultTransfer turns a swap into a plain transfer to the inbound vault.
func vaultTransfer(payload *keysign.Payload) (*keysign.Payload, error) {
	swap, err := swapOf(payload)
	if err != nil {
		return nil, err
	}
	if swap.VaultAddress == "" {
		return nil, vcerrors.NewValidationError("swap has no inbound vault address")
	}
	transfer := *payload
	transfer.ToAddress = swap.VaultAddress
	transfer.ToAmount = swap.FromAmount
	transfer.Memo = swap.Memo
	transfer.SwapPayload = nil
	transfer.ApprovePayload = nil
	return &transfer, nil
}

func swapOf(payload *keysign.Payload) (*keysign.SwapPayload, error) {
	swap := payload.SwapPayload
	if swap == nil {
		return nil, vcerrors.NewValidationError("payload has no swap block")
	}
	if swap.FromCoin.Chain != "" && swap.FromCoin.Chain != payload.Coin.Chain {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("swap source %s does not match coin chain %s", swap.FromCoin.Chain, payload.Coin.Chain))
	}
	if swap.Memo == "" {
		return nil, vcerrors.NewValidationError("swap has no memo")
	}
	return swap, nil
}
