package swaps

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	"github.com/pushchain/push-vault-client/vaultClient/chains/evm"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

// OneInchBuilder sends the transaction of a 1inch quote unchanged, with the
// vault's nonce and fees.
type OneInchBuilder struct {
	tx *evm.TxBuilder
}

func NewOneInchBuilder(tx *evm.TxBuilder) *OneInchBuilder {
	return &OneInchBuilder{tx: tx}
}

func (b *OneInchBuilder) PreSignHashes(payload *keysign.Payload, nonceOffset uint64) ([]string, error) {
	tx, err := b.quoteTx(payload, nonceOffset)
	if err != nil {
		return nil, err
	}
	return []string{b.tx.SigningHash(tx)}, nil
}

func (b *OneInchBuilder) SignedTransaction(payload *keysign.Payload, nonceOffset uint64, signatures map[string]common.Signature) (*common.SignedTransaction, error) {
	tx, err := b.quoteTx(payload, nonceOffset)
	if err != nil {
		return nil, err
	}
	return b.tx.Sign(tx, signatures, payload.Coin.HexPublicKey)
}

func (b *OneInchBuilder) quoteTx(payload *keysign.Payload, nonceOffset uint64) (*types.Transaction, error) {
	if payload.SwapPayload == nil || payload.SwapPayload.OneInchTx == nil {
		return nil, vcerrors.NewValidationError("payload has no 1inch quote")
	}
	eth := payload.ChainSpecific.Ethereum
	if eth == nil {
		return nil, vcerrors.NewValidationError("payload has no ethereum specific block")
	}
	quote := payload.SwapPayload.OneInchTx
	if !ethcommon.IsHexAddress(quote.To) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid 1inch target %q", quote.To))
	}
	data, err := hex.DecodeString(strings.TrimPrefix(quote.Data, "0x"))
	if err != nil {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid 1inch call data: %v", err))
	}
	value := big.NewInt(0)
	if quote.Value != "" {
		if value, err = keysign.ParseAmount(quote.Value); err != nil {
			return nil, err
		}
	}

	gas := quote.Gas
	if gas == 0 {
		gas = DefaultDepositGasLimit
	}
	return b.tx.NewDynamicFeeTx(eth, nonceOffset, ethcommon.HexToAddress(quote.To), value, data, gas)
}
