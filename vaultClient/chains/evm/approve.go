package evm

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

// ApproveBuilder builds the ERC20 approve(spender, amount) that precedes a
// token swap. It signs with the payload's nonce plus nonceOffset.
type ApproveBuilder struct {
	tx *TxBuilder
}

func NewApproveBuilder(tx *TxBuilder) *ApproveBuilder {
	return &ApproveBuilder{tx: tx}
}

func (a *ApproveBuilder) PreSignHashes(payload *keysign.Payload, nonceOffset uint64) ([]string, error) {
	tx, err := a.approveTx(payload, nonceOffset)
	if err != nil {
		return nil, err
	}
	return []string{a.tx.SigningHash(tx)}, nil
}

func (a *ApproveBuilder) SignedTransaction(payload *keysign.Payload, nonceOffset uint64, signatures map[string]common.Signature) (*common.SignedTransaction, error) {
	tx, err := a.approveTx(payload, nonceOffset)
	if err != nil {
		return nil, err
	}
	return a.tx.Sign(tx, signatures, payload.Coin.HexPublicKey)
}

func (a *ApproveBuilder) approveTx(payload *keysign.Payload, nonceOffset uint64) (*types.Transaction, error) {
	approve := payload.ApprovePayload
	if approve == nil {
		return nil, vcerrors.NewValidationError("payload has no approve block")
	}
	eth := payload.ChainSpecific.Ethereum
	if eth == nil {
		return nil, vcerrors.NewValidationError("approve requires an ethereum specific block")
	}
	if !ethcommon.IsHexAddress(approve.Spender) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid spender %q", approve.Spender))
	}
	if !ethcommon.IsHexAddress(payload.Coin.ContractAddress) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid token contract %q", payload.Coin.ContractAddress))
	}
	amount, err := keysign.ParseAmount(approve.Amount)
	if err != nil {
		return nil, err
	}
	data, err := EncodeCall("approve(address,uint256)", []string{"address", "uint256"}, ethcommon.HexToAddress(approve.Spender), amount)
	if err != nil {
		return nil, err
	}
	// Approve uses the configured gas limit only for the main transaction.
	fee := *eth
	fee.GasLimit = 0
	return a.tx.NewDynamicFeeTx(&fee, nonceOffset, ethcommon.HexToAddress(payload.Coin.ContractAddress), big.NewInt(0), data, DefaultTokenGasLimit)
}
