package evm

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

const (
	// DefaultNativeGasLimit covers a plain value transfer with a short memo.
	DefaultNativeGasLimit uint64 = 23000
	// DefaultTokenGasLimit covers an ERC20 transfer or approve.
	DefaultTokenGasLimit uint64 = 120000
)

// DefaultChainIDs are the EIP-155 ids used when no evm_chain_id is configured.
var DefaultChainIDs = map[string]int64{
	common.Ethereum:    1,
	common.BSC:         56,
	common.Avalanche:   43114,
	common.Base:        8453,
	common.Arbitrum:    42161,
	common.Polygon:     137,
	common.Optimism:    10,
	common.Blast:       81457,
	common.CronosChain: 25,
	common.Zksync:      324,
}

// TxBuilder builds EIP-1559 transfers for one EVM chain.
type TxBuilder struct {
	chainID *big.Int
	signer  types.Signer
}

// NewTxBuilder creates a builder for the given EIP-155 chain id.
func NewTxBuilder(chainID int64) (*TxBuilder, error) {
	if chainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", chainID)
	}
	id := big.NewInt(chainID)
	return &TxBuilder{chainID: id, signer: types.LatestSignerForChainID(id)}, nil
}

// ChainID returns the EIP-155 chain id.
func (b *TxBuilder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

func (b *TxBuilder) PreSignHashes(payload *keysign.Payload, nonceOffset uint64) ([]string, error) {
	tx, err := b.transferTx(payload, nonceOffset)
	if err != nil {
		return nil, err
	}
	return []string{b.SigningHash(tx)}, nil
}

func (b *TxBuilder) SignedTransaction(payload *keysign.Payload, nonceOffset uint64, signatures map[string]common.Signature) (*common.SignedTransaction, error) {
	tx, err := b.transferTx(payload, nonceOffset)
	if err != nil {
		return nil, err
	}
	return b.Sign(tx, signatures, payload.Coin.HexPublicKey)
}

// transferTx builds the native or ERC20 transfer described by payload.
func (b *TxBuilder) transferTx(payload *keysign.Payload, nonceOffset uint64) (*types.Transaction, error) {
	eth := payload.ChainSpecific.Ethereum
	if eth == nil {
		return nil, vcerrors.NewValidationError("payload has no ethereum specific block")
	}
	if !ethcommon.IsHexAddress(payload.ToAddress) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid destination address %q", payload.ToAddress))
	}
	amount, err := payload.ToAmountBig()
	if err != nil {
		return nil, err
	}
	to := ethcommon.HexToAddress(payload.ToAddress)

	if payload.Coin.IsNativeToken {
		var data []byte
		if payload.Memo != "" {
			data = memoData(payload.Memo)
		}
		return b.NewDynamicFeeTx(eth, nonceOffset, to, amount, data, DefaultNativeGasLimit)
	}

	if !ethcommon.IsHexAddress(payload.Coin.ContractAddress) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid token contract %q", payload.Coin.ContractAddress))
	}
	data, err := EncodeCall("transfer(address,uint256)", []string{"address", "uint256"}, to, amount)
	if err != nil {
		return nil, err
	}
	return b.NewDynamicFeeTx(eth, nonceOffset, ethcommon.HexToAddress(payload.Coin.ContractAddress), big.NewInt(0), data, DefaultTokenGasLimit)
}

// NewDynamicFeeTx builds an unsigned EIP-1559 transaction from the payload's fee block.
func (b *TxBuilder) NewDynamicFeeTx(eth *keysign.EthereumSpecific, nonceOffset uint64, to ethcommon.Address, value *big.Int, data []byte, defaultGas uint64) (*types.Transaction, error) {
	maxFee, err := keysign.ParseAmount(eth.MaxFeePerGasWei)
	if err != nil {
		return nil, fmt.Errorf("invalid max fee per gas: %w", err)
	}
	tip, err := keysign.ParseAmount(eth.PriorityFeeWei)
	if err != nil {
		return nil, fmt.Errorf("invalid priority fee: %w", err)
	}
	gas := eth.GasLimit
	if gas == 0 {
		gas = defaultGas
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.ChainID(),
		Nonce:     eth.Nonce + nonceOffset,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

// SigningHash returns the hex message the vault signs for tx.
func (b *TxBuilder) SigningHash(tx *types.Transaction) string {
	return hex.EncodeToString(b.signer.Hash(tx).Bytes())
}

// Sign attaches the collected signature of tx's signing hash. When the
// engine reported no recovery id it is found by recovering the signer,
// checked against pubKeyHex when that is set.
func (b *TxBuilder) Sign(tx *types.Transaction, signatures map[string]common.Signature, pubKeyHex string) (*common.SignedTransaction, error) {
	msgHash := b.signer.Hash(tx)
	sig, err := common.LookupSignature(signatures, hex.EncodeToString(msgHash.Bytes()))
	if err != nil {
		return nil, err
	}
	rs, err := sig.RS()
	if err != nil {
		return nil, err
	}

	v, err := recoveryID(msgHash.Bytes(), rs, sig, pubKeyHex)
	if err != nil {
		return nil, err
	}
	sigWithRecovery := make([]byte, 65)
	copy(sigWithRecovery[:64], rs)
	sigWithRecovery[64] = v

	signedTx, err := tx.WithSignature(b.signer, sigWithRecovery)
	if err != nil {
		return nil, fmt.Errorf("failed to apply signature: %w", err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	return &common.SignedTransaction{
		RawTransaction:  hex.EncodeToString(raw),
		TransactionHash: signedTx.Hash().Hex(),
	}, nil
}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)
)

// normalizeLowS rewrites S into the lower half of the curve order as EVM
// nodes require. It reports whether the recovery id has to be flipped.
func normalizeLowS(rs []byte) bool {
	s := new(big.Int).SetBytes(rs[32:])
	if s.Cmp(secp256k1HalfN) <= 0 {
		return false
	}
	s.Sub(secp256k1N, s)
	for i := 32; i < 64; i++ {
		rs[i] = 0
	}
	s.FillBytes(rs[32:])
	return true
}

func recoveryID(hash, rs []byte, sig common.Signature, pubKeyHex string) (byte, error) {
	var expected []byte
	if pubKeyHex != "" {
		pk, err := hex.DecodeString(strings.TrimPrefix(pubKeyHex, "0x"))
		if err != nil {
			return 0, vcerrors.NewValidationError(fmt.Sprintf("invalid coin public key: %v", err))
		}
		expected = pk
	}

	flipped := normalizeLowS(rs)
	candidates := []byte{0, 1}
	if v, ok := sig.Recovery(); ok && v < 2 {
		if flipped {
			v ^= 1
		}
		candidates = []byte{v, v ^ 1}
	}
	for _, v := range candidates {
		sigWithRecovery := make([]byte, 65)
		copy(sigWithRecovery[:64], rs)
		sigWithRecovery[64] = v

		pub, err := crypto.SigToPub(hash, sigWithRecovery)
		if err != nil {
			continue
		}
		if expected == nil || matchesPubKey(pub, expected) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("failed to determine recovery ID for signature")
}

func matchesPubKey(pub *ecdsa.PublicKey, expected []byte) bool {
	var parsed *ecdsa.PublicKey
	var err error
	if len(expected) == 33 {
		parsed, err = crypto.DecompressPubkey(expected)
	} else {
		parsed, err = crypto.UnmarshalPubkey(expected)
	}
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == crypto.PubkeyToAddress(*parsed)
}

// EncodeCall ABI encodes a call to signature with the given argument types.
func EncodeCall(signature string, argTypes []string, values ...any) ([]byte, error) {
	arguments := make(abi.Arguments, 0, len(argTypes))
	for _, t := range argTypes {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, fmt.Errorf("invalid abi type %s: %w", t, err)
		}
		arguments = append(arguments, abi.Argument{Type: typ})
	}
	encodedArgs, err := arguments.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack arguments: %w", err)
	}
	selector := crypto.Keccak256([]byte(signature))[:4]
	return append(selector, encodedArgs...), nil
}

// memoData stores a memo either as raw bytes when it is 0x hex or as UTF-8 text.
func memoData(memo string) []byte {
	if strings.HasPrefix(memo, "0x") {
		if b, err := hex.DecodeString(memo[2:]); err == nil {
			return b
		}
	}
	return bytes.Clone([]byte(memo))
}
