package cosmos

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

// secp256k1 group order, for low-S normalization
var (
	curveN, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
	halfN     = new(big.Int).Rsh(curveN, 1)
)

// TxBuilder builds bank MsgSend transactions signed in SIGN_MODE_DIRECT.
type TxBuilder struct {
	chain  string
	params ChainParams
}

func NewTxBuilder(chain string, params ChainParams) *TxBuilder {
	return &TxBuilder{chain: chain, params: params}
}

type unsignedTx struct {
	bodyBytes     []byte
	authInfoBytes []byte
	signBytes     []byte
}

func (b *TxBuilder) PreSignHashes(payload *keysign.Payload, _ uint64) ([]string, error) {
	u, err := b.build(payload)
	if err != nil {
		return nil, err
	}
	return []string{messageHash(u.signBytes)}, nil
}

func (b *TxBuilder) SignedTransaction(payload *keysign.Payload, _ uint64, signatures map[string]common.Signature) (*common.SignedTransaction, error) {
	u, err := b.build(payload)
	if err != nil {
		return nil, err
	}
	sig, err := common.LookupSignature(signatures, messageHash(u.signBytes))
	if err != nil {
		return nil, err
	}
	rs, err := sig.RS()
	if err != nil {
		return nil, err
	}
	normalizeLowS(rs)

	raw, err := (&txtypes.TxRaw{
		BodyBytes:     u.bodyBytes,
		AuthInfoBytes: u.authInfoBytes,
		Signatures:    [][]byte{rs},
	}).Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode tx: %w", err)
	}
	txHash := sha256.Sum256(raw)
	return &common.SignedTransaction{
		RawTransaction:  base64.StdEncoding.EncodeToString(raw),
		TransactionHash: strings.ToUpper(hex.EncodeToString(txHash[:])),
	}, nil
}

func (b *TxBuilder) build(payload *keysign.Payload) (*unsignedTx, error) {
	spec := payload.ChainSpecific.Cosmos
	if spec == nil {
		return nil, vcerrors.NewValidationError("payload has no cosmos specific block")
	}
	pubKey, err := hex.DecodeString(payload.Coin.HexPublicKey)
	if err != nil || len(pubKey) != secp256k1.PubKeySize {
		return nil, vcerrors.NewValidationError("coin public key must be a compressed secp256k1 key")
	}
	pk := &secp256k1.PubKey{Key: pubKey}

	from, err := bech32.ConvertAndEncode(b.params.Bech32Prefix, pk.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender address: %w", err)
	}
	if err := b.checkAddress(payload.ToAddress); err != nil {
		return nil, err
	}
	amount, err := payload.ToAmountBig()
	if err != nil {
		return nil, err
	}
	denom := b.params.Denom
	if !payload.Coin.IsNativeToken && payload.Coin.ContractAddress != "" {
		denom = payload.Coin.ContractAddress
	}
	if err := sdk.ValidateDenom(denom); err != nil {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid denom %q: %v", denom, err))
	}

	msg := &banktypes.MsgSend{
		FromAddress: from,
		ToAddress:   payload.ToAddress,
		Amount:      sdk.NewCoins(sdk.NewCoin(denom, sdkmath.NewIntFromBigInt(amount))),
	}
	msgAny, err := codectypes.NewAnyWithValue(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to pack message: %w", err)
	}
	bodyBytes, err := (&txtypes.TxBody{
		Messages: []*codectypes.Any{msgAny},
		Memo:     payload.Memo,
	}).Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode tx body: %w", err)
	}

	pkAny, err := codectypes.NewAnyWithValue(pk)
	if err != nil {
		return nil, fmt.Errorf("failed to pack public key: %w", err)
	}
	gas := spec.Gas
	if gas == 0 {
		gas = b.params.DefaultGas
	}
	fee := sdk.NewCoins()
	if b.params.FeeAmount > 0 {
		fee = sdk.NewCoins(sdk.NewCoin(b.params.Denom, sdkmath.NewInt(b.params.FeeAmount)))
	}
	authInfoBytes, err := (&txtypes.AuthInfo{
		SignerInfos: []*txtypes.SignerInfo{{
			PublicKey: pkAny,
			ModeInfo: &txtypes.ModeInfo{
				Sum: &txtypes.ModeInfo_Single_{Single: &txtypes.ModeInfo_Single{Mode: signing.SignMode_SIGN_MODE_DIRECT}},
			},
			Sequence: spec.Sequence,
		}},
		Fee: &txtypes.Fee{Amount: fee, GasLimit: gas},
	}).Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode auth info: %w", err)
	}

	signBytes, err := (&txtypes.SignDoc{
		BodyBytes:     bodyBytes,
		AuthInfoBytes: authInfoBytes,
		ChainId:       b.params.ChainID,
		AccountNumber: spec.AccountNumber,
	}).Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode sign doc: %w", err)
	}
	return &unsignedTx{bodyBytes: bodyBytes, authInfoBytes: authInfoBytes, signBytes: signBytes}, nil
}

func (b *TxBuilder) checkAddress(addr string) error {
	hrp, _, err := bech32.DecodeAndConvert(addr)
	if err != nil || hrp != b.params.Bech32Prefix {
		return vcerrors.NewValidationError(fmt.Sprintf("invalid %s address %q", b.chain, addr))
	}
	return nil
}

// VaultAddress returns the bech32 account address of a compressed public key.
func (b *TxBuilder) VaultAddress(pubKeyHex string) (string, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", err
	}
	return bech32.ConvertAndEncode(b.params.Bech32Prefix, (&secp256k1.PubKey{Key: pubKey}).Address())
}

// messageHash is what the vault signs: sha256 of the sign doc.
func messageHash(signBytes []byte) string {
	sum := sha256.Sum256(signBytes)
	return hex.EncodeToString(sum[:])
}

func normalizeLowS(rs []byte) {
	s := new(big.Int).SetBytes(rs[32:])
	if s.Cmp(halfN) <= 0 {
		return
	}
	s.Sub(curveN, s)
	s.FillBytes(rs[32:])
}
