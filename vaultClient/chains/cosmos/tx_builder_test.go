package cosmos

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	"github.com/pushchain/push-vault-client/vaultClient/config"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

func testKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	raw, err := hex.DecodeString("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	key, _ := btcec.PrivKeyFromBytes(raw)
	return key
}

func recipient(t *testing.T, prefix string) string {
	t.Helper()
	addr, err := bech32.ConvertAndEncode(prefix, make([]byte, 20))
	require.NoError(t, err)
	return addr
}

func gaiaBuilder(t *testing.T) *TxBuilder {
	t.Helper()
	params, ok := Params(common.GaiaChain, nil)
	require.True(t, ok)
	return NewTxBuilder(common.GaiaChain, params)
}

func atomPayload(t *testing.T, key *btcec.PrivateKey) *keysign.Payload {
	t.Helper()
	return &keysign.Payload{
		Coin: keysign.Coin{
			Chain:         common.GaiaChain,
			Ticker:        "ATOM",
			Decimals:      6,
			HexPublicKey:  hex.EncodeToString(key.PubKey().SerializeCompressed()),
			IsNativeToken: true,
		},
		ToAddress: recipient(t, "cosmos"),
		ToAmount:  "1500000",
		Memo:      "vault transfer",
		ChainSpecific: keysign.ChainSpecific{Cosmos: &keysign.CosmosSpecific{
			AccountNumber: 42,
			Sequence:      3,
		}},
		VaultPubKeyECDSA: "vault",
	}
}

func signAll(t *testing.T, key *btcec.PrivateKey, msgs []string) map[string]common.Signature {
	t.Helper()
	out := make(map[string]common.Signature, len(msgs))
	for _, m := range msgs {
		hash, err := hex.DecodeString(m)
		require.NoError(t, err)
		compact, err := ecdsa.SignCompact(key, hash, true)
		require.NoError(t, err)
		out[m] = common.Signature{
			Msg: m,
			R:   hex.EncodeToString(compact[1:33]),
			S:   hex.EncodeToString(compact[33:65]),
		}
	}
	return out
}

// decodeSigned unpacks a broadcast-ready tx and rebuilds its sign doc.
func decodeSigned(t *testing.T, raw, chainID string, accountNumber uint64) (*txtypes.TxRaw, []byte) {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(raw)
	require.NoError(t, err)
	var txRaw txtypes.TxRaw
	require.NoError(t, txRaw.Unmarshal(b))
	signBytes, err := (&txtypes.SignDoc{
		BodyBytes:     txRaw.BodyBytes,
		AuthInfoBytes: txRaw.AuthInfoBytes,
		ChainId:       chainID,
		AccountNumber: accountNumber,
	}).Marshal()
	require.NoError(t, err)
	return &txRaw, signBytes
}

func TestTxBuilder_BankSend(t *testing.T) {
	key := testKey(t)
	b := gaiaBuilder(t)
	payload := atomPayload(t, key)

	msgs, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	signed, err := b.SignedTransaction(payload, 0, signAll(t, key, msgs))
	require.NoError(t, err)

	txRaw, signBytes := decodeSigned(t, signed.RawTransaction, "cosmoshub-4", 42)
	sum := sha256.Sum256(signBytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), msgs[0])

	pk := &secp256k1.PubKey{Key: key.PubKey().SerializeCompressed()}
	require.Len(t, txRaw.Signatures, 1)
	assert.True(t, pk.VerifySignature(signBytes, txRaw.Signatures[0]))

	var body txtypes.TxBody
	require.NoError(t, body.Unmarshal(txRaw.BodyBytes))
	assert.Equal(t, "vault transfer", body.Memo)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "/cosmos.bank.v1beta1.MsgSend", body.Messages[0].TypeUrl)

	var send banktypes.MsgSend
	require.NoError(t, send.Unmarshal(body.Messages[0].Value))
	assert.Equal(t, payload.ToAddress, send.ToAddress)
	assert.True(t, strings.HasPrefix(send.FromAddress, "cosmos1"))
	assert.Equal(t, "1500000uatom", send.Amount.String())

	var authInfo txtypes.AuthInfo
	require.NoError(t, authInfo.Unmarshal(txRaw.AuthInfoBytes))
	assert.Equal(t, uint64(3), authInfo.SignerInfos[0].Sequence)
	assert.Equal(t, uint64(200000), authInfo.Fee.GasLimit)
	assert.Equal(t, "7500uatom", authInfo.Fee.Amount.String())

	raw, err := base64.StdEncoding.DecodeString(signed.RawTransaction)
	require.NoError(t, err)
	hash := sha256.Sum256(raw)
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(hash[:])), signed.TransactionHash)
}

func TestTxBuilder_NormalizesHighS(t *testing.T) {
	key := testKey(t)
	b := gaiaBuilder(t)
	payload := atomPayload(t, key)

	msgs, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	sigs := signAll(t, key, msgs)

	sig := sigs[msgs[0]]
	s, err := sig.SBig()
	require.NoError(t, err)
	sig.S = hex.EncodeToString(new(big.Int).Sub(curveN, s).Bytes())
	sigs[msgs[0]] = sig

	signed, err := b.SignedTransaction(payload, 0, sigs)
	require.NoError(t, err)
	txRaw, signBytes := decodeSigned(t, signed.RawTransaction, "cosmoshub-4", 42)
	pk := &secp256k1.PubKey{Key: key.PubKey().SerializeCompressed()}
	assert.True(t, pk.VerifySignature(signBytes, txRaw.Signatures[0]))
}

func TestTxBuilder_ConfigOverrides(t *testing.T) {
	fee := int64(0)
	params, ok := Params(common.GaiaChain, &config.ChainSpecificConfig{
		CosmosChainID: "theta-testnet-001",
		FeeAmount:     &fee,
	})
	require.True(t, ok)
	assert.Equal(t, "theta-testnet-001", params.ChainID)
	assert.Equal(t, "uatom", params.Denom)
	assert.Equal(t, int64(0), params.FeeAmount)

	key := testKey(t)
	b := NewTxBuilder(common.GaiaChain, params)
	payload := atomPayload(t, key)
	msgs, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	signed, err := b.SignedTransaction(payload, 0, signAll(t, key, msgs))
	require.NoError(t, err)

	txRaw, signBytes := decodeSigned(t, signed.RawTransaction, "theta-testnet-001", 42)
	pk := &secp256k1.PubKey{Key: key.PubKey().SerializeCompressed()}
	assert.True(t, pk.VerifySignature(signBytes, txRaw.Signatures[0]))

	var authInfo txtypes.AuthInfo
	require.NoError(t, authInfo.Unmarshal(txRaw.AuthInfoBytes))
	assert.True(t, authInfo.Fee.Amount.IsZero())

	_, ok = Params("Polkadot", nil)
	assert.False(t, ok)
}

func TestTxBuilder_ExplicitGasAndTokenDenom(t *testing.T) {
	key := testKey(t)
	params, ok := Params(common.THORChain, nil)
	require.True(t, ok)
	b := NewTxBuilder(common.THORChain, params)

	payload := atomPayload(t, key)
	payload.Coin.Chain = common.THORChain
	payload.Coin.IsNativeToken = false
	payload.Coin.ContractAddress = "tcy"
	payload.ToAddress = recipient(t, "thor")
	payload.ChainSpecific.Cosmos.Gas = 50000000

	msgs, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	signed, err := b.SignedTransaction(payload, 0, signAll(t, key, msgs))
	require.NoError(t, err)

	txRaw, _ := decodeSigned(t, signed.RawTransaction, "thorchain-1", 42)
	var authInfo txtypes.AuthInfo
	require.NoError(t, authInfo.Unmarshal(txRaw.AuthInfoBytes))
	assert.Equal(t, uint64(50000000), authInfo.Fee.GasLimit)

	var body txtypes.TxBody
	require.NoError(t, body.Unmarshal(txRaw.BodyBytes))
	var send banktypes.MsgSend
	require.NoError(t, send.Unmarshal(body.Messages[0].Value))
	assert.Equal(t, "1500000tcy", send.Amount.String())
	assert.True(t, strings.HasPrefix(send.FromAddress, "thor1"))
}

func TestTxBuilder_InvalidPayloads(t *testing.T) {
	key := testKey(t)
	b := gaiaBuilder(t)

	tests := []struct {
		name   string
		mutate func(p *keysign.Payload)
	}{
		{"missing cosmos block", func(p *keysign.Payload) { p.ChainSpecific = keysign.ChainSpecific{UTXO: &keysign.UTXOSpecific{}} }},
		{"uncompressed key", func(p *keysign.Payload) {
			p.Coin.HexPublicKey = hex.EncodeToString(key.PubKey().SerializeUncompressed())
		}},
		{"wrong prefix", func(p *keysign.Payload) { p.ToAddress = recipient(t, "osmo") }},
		{"garbage address", func(p *keysign.Payload) { p.ToAddress = "not-an-address" }},
		{"bad amount", func(p *keysign.Payload) { p.ToAmount = "-5" }},
		{"bad denom", func(p *keysign.Payload) {
			p.Coin.IsNativeToken = false
			p.Coin.ContractAddress = "1"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := atomPayload(t, key)
			tt.mutate(p)
			_, err := b.PreSignHashes(p, 0)
			require.Error(t, err)
			assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeValidation))
		})
	}
}

func TestTxBuilder_MissingSignature(t *testing.T) {
	key := testKey(t)
	b := gaiaBuilder(t)
	_, err := b.SignedTransaction(atomPayload(t, key), 0, map[string]common.Signature{})
	require.Error(t, err)
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeMissingSignature))
}

func TestVaultAddress(t *testing.T) {
	key := testKey(t)
	b := gaiaBuilder(t)
	addr, err := b.VaultAddress(hex.EncodeToString(key.PubKey().SerializeCompressed()))
	require.NoError(t, err)
	hrp, bz, err := bech32.DecodeAndConvert(addr)
	require.NoError(t, err)
	assert.Equal(t, "cosmos", hrp)
	assert.Len(t, bz, 20)
}
