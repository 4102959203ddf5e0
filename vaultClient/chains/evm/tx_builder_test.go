package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

const (
	testRecipient = "0x1234567890123456789012345678901234567890"
	testToken     = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	testSpender   = "0x3624525075b88B24ecc29CE226b0CEc1fFcB6976"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	return key
}

func nativePayload(key *ecdsa.PrivateKey) *keysign.Payload {
	return &keysign.Payload{
		Coin: keysign.Coin{
			Chain:         common.Ethereum,
			Ticker:        "ETH",
			Address:       crypto.PubkeyToAddress(key.PublicKey).Hex(),
			Decimals:      18,
			HexPublicKey:  hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)),
			IsNativeToken: true,
		},
		ToAddress: testRecipient,
		ToAmount:  "1000000000000000",
		ChainSpecific: keysign.ChainSpecific{Ethereum: &keysign.EthereumSpecific{
			MaxFeePerGasWei: "30000000000",
			PriorityFeeWei:  "1000000000",
			Nonce:           7,
		}},
		VaultPubKeyECDSA: "vault",
	}
}

func tokenPayload(key *ecdsa.PrivateKey) *keysign.Payload {
	p := nativePayload(key)
	p.Coin.Ticker = "USDT"
	p.Coin.IsNativeToken = false
	p.Coin.ContractAddress = testToken
	return p
}

// signAll signs every hex message with key the way a threshold engine would report it.
func signAll(t *testing.T, key *ecdsa.PrivateKey, msgs []string, withRecovery bool) map[string]common.Signature {
	t.Helper()
	out := make(map[string]common.Signature, len(msgs))
	for _, m := range msgs {
		hash, err := hex.DecodeString(m)
		require.NoError(t, err)
		sig, err := crypto.Sign(hash, key)
		require.NoError(t, err)
		s := common.Signature{
			Msg: m,
			R:   hex.EncodeToString(sig[:32]),
			S:   hex.EncodeToString(sig[32:64]),
		}
		if withRecovery {
			s.RecoveryID = hex.EncodeToString(sig[64:])
		}
		out[m] = s
	}
	return out
}

func decodeSigned(t *testing.T, signed *common.SignedTransaction) *types.Transaction {
	t.Helper()
	raw, err := hex.DecodeString(signed.RawTransaction)
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	return tx
}

func TestNewTxBuilderRejectsInvalidChainID(t *testing.T) {
	_, err := NewTxBuilder(0)
	require.Error(t, err)
}

func TestNativeTransferRoundTrip(t *testing.T) {
	key := testKey(t)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)
	payload := nativePayload(key)

	hashes, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	require.Len(t, hashes, 1)

	again, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, hashes, again, "co-signers must derive identical messages")

	signed, err := b.SignedTransaction(payload, 0, signAll(t, key, hashes, false))
	require.NoError(t, err)

	tx := decodeSigned(t, signed)
	assert.Equal(t, signed.TransactionHash, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, DefaultNativeGasLimit, tx.Gas())
	assert.Equal(t, ethcommon.HexToAddress(testRecipient), *tx.To())
	assert.Equal(t, big.NewInt(1000000000000000), tx.Value())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestNonceOffsetChangesMessage(t *testing.T) {
	key := testKey(t)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)
	payload := nativePayload(key)

	h0, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	h1, err := b.PreSignHashes(payload, 1)
	require.NoError(t, err)
	assert.NotEqual(t, h0, h1)

	signed, err := b.SignedTransaction(payload, 1, signAll(t, key, h1, true))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), decodeSigned(t, signed).Nonce())
}

func TestTokenTransferEncodesERC20Call(t *testing.T) {
	key := testKey(t)
	b, err := NewTxBuilder(56)
	require.NoError(t, err)
	payload := tokenPayload(key)

	hashes, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	signed, err := b.SignedTransaction(payload, 0, signAll(t, key, hashes, true))
	require.NoError(t, err)

	tx := decodeSigned(t, signed)
	assert.Equal(t, ethcommon.HexToAddress(testToken), *tx.To())
	assert.Equal(t, int64(0), tx.Value().Int64())
	assert.Equal(t, "a9059cbb", hex.EncodeToString(tx.Data()[:4]))
	assert.Equal(t, DefaultTokenGasLimit, tx.Gas())
	assert.Equal(t, int64(56), tx.ChainId().Int64())
}

func TestHighSIsNormalized(t *testing.T) {
	key := testKey(t)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)
	payload := nativePayload(key)

	hashes, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	sigs := signAll(t, key, hashes, true)

	sig := sigs[hashes[0]]
	s, ok := new(big.Int).SetString(sig.S, 16)
	require.True(t, ok)
	highS := new(big.Int).Sub(secp256k1N, s)
	sig.S = hex.EncodeToString(highS.Bytes())
	v, _ := sig.Recovery()
	sig.RecoveryID = hex.EncodeToString([]byte{v ^ 1})
	sigs[hashes[0]] = sig

	signed, err := b.SignedTransaction(payload, 0, sigs)
	require.NoError(t, err)
	tx := decodeSigned(t, signed)
	_, _, txS := tx.RawSignatureValues()
	assert.LessOrEqual(t, txS.Cmp(secp256k1HalfN), 0)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestMissingSignature(t *testing.T) {
	key := testKey(t)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)

	_, err = b.SignedTransaction(nativePayload(key), 0, map[string]common.Signature{})
	require.Error(t, err)
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeMissingSignature))
}

func TestWrongKeySignatureRejected(t *testing.T) {
	key := testKey(t)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)
	payload := nativePayload(key)

	hashes, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	_, err = b.SignedTransaction(payload, 0, signAll(t, other, hashes, false))
	require.Error(t, err)
}

func TestInvalidPayloads(t *testing.T) {
	key := testKey(t)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)

	noEth := nativePayload(key)
	noEth.ChainSpecific = keysign.ChainSpecific{}
	_, err = b.PreSignHashes(noEth, 0)
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeValidation))

	badTo := nativePayload(key)
	badTo.ToAddress = "not-an-address"
	_, err = b.PreSignHashes(badTo, 0)
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeValidation))

	badFee := nativePayload(key)
	badFee.ChainSpecific.Ethereum.MaxFeePerGasWei = "abc"
	_, err = b.PreSignHashes(badFee, 0)
	assert.Error(t, err)
}

func TestApproveBuilder(t *testing.T) {
	key := testKey(t)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)
	approve := NewApproveBuilder(b)

	payload := tokenPayload(key)
	payload.ApprovePayload = &keysign.ApprovePayload{Amount: "5000000", Spender: testSpender}

	hashes, err := approve.PreSignHashes(payload, 0)
	require.NoError(t, err)
	signed, err := approve.SignedTransaction(payload, 0, signAll(t, key, hashes, true))
	require.NoError(t, err)

	tx := decodeSigned(t, signed)
	assert.Equal(t, "095ea7b3", hex.EncodeToString(tx.Data()[:4]))
	assert.Equal(t, ethcommon.HexToAddress(testToken), *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())

	// the transfer behind the approve signs the next nonce
	main, err := b.PreSignHashes(payload, 1)
	require.NoError(t, err)
	assert.NotEqual(t, hashes, main)

	noApprove := tokenPayload(key)
	_, err = approve.PreSignHashes(noApprove, 0)
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeValidation))
}

// rpcServer answers the JSON-RPC calls the adapter makes.
func rpcServer(t *testing.T, sendErr string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = "0x1"
		case "eth_gasPrice":
			resp["result"] = "0x3b9aca00"
		case "eth_sendRawTransaction":
			if sendErr != "" {
				resp["error"] = map[string]any{"code": -32000, "message": sendErr}
			} else {
				resp["result"] = "0x" + hex.EncodeToString(make([]byte, 32))
			}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func signedNative(t *testing.T) *common.SignedTransaction {
	t.Helper()
	key := testKey(t)
	b, err := NewTxBuilder(1)
	require.NoError(t, err)
	payload := nativePayload(key)
	hashes, err := b.PreSignHashes(payload, 0)
	require.NoError(t, err)
	signed, err := b.SignedTransaction(payload, 0, signAll(t, key, hashes, true))
	require.NoError(t, err)
	return signed
}

func TestRPCClientBroadcast(t *testing.T) {
	srv := rpcServer(t, "")
	defer srv.Close()

	rc, err := NewRPCClient([]string{srv.URL}, 1, zerolog.Nop())
	require.NoError(t, err)
	defer rc.Close()

	signed := signedNative(t)
	hash, err := rc.Broadcast(context.Background(), signed.RawTransaction)
	require.NoError(t, err)
	assert.Equal(t, signed.TransactionHash, hash)

	fee, err := rc.EstimateFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000000000), fee.Int64())
}

func TestRPCClientDuplicateBroadcastReturnsEmptyHash(t *testing.T) {
	for _, msg := range []string{"already known", "nonce too low"} {
		t.Run(msg, func(t *testing.T) {
			srv := rpcServer(t, msg)
			defer srv.Close()

			rc, err := NewRPCClient([]string{srv.URL}, 1, zerolog.Nop())
			require.NoError(t, err)
			defer rc.Close()

			hash, err := rc.Broadcast(context.Background(), signedNative(t).RawTransaction)
			require.NoError(t, err)
			assert.Empty(t, hash)
		})
	}
}

func TestRPCClientBroadcastFailure(t *testing.T) {
	srv := rpcServer(t, "insufficient funds for gas * price + value")
	defer srv.Close()

	rc, err := NewRPCClient([]string{srv.URL}, 1, zerolog.Nop())
	require.NoError(t, err)
	defer rc.Close()

	_, err = rc.Broadcast(context.Background(), signedNative(t).RawTransaction)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestRPCClientChainIDMismatch(t *testing.T) {
	srv := rpcServer(t, "")
	defer srv.Close()

	_, err := NewRPCClient([]string{srv.URL}, 56, zerolog.Nop())
	require.Error(t, err)

	_, err = NewRPCClient(nil, 1, zerolog.Nop())
	require.Error(t, err)
}
