package keysign

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
)

func evmPayload() Payload {
	return Payload{
		Coin:             Coin{Chain: "Ethereum", Ticker: "ETH", Address: "0x1111111111111111111111111111111111111111", IsNativeToken: true},
		ToAddress:        "0x2222222222222222222222222222222222222222",
		ToAmount:         "1000000000000000000",
		ChainSpecific:    ChainSpecific{Ethereum: &EthereumSpecific{MaxFeePerGasWei: "30000000000", PriorityFeeWei: "1000000000", Nonce: 7, GasLimit: 21000}},
		VaultPubKeyECDSA: "02abc",
	}
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Payload)
		wantErr bool
	}{
		{"valid", func(p *Payload) {}, false},
		{"no chain", func(p *Payload) { p.Coin.Chain = "" }, true},
		{"no vault key", func(p *Payload) { p.VaultPubKeyECDSA = "" }, true},
		{"two chain blocks", func(p *Payload) { p.ChainSpecific.UTXO = &UTXOSpecific{ByteFee: 10} }, true},
		{"no chain block", func(p *Payload) { p.ChainSpecific = ChainSpecific{} }, true},
		{"negative amount", func(p *Payload) { p.ToAmount = "-1" }, true},
		{"amount overflow", func(p *Payload) {
			p.ToAmount = "1157920892373161954235709850086879078532699846656405640394575840079131296399360"
		}, true},
		{"swap needs no destination", func(p *Payload) {
			p.ToAddress = ""
			p.SwapPayload = &SwapPayload{Provider: ProviderOneInch}
		}, false},
		{"approve on utxo", func(p *Payload) {
			p.ChainSpecific = ChainSpecific{UTXO: &UTXOSpecific{}}
			p.ApprovePayload = &ApprovePayload{Amount: "1", Spender: "0x3"}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := evmPayload()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToAmountBig(t *testing.T) {
	p := evmPayload()
	v, err := p.ToAmountBig()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", v.String())
}

func TestMessageID(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", MessageID("hello"))
}

func TestKeysignEnvelopeRoundTrip(t *testing.T) {
	msg := KeysignMessage{
		SessionID:        "s1",
		ServiceName:      "VultisigApp-s1",
		UseVultisigRelay: true,
		EncryptionKeyHex: "00ff",
		Payload:          evmPayload(),
		MessagesDigest:   MessagesDigest([]string{"aa", "bb"}),
	}
	content, err := Encode(msg)
	require.NoError(t, err)

	got, err := DecodeKeysignMessage(content)
	require.NoError(t, err)
	assert.Equal(t, msg.SessionID, got.SessionID)
	assert.True(t, got.UseVultisigRelay)
	assert.Equal(t, uint64(7), got.Payload.ChainSpecific.Ethereum.Nonce)

	require.NoError(t, got.CheckVault("02ABC"))
	require.NoError(t, got.CheckMessages([]string{"aa", "bb"}))

	err = got.CheckMessages([]string{"bb", "aa"})
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeProtocolMismatch))

	err = got.CheckVault("03def")
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeProtocolMismatch))
}

func TestCheckMessagesWithoutDigest(t *testing.T) {
	m := KeysignMessage{}
	assert.NoError(t, m.CheckMessages([]string{"anything"}))
}

func TestKeygenEnvelope(t *testing.T) {
	content, err := Encode(KeygenMessage{
		SessionID:        "s2",
		EncryptionKeyHex: "00",
		HexChainCode:     "cc",
		VaultName:        "main",
		PubKeyECDSA:      "02aa",
		OldParties:       []string{"a", "b"},
	})
	require.NoError(t, err)

	got, err := DecodeKeygenMessage(content)
	require.NoError(t, err)
	assert.True(t, got.IsReshare())
	assert.Equal(t, []string{"a", "b"}, got.OldParties)
}

func TestDecodeInvalidContent(t *testing.T) {
	var plainZlib bytes.Buffer
	zw := zlib.NewWriter(&plainZlib)
	_, _ = zw.Write([]byte("{not json"))
	_ = zw.Close()

	missingFields, err := Encode(map[string]string{"serviceName": "x"})
	require.NoError(t, err)

	for name, content := range map[string]string{
		"not base64":     "%%%",
		"not zlib":       base64.StdEncoding.EncodeToString([]byte("plain")),
		"not json":       base64.StdEncoding.EncodeToString(plainZlib.Bytes()),
		"missing fields": missingFields,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeKeysignMessage(content)
			require.Error(t, err)
			assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeInvalidPayload))
			assert.Equal(t, vcerrors.InvalidContentMessage, vcerrors.UserMessage(err))
		})
	}
}
