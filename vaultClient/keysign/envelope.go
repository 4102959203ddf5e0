package keysign

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
)

const maxEnvelopeBytes = 1 << 20

// KeysignMessage is the join envelope an initiator shows to co-signers.
type KeysignMessage struct {
	SessionID        string  `json:"sessionID"`
	ServiceName      string  `json:"serviceName"`
	UseVultisigRelay bool    `json:"useVultisigRelay"`
	EncryptionKeyHex string  `json:"encryptionKeyHex"`
	Payload          Payload `json:"payload"`
	MessagesDigest   string  `json:"messagesDigest,omitempty"`
}

// KeygenMessage is the join envelope of a keygen or reshare ceremony.
type KeygenMessage struct {
	SessionID        string   `json:"sessionID"`
	ServiceName      string   `json:"serviceName"`
	UseVultisigRelay bool     `json:"useVultisigRelay"`
	EncryptionKeyHex string   `json:"encryptionKeyHex"`
	HexChainCode     string   `json:"hexChainCode"`
	VaultName        string   `json:"vaultName"`
	PubKeyECDSA      string   `json:"pubKeyECDSA,omitempty"` // set for reshare
	OldParties       []string `json:"oldParties,omitempty"`
	ResharePrefix    string   `json:"resharePrefix,omitempty"`
}

// IsReshare reports whether the envelope reshares an existing vault.
func (m *KeygenMessage) IsReshare() bool {
	return m.PubKeyECDSA != ""
}

// CheckVault fails fast when the payload belongs to a different vault.
func (m *KeysignMessage) CheckVault(pubKeyECDSA string) error {
	if !strings.EqualFold(m.Payload.VaultPubKeyECDSA, pubKeyECDSA) {
		return vcerrors.NewProtocolMismatchError("keysign payload belongs to a different vault").
			WithSession(m.SessionID)
	}
	return nil
}

// CheckMessages compares the initiator's digest with the locally derived
// messages. Envelopes without a digest pass.
func (m *KeysignMessage) CheckMessages(local []string) error {
	if m.MessagesDigest == "" {
		return nil
	}
	if !strings.EqualFold(m.MessagesDigest, MessagesDigest(local)) {
		return vcerrors.NewProtocolMismatchError("derived messages differ from the initiator's").
			WithSession(m.SessionID)
	}
	return nil
}

// MessagesDigest is sha256 over the ordered messages, newline separated.
func MessagesDigest(messages []string) string {
	h := sha256.New()
	for i, m := range messages {
		if i > 0 {
			h.Write([]byte{'\n'})
		}
		h.Write([]byte(m))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Encode serializes v as base64(zlib(JSON)).
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("failed to compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeKeysignMessage parses a keysign join envelope. Every failure is an
// InvalidPayloadError.
func DecodeKeysignMessage(content string) (*KeysignMessage, error) {
	var m KeysignMessage
	if err := decode(content, &m); err != nil {
		return nil, err
	}
	if m.SessionID == "" || m.EncryptionKeyHex == "" {
		return nil, vcerrors.NewInvalidPayloadError(fmt.Errorf("envelope is missing session parameters"))
	}
	return &m, nil
}

// DecodeKeygenMessage parses a keygen or reshare join envelope.
func DecodeKeygenMessage(content string) (*KeygenMessage, error) {
	var m KeygenMessage
	if err := decode(content, &m); err != nil {
		return nil, err
	}
	if m.SessionID == "" || m.EncryptionKeyHex == "" || m.HexChainCode == "" {
		return nil, vcerrors.NewInvalidPayloadError(fmt.Errorf("envelope is missing session parameters"))
	}
	return &m, nil
}

func decode(content string, out any) error {
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return vcerrors.NewInvalidPayloadError(err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return vcerrors.NewInvalidPayloadError(err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxEnvelopeBytes))
	if err != nil {
		return vcerrors.NewInvalidPayloadError(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return vcerrors.NewInvalidPayloadError(err)
	}
	return nil
}
