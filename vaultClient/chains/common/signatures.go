package common

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
)

// LookupSignature returns the signature collected for msg.
func LookupSignature(signatures map[string]Signature, msg string) (Signature, error) {
	sig, ok := signatures[msg]
	if !ok {
		return Signature{}, vcerrors.NewMissingSignatureError(fmt.Sprintf("no signature for message %s", msg)).
			WithContext("message", msg)
	}
	return sig, nil
}

// CheckSignatures fails when any of msgs has no collected signature.
func CheckSignatures(signatures map[string]Signature, msgs []string) error {
	for _, m := range msgs {
		if _, err := LookupSignature(signatures, m); err != nil {
			return err
		}
	}
	return nil
}

// RS returns the 64 byte R||S encoding, left padding each half.
func (s Signature) RS() ([]byte, error) {
	r, err := decodeScalar(s.R)
	if err != nil {
		return nil, fmt.Errorf("invalid r: %w", err)
	}
	sv, err := decodeScalar(s.S)
	if err != nil {
		return nil, fmt.Errorf("invalid s: %w", err)
	}
	out := make([]byte, 64)
	copy(out[32-len(r):32], r)
	copy(out[64-len(sv):], sv)
	return out, nil
}

// Recovery returns the recovery id when the engine reported one.
func (s Signature) Recovery() (byte, bool) {
	if s.RecoveryID == "" {
		return 0, false
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s.RecoveryID, "0x"))
	if err != nil || len(b) != 1 || b[0] > 3 {
		return 0, false
	}
	return b[0], true
}

// SBig returns S as an integer.
func (s Signature) SBig() (*big.Int, error) {
	b, err := decodeScalar(s.S)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func decodeScalar(h string) ([]byte, error) {
	h = strings.TrimPrefix(h, "0x")
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, err
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("scalar is %d bytes", len(b))
	}
	return b, nil
}
