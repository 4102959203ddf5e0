package api

import (
	"time"

	"github.com/pushchain/push-vault-client/vaultClient/tss/ceremony"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CeremonyResponse is a ceremony status with the transactions it broadcast
type CeremonyResponse struct {
	ceremony.Status
	Broadcasts []BroadcastView `json:"broadcasts,omitempty"`
}

type BroadcastView struct {
	Chain     string    `json:"chain"`
	Kind      string    `json:"kind"`
	TxHash    string    `json:"tx_hash"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type VaultView struct {
	Name          string   `json:"name"`
	PubKeyECDSA   string   `json:"pub_key_ecdsa"`
	PubKeyEdDSA   string   `json:"pub_key_eddsa"`
	LocalPartyID  string   `json:"local_party_id"`
	Signers       []string `json:"signers"`
	ResharePrefix string   `json:"reshare_prefix,omitempty"`
}
