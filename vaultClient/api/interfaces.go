package api

import (
	"github.com/pushchain/push-vault-client/vaultClient/store"
	"github.com/pushchain/push-vault-client/vaultClient/tss/ceremony"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
)

// CeremonyStatuses exposes the latest status of recent ceremonies
type CeremonyStatuses interface {
	Get(sessionID string) (ceremony.Status, bool)
	List() []ceremony.Status
}

// VaultLister lists the vaults held on this device
type VaultLister interface {
	ListVaults() ([]resultstore.Vault, error)
}

// BroadcastLister lists the broadcast receipts of a session
type BroadcastLister interface {
	ListBroadcasts(sessionID string) ([]store.BroadcastRecord, error)
}

// ChainLister lists the chains a keysign payload may target
type ChainLister interface {
	Chains() []string
}
