// Package store contains GORM-backed SQLite models used by the vault client.
//
// Database Structure (database file: vault_data.db):
//
//	<node_home>/data/
//	└── vault_data.db
//	    ├── round_results
//	    ├── vaults
//	    └── broadcasts
package store

import (
	"time"

	"gorm.io/gorm"
)

// RoundResult caches the outcome of one cryptographic round so a retried or
// restarted driver can adopt it instead of re-running the round.
type RoundResult struct {
	gorm.Model
	SessionID  string    `gorm:"uniqueIndex:idx_session_message;not null"` // Ceremony session id
	MessageID  string    `gorm:"uniqueIndex:idx_session_message;not null"` // md5 of the signed message, or the round kind for keygen/reshare
	Kind       string    // "KEYGEN_ECDSA", "KEYGEN_EDDSA", "RESHARE_ECDSA", "RESHARE_EDDSA", "KEYSIGN"
	Payload    []byte    // JSON-encoded engine response
	ProducedAt time.Time `gorm:"index"`
}

// VaultRecord is the local view of a vault produced by keygen or reshare.
type VaultRecord struct {
	gorm.Model
	Name          string `gorm:"not null"`
	PubKeyECDSA   string `gorm:"column:pub_key_ecdsa;uniqueIndex;not null"`
	PubKeyEdDSA   string `gorm:"column:pub_key_eddsa"`
	HexChainCode  string
	LocalPartyID  string
	Signers       string // Comma separated committee
	ResharePrefix string // Correlation tag linking key epochs, empty for fresh keygen
}

// TableName specifies the table name for VaultRecord.
func (VaultRecord) TableName() string {
	return "vaults"
}

// BroadcastRecord tracks every transaction submitted by the signing dispatcher.
type BroadcastRecord struct {
	gorm.Model
	SessionID string `gorm:"index;not null"`
	Chain     string `gorm:"index"`
	Kind      string // "APPROVE" or "MAIN"
	TxHash    string
	Status    string `gorm:"index"` // "BROADCASTED" or "FAILED"
	ErrorMsg  string `gorm:"type:text"`
}

// TableName specifies the table name for BroadcastRecord.
func (BroadcastRecord) TableName() string {
	return "broadcasts"
}
