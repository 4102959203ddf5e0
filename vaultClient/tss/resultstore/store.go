// Package resultstore persists round results, vault records and broadcast
// receipts in the local database.
package resultstore

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pushchain/push-vault-client/vaultClient/store"
)

const (
	BroadcastKindApprove = "APPROVE"
	BroadcastKindMain    = "MAIN"

	BroadcastStatusBroadcasted = "BROADCASTED"
	BroadcastStatusFailed      = "FAILED"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("record not found")

// Store provides database access for ceremony results.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a new result store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "result_store").Logger(),
	}
}

// SaveRoundResult stores the result of a round. The first result recorded for
// a (session, message) pair wins; later saves are ignored.
func (s *Store) SaveRoundResult(sessionID, messageID, kind string, payload []byte) error {
	row := store.RoundResult{
		SessionID:  sessionID,
		MessageID:  messageID,
		Kind:       kind,
		Payload:    payload,
		ProducedAt: time.Now().UTC(),
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to save round result %s/%s", sessionID, messageID)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug().
			Str("session_id", sessionID).
			Str("message_id", messageID).
			Msg("round result already recorded")
	}
	return nil
}

// GetRoundResult returns the stored payload for a round, or ErrNotFound.
func (s *Store) GetRoundResult(sessionID, messageID string) ([]byte, error) {
	var row store.RoundResult
	err := s.db.Where("session_id = ? AND message_id = ?", sessionID, messageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query round result %s/%s", sessionID, messageID)
	}
	return row.Payload, nil
}

// ListRoundResults returns every result of a session, oldest first.
func (s *Store) ListRoundResults(sessionID string) ([]store.RoundResult, error) {
	var rows []store.RoundResult
	if err := s.db.Where("session_id = ?", sessionID).Order("produced_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list round results of %s", sessionID)
	}
	return rows, nil
}

// Vault is the value form of a stored vault record.
type Vault struct {
	Name          string
	PubKeyECDSA   string
	PubKeyEdDSA   string
	HexChainCode  string
	LocalPartyID  string
	Signers       []string
	ResharePrefix string
}

// SaveVault inserts or updates the vault identified by its ECDSA public key.
func (s *Store) SaveVault(v Vault) error {
	if v.PubKeyECDSA == "" {
		return errors.New("vault ECDSA public key is required")
	}
	row := store.VaultRecord{
		Name:          v.Name,
		PubKeyECDSA:   v.PubKeyECDSA,
		PubKeyEdDSA:   v.PubKeyEdDSA,
		HexChainCode:  v.HexChainCode,
		LocalPartyID:  v.LocalPartyID,
		Signers:       strings.Join(v.Signers, ","),
		ResharePrefix: v.ResharePrefix,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pub_key_ecdsa"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "pub_key_eddsa", "hex_chain_code", "local_party_id", "signers", "reshare_prefix", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrapf(err, "failed to save vault %s", v.PubKeyECDSA)
	}
	return nil
}

// GetVault loads a vault by ECDSA public key, or ErrNotFound.
func (s *Store) GetVault(pubKeyECDSA string) (*Vault, error) {
	var row store.VaultRecord
	err := s.db.Where("pub_key_ecdsa = ?", pubKeyECDSA).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query vault %s", pubKeyECDSA)
	}
	return toVault(row), nil
}

// ListVaults returns all vaults ordered by name.
func (s *Store) ListVaults() ([]Vault, error) {
	var rows []store.VaultRecord
	if err := s.db.Order("name ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list vaults")
	}
	out := make([]Vault, 0, len(rows))
	for _, r := range rows {
		out = append(out, *toVault(r))
	}
	return out, nil
}

// RecordBroadcast appends a broadcast receipt.
func (s *Store) RecordBroadcast(rec store.BroadcastRecord) error {
	if err := s.db.Create(&rec).Error; err != nil {
		return errors.Wrapf(err, "failed to record broadcast for session %s", rec.SessionID)
	}
	return nil
}

// ListBroadcasts returns the receipts of a session in submission order.
func (s *Store) ListBroadcasts(sessionID string) ([]store.BroadcastRecord, error) {
	var rows []store.BroadcastRecord
	if err := s.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list broadcasts of %s", sessionID)
	}
	return rows, nil
}

func toVault(r store.VaultRecord) *Vault {
	var signers []string
	if r.Signers != "" {
		signers = strings.Split(r.Signers, ",")
	}
	return &Vault{
		Name:          r.Name,
		PubKeyECDSA:   r.PubKeyECDSA,
		PubKeyEdDSA:   r.PubKeyEdDSA,
		HexChainCode:  r.HexChainCode,
		LocalPartyID:  r.LocalPartyID,
		Signers:       signers,
		ResharePrefix: r.ResharePrefix,
	}
}
