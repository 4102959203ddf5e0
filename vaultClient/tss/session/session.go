// Package session holds the immutable description of one ceremony that is
// threaded through every coordination call.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Session is a value type. Mutations return a new Session.
type Session struct {
	id            string
	serviceName   string
	serverAddress string
	encryptionKey []byte
	localPartyID  string
	committee     []string
	useRelay      bool
}

// Params are the inputs for New.
type Params struct {
	ID               string
	ServiceName      string
	ServerAddress    string
	EncryptionKeyHex string
	LocalPartyID     string
	UseRelay         bool
}

// New validates params and builds a Session without a committee.
func New(p Params) (Session, error) {
	if p.ID == "" {
		return Session{}, fmt.Errorf("session id is required")
	}
	if p.LocalPartyID == "" {
		return Session{}, fmt.Errorf("local party id is required")
	}
	key, err := hex.DecodeString(p.EncryptionKeyHex)
	if err != nil {
		return Session{}, fmt.Errorf("invalid encryption key: %w", err)
	}
	if len(key) != 32 {
		return Session{}, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return Session{
		id:            p.ID,
		serviceName:   p.ServiceName,
		serverAddress: strings.TrimRight(p.ServerAddress, "/"),
		encryptionKey: key,
		localPartyID:  p.LocalPartyID,
		useRelay:      p.UseRelay,
	}, nil
}

// NewInitiated creates a fresh session for a ceremony started on this device.
func NewInitiated(serviceNamePrefix, localPartyID string, useRelay bool) (Session, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return Session{}, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	id := uuid.NewString()
	return New(Params{
		ID:               id,
		ServiceName:      fmt.Sprintf("%s-%s", serviceNamePrefix, id[:8]),
		EncryptionKeyHex: hex.EncodeToString(key),
		LocalPartyID:     localPartyID,
		UseRelay:         useRelay,
	})
}

func (s Session) ID() string            { return s.id }
func (s Session) ServiceName() string   { return s.serviceName }
func (s Session) ServerAddress() string { return s.serverAddress }
func (s Session) LocalPartyID() string  { return s.localPartyID }
func (s Session) UseRelay() bool        { return s.useRelay }

// EncryptionKey returns a copy of the session's symmetric key.
func (s Session) EncryptionKey() []byte {
	return slices.Clone(s.encryptionKey)
}

// EncryptionKeyHex returns the session key in the form shared with peers.
func (s Session) EncryptionKeyHex() string {
	return hex.EncodeToString(s.encryptionKey)
}

// Committee returns a copy of the finalized committee, or nil before start.
func (s Session) Committee() []string {
	return slices.Clone(s.committee)
}

// HasCommittee reports whether the committee has been fixed.
func (s Session) HasCommittee() bool {
	return len(s.committee) > 0
}

// WithServerAddress returns a copy pointing at a discovered mediator.
func (s Session) WithServerAddress(addr string) Session {
	next := s
	next.serverAddress = strings.TrimRight(addr, "/")
	return next
}

// WithCommittee fixes the committee. A committee can only be set once.
func (s Session) WithCommittee(committee []string) (Session, error) {
	if s.HasCommittee() {
		return s, fmt.Errorf("committee of session %s is already fixed", s.id)
	}
	if len(committee) == 0 {
		return s, fmt.Errorf("committee cannot be empty")
	}
	if !slices.Contains(committee, s.localPartyID) {
		return s, fmt.Errorf("committee does not contain local party %s", s.localPartyID)
	}
	next := s
	next.committee = slices.Clone(committee)
	return next, nil
}

// Peers returns the committee without the local party.
func (s Session) Peers() []string {
	peers := make([]string, 0, len(s.committee))
	for _, p := range s.committee {
		if p != s.localPartyID {
			peers = append(peers, p)
		}
	}
	return peers
}
