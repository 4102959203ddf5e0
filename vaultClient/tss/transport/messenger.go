// Package transport moves encrypted protocol messages between the threshold
// engine and the relay.
package transport

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/metrics"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
)

// RelayClient is the subset of the relay API the transport needs.
type RelayClient interface {
	PostMessage(ctx context.Context, sess session.Session, messageID string, msg relay.Message) error
	Messages(ctx context.Context, sess session.Session, partyID, messageID string) ([]relay.Message, error)
	DeleteMessage(ctx context.Context, sess session.Session, partyID, hash, messageID string) error
}

// Messenger implements engine.Messenger for one session and message scope.
type Messenger struct {
	client    RelayClient
	sess      session.Session
	messageID string
	seq       atomic.Int64
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// NewMessenger creates a messenger posting under messageID ("" for keygen and reshare).
func NewMessenger(client RelayClient, sess session.Session, messageID string, m *metrics.Collector, logger zerolog.Logger) *Messenger {
	return &Messenger{
		client:    client,
		sess:      sess,
		messageID: messageID,
		metrics:   m,
		logger: logger.With().
			Str("component", "messenger").
			Str("session_id", sess.ID()).
			Str("message_id", messageID).
			Logger(),
	}
}

// Send encrypts body under the session key and posts it to the relay for to.
func (m *Messenger) Send(ctx context.Context, from, to string, body []byte) error {
	sealed, err := Seal(m.sess.EncryptionKey(), body)
	if err != nil {
		return vcerrors.NewInternalError("failed to encrypt outbound message", err)
	}

	seq := m.seq.Add(1) - 1
	msg := relay.Message{
		SessionID:  m.sess.ID(),
		From:       from,
		To:         []string{to},
		Body:       sealed,
		Hash:       BodyHash(body),
		SequenceNo: seq,
	}
	if err := m.client.PostMessage(ctx, m.sess, m.messageID, msg); err != nil {
		return err
	}

	m.metrics.MessageSent()
	m.logger.Debug().
		Str("to", to).
		Int64("sequence_no", seq).
		Str("hash", msg.Hash).
		Msg("message sent")
	return nil
}
