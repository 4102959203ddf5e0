// Package verifier answers whether a round already produced a result, either
// on this device or, for keysign, on a co-signer that reported it to the relay.
package verifier

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
)

// sharedKind is the only round kind whose result is identical on every
// party. Keygen and reshare results depend on the local key share.
const sharedKind = "KEYSIGN"

// ResultStore is the local persistence of round results.
type ResultStore interface {
	SaveRoundResult(sessionID, messageID, kind string, payload []byte) error
	GetRoundResult(sessionID, messageID string) ([]byte, error)
}

// RelayClient is the relay's completion-record API.
type RelayClient interface {
	MarkKeysignComplete(ctx context.Context, sess session.Session, messageID string, payload []byte) error
	KeysignResult(ctx context.Context, sess session.Session, messageID string) ([]byte, bool, error)
}

// Verifier combines the local store and the relay completion records.
type Verifier struct {
	store  ResultStore
	relay  RelayClient
	logger zerolog.Logger
}

func New(store ResultStore, relay RelayClient, logger zerolog.Logger) *Verifier {
	return &Verifier{
		store:  store,
		relay:  relay,
		logger: logger.With().Str("component", "verifier").Logger(),
	}
}

// Lookup returns a previously recorded result for messageID. The local store
// is consulted first; a keysign result found only on the relay is persisted
// locally.
func (v *Verifier) Lookup(ctx context.Context, sess session.Session, messageID, kind string) ([]byte, bool, error) {
	payload, err := v.store.GetRoundResult(sess.ID(), messageID)
	switch {
	case err == nil:
		return payload, true, nil
	case !errors.Is(err, resultstore.ErrNotFound):
		return nil, false, err
	}

	if !v.useRelay(sess, kind) {
		return nil, false, nil
	}
	payload, found, err := v.relay.KeysignResult(ctx, sess, messageID)
	if err != nil || !found {
		return nil, false, err
	}

	if err := v.store.SaveRoundResult(sess.ID(), messageID, kind, payload); err != nil {
		v.logger.Warn().Err(err).Str("session_id", sess.ID()).Str("message_id", messageID).Msg("failed to persist relay result")
	}
	v.logger.Info().Str("session_id", sess.ID()).Str("message_id", messageID).Msg("round result found on relay")
	return payload, true, nil
}

// Record persists a freshly produced result and mirrors keysign results to
// the relay. Only the local write can fail the call.
func (v *Verifier) Record(ctx context.Context, sess session.Session, messageID, kind string, payload []byte) error {
	if err := v.store.SaveRoundResult(sess.ID(), messageID, kind, payload); err != nil {
		return err
	}
	if !v.useRelay(sess, kind) {
		return nil
	}
	if err := v.relay.MarkKeysignComplete(ctx, sess, messageID, payload); err != nil {
		v.logger.Warn().Err(err).Str("session_id", sess.ID()).Str("message_id", messageID).Msg("failed to mirror result to relay")
	}
	return nil
}

func (v *Verifier) useRelay(sess session.Session, kind string) bool {
	return v.relay != nil && sess.ServerAddress() != "" && kind == sharedKind
}
