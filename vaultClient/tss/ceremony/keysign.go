package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
	"github.com/pushchain/push-vault-client/vaultClient/tss/engine"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
	"github.com/pushchain/push-vault-client/vaultClient/tss/round"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
	"github.com/pushchain/push-vault-client/vaultClient/tss/transport"
	"github.com/pushchain/push-vault-client/vaultClient/tss/txbroadcaster"
)

// KeysignResult is the outcome of a finished keysign.
type KeysignResult struct {
	SessionID  string
	Signatures map[string]common.Signature
	Receipt    *txbroadcaster.Receipt
}

// keysignJob is a validated keysign ready to run.
type keysignJob struct {
	vault    *resultstore.Vault
	payload  *keysign.Payload
	messages []string
	keyType  engine.KeyType
	pubKey   string
}

// KeysignEnvelope encodes the join envelope for signing payload on sess,
// including the digest of the messages co-signers must derive.
func (r *Runner) KeysignEnvelope(sess session.Session, payload *keysign.Payload) (string, error) {
	if r.dispatcher == nil {
		return "", vcerrors.NewConfigError("keysign needs a signing dispatcher")
	}
	msgs, err := r.dispatcher.MessagesToSign(payload)
	if err != nil {
		return "", err
	}
	return keysign.Encode(keysign.KeysignMessage{
		SessionID:        sess.ID(),
		ServiceName:      sess.ServiceName(),
		UseVultisigRelay: sess.UseRelay(),
		EncryptionKeyHex: sess.EncryptionKeyHex(),
		Payload:          *payload,
		MessagesDigest:   keysign.MessagesDigest(msgs),
	})
}

// JoinKeysign joins the keysign described by a join envelope with the
// local vault identified by vaultPubKeyECDSA. Everything the envelope
// claims is checked before the first request to the relay.
func (r *Runner) JoinKeysign(ctx context.Context, vaultPubKeyECDSA, content string) (*KeysignResult, error) {
	msg, err := keysign.DecodeKeysignMessage(content)
	if err != nil {
		return nil, err
	}
	t := r.begin(msg.SessionID, KindKeysign)
	t.set(StateDiscoveringSessionID)

	job, err := r.prepareKeysign(msg.SessionID, vaultPubKeyECDSA, &msg.Payload)
	if err != nil {
		return nil, t.fail(err)
	}
	if err := msg.CheckVault(job.vault.PubKeyECDSA); err != nil {
		return nil, t.fail(err)
	}
	if err := msg.CheckMessages(job.messages); err != nil {
		return nil, t.fail(err)
	}

	sess, err := r.newSession(msg.SessionID, msg.ServiceName, msg.EncryptionKeyHex, job.vault.LocalPartyID, msg.UseVultisigRelay)
	if err != nil {
		return nil, t.fail(err)
	}
	sess, err = r.enter(ctx, t, sess, StateJoinKeysign, StateWaitingForKeysignStart)
	if err != nil {
		return nil, err
	}
	return r.runKeysign(ctx, t, sess, job)
}

// InitiateKeysign hosts a keysign of payload on sess, starting it once
// minParties registered.
func (r *Runner) InitiateKeysign(ctx context.Context, sess session.Session, payload *keysign.Payload, minParties int) (*KeysignResult, error) {
	t := r.begin(sess.ID(), KindKeysign)
	job, err := r.prepareKeysign(sess.ID(), payload.VaultPubKeyECDSA, payload)
	if err != nil {
		return nil, t.failToStart(err)
	}

	sess, closer, err := r.host(ctx, t, sess, minParties)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	res, err := r.runKeysign(ctx, t, sess, job)
	if err != nil {
		r.endSession(ctx, sess)
		return nil, err
	}
	return res, nil
}

func (r *Runner) prepareKeysign(sessionID, vaultPubKeyECDSA string, payload *keysign.Payload) (*keysignJob, error) {
	if r.dispatcher == nil {
		return nil, vcerrors.NewConfigError("keysign needs a signing dispatcher")
	}
	vault, err := r.vaults.GetVault(vaultPubKeyECDSA)
	if errors.Is(err, resultstore.ErrNotFound) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("vault %s is not on this device", vaultPubKeyECDSA)).
			WithSession(sessionID)
	}
	if err != nil {
		return nil, vcerrors.NewDatabaseError("failed to load vault", err).WithSession(sessionID)
	}

	msgs, err := r.dispatcher.MessagesToSign(payload)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, vcerrors.NewValidationError("payload produced no messages to sign").WithSession(sessionID)
	}

	job := &keysignJob{
		vault:    vault,
		payload:  payload,
		messages: msgs,
		keyType:  engine.KeyTypeECDSA,
		pubKey:   vault.PubKeyECDSA,
	}
	if common.UsesEdDSA(payload.Coin.Chain) {
		job.keyType = engine.KeyTypeEdDSA
		job.pubKey = vault.PubKeyEdDSA
	}
	if job.pubKey == "" {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("vault has no %s key", job.keyType)).WithSession(sessionID)
	}
	return job, nil
}

// runKeysign signs every message in order, waits for every party to
// confirm, then assembles and broadcasts the transactions.
func (r *Runner) runKeysign(ctx context.Context, t *tracker, sess session.Session, job *keysignJob) (*KeysignResult, error) {
	t.status.ToSign = len(job.messages)
	t.set(StateKeysign)

	sigs := make(map[string]common.Signature, len(job.messages))
	for _, m := range job.messages {
		sig, err := r.signMessage(ctx, sess, job, m)
		if err != nil {
			return nil, t.fail(err)
		}
		sigs[m] = sig
		t.status.Signed = len(sigs)
		t.publish()
	}

	if err := r.coordinator.Complete(ctx, sess); err != nil {
		return nil, t.fail(err)
	}

	receipt, err := r.dispatcher.Dispatch(ctx, sess.ID(), job.payload, sigs)
	if err != nil {
		return nil, t.fail(err)
	}
	t.status.Receipt = receipt
	t.succeed(StateKeysignFinished)
	return &KeysignResult{SessionID: sess.ID(), Signatures: sigs, Receipt: receipt}, nil
}

// signMessage runs the keysign round of one message on its own engine
// instance and relay scope.
func (r *Runner) signMessage(ctx context.Context, sess session.Session, job *keysignJob, msg string) (common.Signature, error) {
	raw, err := hex.DecodeString(msg)
	if err != nil {
		return common.Signature{}, vcerrors.NewInternalError("message to sign is not hex", err).WithSession(sess.ID())
	}
	messageID := keysign.MessageID(msg)

	messenger := transport.NewMessenger(r.relay, sess, messageID, r.metrics, r.logger)
	svc, err := r.engine(messenger, r.shares, false)
	if err != nil {
		return common.Signature{}, vcerrors.NewInternalError("failed to create engine instance", err).WithSession(sess.ID())
	}

	req := &engine.KeysignRequest{
		PubKey:               job.pubKey,
		MessageToSign:        base64.StdEncoding.EncodeToString(raw),
		KeysignCommitteeKeys: sess.Committee(),
		LocalPartyKey:        sess.LocalPartyID(),
	}
	var resp engine.KeysignResponse
	err = r.runRound(ctx, sess, round.KindKeysign, messageID, svc, func(ctx context.Context) (any, error) {
		if job.keyType == engine.KeyTypeEdDSA {
			return svc.KeysignEdDSA(ctx, req)
		}
		return svc.KeysignECDSA(ctx, req)
	}, &resp)
	if err != nil {
		return common.Signature{}, err
	}
	return common.Signature{
		Msg:          msg,
		R:            resp.R,
		S:            resp.S,
		DerSignature: resp.DerSignature,
		RecoveryID:   resp.RecoveryID,
	}, nil
}
