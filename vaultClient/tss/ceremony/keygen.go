package ceremony

import (
	"context"
	"errors"
	"fmt"
	"slices"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
	"github.com/pushchain/push-vault-client/vaultClient/tss/engine"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
	"github.com/pushchain/push-vault-client/vaultClient/tss/round"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
	"github.com/pushchain/push-vault-client/vaultClient/tss/transport"
)

// KeygenParams describes the vault a keygen or reshare produces.
type KeygenParams struct {
	VaultName    string
	HexChainCode string
	// Reshare only: the vault being reshared, its previous signers and the
	// prefix of the previous key epoch.
	PubKeyECDSA   string
	OldParties    []string
	ResharePrefix string
}

// IsReshare reports whether the params reshare an existing vault.
func (p KeygenParams) IsReshare() bool {
	return p.PubKeyECDSA != ""
}

func (p KeygenParams) kind() Kind {
	if p.IsReshare() {
		return KindReshare
	}
	return KindKeygen
}

// KeygenParamsFromMessage extracts the vault parameters of a join envelope.
func KeygenParamsFromMessage(m *keysign.KeygenMessage) KeygenParams {
	return KeygenParams{
		VaultName:     m.VaultName,
		HexChainCode:  m.HexChainCode,
		PubKeyECDSA:   m.PubKeyECDSA,
		OldParties:    slices.Clone(m.OldParties),
		ResharePrefix: m.ResharePrefix,
	}
}

// KeygenEnvelope encodes the join envelope co-signers scan to enter sess.
func KeygenEnvelope(sess session.Session, p KeygenParams) (string, error) {
	return keysign.Encode(keysign.KeygenMessage{
		SessionID:        sess.ID(),
		ServiceName:      sess.ServiceName(),
		UseVultisigRelay: sess.UseRelay(),
		EncryptionKeyHex: sess.EncryptionKeyHex(),
		HexChainCode:     p.HexChainCode,
		VaultName:        p.VaultName,
		PubKeyECDSA:      p.PubKeyECDSA,
		OldParties:       p.OldParties,
		ResharePrefix:    p.ResharePrefix,
	})
}

// JoinKeygen joins the keygen or reshare described by a join envelope and
// returns the resulting vault.
func (r *Runner) JoinKeygen(ctx context.Context, content string) (*resultstore.Vault, error) {
	msg, err := keysign.DecodeKeygenMessage(content)
	if err != nil {
		return nil, err
	}
	params := KeygenParamsFromMessage(msg)
	t := r.begin(msg.SessionID, params.kind())
	t.set(StateDiscoveringSessionID)

	sess, err := r.newSession(msg.SessionID, msg.ServiceName, msg.EncryptionKeyHex, "", msg.UseVultisigRelay)
	if err != nil {
		return nil, t.fail(err)
	}
	prev, err := r.previousVault(sess, params)
	if err != nil {
		return nil, t.fail(err)
	}

	sess, err = r.enter(ctx, t, sess, StateJoinSession, StateWaitingForStart)
	if err != nil {
		return nil, err
	}
	return r.runKeygen(ctx, t, sess, params, prev)
}

// InitiateKeygen hosts a keygen or reshare on sess, starting it once
// minParties registered.
func (r *Runner) InitiateKeygen(ctx context.Context, sess session.Session, params KeygenParams, minParties int) (*resultstore.Vault, error) {
	t := r.begin(sess.ID(), params.kind())
	prev, err := r.previousVault(sess, params)
	if err != nil {
		return nil, t.failToStart(err)
	}

	sess, closer, err := r.host(ctx, t, sess, minParties)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	vault, err := r.runKeygen(ctx, t, sess, params, prev)
	if err != nil {
		r.endSession(ctx, sess)
		return nil, err
	}
	return vault, nil
}

// previousVault loads the local vault a reshare continues. Parties joining
// fresh have none.
func (r *Runner) previousVault(sess session.Session, params KeygenParams) (*resultstore.Vault, error) {
	if !params.IsReshare() || !slices.Contains(params.OldParties, sess.LocalPartyID()) {
		return nil, nil
	}
	v, err := r.vaults.GetVault(params.PubKeyECDSA)
	if errors.Is(err, resultstore.ErrNotFound) {
		return nil, vcerrors.NewProtocolMismatchError("the vault being reshared is not on this device").
			WithSession(sess.ID())
	}
	if err != nil {
		return nil, vcerrors.NewDatabaseError("failed to load vault", err).WithSession(sess.ID())
	}
	return v, nil
}

// runKeygen executes the ECDSA then EdDSA round on one engine instance,
// waits for every party to confirm and stores the vault.
func (r *Runner) runKeygen(ctx context.Context, t *tracker, sess session.Session, params KeygenParams, prev *resultstore.Vault) (*resultstore.Vault, error) {
	t.set(StateCreatingInstance)
	messenger := transport.NewMessenger(r.relay, sess, "", r.metrics, r.logger)
	svc, err := r.engine(messenger, r.shares, true)
	if err != nil {
		return nil, t.fail(vcerrors.NewInternalError("failed to create engine instance", err).WithSession(sess.ID()))
	}

	vault := resultstore.Vault{
		Name:         params.VaultName,
		HexChainCode: params.HexChainCode,
		LocalPartyID: sess.LocalPartyID(),
		Signers:      sess.Committee(),
	}
	if params.IsReshare() {
		err = r.reshare(ctx, t, sess, svc, params, prev, &vault)
	} else {
		err = r.keygen(ctx, t, sess, svc, params, &vault)
	}
	if err != nil {
		return nil, t.fail(err)
	}
	t.status.PubKeyECDSA = vault.PubKeyECDSA
	t.status.PubKeyEdDSA = vault.PubKeyEdDSA

	if err := r.coordinator.Complete(ctx, sess); err != nil {
		return nil, t.fail(err)
	}
	if err := r.vaults.SaveVault(vault); err != nil {
		return nil, t.fail(vcerrors.NewDatabaseError("failed to save vault", err).WithSession(sess.ID()))
	}
	t.succeed(StateSuccess)
	return &vault, nil
}

func (r *Runner) keygen(ctx context.Context, t *tracker, sess session.Session, svc engine.Service, params KeygenParams, vault *resultstore.Vault) error {
	req := &engine.KeygenRequest{
		LocalPartyID: sess.LocalPartyID(),
		AllParties:   sess.Committee(),
		ChainCodeHex: params.HexChainCode,
	}

	t.set(StateKeygenECDSA)
	var ecdsa engine.KeygenResponse
	err := r.runRound(ctx, sess, round.KindKeygenECDSA, "", svc, func(ctx context.Context) (any, error) {
		return svc.KeygenECDSA(ctx, req)
	}, &ecdsa)
	if err != nil {
		return err
	}

	t.set(StateKeygenEdDSA)
	var eddsa engine.KeygenResponse
	err = r.runRound(ctx, sess, round.KindKeygenEdDSA, "", svc, func(ctx context.Context) (any, error) {
		return svc.KeygenEdDSA(ctx, req)
	}, &eddsa)
	if err != nil {
		return err
	}

	if ecdsa.PubKey == "" || eddsa.PubKey == "" {
		return vcerrors.NewInternalError("engine returned an empty public key", nil).WithSession(sess.ID())
	}
	vault.PubKeyECDSA = ecdsa.PubKey
	vault.PubKeyEdDSA = eddsa.PubKey
	return nil
}

// reshare carries the prefix returned by the ECDSA round into the EdDSA
// round and the stored vault.
func (r *Runner) reshare(ctx context.Context, t *tracker, sess session.Session, svc engine.Service, params KeygenParams, prev *resultstore.Vault, vault *resultstore.Vault) error {
	var oldECDSA, oldEdDSA string
	if prev != nil {
		oldECDSA, oldEdDSA = prev.PubKeyECDSA, prev.PubKeyEdDSA
		if vault.Name == "" {
			vault.Name = prev.Name
		}
	}

	t.set(StateReshareECDSA)
	var ecdsa engine.ReshareResponse
	err := r.runRound(ctx, sess, round.KindReshareECDSA, "", svc, func(ctx context.Context) (any, error) {
		return svc.ReshareECDSA(ctx, &engine.ReshareRequest{
			LocalPartyID:  sess.LocalPartyID(),
			OldParties:    params.OldParties,
			NewParties:    sess.Committee(),
			PubKey:        oldECDSA,
			ChainCodeHex:  params.HexChainCode,
			ResharePrefix: params.ResharePrefix,
		})
	}, &ecdsa)
	if err != nil {
		return err
	}
	if ecdsa.PubKey != "" && ecdsa.PubKey != params.PubKeyECDSA {
		return vcerrors.NewProtocolMismatchError(fmt.Sprintf("reshare produced key %s, expected %s", ecdsa.PubKey, params.PubKeyECDSA)).
			WithSession(sess.ID())
	}

	t.set(StateReshareEdDSA)
	var eddsa engine.ReshareResponse
	err = r.runRound(ctx, sess, round.KindReshareEdDSA, "", svc, func(ctx context.Context) (any, error) {
		return svc.ReshareEdDSA(ctx, &engine.ReshareRequest{
			LocalPartyID:  sess.LocalPartyID(),
			OldParties:    params.OldParties,
			NewParties:    sess.Committee(),
			PubKey:        oldEdDSA,
			ChainCodeHex:  params.HexChainCode,
			ResharePrefix: ecdsa.ResharePrefix,
		})
	}, &eddsa)
	if err != nil {
		return err
	}

	vault.PubKeyECDSA = params.PubKeyECDSA
	vault.PubKeyEdDSA = eddsa.PubKey
	vault.ResharePrefix = ecdsa.ResharePrefix
	return nil
}
