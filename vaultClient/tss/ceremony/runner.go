// Package ceremony runs keygen, reshare and keysign ceremonies end to end on
// top of the session coordinator and the round driver.
package ceremony

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
	"github.com/pushchain/push-vault-client/vaultClient/metrics"
	"github.com/pushchain/push-vault-client/vaultClient/tss/engine"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
	"github.com/pushchain/push-vault-client/vaultClient/tss/round"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
	"github.com/pushchain/push-vault-client/vaultClient/tss/transport"
	"github.com/pushchain/push-vault-client/vaultClient/tss/txbroadcaster"
)

const endSessionTimeout = 5 * time.Second

// Coordinator is the session protocol with the relay.
type Coordinator interface {
	Discover(ctx context.Context, sess session.Session) (session.Session, error)
	Join(ctx context.Context, sess session.Session) error
	WaitForStart(ctx context.Context, sess session.Session) (session.Session, error)
	Complete(ctx context.Context, sess session.Session) error
	Register(ctx context.Context, sess session.Session) (io.Closer, error)
	WaitForParticipants(ctx context.Context, sess session.Session, minParties int) ([]string, error)
	Start(ctx context.Context, sess session.Session, committee []string) (session.Session, error)
	End(ctx context.Context, sess session.Session) error
}

// RoundRunner drives one cryptographic round.
type RoundRunner interface {
	Run(ctx context.Context, sess session.Session, r round.Round) (*round.Result, error)
}

// VaultStore persists the vaults this device holds a share of.
type VaultStore interface {
	GetVault(pubKeyECDSA string) (*resultstore.Vault, error)
	SaveVault(v resultstore.Vault) error
}

// Dispatcher derives the messages of a keysign payload and broadcasts the
// signed result.
type Dispatcher interface {
	MessagesToSign(payload *keysign.Payload) ([]string, error)
	Dispatch(ctx context.Context, sessionID string, payload *keysign.Payload, signatures map[string]common.Signature) (*txbroadcaster.Receipt, error)
}

// Config holds the runner dependencies. Dispatcher is only needed for
// keysign; Updates and Metrics are optional.
type Config struct {
	Coordinator  Coordinator
	Driver       RoundRunner
	Relay        transport.RelayClient
	Engine       engine.Factory
	Shares       engine.StateAccessor
	Vaults       VaultStore
	Dispatcher   Dispatcher
	LocalPartyID string
	Updates      chan<- Status
	Metrics      *metrics.Collector
	Logger       zerolog.Logger
}

// Runner executes ceremonies. It holds no per-ceremony state, so several
// ceremonies may run concurrently.
type Runner struct {
	coordinator  Coordinator
	driver       RoundRunner
	relay        transport.RelayClient
	engine       engine.Factory
	shares       engine.StateAccessor
	vaults       VaultStore
	dispatcher   Dispatcher
	localPartyID string
	updates      chan<- Status
	metrics      *metrics.Collector
	logger       zerolog.Logger
}

func NewRunner(cfg Config) (*Runner, error) {
	switch {
	case cfg.Coordinator == nil:
		return nil, vcerrors.NewConfigError("ceremony runner needs a coordinator")
	case cfg.Driver == nil:
		return nil, vcerrors.NewConfigError("ceremony runner needs a round driver")
	case cfg.Relay == nil:
		return nil, vcerrors.NewConfigError("ceremony runner needs a relay client")
	case cfg.Engine == nil:
		return nil, vcerrors.NewConfigError("ceremony runner needs an engine factory")
	case cfg.Shares == nil:
		return nil, vcerrors.NewConfigError("ceremony runner needs a key share store")
	case cfg.Vaults == nil:
		return nil, vcerrors.NewConfigError("ceremony runner needs a vault store")
	}
	return &Runner{
		coordinator:  cfg.Coordinator,
		driver:       cfg.Driver,
		relay:        cfg.Relay,
		engine:       cfg.Engine,
		shares:       cfg.Shares,
		vaults:       cfg.Vaults,
		dispatcher:   cfg.Dispatcher,
		localPartyID: cfg.LocalPartyID,
		updates:      cfg.Updates,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "ceremony").Logger(),
	}, nil
}

// tracker follows one ceremony and publishes its transitions.
type tracker struct {
	r      *Runner
	status Status
	log    zerolog.Logger
}

func (r *Runner) begin(sessionID string, kind Kind) *tracker {
	r.metrics.CeremonyStarted()
	t := &tracker{
		r:      r,
		status: Status{SessionID: sessionID, Kind: kind},
		log:    r.logger.With().Str("session_id", sessionID).Str("kind", string(kind)).Logger(),
	}
	return t
}

func (t *tracker) set(state State) {
	t.status.State = state
	t.log.Info().Str("state", string(state)).Msg("ceremony state changed")
	t.publish()
}

func (t *tracker) publish() {
	if t.r.updates == nil {
		return
	}
	st := t.status
	st.UpdatedAt = time.Now().UTC()
	select {
	case t.r.updates <- st:
	default:
		t.log.Warn().Str("state", string(st.State)).Msg("status channel full, dropping update")
	}
}

// fail moves to Error and returns err unchanged.
func (t *tracker) fail(err error) error {
	return t.terminate(StateError, err)
}

// failToStart moves to FailedToStart; used when the session could not be entered.
func (t *tracker) failToStart(err error) error {
	return t.terminate(StateFailedToStart, err)
}

func (t *tracker) terminate(state State, err error) error {
	t.status.Error = vcerrors.UserMessage(err)
	t.status.IsThreshold = vcerrors.IsThresholdError(err)
	t.log.Error().Err(err).Str("state", string(state)).Msg("ceremony failed")

	outcome := metrics.OutcomeFailed
	if t.status.IsThreshold {
		outcome = metrics.OutcomeThreshold
	}
	t.r.metrics.CeremonyFinished(string(t.status.Kind), outcome)
	t.status.State = state
	t.publish()
	return err
}

func (t *tracker) succeed(state State) {
	t.r.metrics.CeremonyFinished(string(t.status.Kind), metrics.OutcomeCompleted)
	t.set(state)
}

// enter discovers and joins a session, then waits for the initiator to fix
// the committee.
func (r *Runner) enter(ctx context.Context, t *tracker, sess session.Session, joinState, waitState State) (session.Session, error) {
	t.set(StateDiscoverService)
	sess, err := r.coordinator.Discover(ctx, sess)
	if err != nil {
		return sess, t.failToStart(err)
	}

	t.set(joinState)
	if err := r.coordinator.Join(ctx, sess); err != nil {
		return sess, t.failToStart(err)
	}

	t.set(waitState)
	sess, err = r.coordinator.WaitForStart(ctx, sess)
	if err != nil {
		return sess, t.fail(err)
	}
	return sess, nil
}

// host registers a session as its initiator and starts it once minParties
// registered. The returned closer stops the mdns advertisement.
func (r *Runner) host(ctx context.Context, t *tracker, sess session.Session, minParties int) (session.Session, io.Closer, error) {
	if minParties < 2 {
		return sess, nil, t.failToStart(vcerrors.NewValidationError(fmt.Sprintf("a ceremony needs at least 2 parties, got %d", minParties)))
	}
	t.set(StateDiscoverService)
	sess, err := r.coordinator.Discover(ctx, sess)
	if err != nil {
		return sess, nil, t.failToStart(err)
	}

	t.set(StateJoinSession)
	closer, err := r.coordinator.Register(ctx, sess)
	if err != nil {
		return sess, nil, t.failToStart(err)
	}

	t.set(StateWaitingForStart)
	parties, err := r.coordinator.WaitForParticipants(ctx, sess, minParties)
	if err == nil {
		sess, err = r.coordinator.Start(ctx, sess, parties)
	}
	if err != nil {
		_ = closer.Close()
		r.endSession(ctx, sess)
		return sess, nil, t.fail(err)
	}
	return sess, closer, nil
}

// endSession removes a failed session from the server. A completed session
// is left for the relay to expire so slower parties can still confirm.
func (r *Runner) endSession(ctx context.Context, sess session.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endSessionTimeout)
	defer cancel()
	if err := r.coordinator.End(ctx, sess); err != nil {
		r.logger.Debug().Err(err).Str("session_id", sess.ID()).Msg("failed to end session")
	}
}

// runRound drives one round and decodes its result into out.
func (r *Runner) runRound(ctx context.Context, sess session.Session, kind round.Kind, messageID string, svc engine.Service, exec func(ctx context.Context) (any, error), out any) error {
	res, err := r.driver.Run(ctx, sess, round.Round{
		Kind:      kind,
		MessageID: messageID,
		Applier:   svc,
		Execute:   exec,
	})
	if err != nil {
		return err
	}
	if err := res.Decode(out); err != nil {
		return vcerrors.NewInternalError(fmt.Sprintf("failed to decode %s result", kind), err).WithSession(sess.ID())
	}
	return nil
}

func (r *Runner) newSession(id, serviceName, keyHex, localPartyID string, useRelay bool) (session.Session, error) {
	if localPartyID == "" {
		localPartyID = r.localPartyID
	}
	sess, err := session.New(session.Params{
		ID:               id,
		ServiceName:      serviceName,
		EncryptionKeyHex: keyHex,
		LocalPartyID:     localPartyID,
		UseRelay:         useRelay,
	})
	if err != nil {
		return sess, vcerrors.NewInvalidPayloadError(err)
	}
	return sess, nil
}
