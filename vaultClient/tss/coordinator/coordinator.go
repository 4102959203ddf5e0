// Package coordinator runs the session-level protocol with the relay: finding
// the server, joining, waiting for the committee and confirming completion.
package coordinator

import (
	"context"
	"io"
	"slices"
	"time"

	"github.com/rs/zerolog"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
)

const (
	DefaultStartPollInterval  = time.Second
	DefaultQuorumPollInterval = time.Second
	DefaultQuorumMaxAttempts  = 60
)

// RelayClient is the session API of the relay.
type RelayClient interface {
	RegisterParties(ctx context.Context, sess session.Session, parties []string) error
	Participants(ctx context.Context, sess session.Session) ([]string, error)
	StartSession(ctx context.Context, sess session.Session, committee []string) error
	StartedCommittee(ctx context.Context, sess session.Session) ([]string, bool, error)
	MarkComplete(ctx context.Context, sess session.Session, parties []string) error
	CompletedParties(ctx context.Context, sess session.Session) ([]string, error)
	EndSession(ctx context.Context, sess session.Session) error
}

// Discoverer locates and announces local sessions.
type Discoverer interface {
	Find(ctx context.Context, serviceName string) (string, error)
	Advertise(serviceName string) (io.Closer, error)
}

// Config holds the coordinator's endpoints and liveness constants.
type Config struct {
	RelayURL           string
	StartPollInterval  time.Duration
	QuorumPollInterval time.Duration
	QuorumMaxAttempts  int
}

func (c *Config) setDefaults() {
	if c.StartPollInterval <= 0 {
		c.StartPollInterval = DefaultStartPollInterval
	}
	if c.QuorumPollInterval <= 0 {
		c.QuorumPollInterval = DefaultQuorumPollInterval
	}
	if c.QuorumMaxAttempts <= 0 {
		c.QuorumMaxAttempts = DefaultQuorumMaxAttempts
	}
}

// Coordinator is stateless; every call takes the session it acts on.
type Coordinator struct {
	relay      RelayClient
	discoverer Discoverer
	cfg        Config
	logger     zerolog.Logger
}

// New creates a coordinator. discoverer may be nil when only relay sessions are used.
func New(relay RelayClient, discoverer Discoverer, cfg Config, logger zerolog.Logger) *Coordinator {
	cfg.setDefaults()
	return &Coordinator{
		relay:      relay,
		discoverer: discoverer,
		cfg:        cfg,
		logger:     logger.With().Str("component", "session_coordinator").Logger(),
	}
}

// Discover resolves the server address of sess.
func (c *Coordinator) Discover(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.UseRelay() {
		if c.cfg.RelayURL == "" {
			return sess, vcerrors.NewConfigError("relay url is not configured")
		}
		return sess.WithServerAddress(c.cfg.RelayURL), nil
	}
	if c.discoverer == nil {
		return sess, vcerrors.NewConfigError("local discovery is not available")
	}
	addr, err := c.discoverer.Find(ctx, sess.ServiceName())
	if err != nil {
		return sess, vcerrors.NewNetworkError("failed to discover session coordinator", err).WithSession(sess.ID())
	}
	return sess.WithServerAddress(addr), nil
}

// Join registers the local party. It is attempted once.
func (c *Coordinator) Join(ctx context.Context, sess session.Session) error {
	if err := c.relay.RegisterParties(ctx, sess, []string{sess.LocalPartyID()}); err != nil {
		return err
	}
	c.logger.Info().Str("session_id", sess.ID()).Str("party", sess.LocalPartyID()).Msg("joined session")
	return nil
}

// WaitForStart polls until the initiator published a committee containing
// the local party and returns sess with that committee fixed. Only ctx ends it.
func (c *Coordinator) WaitForStart(ctx context.Context, sess session.Session) (session.Session, error) {
	ticker := time.NewTicker(c.cfg.StartPollInterval)
	defer ticker.Stop()

	for {
		committee, started, err := c.relay.StartedCommittee(ctx, sess)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				c.logger.Debug().Err(err).Str("session_id", sess.ID()).Msg("start poll failed")
			}
		case started && slices.Contains(committee, sess.LocalPartyID()):
			c.logger.Info().Str("session_id", sess.ID()).Strs("committee", committee).Msg("session started")
			return sess.WithCommittee(committee)
		case started:
			c.logger.Debug().Str("session_id", sess.ID()).Strs("committee", committee).Msg("started without local party")
		}

		select {
		case <-ctx.Done():
			return sess, ctx.Err()
		case <-ticker.C:
		}
	}
}

// MarkComplete reports that the local party finished all rounds.
func (c *Coordinator) MarkComplete(ctx context.Context, sess session.Session) error {
	return c.relay.MarkComplete(ctx, sess, []string{sess.LocalPartyID()})
}

// PollQuorum waits until every committee member reported completion.
func (c *Coordinator) PollQuorum(ctx context.Context, sess session.Session) error {
	committee := sess.Committee()
	if len(committee) == 0 {
		return vcerrors.NewValidationError("session has no committee").WithSession(sess.ID())
	}

	var missing []string
	for attempt := 1; attempt <= c.cfg.QuorumMaxAttempts; attempt++ {
		done, err := c.relay.CompletedParties(ctx, sess)
		if err == nil {
			missing = missingFrom(committee, done)
			if len(missing) == 0 {
				c.logger.Info().Str("session_id", sess.ID()).Int("attempt", attempt).Msg("completion quorum reached")
				return nil
			}
		} else if ctx.Err() == nil {
			c.logger.Debug().Err(err).Str("session_id", sess.ID()).Int("attempt", attempt).Msg("completion poll failed")
		}

		if attempt == c.cfg.QuorumMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.QuorumPollInterval):
		}
	}

	return vcerrors.NewTimeoutError("parties did not confirm completion").
		WithSession(sess.ID()).
		WithContext("missing", missing).
		WithContext("attempts", c.cfg.QuorumMaxAttempts)
}

// Complete is MarkComplete followed by PollQuorum.
func (c *Coordinator) Complete(ctx context.Context, sess session.Session) error {
	if err := c.MarkComplete(ctx, sess); err != nil {
		return err
	}
	return c.PollQuorum(ctx, sess)
}

func missingFrom(committee, done []string) []string {
	var missing []string
	for _, p := range committee {
		if !slices.Contains(done, p) {
			missing = append(missing, p)
		}
	}
	return missing
}
