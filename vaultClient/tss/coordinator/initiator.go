package coordinator

import (
	"context"
	"io"
	"time"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Register opens a session as its initiator: local sessions are advertised
// over mdns, then the local party joins. Close the returned closer when the
// ceremony ends.
func (c *Coordinator) Register(ctx context.Context, sess session.Session) (io.Closer, error) {
	var adv io.Closer = nopCloser{}
	if !sess.UseRelay() {
		if c.discoverer == nil {
			return nil, vcerrors.NewConfigError("local discovery is not available")
		}
		a, err := c.discoverer.Advertise(sess.ServiceName())
		if err != nil {
			return nil, vcerrors.NewNetworkError("failed to advertise session", err).WithSession(sess.ID())
		}
		adv = a
	}
	if err := c.Join(ctx, sess); err != nil {
		_ = adv.Close()
		return nil, err
	}
	return adv, nil
}

// Participants lists the parties registered so far.
func (c *Coordinator) Participants(ctx context.Context, sess session.Session) ([]string, error) {
	return c.relay.Participants(ctx, sess)
}

// WaitForParticipants polls until at least minParties parties registered.
func (c *Coordinator) WaitForParticipants(ctx context.Context, sess session.Session, minParties int) ([]string, error) {
	ticker := time.NewTicker(c.cfg.StartPollInterval)
	defer ticker.Stop()

	for {
		parties, err := c.relay.Participants(ctx, sess)
		if err == nil && len(parties) >= minParties {
			return parties, nil
		}
		if err != nil && ctx.Err() == nil {
			c.logger.Debug().Err(err).Str("session_id", sess.ID()).Msg("participant poll failed")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start publishes committee and returns sess with the committee fixed.
func (c *Coordinator) Start(ctx context.Context, sess session.Session, committee []string) (session.Session, error) {
	next, err := sess.WithCommittee(committee)
	if err != nil {
		return sess, err
	}
	if err := c.relay.StartSession(ctx, sess, committee); err != nil {
		return sess, err
	}
	c.logger.Info().Str("session_id", sess.ID()).Strs("committee", committee).Msg("session start published")
	return next, nil
}

// End removes the session from the server.
func (c *Coordinator) End(ctx context.Context, sess session.Session) error {
	return c.relay.EndSession(ctx, sess)
}
