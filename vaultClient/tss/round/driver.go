// Package round drives one cryptographic round of a ceremony to completion,
// retrying transient failures and adopting results other parties confirmed.
package round

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/metrics"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
	"github.com/pushchain/push-vault-client/vaultClient/tss/transport"
)

// Kind identifies the engine call a round performs.
type Kind string

const (
	KindKeygenECDSA  Kind = "KEYGEN_ECDSA"
	KindKeygenEdDSA  Kind = "KEYGEN_EDDSA"
	KindReshareECDSA Kind = "RESHARE_ECDSA"
	KindReshareEdDSA Kind = "RESHARE_EDDSA"
	KindKeysign      Kind = "KEYSIGN"
)

// State is the lifecycle of a single Run.
type State string

const (
	StateStarting  State = "STARTING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
)

// Verifier finds results recorded earlier and records new ones.
type Verifier interface {
	Lookup(ctx context.Context, sess session.Session, messageID, kind string) ([]byte, bool, error)
	Record(ctx context.Context, sess session.Session, messageID, kind string, payload []byte) error
}

// Round describes the work of one round.
type Round struct {
	Kind Kind
	// MessageID scopes relay traffic; empty for keygen and reshare.
	MessageID string
	// Applier receives inbound messages while Execute runs.
	Applier transport.Applier
	// Execute performs the blocking engine call. Its result is JSON encoded.
	Execute func(ctx context.Context) (any, error)
	// OnState is notified on every state change. Optional.
	OnState func(State)
}

// ResultID is the key under which the round's result is recorded.
func (r Round) ResultID() string {
	if r.MessageID != "" {
		return r.MessageID
	}
	return string(r.Kind)
}

// Result is the outcome of a completed round.
type Result struct {
	Payload    []byte
	Verified   bool // adopted from an earlier completion instead of produced now
	Executions int
}

// Decode unmarshals the payload into out.
func (r *Result) Decode(out any) error {
	return json.Unmarshal(r.Payload, out)
}

// Config tunes retries and message polling.
type Config struct {
	MaxAttempts  int
	Backoff      time.Duration
	PullInterval time.Duration
	DedupSize    int
}

// Driver runs rounds. One engine call runs at a time per worker.
type Driver struct {
	pool     *workerpool.WorkerPool
	relay    transport.RelayClient
	verifier Verifier
	cfg      Config
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewDriver creates a driver executing engine calls on pool. A nil verifier
// disables lookup and recording of round results.
func NewDriver(pool *workerpool.WorkerPool, relay transport.RelayClient, verifier Verifier, cfg Config, m *metrics.Collector, logger zerolog.Logger) *Driver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Driver{
		pool:     pool,
		relay:    relay,
		verifier: verifier,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "round_driver").Logger(),
	}
}

// Run executes r until it completes, is adopted from the verifier, or fails.
// Threshold errors stop immediately; other failures are retried up to
// MaxAttempts executions with a constant backoff between them.
func (d *Driver) Run(ctx context.Context, sess session.Session, r Round) (*Result, error) {
	if r.Execute == nil || r.Applier == nil {
		return nil, vcerrors.NewValidationError("round needs an engine call and an applier")
	}
	kind := string(r.Kind)
	id := r.ResultID()
	log := d.logger.With().Str("session_id", sess.ID()).Str("round", kind).Str("message_id", id).Logger()
	notify := func(s State) {
		if r.OnState != nil {
			r.OnState(s)
		}
	}
	notify(StateStarting)

	dedup, err := transport.NewDedup(d.cfg.DedupSize)
	if err != nil {
		notify(StateFailed)
		return nil, vcerrors.NewInternalError("failed to create dedup cache", err)
	}

	interval := d.cfg.Backoff
	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), retry.BackoffFunc(func() (time.Duration, bool) {
		return interval, false
	}))

	var (
		result    *Result
		attempt   int
		execCount int
	)
	adopt := func(payload []byte) error {
		result = &Result{Payload: payload, Verified: true, Executions: execCount}
		d.metrics.VerificationHit(kind)
		log.Info().Int("attempt", attempt).Msg("adopted verified round result")
		return nil
	}

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if payload, ok := d.lookup(ctx, sess, id, kind, log); ok {
				return adopt(payload)
			}
		}

		notify(StateRunning)
		execCount++
		log.Debug().Int("attempt", attempt).Msg("executing round")
		payload, execErr := d.execute(ctx, sess, r, dedup)
		if execErr == nil {
			if err := d.record(ctx, sess, id, kind, payload); err != nil {
				return vcerrors.NewDatabaseError("failed to record round result", err).WithSession(sess.ID())
			}
			result = &Result{Payload: payload, Executions: execCount}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		classified := vcerrors.ClassifyEngineError(execErr).WithSession(sess.ID())
		if classified.Code == vcerrors.ErrCodeThreshold {
			return classified
		}
		log.Warn().Err(execErr).Int("attempt", attempt).Msg("round attempt failed")

		if payload, ok := d.lookup(ctx, sess, id, kind, log); ok {
			return adopt(payload)
		}
		return retry.RetryableError(classified)
	})

	if err != nil {
		notify(StateFailed)
		outcome := metrics.OutcomeFailed
		if vcerrors.IsThresholdError(err) {
			outcome = metrics.OutcomeThreshold
		}
		d.metrics.RoundOutcome(kind, outcome)
		log.Error().Err(err).Int("attempts", attempt).Msg("round failed")
		var ce *vcerrors.CeremonyError
		if vcerrors.As(err, &ce) && ce.Code != vcerrors.ErrCodeThreshold {
			return nil, ce.WithContext("attempts", attempt)
		}
		return nil, err
	}

	notify(StateCompleted)
	outcome := metrics.OutcomeCompleted
	if result.Verified {
		outcome = metrics.OutcomeVerified
	}
	d.metrics.RoundOutcome(kind, outcome)
	log.Info().Int("attempts", attempt).Bool("verified", result.Verified).Msg("round completed")
	return result, nil
}

// lookup treats verifier errors as a miss.
func (d *Driver) lookup(ctx context.Context, sess session.Session, id, kind string, log zerolog.Logger) ([]byte, bool) {
	if d.verifier == nil {
		return nil, false
	}
	payload, found, err := d.verifier.Lookup(ctx, sess, id, kind)
	if err != nil {
		log.Debug().Err(err).Msg("verification lookup failed")
		return nil, false
	}
	return payload, found
}

func (d *Driver) record(ctx context.Context, sess session.Session, id, kind string, payload []byte) error {
	if d.verifier == nil {
		return nil
	}
	return d.verifier.Record(ctx, sess, id, kind, payload)
}

type execOutcome struct {
	payload []byte
	err     error
}

// execute runs one engine call on the worker pool with a puller alongside.
func (d *Driver) execute(ctx context.Context, sess session.Session, r Round, dedup *transport.Dedup) ([]byte, error) {
	d.metrics.RoundAttempt(string(r.Kind))

	puller, err := transport.NewPuller(d.relay, sess, r.MessageID, r.Applier, transport.PullerConfig{
		Interval: d.cfg.PullInterval,
		Dedup:    dedup,
	}, d.metrics, d.logger)
	if err != nil {
		return nil, err
	}
	puller.Start(ctx)
	defer puller.Stop()

	done := make(chan execOutcome, 1)
	d.pool.Submit(func() {
		resp, err := r.Execute(ctx)
		if err != nil {
			done <- execOutcome{err: err}
			return
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			err = fmt.Errorf("failed to encode %s result: %w", r.Kind, err)
		}
		done <- execOutcome{payload: payload, err: err}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.payload, out.err
	}
}
