package round

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/db"
	"github.com/pushchain/push-vault-client/vaultClient/metrics"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay/relaytest"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
	"github.com/pushchain/push-vault-client/vaultClient/tss/verifier"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) Lookup(ctx context.Context, sess session.Session, messageID, kind string) ([]byte, bool, error) {
	args := m.Called(messageID, kind)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}

func (m *mockVerifier) Record(ctx context.Context, sess session.Session, messageID, kind string, payload []byte) error {
	args := m.Called(messageID, kind, payload)
	return args.Error(0)
}

type noopApplier struct{}

func (noopApplier) ApplyData([]byte) error { return nil }

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

// scriptedEngine fails with the given errors in order, then succeeds.
func scriptedEngine(calls *atomic.Int32, errs ...error) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		n := int(calls.Add(1))
		if n <= len(errs) {
			return nil, errs[n-1]
		}
		return map[string]string{"pub_key": "02ab"}, nil
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func setup(t *testing.T, v Verifier) (*Driver, session.Session) {
	t.Helper()
	srv := relaytest.NewServer()
	t.Cleanup(srv.Close)
	return setupWithServer(t, srv, v)
}

func setupWithServer(t *testing.T, srv *relaytest.Server, v Verifier) (*Driver, session.Session) {
	t.Helper()
	pool := workerpool.New(1)
	t.Cleanup(pool.StopWait)

	sess, err := session.New(session.Params{
		ID:               "s1",
		ServerAddress:    srv.URL,
		EncryptionKeyHex: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		LocalPartyID:     "a",
	})
	require.NoError(t, err)

	d := NewDriver(pool, relay.NewClient(zerolog.Nop()), v, Config{
		MaxAttempts:  3,
		Backoff:      5 * time.Millisecond,
		PullInterval: 10 * time.Millisecond,
		DedupSize:    16,
	}, metrics.NewCollector(prometheus.NewRegistry()), zerolog.Nop())
	return d, sess
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunSucceedsFirstAttempt(t *testing.T) {
	v := &mockVerifier{}
	v.On("Record", string(KindKeygenECDSA), string(KindKeygenECDSA), mock.Anything).Return(nil).Once()
	d, sess := setup(t, v)

	var calls atomic.Int32
	states := &stateLog{}
	res, err := d.Run(context.Background(), sess, Round{
		Kind:    KindKeygenECDSA,
		Applier: noopApplier{},
		Execute: scriptedEngine(&calls),
		OnState: states.record,
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, 1, res.Executions)

	var out map[string]string
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "02ab", out["pub_key"])
	assert.Equal(t, []State{StateStarting, StateRunning, StateCompleted}, states.states)
	v.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
	v.AssertExpectations(t)
}

func TestRunAdoptsVerifiedResultAfterTwoNetworkErrors(t *testing.T) {
	v := &mockVerifier{}
	v.On("Lookup", "msg-1", string(KindKeysign)).Return(nil, false, nil).Twice()
	v.On("Lookup", "msg-1", string(KindKeysign)).Return([]byte(`{"r":"01"}`), true, nil).Once()
	d, sess := setup(t, v)

	var calls atomic.Int32
	netErr := vcerrors.NewNetworkError("relay unreachable", nil)
	res, err := d.Run(context.Background(), sess, Round{
		Kind:      KindKeysign,
		MessageID: "msg-1",
		Applier:   noopApplier{},
		Execute:   scriptedEngine(&calls, netErr, netErr, netErr),
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, 2, res.Executions)
	assert.Equal(t, int32(2), calls.Load())
	assert.JSONEq(t, `{"r":"01"}`, string(res.Payload))
	v.AssertNumberOfCalls(t, "Lookup", 3)
	v.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	v := &mockVerifier{}
	v.On("Lookup", mock.Anything, mock.Anything).Return(nil, false, nil)
	v.On("Record", "msg-1", string(KindKeysign), mock.Anything).Return(nil).Once()
	d, sess := setup(t, v)

	var calls atomic.Int32
	res, err := d.Run(context.Background(), sess, Round{
		Kind:      KindKeysign,
		MessageID: "msg-1",
		Applier:   noopApplier{},
		Execute:   scriptedEngine(&calls, errors.New("connection reset")),
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, 2, res.Executions)
	v.AssertExpectations(t)
}

func TestRunThresholdErrorIsNotRetried(t *testing.T) {
	v := &mockVerifier{}
	d, sess := setup(t, v)

	var calls atomic.Int32
	states := &stateLog{}
	_, err := d.Run(context.Background(), sess, Round{
		Kind:    KindReshareECDSA,
		Applier: noopApplier{},
		Execute: scriptedEngine(&calls, errors.New("failed to update from bytes to new local party")),
		OnState: states.record,
	})
	require.Error(t, err)
	assert.True(t, vcerrors.IsThresholdError(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateFailed, states.states[len(states.states)-1])
	v.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestRunFailsAfterMaxAttempts(t *testing.T) {
	v := &mockVerifier{}
	v.On("Lookup", mock.Anything, mock.Anything).Return(nil, false, errors.New("relay down"))
	d, sess := setup(t, v)

	var calls atomic.Int32
	boom := errors.New("engine exploded")
	_, err := d.Run(context.Background(), sess, Round{
		Kind:    KindKeygenEdDSA,
		Applier: noopApplier{},
		Execute: scriptedEngine(&calls, boom, boom, boom, boom),
	})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeNetwork))
	assert.ErrorIs(t, err, boom)
}

func TestRunRecordFailureFailsRound(t *testing.T) {
	v := &mockVerifier{}
	v.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	d, sess := setup(t, v)

	var calls atomic.Int32
	_, err := d.Run(context.Background(), sess, Round{
		Kind:    KindKeygenECDSA,
		Applier: noopApplier{},
		Execute: scriptedEngine(&calls),
	})
	require.Error(t, err)
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeDatabase))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunCancellation(t *testing.T) {
	v := &mockVerifier{}
	d, sess := setup(t, v)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := d.Run(ctx, sess, Round{
		Kind:    KindKeygenECDSA,
		Applier: noopApplier{},
		Execute: func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunValidatesRound(t *testing.T) {
	d, sess := setup(t, &mockVerifier{})
	_, err := d.Run(context.Background(), sess, Round{Kind: KindKeysign})
	assert.True(t, vcerrors.IsCeremonyError(err, vcerrors.ErrCodeValidation))
}

func TestResultID(t *testing.T) {
	assert.Equal(t, "KEYGEN_ECDSA", Round{Kind: KindKeygenECDSA}.ResultID())
	assert.Equal(t, "abc", Round{Kind: KindKeysign, MessageID: "abc"}.ResultID())
}

func TestRunKeygenIgnoresPeerResultOnRelay(t *testing.T) {
	srv := relaytest.NewServer()
	t.Cleanup(srv.Close)
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	results := resultstore.NewStore(database.Client(), zerolog.Nop())
	v := verifier.New(results, relay.NewClient(zerolog.Nop()), zerolog.Nop())
	d, sess := setupWithServer(t, srv, v)

	// a co-signer finished its keygen; this party never does
	srv.SetKeysignResult("s1", string(KindKeygenECDSA), []byte(`{"pub_key":"02abc"}`))

	var calls atomic.Int32
	reset := errors.New("connection reset")
	_, err = d.Run(context.Background(), sess, Round{
		Kind:    KindKeygenECDSA,
		Applier: noopApplier{},
		Execute: scriptedEngine(&calls, reset, reset, reset),
	})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	_, err = results.GetRoundResult("s1", string(KindKeygenECDSA))
	assert.ErrorIs(t, err, resultstore.ErrNotFound)
}

func TestRunWithoutVerifier(t *testing.T) {
	d, sess := setup(t, nil)

	var calls atomic.Int32
	res, err := d.Run(context.Background(), sess, Round{
		Kind:    KindKeygenECDSA,
		Applier: noopApplier{},
		Execute: scriptedEngine(&calls, errors.New("connection reset")),
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, 2, res.Executions)
}
