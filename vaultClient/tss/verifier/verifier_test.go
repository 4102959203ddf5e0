package verifier

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-vault-client/vaultClient/db"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay/relaytest"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
)

func setup(t *testing.T) (*Verifier, *resultstore.Store, *relaytest.Server, session.Session) {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	store := resultstore.NewStore(database.Client(), zerolog.Nop())

	srv := relaytest.NewServer()
	t.Cleanup(srv.Close)
	sess, err := session.New(session.Params{
		ID:               "s1",
		ServerAddress:    srv.URL,
		EncryptionKeyHex: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		LocalPartyID:     "a",
	})
	require.NoError(t, err)
	return New(store, relay.NewClient(zerolog.Nop()), zerolog.Nop()), store, srv, sess
}

func TestLookupMiss(t *testing.T) {
	v, _, _, sess := setup(t)
	_, found, err := v.Lookup(context.Background(), sess, "m1", "KEYSIGN")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookupPrefersLocal(t *testing.T) {
	v, store, srv, sess := setup(t)
	require.NoError(t, store.SaveRoundResult("s1", "m1", "KEYSIGN", []byte("local")))
	srv.SetKeysignResult("s1", "m1", []byte("remote"))

	before := srv.Requests()
	payload, found, err := v.Lookup(context.Background(), sess, "m1", "KEYSIGN")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "local", string(payload))
	assert.Equal(t, before, srv.Requests())
}

func TestLookupAdoptsRelayResult(t *testing.T) {
	v, store, srv, sess := setup(t)
	srv.SetKeysignResult("s1", "m1", []byte("remote"))

	payload, found, err := v.Lookup(context.Background(), sess, "m1", "KEYSIGN")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "remote", string(payload))

	stored, err := store.GetRoundResult("s1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(stored))
}

func TestKeygenResultsStayLocal(t *testing.T) {
	v, store, srv, sess := setup(t)
	srv.SetKeysignResult("s1", "KEYGEN_ECDSA", []byte(`{"pub_key":"02abc"}`))

	before := srv.Requests()
	_, found, err := v.Lookup(context.Background(), sess, "KEYGEN_ECDSA", "KEYGEN_ECDSA")
	require.NoError(t, err)
	assert.False(t, found)
	_, err = store.GetRoundResult("s1", "KEYGEN_ECDSA")
	assert.ErrorIs(t, err, resultstore.ErrNotFound)

	require.NoError(t, v.Record(context.Background(), sess, "RESHARE_EDDSA", "RESHARE_EDDSA", []byte("share")))
	assert.Equal(t, before, srv.Requests())
}

func TestLookupRelayError(t *testing.T) {
	v, _, srv, sess := setup(t)
	srv.SetStatus(http.MethodGet, "/complete/s1/keysign", http.StatusBadGateway)

	_, found, err := v.Lookup(context.Background(), sess, "m1", "KEYSIGN")
	assert.Error(t, err)
	assert.False(t, found)
}

func TestRecordMirrorsToRelay(t *testing.T) {
	v, store, _, sess := setup(t)
	require.NoError(t, v.Record(context.Background(), sess, "m1", "KEYSIGN", []byte("sig")))

	stored, err := store.GetRoundResult("s1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "sig", string(stored))

	remote, found, err := relay.NewClient(zerolog.Nop()).KeysignResult(context.Background(), sess, "m1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sig", string(remote))
}

func TestRecordToleratesRelayFailure(t *testing.T) {
	v, store, srv, sess := setup(t)
	srv.SetStatus(http.MethodPost, "/complete/s1/keysign", http.StatusInternalServerError)

	require.NoError(t, v.Record(context.Background(), sess, "m1", "KEYSIGN", []byte("sig")))
	_, err := store.GetRoundResult("s1", "m1")
	require.NoError(t, err)
}

type failingStore struct{}

func (failingStore) SaveRoundResult(string, string, string, []byte) error { return errors.New("disk full") }
func (failingStore) GetRoundResult(string, string) ([]byte, error)        { return nil, errors.New("disk gone") }

func TestStoreErrorsPropagate(t *testing.T) {
	_, _, _, sess := setup(t)
	v := New(failingStore{}, nil, zerolog.Nop())

	_, _, err := v.Lookup(context.Background(), sess, "m1", "KEYSIGN")
	assert.Error(t, err)
	assert.Error(t, v.Record(context.Background(), sess, "m1", "KEYSIGN", []byte("x")))
}
