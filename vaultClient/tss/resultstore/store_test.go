package resultstore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-vault-client/vaultClient/db"
	"github.com/pushchain/push-vault-client/vaultClient/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database.Client(), zerolog.Nop())
}

func TestRoundResults(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRoundResult("s1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRoundResult("s1", "m1", "KEYSIGN", []byte(`{"r":"01"}`)))
	got, err := s.GetRoundResult("s1", "m1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":"01"}`, string(got))

	t.Run("first result wins", func(t *testing.T) {
		require.NoError(t, s.SaveRoundResult("s1", "m1", "KEYSIGN", []byte(`{"r":"02"}`)))
		got, err := s.GetRoundResult("s1", "m1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"r":"01"}`, string(got))
	})

	t.Run("scoped by session", func(t *testing.T) {
		_, err := s.GetRoundResult("s2", "m1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	require.NoError(t, s.SaveRoundResult("s1", "m2", "KEYSIGN", []byte(`{}`)))
	rows, err := s.ListRoundResults("s1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m1", rows[0].MessageID)
}

func TestVaults(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetVault("02aa")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.SaveVault(Vault{Name: "no key"}))

	v := Vault{
		Name:         "main",
		PubKeyECDSA:  "02aa",
		PubKeyEdDSA:  "ed01",
		HexChainCode: "cc",
		LocalPartyID: "a",
		Signers:      []string{"a", "b"},
	}
	require.NoError(t, s.SaveVault(v))

	got, err := s.GetVault("02aa")
	require.NoError(t, err)
	assert.Equal(t, v, *got)

	v.Signers = []string{"a", "b", "c"}
	v.ResharePrefix = "prefix1"
	require.NoError(t, s.SaveVault(v))
	got, err = s.GetVault("02aa")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.Signers)
	assert.Equal(t, "prefix1", got.ResharePrefix)

	all, err := s.ListVaults()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBroadcasts(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.RecordBroadcast(store.BroadcastRecord{SessionID: "s1", Chain: "Ethereum", Kind: BroadcastKindApprove, TxHash: "0x1", Status: BroadcastStatusBroadcasted}))
	require.NoError(t, s.RecordBroadcast(store.BroadcastRecord{SessionID: "s1", Chain: "Ethereum", Kind: BroadcastKindMain, TxHash: "0x2", Status: BroadcastStatusBroadcasted}))
	require.NoError(t, s.RecordBroadcast(store.BroadcastRecord{SessionID: "s2", Chain: "Bitcoin", Kind: BroadcastKindMain, Status: BroadcastStatusFailed, ErrorMsg: "boom"}))

	rows, err := s.ListBroadcasts("s1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, BroadcastKindApprove, rows[0].Kind)
	assert.Equal(t, "0x2", rows[1].TxHash)
}
