package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewValidation(t *testing.T) {
	_, err := New(Params{LocalPartyID: "a", EncryptionKeyHex: testKeyHex})
	require.ErrorContains(t, err, "session id is required")

	_, err = New(Params{ID: "s", EncryptionKeyHex: testKeyHex})
	require.ErrorContains(t, err, "local party id is required")

	_, err = New(Params{ID: "s", LocalPartyID: "a", EncryptionKeyHex: "zz"})
	require.ErrorContains(t, err, "invalid encryption key")

	_, err = New(Params{ID: "s", LocalPartyID: "a", EncryptionKeyHex: "0102"})
	require.ErrorContains(t, err, "must be 32 bytes")
}

func TestTransitionsReturnNewValues(t *testing.T) {
	s, err := New(Params{ID: "s1", LocalPartyID: "a", EncryptionKeyHex: testKeyHex, ServerAddress: "http://relay/"})
	require.NoError(t, err)
	assert.Equal(t, "http://relay", s.ServerAddress())

	moved := s.WithServerAddress("http://10.0.0.2:18080")
	assert.Equal(t, "http://relay", s.ServerAddress())
	assert.Equal(t, "http://10.0.0.2:18080", moved.ServerAddress())

	started, err := moved.WithCommittee([]string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, moved.HasCommittee())
	assert.Equal(t, []string{"a", "b"}, started.Committee())
	assert.Equal(t, []string{"b"}, started.Peers())

	_, err = started.WithCommittee([]string{"a", "c"})
	require.ErrorContains(t, err, "already fixed")
}

func TestCommitteeMustContainLocalParty(t *testing.T) {
	s, err := New(Params{ID: "s1", LocalPartyID: "a", EncryptionKeyHex: testKeyHex})
	require.NoError(t, err)

	_, err = s.WithCommittee([]string{"b", "c"})
	require.ErrorContains(t, err, "does not contain local party")

	_, err = s.WithCommittee(nil)
	require.ErrorContains(t, err, "cannot be empty")
}

func TestCommitteeCopiesAreIsolated(t *testing.T) {
	s, err := New(Params{ID: "s1", LocalPartyID: "a", EncryptionKeyHex: testKeyHex})
	require.NoError(t, err)
	input := []string{"a", "b"}
	s, err = s.WithCommittee(input)
	require.NoError(t, err)

	input[1] = "mutated"
	got := s.Committee()
	got[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, s.Committee())

	key := s.EncryptionKey()
	key[0] = 0xff
	assert.Equal(t, testKeyHex, s.EncryptionKeyHex())
}

func TestNewInitiated(t *testing.T) {
	s, err := NewInitiated("VultisigApp", "laptop", true)
	require.NoError(t, err)
	assert.Len(t, s.EncryptionKey(), 32)
	assert.True(t, strings.HasPrefix(s.ServiceName(), "VultisigApp-"))
	assert.True(t, s.UseRelay())
	assert.NotEmpty(t, s.ID())

	other, err := NewInitiated("VultisigApp", "laptop", true)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), other.ID())
	assert.NotEqual(t, s.EncryptionKeyHex(), other.EncryptionKeyHex())
}
