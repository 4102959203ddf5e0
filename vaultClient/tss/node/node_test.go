package node

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-vault-client/vaultClient/config"
	"github.com/pushchain/push-vault-client/vaultClient/db"
	"github.com/pushchain/push-vault-client/vaultClient/tss/ceremony"
	"github.com/pushchain/push-vault-client/vaultClient/tss/engine/sim"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay/relaytest"
)

func testConfig(t *testing.T, partyID, relayURL string) config.Config {
	t.Helper()
	return config.Config{
		LogLevel:                  1,
		LogFormat:                 "console",
		NodeHome:                  t.TempDir(),
		LocalPartyID:              partyID,
		RelayURL:                  relayURL,
		EngineBackend:             sim.BackendName,
		KeysharePassword:          "test-password",
		MessagePullIntervalMillis: 20,
	}
}

func newTestNode(t *testing.T, cfg config.Config) *Node {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	n, err := New(cfg, Options{Database: database, DisableStatusServer: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func TestNew_Validation(t *testing.T) {
	t.Run("missing party id", func(t *testing.T) {
		cfg := testConfig(t, "", "http://127.0.0.1:1")
		_, err := New(cfg, Options{DisableStatusServer: true}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "local_party_id")
	})

	t.Run("missing home", func(t *testing.T) {
		cfg := testConfig(t, "alice", "http://127.0.0.1:1")
		cfg.NodeHome = ""
		_, err := New(cfg, Options{DisableStatusServer: true}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node_home")
	})

	t.Run("unknown engine backend", func(t *testing.T) {
		cfg := testConfig(t, "alice", "http://127.0.0.1:1")
		cfg.EngineBackend = "does-not-exist"
		_, err := New(cfg, Options{DisableStatusServer: true}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does-not-exist")
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := testConfig(t, "alice", "http://127.0.0.1:1")
		cfg.LogFormat = "xml"
		_, err := New(cfg, Options{DisableStatusServer: true}, zerolog.Nop())
		require.Error(t, err)
	})
}

func TestNew_OpensFileDatabase(t *testing.T) {
	cfg := testConfig(t, "alice", "http://127.0.0.1:1")

	n, err := New(cfg, Options{DisableStatusServer: true}, zerolog.Nop())
	require.NoError(t, err)

	vaults, err := n.Vaults()
	require.NoError(t, err)
	assert.Empty(t, vaults)
	assert.NoError(t, n.Stop())
}

func TestNode_KeygenOverRelay(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	alice := newTestNode(t, testConfig(t, "alice", srv.URL))
	bob := newTestNode(t, testConfig(t, "bob", srv.URL))
	require.NoError(t, alice.Start(ctx))
	require.NoError(t, bob.Start(ctx))

	sess, err := alice.NewSession(true)
	require.NoError(t, err)
	params := ceremony.KeygenParams{VaultName: "main", HexChainCode: "00ff"}
	content, err := alice.KeygenEnvelope(sess, params)
	require.NoError(t, err)

	type outcome struct {
		pub string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := alice.InitiateKeygen(ctx, sess, params, 2)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{pub: v.PubKeyECDSA}
	}()

	bv, err := bob.JoinKeygen(ctx, content)
	require.NoError(t, err)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, out.pub, bv.PubKeyECDSA)

	require.Eventually(t, func() bool {
		st, ok := bob.Status(sess.ID())
		return ok && st.State == ceremony.StateSuccess
	}, 2*time.Second, 10*time.Millisecond)

	vaults, err := alice.Vaults()
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.Equal(t, "main", vaults[0].Name)
}
