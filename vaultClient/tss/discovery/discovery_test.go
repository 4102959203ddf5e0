package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(t *testing.T, ss ...string) []ma.Multiaddr {
	t.Helper()
	out := make([]ma.Multiaddr, 0, len(ss))
	for _, s := range ss {
		a, err := ma.NewMultiaddr(s)
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func TestMediatorURL(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
		ok    bool
	}{
		{"lan ipv4", []string{"/ip4/192.168.1.20/tcp/4001"}, "http://192.168.1.20:18080", true},
		{"prefers lan over loopback", []string{"/ip4/127.0.0.1/tcp/4001", "/ip4/10.0.0.5/tcp/4001"}, "http://10.0.0.5:18080", true},
		{"loopback fallback", []string{"/ip4/127.0.0.1/tcp/4001"}, "http://127.0.0.1:18080", true},
		{"ipv6 bracketed", []string{"/ip6/fe80::1/tcp/4001"}, "http://[fe80::1]:18080", true},
		{"unspecified skipped", []string{"/ip4/0.0.0.0/tcp/4001"}, "", false},
		{"no ip", []string{"/dns4/example.com/tcp/4001"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MediatorURL(addrs(t, tt.addrs...), 18080)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNotifeeIgnoresSelfAndKeepsFirst(t *testing.T) {
	self := peer.ID("self")
	n := newNotifee(self, 18080, zerolog.Nop())

	n.HandlePeerFound(peer.AddrInfo{ID: self, Addrs: addrs(t, "/ip4/10.0.0.1/tcp/1")})
	n.HandlePeerFound(peer.AddrInfo{ID: "other", Addrs: addrs(t, "/ip4/0.0.0.0/tcp/1")})
	select {
	case url := <-n.found:
		t.Fatalf("unexpected discovery %s", url)
	default:
	}

	n.HandlePeerFound(peer.AddrInfo{ID: "other", Addrs: addrs(t, "/ip4/10.0.0.2/tcp/1")})
	n.HandlePeerFound(peer.AddrInfo{ID: "third", Addrs: addrs(t, "/ip4/10.0.0.3/tcp/1")})
	assert.Equal(t, "http://10.0.0.2:18080", <-n.found)
}

func TestFindStopsOnCancel(t *testing.T) {
	d := New(Config{MediatorPort: 18080, ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.Find(ctx, "pvault-test-nobody-here")
	assert.Error(t, err)
}
