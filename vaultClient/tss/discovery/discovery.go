// Package discovery finds the device coordinating a local (non-relay)
// session through libp2p mdns and announces the local device when it
// coordinates one itself.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/rs/zerolog"
)

// Config controls discovery.
type Config struct {
	// MediatorPort is where the coordinating device serves the relay API.
	MediatorPort int
	// ListenAddrs for the ephemeral libp2p host. Defaults to /ip4/0.0.0.0/tcp/0.
	ListenAddrs []string
}

func (c *Config) setDefaults() {
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
}

// Discoverer runs short-lived mdns browsers and advertisers.
type Discoverer struct {
	cfg    Config
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Discoverer {
	cfg.setDefaults()
	return &Discoverer{
		cfg:    cfg,
		logger: logger.With().Str("component", "discovery").Logger(),
	}
}

// Find browses for serviceName and returns the mediator URL of the first
// responding device. Browsing stops once found or when ctx is done.
func (d *Discoverer) Find(ctx context.Context, serviceName string) (string, error) {
	h, err := d.newHost()
	if err != nil {
		return "", err
	}
	defer h.Close()

	n := newNotifee(h.ID(), d.cfg.MediatorPort, d.logger)
	svc := mdns.NewMdnsService(h, serviceName, n)
	if err := svc.Start(); err != nil {
		return "", fmt.Errorf("failed to start mdns browser: %w", err)
	}
	defer svc.Close()

	d.logger.Info().Str("service_name", serviceName).Msg("discovering session coordinator")
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case url := <-n.found:
		d.logger.Info().Str("service_name", serviceName).Str("server", url).Msg("session coordinator discovered")
		return url, nil
	}
}

// Advertisement is a running mdns announcement.
type Advertisement struct {
	host host.Host
	svc  mdns.Service
	once sync.Once
	err  error
}

// Close stops the announcement and releases the host.
func (a *Advertisement) Close() error {
	a.once.Do(func() {
		if err := a.svc.Close(); err != nil {
			a.err = err
		}
		if err := a.host.Close(); err != nil && a.err == nil {
			a.err = err
		}
	})
	return a.err
}

// Advertise announces the local device under serviceName until the returned
// *Advertisement is closed.
func (d *Discoverer) Advertise(serviceName string) (io.Closer, error) {
	h, err := d.newHost()
	if err != nil {
		return nil, err
	}
	svc := mdns.NewMdnsService(h, serviceName, ignoreNotifee{})
	if err := svc.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to start mdns advertiser: %w", err)
	}
	d.logger.Info().Str("service_name", serviceName).Int("mediator_port", d.cfg.MediatorPort).Msg("advertising session")
	return &Advertisement{host: h, svc: svc}, nil
}

func (d *Discoverer) newHost() (host.Host, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(d.cfg.ListenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery host: %w", err)
	}
	return h, nil
}

// MediatorURL builds http://<ip>:<port> from the first usable address,
// preferring non-loopback IPv4.
func MediatorURL(addrs []ma.Multiaddr, port int) (string, bool) {
	var fallback net.IP
	for _, addr := range addrs {
		ip, err := manet.ToIP(addr)
		if err != nil || ip.IsUnspecified() {
			continue
		}
		if ip.To4() != nil && !ip.IsLoopback() {
			return formatURL(ip, port), true
		}
		if fallback == nil {
			fallback = ip
		}
	}
	if fallback == nil {
		return "", false
	}
	return formatURL(fallback, port), true
}

func formatURL(ip net.IP, port int) string {
	return "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

type notifee struct {
	self   peer.ID
	port   int
	found  chan string
	logger zerolog.Logger
}

func newNotifee(self peer.ID, port int, logger zerolog.Logger) *notifee {
	return &notifee{self: self, port: port, found: make(chan string, 1), logger: logger}
}

// HandlePeerFound implements mdns.Notifee.
func (n *notifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.self {
		return
	}
	url, ok := MediatorURL(info.Addrs, n.port)
	if !ok {
		n.logger.Debug().Str("peer_id", info.ID.String()).Msg("peer has no usable address")
		return
	}
	select {
	case n.found <- url:
	default:
	}
}

type ignoreNotifee struct{}

func (ignoreNotifee) HandlePeerFound(peer.AddrInfo) {}
