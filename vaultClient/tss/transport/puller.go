package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ef-ds/deque"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/pushchain/push-vault-client/vaultClient/metrics"
	"github.com/pushchain/push-vault-client/vaultClient/tss/relay"
	"github.com/pushchain/push-vault-client/vaultClient/tss/session"
)

const (
	DefaultPullInterval   = time.Second
	DefaultDedupCacheSize = 4096
)

// Applier consumes decrypted inbound messages. engine.Service satisfies it.
type Applier interface {
	ApplyData(msg []byte) error
}

type deliveryState uint8

const (
	stateQueued deliveryState = iota + 1
	stateApplied
)

// Dedup remembers which relay messages were queued or applied. One Dedup is
// shared by every puller of a round so retries never re-apply a message.
type Dedup struct {
	cache *lru.Cache[string, deliveryState]
}

// NewDedup creates a dedup cache bounded to size entries.
func NewDedup(size int) (*Dedup, error) {
	if size <= 0 {
		size = DefaultDedupCacheSize
	}
	c, err := lru.New[string, deliveryState](size)
	if err != nil {
		return nil, err
	}
	return &Dedup{cache: c}, nil
}

func dedupKey(messageID, hash string) string {
	return messageID + "/" + hash
}

// PullerConfig tunes a Puller.
type PullerConfig struct {
	Interval time.Duration
	Dedup    *Dedup
}

// Puller polls the relay for the local party's messages and feeds them to an
// Applier in sequence order.
type Puller struct {
	client    RelayClient
	sess      session.Session
	messageID string
	applier   Applier
	interval  time.Duration
	dedup     *Dedup
	metrics   *metrics.Collector
	logger    zerolog.Logger

	mu     sync.Mutex
	queue  deque.Deque
	signal chan struct{}

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPuller creates a puller for the given message scope ("" for keygen and reshare).
func NewPuller(client RelayClient, sess session.Session, messageID string, applier Applier, cfg PullerConfig, m *metrics.Collector, logger zerolog.Logger) (*Puller, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPullInterval
	}
	if cfg.Dedup == nil {
		d, err := NewDedup(DefaultDedupCacheSize)
		if err != nil {
			return nil, err
		}
		cfg.Dedup = d
	}
	return &Puller{
		client:    client,
		sess:      sess,
		messageID: messageID,
		applier:   applier,
		interval:  cfg.Interval,
		dedup:     cfg.Dedup,
		metrics:   m,
		signal:    make(chan struct{}, 1),
		logger: logger.With().
			Str("component", "puller").
			Str("session_id", sess.ID()).
			Str("message_id", messageID).
			Logger(),
	}, nil
}

// Start launches the poll and feed loops. They run until Stop or ctx is done.
func (p *Puller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.pollLoop(ctx)
	go p.feedLoop(ctx)
}

// Stop cancels both loops and waits for them to exit. Messages that were
// queued but never applied are released so the next puller of the round
// fetches them again.
func (p *Puller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.releaseQueued()
	})
}

func (p *Puller) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Puller) poll(ctx context.Context) {
	msgs, err := p.client.Messages(ctx, p.sess, p.sess.LocalPartyID(), p.messageID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug().Err(err).Msg("failed to fetch messages")
		}
		return
	}
	if len(msgs) == 0 {
		return
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SequenceNo < msgs[j].SequenceNo })

	queued := 0
	for _, msg := range msgs {
		key := dedupKey(p.messageID, msg.Hash)
		state, seen := p.dedup.cache.Get(key)
		switch {
		case seen && state == stateApplied:
			// applied earlier but the delete was lost
			p.metrics.DuplicateDropped()
			p.deleteFromRelay(ctx, msg)
		case seen:
			p.metrics.DuplicateDropped()
		default:
			p.dedup.cache.Add(key, stateQueued)
			p.push(msg)
			queued++
		}
	}
	if queued > 0 {
		p.logger.Debug().Int("queued", queued).Int("fetched", len(msgs)).Msg("messages queued")
	}
}

func (p *Puller) push(msg relay.Message) {
	p.mu.Lock()
	p.queue.PushBack(msg)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Puller) pop() (relay.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.queue.PopFront()
	if !ok {
		return relay.Message{}, false
	}
	return v.(relay.Message), true
}

func (p *Puller) feedLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		msg, ok := p.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.signal:
				continue
			}
		}
		if ctx.Err() != nil {
			p.release(msg)
			return
		}
		p.apply(ctx, msg)
	}
}

func (p *Puller) releaseQueued() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		v, ok := p.queue.PopFront()
		if !ok {
			return
		}
		p.release(v.(relay.Message))
	}
}

// release forgets a message that is still only queued. It stays on the relay.
func (p *Puller) release(msg relay.Message) {
	key := dedupKey(p.messageID, msg.Hash)
	if state, ok := p.dedup.cache.Peek(key); ok && state == stateQueued {
		p.dedup.cache.Remove(key)
	}
}

func (p *Puller) apply(ctx context.Context, msg relay.Message) {
	key := dedupKey(p.messageID, msg.Hash)
	log := p.logger.With().Str("from", msg.From).Str("hash", msg.Hash).Int64("sequence_no", msg.SequenceNo).Logger()

	plain, err := Open(p.sess.EncryptionKey(), msg.Body)
	if err == nil {
		err = p.applier.ApplyData(plain)
	}
	if err != nil {
		// leave it on the relay; the next poll re-delivers it
		p.dedup.cache.Remove(key)
		p.metrics.ApplyFailed()
		log.Warn().Err(err).Msg("failed to apply message")
		return
	}

	p.dedup.cache.Add(key, stateApplied)
	p.metrics.MessageApplied()
	log.Debug().Msg("message applied")
	p.deleteFromRelay(ctx, msg)
}

func (p *Puller) deleteFromRelay(ctx context.Context, msg relay.Message) {
	if err := p.client.DeleteMessage(ctx, p.sess, p.sess.LocalPartyID(), msg.Hash, p.messageID); err != nil && ctx.Err() == nil {
		p.logger.Warn().Err(err).Str("hash", msg.Hash).Msg("failed to delete applied message")
	}
}
