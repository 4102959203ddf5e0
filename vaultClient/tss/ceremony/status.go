package ceremony

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pushchain/push-vault-client/vaultClient/tss/txbroadcaster"
)

// State is a step of a ceremony state machine.
type State string

// Keygen and reshare.
const (
	StateCreatingInstance State = "CreatingInstance"
	StateKeygenECDSA      State = "KeygenECDSA"
	StateKeygenEdDSA      State = "KeygenEdDSA"
	StateReshareECDSA     State = "ReshareECDSA"
	StateReshareEdDSA     State = "ReshareEdDSA"
	StateSuccess          State = "Success"
)

// Session setup and keysign.
const (
	StateDiscoveringSessionID   State = "DiscoveringSessionID"
	StateDiscoverService        State = "DiscoverService"
	StateJoinSession            State = "JoinSession"
	StateJoinKeysign            State = "JoinKeysign"
	StateWaitingForStart        State = "WaitingForStart"
	StateWaitingForKeysignStart State = "WaitingForKeysignStart"
	StateKeysign                State = "Keysign"
	StateKeysignFinished        State = "KeysignFinished"
	StateFailedToStart          State = "FailedToStart"
	StateError                  State = "Error"
)

// Kind names the ceremony a status belongs to.
type Kind string

const (
	KindKeygen  Kind = "keygen"
	KindReshare Kind = "reshare"
	KindKeysign Kind = "keysign"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateKeysignFinished, StateFailedToStart, StateError:
		return true
	}
	return false
}

// Status is a snapshot of one ceremony.
type Status struct {
	SessionID   string                 `json:"session_id"`
	Kind        Kind                   `json:"kind"`
	State       State                  `json:"state"`
	Error       string                 `json:"error,omitempty"`
	IsThreshold bool                   `json:"is_threshold_error,omitempty"`
	PubKeyECDSA string                 `json:"pub_key_ecdsa,omitempty"`
	PubKeyEdDSA string                 `json:"pub_key_eddsa,omitempty"`
	Signed      int                    `json:"signed,omitempty"`
	ToSign      int                    `json:"to_sign,omitempty"`
	Receipt     *txbroadcaster.Receipt `json:"receipt,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// DefaultTrackerSize is the number of ceremonies whose last status is kept.
const DefaultTrackerSize = 256

// Tracker keeps the latest status of recent ceremonies. Runners publish on
// the channel returned by Updates; Run drains it.
type Tracker struct {
	cache   *lru.Cache[string, Status]
	updates chan Status
}

func NewTracker(size int) (*Tracker, error) {
	if size <= 0 {
		size = DefaultTrackerSize
	}
	cache, err := lru.New[string, Status](size)
	if err != nil {
		return nil, err
	}
	return &Tracker{cache: cache, updates: make(chan Status, 64)}, nil
}

// Updates is the channel ceremonies publish on.
func (t *Tracker) Updates() chan<- Status {
	return t.updates
}

// Run stores published snapshots until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-t.updates:
			t.cache.Add(st.SessionID, st)
		}
	}
}

// Get returns the latest status of a session.
func (t *Tracker) Get(sessionID string) (Status, bool) {
	return t.cache.Peek(sessionID)
}

// List returns the tracked statuses, most recently updated first.
func (t *Tracker) List() []Status {
	out := t.cache.Values()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
