// Package sim is a deterministic stand-in for the threshold engine. Parties
// exchange random contributions through the injected Messenger and derive the
// same key material from them. It exercises the whole coordination stack but
// provides no cryptographic security; use it for local development and tests.
package sim

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/pushchain/push-vault-client/vaultClient/tss/engine"
)

// BackendName is the config value selecting this engine.
const BackendName = "sim"

func init() {
	engine.RegisterFactory(BackendName, NewFactory())
}

type wireMessage struct {
	Round  string `json:"round"`
	From   string `json:"from"`
	Data   string `json:"data"`
	PubKey string `json:"pub_key,omitempty"`
}

type localState struct {
	PubKey  string   `json:"pub_key"`
	KeyType string   `json:"key_type"`
	Parties []string `json:"parties"`
}

// Engine implements engine.Service.
type Engine struct {
	messenger engine.Messenger
	state     engine.StateAccessor
	isKeygen  bool

	mu       sync.Mutex
	received map[string]map[string]wireMessage // round -> from -> message
	notify   chan struct{}

	reshareTags map[engine.KeyType]string
}

// NewFactory returns an engine.Factory producing simulation engines.
func NewFactory() engine.Factory {
	return func(messenger engine.Messenger, state engine.StateAccessor, isKeygen bool) (engine.Service, error) {
		if messenger == nil {
			return nil, fmt.Errorf("messenger is required")
		}
		if state == nil {
			return nil, fmt.Errorf("state accessor is required")
		}
		return &Engine{
			messenger:   messenger,
			state:       state,
			isKeygen:    isKeygen,
			received:    make(map[string]map[string]wireMessage),
			notify:      make(chan struct{}),
			reshareTags: make(map[engine.KeyType]string),
		}, nil
	}
}

// ApplyData stores one inbound message. Duplicates are ignored.
func (e *Engine) ApplyData(msg []byte) error {
	var wm wireMessage
	if err := json.Unmarshal(msg, &wm); err != nil {
		return fmt.Errorf("failed to decode sim message: %w", err)
	}
	if wm.Round == "" || wm.From == "" {
		return fmt.Errorf("sim message is missing round or sender")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	byFrom, ok := e.received[wm.Round]
	if !ok {
		byFrom = make(map[string]wireMessage)
		e.received[wm.Round] = byFrom
	}
	if _, dup := byFrom[wm.From]; dup {
		return nil
	}
	byFrom[wm.From] = wm
	close(e.notify)
	e.notify = make(chan struct{})
	return nil
}

func (e *Engine) KeygenECDSA(ctx context.Context, req *engine.KeygenRequest) (*engine.KeygenResponse, error) {
	return e.keygen(ctx, engine.KeyTypeECDSA, req)
}

func (e *Engine) KeygenEdDSA(ctx context.Context, req *engine.KeygenRequest) (*engine.KeygenResponse, error) {
	return e.keygen(ctx, engine.KeyTypeEdDSA, req)
}

func (e *Engine) ReshareECDSA(ctx context.Context, req *engine.ReshareRequest) (*engine.ReshareResponse, error) {
	return e.reshare(ctx, engine.KeyTypeECDSA, req)
}

func (e *Engine) ReshareEdDSA(ctx context.Context, req *engine.ReshareRequest) (*engine.ReshareResponse, error) {
	return e.reshare(ctx, engine.KeyTypeEdDSA, req)
}

func (e *Engine) KeysignECDSA(ctx context.Context, req *engine.KeysignRequest) (*engine.KeysignResponse, error) {
	return e.keysign(ctx, engine.KeyTypeECDSA, req)
}

func (e *Engine) KeysignEdDSA(ctx context.Context, req *engine.KeysignRequest) (*engine.KeysignResponse, error) {
	return e.keysign(ctx, engine.KeyTypeEdDSA, req)
}

func (e *Engine) keygen(ctx context.Context, keyType engine.KeyType, req *engine.KeygenRequest) (*engine.KeygenResponse, error) {
	if !e.isKeygen {
		return nil, fmt.Errorf("engine instance was not created for keygen")
	}
	if err := validateParties(req.LocalPartyID, req.AllParties); err != nil {
		return nil, err
	}

	round := "keygen-" + string(keyType)
	contributions, _, err := e.exchange(ctx, round, req.LocalPartyID, req.AllParties, "")
	if err != nil {
		return nil, err
	}

	pubKey := derive(string(keyType), req.ChainCodeHex, contributions)
	if err := e.saveState(pubKey, keyType, req.AllParties); err != nil {
		return nil, err
	}
	return &engine.KeygenResponse{PubKey: pubKey}, nil
}

func (e *Engine) reshare(ctx context.Context, keyType engine.KeyType, req *engine.ReshareRequest) (*engine.ReshareResponse, error) {
	if !e.isKeygen {
		return nil, fmt.Errorf("engine instance was not created for keygen")
	}
	if err := validateParties(req.LocalPartyID, req.NewParties); err != nil {
		return nil, err
	}
	if keyType == engine.KeyTypeEdDSA {
		e.mu.Lock()
		expected, ok := e.reshareTags[engine.KeyTypeECDSA]
		e.mu.Unlock()
		if ok && req.ResharePrefix != expected {
			return nil, fmt.Errorf("reshare prefix mismatch: expected %s, got %s", expected, req.ResharePrefix)
		}
	}

	participants := union(req.OldParties, req.NewParties)
	if !slices.Contains(participants, req.LocalPartyID) {
		return nil, fmt.Errorf("local party %s is not part of the reshare", req.LocalPartyID)
	}
	if req.PubKey != "" {
		if _, err := e.state.GetLocalState(req.PubKey); err != nil {
			return nil, fmt.Errorf("failed to update from bytes to new local party: %w", err)
		}
	}

	round := "reshare-" + string(keyType)
	contributions, pubKeys, err := e.exchange(ctx, round, req.LocalPartyID, participants, req.PubKey)
	if err != nil {
		return nil, err
	}

	pubKey := req.PubKey
	for _, pk := range pubKeys {
		if pk == "" {
			continue
		}
		if pubKey != "" && pk != pubKey {
			return nil, fmt.Errorf("parties disagree on the key being reshared")
		}
		pubKey = pk
	}
	if pubKey == "" {
		return nil, fmt.Errorf("no old committee member supplied the reshared key")
	}

	prefix := req.ResharePrefix
	if keyType == engine.KeyTypeECDSA {
		prefix = derive("reshare-prefix", req.ResharePrefix, contributions)[:16]
		e.mu.Lock()
		e.reshareTags[engine.KeyTypeECDSA] = prefix
		e.mu.Unlock()
	}

	if slices.Contains(req.NewParties, req.LocalPartyID) {
		if err := e.saveState(pubKey, keyType, req.NewParties); err != nil {
			return nil, err
		}
	}
	return &engine.ReshareResponse{PubKey: pubKey, ResharePrefix: prefix}, nil
}

func (e *Engine) keysign(ctx context.Context, keyType engine.KeyType, req *engine.KeysignRequest) (*engine.KeysignResponse, error) {
	if err := validateParties(req.LocalPartyKey, req.KeysignCommitteeKeys); err != nil {
		return nil, err
	}
	msg, err := base64.StdEncoding.DecodeString(req.MessageToSign)
	if err != nil {
		return nil, fmt.Errorf("message to sign is not base64: %w", err)
	}
	raw, err := e.state.GetLocalState(req.PubKey)
	if err != nil {
		return nil, fmt.Errorf("no local state for key %s: %w", req.PubKey, err)
	}
	var st localState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("corrupt local state: %w", err)
	}
	if len(req.KeysignCommitteeKeys) < 2 && len(st.Parties) > 1 {
		return nil, fmt.Errorf("keysign committee below threshold")
	}

	round := fmt.Sprintf("keysign-%s-%x", keyType, sha256.Sum256(msg))
	if _, _, err := e.exchange(ctx, round, req.LocalPartyKey, req.KeysignCommitteeKeys, ""); err != nil {
		return nil, err
	}

	r := sha256.Sum256([]byte("R|" + req.PubKey + "|" + hex.EncodeToString(msg)))
	s := sha256.Sum256([]byte("S|" + req.PubKey + "|" + hex.EncodeToString(msg)))
	return &engine.KeysignResponse{
		Msg:        req.MessageToSign,
		R:          hex.EncodeToString(r[:]),
		S:          hex.EncodeToString(s[:]),
		RecoveryID: "00",
	}, nil
}

// exchange sends a fresh contribution to every peer and waits for theirs.
// It returns contributions and advertised public keys keyed by party.
func (e *Engine) exchange(ctx context.Context, round, local string, parties []string, pubKey string) (map[string]string, map[string]string, error) {
	contribution := make([]byte, 32)
	if _, err := rand.Read(contribution); err != nil {
		return nil, nil, fmt.Errorf("failed to generate contribution: %w", err)
	}
	out := wireMessage{Round: round, From: local, Data: hex.EncodeToString(contribution), PubKey: pubKey}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	for _, peer := range parties {
		if peer == local {
			continue
		}
		if err := e.messenger.Send(ctx, local, peer, body); err != nil {
			return nil, nil, fmt.Errorf("failed to send to %s: %w", peer, err)
		}
	}

	for {
		e.mu.Lock()
		byFrom := e.received[round]
		complete := true
		for _, peer := range parties {
			if peer == local {
				continue
			}
			if _, ok := byFrom[peer]; !ok {
				complete = false
				break
			}
		}
		if complete {
			contributions := map[string]string{local: out.Data}
			pubKeys := map[string]string{local: pubKey}
			for from, m := range byFrom {
				if slices.Contains(parties, from) {
					contributions[from] = m.Data
					pubKeys[from] = m.PubKey
				}
			}
			e.mu.Unlock()
			return contributions, pubKeys, nil
		}
		wait := e.notify
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-wait:
		}
	}
}

func (e *Engine) saveState(pubKey string, keyType engine.KeyType, parties []string) error {
	st, err := json.Marshal(localState{PubKey: pubKey, KeyType: string(keyType), Parties: parties})
	if err != nil {
		return err
	}
	if err := e.state.SaveLocalState(pubKey, st); err != nil {
		return fmt.Errorf("failed to save local state: %w", err)
	}
	return nil
}

// derive hashes contributions in party order so every party gets the same value.
func derive(tag, salt string, contributions map[string]string) string {
	parties := make([]string, 0, len(contributions))
	for p := range contributions {
		parties = append(parties, p)
	}
	sort.Strings(parties)

	h := sha256.New()
	h.Write([]byte(tag + "|" + salt))
	for _, p := range parties {
		h.Write([]byte("|" + p + "=" + contributions[p]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validateParties(local string, parties []string) error {
	if local == "" {
		return fmt.Errorf("local party id is required")
	}
	if !slices.Contains(parties, local) {
		return fmt.Errorf("local party %s is not in [%s]", local, strings.Join(parties, ","))
	}
	return nil
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, p := range b {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
