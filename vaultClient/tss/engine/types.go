// Package engine defines the boundary to the threshold-signature engine.
// The engine is driven through synchronous calls; its network and storage
// needs are injected as Messenger and StateAccessor.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// KeyType selects the signature scheme of a round.
type KeyType string

const (
	KeyTypeECDSA KeyType = "ECDSA"
	KeyTypeEdDSA KeyType = "EdDSA"
)

// Service is one engine instance bound to a single ceremony.
type Service interface {
	KeygenECDSA(ctx context.Context, req *KeygenRequest) (*KeygenResponse, error)
	KeygenEdDSA(ctx context.Context, req *KeygenRequest) (*KeygenResponse, error)
	ReshareECDSA(ctx context.Context, req *ReshareRequest) (*ReshareResponse, error)
	ReshareEdDSA(ctx context.Context, req *ReshareRequest) (*ReshareResponse, error)
	KeysignECDSA(ctx context.Context, req *KeysignRequest) (*KeysignResponse, error)
	KeysignEdDSA(ctx context.Context, req *KeysignRequest) (*KeysignResponse, error)

	// ApplyData feeds one decrypted inbound protocol message.
	ApplyData(msg []byte) error
}

// Messenger delivers outbound protocol messages produced by the engine.
type Messenger interface {
	Send(ctx context.Context, from, to string, body []byte) error
}

// StateAccessor persists the engine's local key-share state.
type StateAccessor interface {
	GetLocalState(pubKey string) ([]byte, error)
	SaveLocalState(pubKey string, state []byte) error
}

// Factory creates an engine instance for one ceremony.
type Factory func(messenger Messenger, state StateAccessor, isKeygen bool) (Service, error)

type KeygenRequest struct {
	LocalPartyID string   `json:"local_party_id"`
	AllParties   []string `json:"all_parties"`
	ChainCodeHex string   `json:"chain_code_hex"`
}

type KeygenResponse struct {
	PubKey string `json:"pub_key"`
}

type ReshareRequest struct {
	LocalPartyID  string   `json:"local_party_id"`
	OldParties    []string `json:"old_parties"`
	NewParties    []string `json:"new_parties"`
	PubKey        string   `json:"pub_key"` // Existing key being reshared, empty for parties joining fresh
	ChainCodeHex  string   `json:"chain_code_hex"`
	ResharePrefix string   `json:"reshare_prefix"`
}

type ReshareResponse struct {
	PubKey        string `json:"pub_key"`
	ResharePrefix string `json:"reshare_prefix"`
}

type KeysignRequest struct {
	PubKey               string   `json:"pub_key"`
	MessageToSign        string   `json:"message_to_sign"` // base64 encoded message that needs to be signed
	KeysignCommitteeKeys []string `json:"keysign_committee_keys"`
	LocalPartyKey        string   `json:"local_party_key"`
	DerivePath           string   `json:"derive_path,omitempty"`
}

type KeysignResponse struct {
	Msg          string `json:"msg"`
	R            string `json:"r"`
	S            string `json:"s"`
	DerSignature string `json:"der_signature"`
	RecoveryID   string `json:"recovery_id"` // mostly used in ETH
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes an engine backend selectable by name from config.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("engine: RegisterFactory factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("engine: RegisterFactory called twice for " + name)
	}
	factories[name] = f
}

// LookupFactory returns the backend registered under name.
func LookupFactory(name string) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("threshold engine backend %q is not registered (available: %v)", name, registeredNames())
	}
	return f, nil
}

func registeredNames() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
