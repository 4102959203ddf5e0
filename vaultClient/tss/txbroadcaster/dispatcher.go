// Package txbroadcaster turns a keysign payload and its collected signatures
// into signed chain transactions and submits them.
package txbroadcaster

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	"github.com/pushchain/push-vault-client/vaultClient/chains/evm"
	"github.com/pushchain/push-vault-client/vaultClient/chains/swaps"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
	"github.com/pushchain/push-vault-client/vaultClient/metrics"
	"github.com/pushchain/push-vault-client/vaultClient/store"
	"github.com/pushchain/push-vault-client/vaultClient/tss/resultstore"
)

// Registry resolves chain builders and adapters.
type Registry interface {
	Builder(chain string) (common.TxBuilder, error)
	Adapter(chain string) (common.ChainAdapter, error)
	HasAdapter(chain string) bool
}

// Recorder persists broadcast receipts.
type Recorder interface {
	RecordBroadcast(rec store.BroadcastRecord) error
}

// Config holds the dispatcher dependencies. Recorder and Metrics are optional.
type Config struct {
	Registry Registry
	Recorder Recorder
	Metrics  *metrics.Collector
	Logger   zerolog.Logger
}

// Dispatcher assembles and broadcasts the transactions of a keysign payload.
type Dispatcher struct {
	registry Registry
	recorder Recorder
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// Receipt lists the hashes of the submitted transactions.
type Receipt struct {
	ApproveTxHash string `json:"approve_tx_hash,omitempty"`
	TxHash        string `json:"tx_hash"`
}

// step is one transaction of a payload, in broadcast order.
type step struct {
	kind        string
	builder     common.TxBuilder
	nonceOffset uint64
}

func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry: cfg.Registry,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "signing_dispatcher").Logger(),
	}
}

// MessagesToSign returns every message the payload needs signed: the
// approve transaction's first, then the main transaction's.
func (d *Dispatcher) MessagesToSign(payload *keysign.Payload) ([]string, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	steps, err := d.plan(payload)
	if err != nil {
		return nil, err
	}
	var msgs []string
	for _, s := range steps {
		m, err := s.builder.PreSignHashes(payload, s.nonceOffset)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m...)
	}
	return msgs, nil
}

// Dispatch signs and broadcasts the payload's transactions. Every
// transaction is assembled before the first network call, so a missing
// signature or an unsupported chain never reaches the chain.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, payload *keysign.Payload, signatures map[string]common.Signature) (*Receipt, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	chain := payload.Coin.Chain
	steps, err := d.plan(payload)
	if err != nil {
		return nil, err
	}
	if !d.registry.HasAdapter(chain) {
		return nil, vcerrors.NewUnsupportedChainError(chain).
			WithSession(sessionID).
			WithContext("reason", "no rpc endpoint configured")
	}

	signed := make([]*common.SignedTransaction, len(steps))
	for i, s := range steps {
		msgs, err := s.builder.PreSignHashes(payload, s.nonceOffset)
		if err != nil {
			return nil, err
		}
		if err := common.CheckSignatures(signatures, msgs); err != nil {
			return nil, err
		}
		if signed[i], err = s.builder.SignedTransaction(payload, s.nonceOffset, signatures); err != nil {
			return nil, errors.Wrapf(err, "failed to assemble %s transaction", s.kind)
		}
	}

	adapter, err := d.registry.Adapter(chain)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{}
	for i, s := range steps {
		hash, err := d.broadcast(ctx, sessionID, chain, s.kind, adapter, signed[i])
		if err != nil {
			return nil, err
		}
		if s.kind == resultstore.BroadcastKindApprove {
			receipt.ApproveTxHash = hash
		} else {
			receipt.TxHash = hash
		}
	}
	return receipt, nil
}

// plan resolves the builders of the payload's transactions.
func (d *Dispatcher) plan(payload *keysign.Payload) ([]step, error) {
	chain := payload.Coin.Chain
	if _, ok := common.KindOf(chain); !ok {
		return nil, vcerrors.NewUnsupportedChainError(chain)
	}
	base, err := d.registry.Builder(chain)
	if err != nil {
		return nil, err
	}

	var steps []step
	var offset uint64
	if payload.ApprovePayload != nil {
		evmBuilder, ok := base.(*evm.TxBuilder)
		if !ok {
			return nil, vcerrors.NewValidationError(fmt.Sprintf("approve is not supported on %s", chain))
		}
		steps = append(steps, step{kind: resultstore.BroadcastKindApprove, builder: evm.NewApproveBuilder(evmBuilder)})
		offset++
	}

	main := base
	if swap := payload.SwapPayload; swap != nil && swap.Provider != keysign.ProviderMayaChain {
		if main, err = swapBuilder(chain, swap.Provider, base); err != nil {
			return nil, err
		}
	}
	steps = append(steps, step{kind: resultstore.BroadcastKindMain, builder: main, nonceOffset: offset})
	return steps, nil
}

func swapBuilder(chain, provider string, base common.TxBuilder) (common.TxBuilder, error) {
	switch provider {
	case keysign.ProviderTHORChain:
		return swaps.NewTHORChainBuilder(chain, base)
	case keysign.ProviderOneInch:
		evmBuilder, ok := base.(*evm.TxBuilder)
		if !ok {
			return nil, vcerrors.NewUnsupportedChainError(chain).WithContext("provider", provider)
		}
		return swaps.NewOneInchBuilder(evmBuilder), nil
	}
	return nil, vcerrors.NewValidationError(fmt.Sprintf("unknown swap provider %q", provider))
}

func (d *Dispatcher) broadcast(ctx context.Context, sessionID, chain, kind string, adapter common.ChainAdapter, tx *common.SignedTransaction) (string, error) {
	hash, err := adapter.Broadcast(ctx, tx.RawTransaction)
	if err != nil {
		d.record(sessionID, chain, kind, tx.TransactionHash, resultstore.BroadcastStatusFailed, err)
		return "", vcerrors.NewNetworkError(fmt.Sprintf("failed to broadcast %s transaction on %s", kind, chain), err).
			WithSession(sessionID).
			WithContext("tx_hash", tx.TransactionHash)
	}
	if hash == "" {
		hash = tx.TransactionHash
	}
	d.record(sessionID, chain, kind, hash, resultstore.BroadcastStatusBroadcasted, nil)
	d.logger.Info().
		Str("session_id", sessionID).
		Str("chain", chain).
		Str("kind", kind).
		Str("tx_hash", hash).
		Msg("transaction broadcasted")
	return hash, nil
}

func (d *Dispatcher) record(sessionID, chain, kind, hash, status string, cause error) {
	d.metrics.Broadcast(chain, kind, status)
	if d.recorder == nil {
		return
	}
	rec := store.BroadcastRecord{
		SessionID: sessionID,
		Chain:     chain,
		Kind:      kind,
		TxHash:    hash,
		Status:    status,
	}
	if cause != nil {
		rec.ErrorMsg = cause.Error()
	}
	if err := d.recorder.RecordBroadcast(rec); err != nil {
		d.logger.Warn().Err(err).Str("session_id", sessionID).Str("tx_hash", hash).Msg("failed to record broadcast")
	}
}
