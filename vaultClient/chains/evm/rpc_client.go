package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Broadcast errors that mean the transaction is already in the node's pool or
// mined. Every co-signer broadcasts the same transaction, so these are expected.
var duplicateBroadcastErrors = []string{"already known", "nonce too low"}

// RPCClient is the EVM chain adapter with round-robin failover across endpoints.
type RPCClient struct {
	clients []*ethclient.Client
	index   uint64
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewRPCClient connects to rpcURLs and drops endpoints serving another chain.
func NewRPCClient(rpcURLs []string, expectedChainID int64, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	log := logger.With().Str("component", "evm_rpc_client").Logger()
	clients := make([]*ethclient.Client, 0, len(rpcURLs))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}

		clientChainID, err := client.ChainID(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("url", url).
				Int64("expected_chain_id", expectedChainID).
				Msg("failed to verify chain ID, proceeding with client anyway")
			clients = append(clients, client)
			continue
		}

		if clientChainID.Int64() != expectedChainID {
			client.Close()
			log.Warn().
				Str("url", url).
				Int64("expected_chain_id", expectedChainID).
				Int64("actual_chain_id", clientChainID.Int64()).
				Msg("chain ID mismatch, closing client")
			continue
		}

		clients = append(clients, client)
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any valid RPC endpoints")
	}

	return &RPCClient{
		clients: clients,
		logger:  log,
	}, nil
}

// executeWithFailover runs fn against each endpoint in turn until one succeeds.
func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(*ethclient.Client) error) error {
	rc.mu.RLock()
	clients := rc.clients
	rc.mu.RUnlock()

	if len(clients) == 0 {
		return fmt.Errorf("no RPC clients available for %s", operation)
	}

	var lastErr error
	for attempt := 0; attempt < len(clients); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		index := atomic.AddUint64(&rc.index, 1) - 1
		client := clients[index%uint64(len(clients))]

		err := fn(client)
		if err == nil {
			return nil
		}
		lastErr = err

		rc.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	return fmt.Errorf("operation %s failed after trying %d endpoints: %w", operation, len(clients), lastErr)
}

// Broadcast submits a hex encoded signed transaction. A duplicate submission
// returns an empty hash so the caller falls back to the locally computed one.
func (rc *RPCClient) Broadcast(ctx context.Context, raw string) (string, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid raw transaction: %w", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return "", fmt.Errorf("failed to decode raw transaction: %w", err)
	}

	duplicate := false
	err = rc.executeWithFailover(ctx, "send_transaction", func(client *ethclient.Client) error {
		innerErr := client.SendTransaction(ctx, tx)
		if innerErr != nil && isDuplicateBroadcast(innerErr) {
			rc.logger.Info().
				Str("tx_hash", tx.Hash().Hex()).
				Str("reason", innerErr.Error()).
				Msg("transaction already submitted")
			duplicate = true
			return nil
		}
		return innerErr
	})
	if err != nil {
		return "", err
	}
	if duplicate {
		return "", nil
	}
	return tx.Hash().Hex(), nil
}

// EstimateFee returns the suggested gas price in wei.
func (rc *RPCClient) EstimateFee(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := rc.executeWithFailover(ctx, "get_gas_price", func(client *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		var innerErr error
		gasPrice, innerErr = client.SuggestGasPrice(callCtx)
		return innerErr
	})
	return gasPrice, err
}

// Close closes all RPC connections
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for _, client := range rc.clients {
		if client != nil {
			client.Close()
		}
	}
	rc.clients = nil
}

func isDuplicateBroadcast(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range duplicateBroadcastErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
