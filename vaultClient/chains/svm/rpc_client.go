package svm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
)

// defaultPriorityFee is used when no recent slot paid a prioritization fee.
const defaultPriorityFee = 1000

var duplicateBroadcastErrors = []string{"already been processed", "alreadyprocessed"}

// RPCClient is the Solana chain adapter with round-robin failover across endpoints.
type RPCClient struct {
	clients []*rpc.Client
	index   uint64
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewRPCClient keeps the endpoints of rpcURLs that report healthy.
func NewRPCClient(rpcURLs []string, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	log := logger.With().Str("component", "svm_rpc_client").Logger()
	clients := make([]*rpc.Client, 0, len(rpcURLs))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, url := range rpcURLs {
		client := rpc.New(url)
		health, err := client.GetHealth(ctx)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}
		if health != "ok" {
			log.Warn().Str("url", url).Str("health", health).Msg("node is not healthy, skipping")
			continue
		}
		clients = append(clients, client)
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any valid RPC endpoints")
	}
	return &RPCClient{clients: clients, logger: log}, nil
}

func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(*rpc.Client) error) error {
	rc.mu.RLock()
	clients := rc.clients
	rc.mu.RUnlock()

	if len(clients) == 0 {
		return fmt.Errorf("no RPC clients available for %s", operation)
	}

	var lastErr error
	for attempt := 0; attempt < len(clients); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		index := atomic.AddUint64(&rc.index, 1) - 1
		err := fn(clients[index%uint64(len(clients))])
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

// Broadcast submits a base58 encoded signed transaction.
func (rc *RPCClient) Broadcast(ctx context.Context, raw string) (string, error) {
	b, err := base58.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("invalid raw transaction: %w", err)
	}

	var txHash string
	duplicate := false
	err = rc.executeWithFailover(ctx, "send_transaction", func(client *rpc.Client) error {
		sig, innerErr := client.SendRawTransaction(ctx, b)
		if innerErr != nil {
			if isDuplicateBroadcast(innerErr) {
				duplicate = true
				return nil
			}
			return innerErr
		}
		txHash = sig.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	if duplicate {
		rc.logger.Info().Msg("transaction already submitted")
		return "", nil
	}
	return txHash, nil
}

// EstimateFee returns the median recent prioritization fee in micro-lamports per compute unit.
func (rc *RPCClient) EstimateFee(ctx context.Context) (*big.Int, error) {
	var fees []uint64
	err := rc.executeWithFailover(ctx, "get_priority_fee", func(client *rpc.Client) error {
		recent, err := client.GetRecentPrioritizationFees(ctx, nil)
		if err != nil {
			return err
		}
		fees = fees[:0]
		for _, f := range recent {
			if f.PrioritizationFee > 0 {
				fees = append(fees, f.PrioritizationFee)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate fee: %w", err)
	}
	if len(fees) == 0 {
		return big.NewInt(defaultPriorityFee), nil
	}
	return new(big.Int).SetUint64(median(fees)), nil
}

// Close drops the endpoints. The RPC clients hold no connections of their own.
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.clients = nil
}

func median(values []uint64) uint64 {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	n := len(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
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
