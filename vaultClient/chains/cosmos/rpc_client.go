package cosmos

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/rs/zerolog"
)

// codeTxInMempoolCache is the CheckTx code for a transaction the node has seen.
const codeTxInMempoolCache = 19

// RPCClient is the Cosmos chain adapter backed by a CometBFT RPC endpoint.
type RPCClient struct {
	client    *rpchttp.HTTP
	feeAmount int64
	logger    zerolog.Logger
}

// NewRPCClient creates a CometBFT HTTP client for rpcURL.
func NewRPCClient(rpcURL string, feeAmount int64, logger zerolog.Logger) (*RPCClient, error) {
	client, err := rpchttp.New(rpcURL, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	return &RPCClient{
		client:    client,
		feeAmount: feeAmount,
		logger:    logger.With().Str("component", "cosmos_rpc_client").Logger(),
	}, nil
}

// Broadcast submits a base64 encoded TxRaw in sync mode.
func (rc *RPCClient) Broadcast(ctx context.Context, raw string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid raw transaction: %w", err)
	}
	res, err := rc.client.BroadcastTxSync(ctx, cmttypes.Tx(b))
	if err != nil {
		if strings.Contains(err.Error(), "tx already exists in cache") {
			rc.logger.Info().Msg("transaction already submitted")
			return "", nil
		}
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	switch res.Code {
	case 0:
		return strings.ToUpper(res.Hash.String()), nil
	case codeTxInMempoolCache:
		rc.logger.Info().Str("tx_hash", res.Hash.String()).Msg("transaction already submitted")
		return "", nil
	default:
		return "", fmt.Errorf("transaction rejected (code %d, codespace %s): %s", res.Code, res.Codespace, res.Log)
	}
}

// EstimateFee returns the configured flat fee in the chain's base denom.
func (rc *RPCClient) EstimateFee(context.Context) (*big.Int, error) {
	return big.NewInt(rc.feeAmount), nil
}
