package utxo

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"
)

const feeConfTarget = 6

// Node answers for a transaction that is already in the mempool or a block.
var duplicateBroadcastErrors = []string{
	"txn-already-in-mempool",
	"txn-already-known",
	"transaction already in block chain",
	"already have transaction",
}

// RPCClient is the UTXO chain adapter backed by a bitcoind-compatible node.
type RPCClient struct {
	client *rpcclient.Client
	logger zerolog.Logger
}

// NewRPCClient creates an HTTP POST mode client for rpcURL.
func NewRPCClient(rpcURL, user, password string, logger zerolog.Logger) (*RPCClient, error) {
	u, err := url.Parse(rpcURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid RPC URL %q", rpcURL)
	}
	if u.User != nil && user == "" {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         u.Host + u.Path,
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   u.Scheme != "https",
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	return &RPCClient{
		client: client,
		logger: logger.With().Str("component", "utxo_rpc_client").Logger(),
	}, nil
}

// Broadcast submits a hex encoded transaction. The node RPC is not context
// aware, so ctx is only checked before the call.
func (rc *RPCClient) Broadcast(ctx context.Context, raw string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid raw transaction: %w", err)
	}
	tx := wire.NewMsgTx(txVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return "", fmt.Errorf("failed to decode raw transaction: %w", err)
	}

	hash, err := rc.client.SendRawTransaction(tx, false)
	if err != nil {
		if isDuplicateBroadcast(err) {
			rc.logger.Info().Str("tx_hash", tx.TxHash().String()).Msg("transaction already submitted")
			return "", nil
		}
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return hash.String(), nil
}

// EstimateFee returns the node's fee estimate in sat/vbyte.
func (rc *RPCClient) EstimateFee(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := btcjson.EstimateModeConservative
	res, err := rc.client.EstimateSmartFee(feeConfTarget, &mode)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate fee: %w", err)
	}
	if res.FeeRate == nil {
		return nil, fmt.Errorf("node has no fee estimate: %v", res.Errors)
	}
	// FeeRate is in coin per kvB
	satPerVByte := int64(math.Ceil(*res.FeeRate * 1e8 / 1000))
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	return big.NewInt(satPerVByte), nil
}

// Close shuts the client down.
func (rc *RPCClient) Close() {
	rc.client.Shutdown()
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
