package utxo

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

const (
	txVersion = 2

	// virtual sizes used for fee estimation
	txOverheadVBytes  = 11
	p2wpkhInputVBytes = 68
	p2pkhInputVBytes  = 148
	maxMemoBytes      = 80
)

// TxBuilder builds transfers that spend vault UTXOs on one chain.
type TxBuilder struct {
	chain  string
	params ChainParams
}

// NewTxBuilder returns a builder for a supported UTXO chain.
func NewTxBuilder(chain string) (*TxBuilder, error) {
	p, ok := Params(chain)
	if !ok {
		return nil, vcerrors.NewUnsupportedChainError(chain)
	}
	return &TxBuilder{chain: chain, params: p}, nil
}

// unsignedTx is a transaction together with what its inputs spend.
type unsignedTx struct {
	tx       *wire.MsgTx
	prevOuts []*wire.TxOut
	pubKey   []byte
	fetcher  *txscript.MultiPrevOutFetcher
}

func (b *TxBuilder) PreSignHashes(payload *keysign.Payload, _ uint64) ([]string, error) {
	u, err := b.build(payload)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(u.tx.TxIn))
	for i := range u.tx.TxIn {
		h, err := b.sigHash(u, i)
		if err != nil {
			return nil, err
		}
		hashes[i] = hex.EncodeToString(h)
	}
	return hashes, nil
}

func (b *TxBuilder) SignedTransaction(payload *keysign.Payload, _ uint64, signatures map[string]common.Signature) (*common.SignedTransaction, error) {
	u, err := b.build(payload)
	if err != nil {
		return nil, err
	}

	for i, in := range u.tx.TxIn {
		h, err := b.sigHash(u, i)
		if err != nil {
			return nil, err
		}
		sig, err := common.LookupSignature(signatures, hex.EncodeToString(h))
		if err != nil {
			return nil, err
		}
		der, err := derSignature(sig)
		if err != nil {
			return nil, err
		}
		der = append(der, byte(txscript.SigHashAll))

		switch b.params.ScriptType {
		case P2WPKH:
			in.Witness = wire.TxWitness{der, u.pubKey}
		case P2PKH:
			script, err := txscript.NewScriptBuilder().AddData(der).AddData(u.pubKey).Script()
			if err != nil {
				return nil, fmt.Errorf("failed to build signature script: %w", err)
			}
			in.SignatureScript = script
		}
	}

	var buf bytes.Buffer
	if err := u.tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return &common.SignedTransaction{
		RawTransaction:  hex.EncodeToString(buf.Bytes()),
		TransactionHash: u.tx.TxHash().String(),
	}, nil
}

func (b *TxBuilder) sigHash(u *unsignedTx, idx int) ([]byte, error) {
	prev := u.prevOuts[idx]
	switch b.params.ScriptType {
	case P2WPKH:
		sigHashes := txscript.NewTxSigHashes(u.tx, u.fetcher)
		return txscript.CalcWitnessSigHash(prev.PkScript, sigHashes, txscript.SigHashAll, u.tx, idx, prev.Value)
	default:
		return txscript.CalcSignatureHash(prev.PkScript, txscript.SigHashAll, u.tx, idx)
	}
}

func (b *TxBuilder) build(payload *keysign.Payload) (*unsignedTx, error) {
	spec := payload.ChainSpecific.UTXO
	if spec == nil {
		return nil, vcerrors.NewValidationError("payload has no utxo specific block")
	}
	if spec.ByteFee <= 0 {
		return nil, vcerrors.NewValidationError("utxo byte fee must be positive")
	}
	if len(payload.UTXOs) == 0 {
		return nil, vcerrors.NewValidationError("payload has no utxos to spend")
	}
	if len(payload.Memo) > maxMemoBytes {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("memo is longer than %d bytes", maxMemoBytes))
	}

	pubKey, err := hex.DecodeString(payload.Coin.HexPublicKey)
	if err != nil {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid coin public key: %v", err))
	}
	if _, err := btcec.ParsePubKey(pubKey); err != nil || len(pubKey) != btcec.PubKeyBytesLenCompressed {
		return nil, vcerrors.NewValidationError("coin public key must be a compressed secp256k1 key")
	}
	vaultScript, err := b.lockScript(pubKey)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	prevOuts := make([]*wire.TxOut, 0, len(payload.UTXOs))
	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(payload.UTXOs)))
	var total int64
	for _, in := range payload.UTXOs {
		hash, err := chainhash.NewHashFromStr(in.Hash)
		if err != nil {
			return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid utxo hash %q", in.Hash))
		}
		if in.Amount <= 0 {
			return nil, vcerrors.NewValidationError(fmt.Sprintf("utxo %s:%d has no value", in.Hash, in.Index))
		}
		op := wire.NewOutPoint(hash, in.Index)
		prev := wire.NewTxOut(in.Amount, vaultScript)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		prevOuts = append(prevOuts, prev)
		fetcher.AddPrevOut(*op, prev)
		total += in.Amount
	}

	toScript, err := b.addressScript(payload.ToAddress)
	if err != nil {
		return nil, err
	}
	var memoScript []byte
	if payload.Memo != "" {
		memoScript, err = txscript.NullDataScript([]byte(payload.Memo))
		if err != nil {
			return nil, fmt.Errorf("failed to build memo output: %w", err)
		}
	}
	changeScript := vaultScript
	if payload.Coin.Address != "" {
		if changeScript, err = b.addressScript(payload.Coin.Address); err != nil {
			return nil, err
		}
	}

	outputs := [][]byte{toScript}
	if memoScript != nil {
		outputs = append(outputs, memoScript)
	}
	fee := func(withChange bool) int64 {
		scripts := outputs
		if withChange {
			scripts = append(scripts[:len(scripts):len(scripts)], changeScript)
		}
		return spec.ByteFee * b.vsize(len(payload.UTXOs), scripts)
	}

	var amount, change int64
	if spec.SendMaxAmount {
		amount = total - fee(false)
		if amount < b.params.DustLimit {
			return nil, vcerrors.NewValidationError("utxos do not cover the network fee")
		}
	} else {
		amt, err := payload.ToAmountBig()
		if err != nil {
			return nil, err
		}
		if !amt.IsInt64() || amt.Int64() <= 0 {
			return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid utxo amount %s", payload.ToAmount))
		}
		amount = amt.Int64()
		change = total - amount - fee(true)
		if change < b.params.DustLimit {
			change = 0
			if total < amount+fee(false) {
				return nil, vcerrors.NewValidationError(fmt.Sprintf("insufficient funds: have %d, need %d", total, amount+fee(false))).
					WithContext("chain", b.chain)
			}
		}
	}

	tx.AddTxOut(wire.NewTxOut(amount, toScript))
	if memoScript != nil {
		tx.AddTxOut(wire.NewTxOut(0, memoScript))
	}
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	return &unsignedTx{tx: tx, prevOuts: prevOuts, pubKey: pubKey, fetcher: fetcher}, nil
}

func (b *TxBuilder) vsize(inputs int, outputScripts [][]byte) int64 {
	perInput := p2wpkhInputVBytes
	if b.params.ScriptType == P2PKH {
		perInput = p2pkhInputVBytes
	}
	size := txOverheadVBytes + inputs*perInput
	for _, s := range outputScripts {
		size += 8 + wire.VarIntSerializeSize(uint64(len(s))) + len(s)
	}
	return int64(size)
}

// lockScript is the script the vault key's outputs are locked with.
func (b *TxBuilder) lockScript(pubKey []byte) ([]byte, error) {
	var addr btcutil.Address
	var err error
	switch b.params.ScriptType {
	case P2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), b.params.Net)
	default:
		addr, err = btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), b.params.Net)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault address: %w", err)
	}
	return txscript.PayToAddrScript(addr)
}

func (b *TxBuilder) addressScript(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, b.params.Net)
	if err != nil || !addr.IsForNet(b.params.Net) {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid %s address %q", b.chain, address))
	}
	return txscript.PayToAddrScript(addr)
}

// VaultAddress returns the address the vault key controls on this chain.
func (b *TxBuilder) VaultAddress(pubKeyHex string) (string, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", err
	}
	switch b.params.ScriptType {
	case P2WPKH:
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), b.params.Net)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	default:
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), b.params.Net)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	}
}

// derSignature encodes R and S in canonical low-S DER form.
func derSignature(sig common.Signature) ([]byte, error) {
	rs, err := sig.RS()
	if err != nil {
		return nil, err
	}
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(rs[:32]); overflow {
		return nil, fmt.Errorf("signature r overflows the curve order")
	}
	if overflow := s.SetByteSlice(rs[32:]); overflow {
		return nil, fmt.Errorf("signature s overflows the curve order")
	}
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}
