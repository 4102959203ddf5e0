package svm

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/mr-tron/base58"

	"github.com/pushchain/push-vault-client/vaultClient/chains/common"
	vcerrors "github.com/pushchain/push-vault-client/vaultClient/errors"
	"github.com/pushchain/push-vault-client/vaultClient/keysign"
)

const (
	// SetComputeUnitPrice instruction of the Compute Budget program
	setComputeUnitPrice = 3

	maxMemoBytes = 566
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// TxBuilder builds native SOL and SPL token transfers paid by the vault's EdDSA key.
type TxBuilder struct{}

func NewTxBuilder() *TxBuilder {
	return &TxBuilder{}
}

// PreSignHashes returns the serialized transaction message. EdDSA signs the
// message itself, not a digest of it.
func (b *TxBuilder) PreSignHashes(payload *keysign.Payload, _ uint64) ([]string, error) {
	tx, err := b.build(payload)
	if err != nil {
		return nil, err
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return []string{hex.EncodeToString(msg)}, nil
}

func (b *TxBuilder) SignedTransaction(payload *keysign.Payload, _ uint64, signatures map[string]common.Signature) (*common.SignedTransaction, error) {
	tx, err := b.build(payload)
	if err != nil {
		return nil, err
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	sig, err := common.LookupSignature(signatures, hex.EncodeToString(msg))
	if err != nil {
		return nil, err
	}
	rs, err := sig.RS()
	if err != nil {
		return nil, err
	}

	var solSig solana.Signature
	copy(solSig[:], rs)
	payer := tx.Message.AccountKeys[0]
	if !solSig.Verify(payer, msg) {
		return nil, fmt.Errorf("signature does not verify against fee payer %s", payer)
	}
	tx.Signatures = []solana.Signature{solSig}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return &common.SignedTransaction{
		RawTransaction:  base58.Encode(raw),
		TransactionHash: solSig.String(),
	}, nil
}

func (b *TxBuilder) build(payload *keysign.Payload) (*solana.Transaction, error) {
	spec := payload.ChainSpecific.Solana
	if spec == nil {
		return nil, vcerrors.NewValidationError("payload has no solana specific block")
	}
	from, err := VaultAddress(payload.Coin.HexPublicKey)
	if err != nil {
		return nil, err
	}
	blockHash, err := solana.HashFromBase58(spec.RecentBlockHash)
	if err != nil {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid recent block hash %q", spec.RecentBlockHash))
	}
	amount, err := payload.ToAmountBig()
	if err != nil {
		return nil, err
	}
	if !amount.IsUint64() {
		return nil, vcerrors.NewValidationError(fmt.Sprintf("amount %s does not fit in u64", amount))
	}

	var instructions []solana.Instruction
	if spec.PriorityFee > 0 {
		instructions = append(instructions, computeUnitPriceInstruction(spec.PriorityFee))
	}

	if payload.Coin.IsNativeToken {
		to, err := parseKey("destination address", payload.ToAddress)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, system.NewTransferInstruction(amount.Uint64(), from, to).Build())
	} else {
		mint, err := parseKey("mint", payload.Coin.ContractAddress)
		if err != nil {
			return nil, err
		}
		source, err := parseKey("source token account", spec.FromTokenAssociatedAddress)
		if err != nil {
			return nil, err
		}
		dest, err := parseKey("destination token account", spec.ToTokenAssociatedAddress)
		if err != nil {
			return nil, err
		}
		if payload.Coin.Decimals < 0 || payload.Coin.Decimals > 255 {
			return nil, vcerrors.NewValidationError(fmt.Sprintf("invalid token decimals %d", payload.Coin.Decimals))
		}
		instructions = append(instructions, token.NewTransferCheckedInstruction(
			amount.Uint64(),
			uint8(payload.Coin.Decimals),
			source,
			mint,
			dest,
			from,
			nil,
		).Build())
	}

	if payload.Memo != "" {
		if len(payload.Memo) > maxMemoBytes {
			return nil, vcerrors.NewValidationError(fmt.Sprintf("memo is %d bytes, limit is %d", len(payload.Memo), maxMemoBytes))
		}
		instructions = append(instructions, solana.NewInstruction(
			solana.MemoProgramID,
			[]*solana.AccountMeta{{PublicKey: from, IsSigner: true}},
			[]byte(payload.Memo),
		))
	}

	tx, err := solana.NewTransaction(instructions, blockHash, solana.TransactionPayer(from))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

// computeUnitPriceInstruction encodes [type u8][micro-lamports u64 LE].
func computeUnitPriceInstruction(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = setComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(computeBudgetProgramID, []*solana.AccountMeta{}, data)
}

// VaultAddress returns the Solana account of a hex encoded ed25519 public key.
func VaultAddress(pubKeyHex string) (solana.PublicKey, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != solana.PublicKeyLength {
		return solana.PublicKey{}, vcerrors.NewValidationError("coin public key must be a 32 byte ed25519 key")
	}
	return solana.PublicKeyFromBytes(pub), nil
}

func parseKey(what, s string) (solana.PublicKey, error) {
	k, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, vcerrors.NewValidationError(fmt.Sprintf("invalid %s %q", what, s))
	}
	return k, nil
}
