package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

const lamportDecimals = 9

// signatureToDomain converts signature metadata into a Transfer with no
// movement details.
func signatureToDomain(sig *rpc.TransactionSignature) *Transfer {
	t := &Transfer{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
	}
	if sig.BlockTime != nil {
		t.BlockTime = sig.BlockTime.Time().UTC()
	}
	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		t.Err = &errMsg
	}
	return t
}

// parseTransferFromResult extracts the first transfer and any memo from a
// full transaction. Token balances in the metadata resolve token accounts to
// their owners and supply the mint and decimals for plain Transfer
// instructions.
func parseTransferFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Transfer, error) {
	t := signatureToDomain(sig)

	if sig.Err != nil || result == nil || result.Transaction == nil {
		return t, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accounts := tokenAccounts(result.Meta)
	keys := tx.Message.AccountKeys

	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			continue
		}
		programID := keys[ix.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID) && !t.HasTransfer():
			if amount, from, to, err := parseSystemTransfer(ix, keys); err == nil {
				t.Amount = amount
				t.Decimals = lamportDecimals
				t.Source = from
				t.Destination = to
			}

		case (programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID)) && !t.HasTransfer():
			if tt, err := parseTokenTransfer(ix, keys, accounts); err == nil {
				t.Amount = tt.amount
				t.Decimals = tt.decimals
				t.Mint = tt.mint
				t.Source = tt.authority
				t.Destination = tt.destination
			}

		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(ix.Data); memo != "" {
				t.Memo = memo
			}
		}
	}

	return t, nil
}

// parseSystemTransfer extracts the lamports and both parties of a System
// Program Transfer instruction.
func parseSystemTransfer(ix solana.CompiledInstruction, keys []solana.PublicKey) (uint64, *solana.PublicKey, *solana.PublicKey, error) {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	if len(ix.Data) < 12 {
		return 0, nil, nil, fmt.Errorf("instruction data too short: %d bytes", len(ix.Data))
	}

	instructionType := binary.LittleEndian.Uint32(ix.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, nil, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}
	if len(ix.Accounts) < 2 {
		return 0, nil, nil, fmt.Errorf("transfer missing accounts")
	}

	from := accountAt(keys, ix.Accounts[0])
	to := accountAt(keys, ix.Accounts[1])
	return binary.LittleEndian.Uint64(ix.Data[4:12]), from, to, nil
}

type tokenAccount struct {
	mint     solana.PublicKey
	owner    *solana.PublicKey
	decimals int32
}

type tokenTransfer struct {
	amount      uint64
	decimals    int32
	mint        *solana.PublicKey
	authority   *solana.PublicKey
	destination *solana.PublicKey
}

// tokenAccounts indexes the token balances of a transaction by account index.
func tokenAccounts(meta *rpc.TransactionMeta) map[uint16]tokenAccount {
	out := make(map[uint16]tokenAccount)
	if meta == nil {
		return out
	}
	for _, balances := range [][]rpc.TokenBalance{meta.PreTokenBalances, meta.PostTokenBalances} {
		for _, b := range balances {
			ta := tokenAccount{mint: b.Mint, owner: b.Owner}
			if b.UiTokenAmount != nil {
				ta.decimals = int32(b.UiTokenAmount.Decimals)
			}
			out[b.AccountIndex] = ta
		}
	}
	return out
}

// parseTokenTransfer extracts an SPL Token Transfer or TransferChecked.
func parseTokenTransfer(ix solana.CompiledInstruction, keys []solana.PublicKey, accounts map[uint16]tokenAccount) (*tokenTransfer, error) {
	if len(ix.Data) == 0 {
		return nil, fmt.Errorf("empty instruction data")
	}

	var (
		tt                      tokenTransfer
		destIdx, authIdx        uint16
		mintFromInstruction     *solana.PublicKey
		decimalsFromInstruction = int32(-1)
	)

	switch ix.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] = 3, [1..9] = amount
		// accounts: [source, destination, authority]
		if len(ix.Data) < 9 {
			return nil, fmt.Errorf("transfer instruction data too short")
		}
		if len(ix.Accounts) < 3 {
			return nil, fmt.Errorf("transfer missing accounts")
		}
		tt.amount = binary.LittleEndian.Uint64(ix.Data[1:9])
		destIdx, authIdx = ix.Accounts[1], ix.Accounts[2]

	case TokenProgramTransferCheckedInstruction:
		// [0] = 12, [1..9] = amount, [9] = decimals
		// accounts: [source, mint, destination, authority]
		if len(ix.Data) < 10 {
			return nil, fmt.Errorf("transferChecked instruction data too short")
		}
		if len(ix.Accounts) < 4 {
			return nil, fmt.Errorf("transferChecked missing accounts")
		}
		tt.amount = binary.LittleEndian.Uint64(ix.Data[1:9])
		decimalsFromInstruction = int32(ix.Data[9])
		mintFromInstruction = accountAt(keys, ix.Accounts[1])
		destIdx, authIdx = ix.Accounts[2], ix.Accounts[3]

	default:
		return nil, fmt.Errorf("unknown token instruction type: %d", ix.Data[0])
	}

	tt.authority = accountAt(keys, authIdx)
	tt.destination = accountAt(keys, destIdx)
	tt.mint = mintFromInstruction
	tt.decimals = decimalsFromInstruction

	if dest, ok := accounts[destIdx]; ok {
		if dest.owner != nil {
			owner := *dest.owner
			tt.destination = &owner
		}
		if tt.mint == nil {
			mint := dest.mint
			tt.mint = &mint
		}
		if tt.decimals < 0 {
			tt.decimals = dest.decimals
		}
	}

	if tt.mint == nil || tt.decimals < 0 {
		return nil, fmt.Errorf("cannot resolve mint of token transfer")
	}
	return &tt, nil
}

func accountAt(keys []solana.PublicKey, idx uint16) *solana.PublicKey {
	if int(idx) >= len(keys) {
		return nil
	}
	k := keys[idx]
	return &k
}

// parseMemo extracts the memo text from a Memo Program instruction. Memos
// are plain UTF-8, occasionally base64 encoded.
func parseMemo(data []byte) string {
	memo := string(data)

	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && len(decoded) > 0 {
		if utf8.Valid(decoded) && !containsNUL(decoded) {
			return string(decoded)
		}
	}

	return memo
}

func containsNUL(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return true
		}
	}
	return false
}
