package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Transfer is a value movement parsed from a chain transaction.
// This is our domain model, independent of the RPC response format.
type Transfer struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	Amount      uint64 // raw units
	Decimals    int32
	Mint        *solana.PublicKey // nil for native SOL transfers
	Source      *solana.PublicKey // sending wallet, nil if it cannot be determined
	Destination *solana.PublicKey // receiving wallet, or its token account when the owner is unknown
	Memo        string
	Err         *string // nil if the transaction succeeded
}

// HasTransfer reports whether a transfer instruction was found.
func (t *Transfer) HasTransfer() bool {
	return t.Source != nil || t.Destination != nil
}
