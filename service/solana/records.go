package solana

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/brojonat/txfeed/service/feed"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Reasons a chain transaction yields no feed record.
var (
	ErrNoTransfer     = errors.New("no transfer instruction")
	ErrNotParticipant = errors.New("wallet is not a party to the transfer")
)

// Well-known token mints and their currency codes.
var knownMints = map[solana.PublicKey]string{
	solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"): "USDC",
	solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"): "USDT",
	solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"): "USDC", // devnet
	solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"):  "SOL",  // wrapped
}

// CurrencyCode returns the currency of a mint. Native SOL has a nil mint;
// unknown mints are shortened to their first characters.
func CurrencyCode(mint *solana.PublicKey) string {
	if mint == nil {
		return "SOL"
	}
	if code, ok := knownMints[*mint]; ok {
		return code
	}
	s := mint.String()
	if len(s) > 6 {
		s = s[:6]
	}
	return s
}

// ToRecord converts a parsed transfer into a feed record from the point of
// view of wallet. Outgoing transfers carry a negative amount.
func ToRecord(wallet solana.PublicKey, t *Transfer) (feed.Record, error) {
	if !t.HasTransfer() {
		return feed.Record{}, ErrNoTransfer
	}

	var (
		typ          feed.TransferType
		counterparty *solana.PublicKey
		sign         int64 = 1
	)
	switch {
	case t.Source != nil && t.Source.Equals(wallet):
		typ = feed.TransferSent
		counterparty = t.Destination
		sign = -1
	case t.Destination != nil && t.Destination.Equals(wallet):
		typ = feed.TransferReceived
		counterparty = t.Source
	default:
		return feed.Record{}, fmt.Errorf("%s: %w", t.Signature, ErrNotParticipant)
	}

	status := feed.StatusComplete
	if t.Err != nil {
		status = feed.StatusFailed
	}

	value := decimal.NewFromBigInt(new(big.Int).SetUint64(t.Amount), -t.Decimals)
	if sign < 0 {
		value = value.Neg()
	}

	var address string
	if counterparty != nil {
		address = counterparty.String()
	}

	r := feed.Record{
		Kind:      feed.KindTokenTransfer,
		Hash:      t.Signature,
		Timestamp: t.BlockTime,
		Status:    status,
		Transfer: &feed.Transfer{
			Type:    typ,
			Address: address,
			Comment: t.Memo,
			Amount:  feed.Amount{Value: value, CurrencyCode: CurrencyCode(t.Mint)},
		},
	}
	return r, nil
}
