package solana

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// rpcAdapter satisfies RPCClient with a solana-go client. GetTransaction is
// promoted from the embedded client as is.
type rpcAdapter struct {
	*rpc.Client
}

// NewRPCClient dials rpcURL lazily. Keyed endpoints carry the key in the URL.
func NewRPCClient(rpcURL string) RPCClient {
	return rpcAdapter{rpc.New(rpcURL)}
}

func (a rpcAdapter) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return a.Client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

// ParseWallet validates a base58 wallet address.
func ParseWallet(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid wallet address %q: %w", address, err)
	}
	return pk, nil
}
