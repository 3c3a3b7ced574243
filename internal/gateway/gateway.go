// Package gateway wraps the external swap venue and the chain transfer
// path. The core treats both as opaque, possibly slow, possibly failing
// remote calls: every method takes a context and the implementations
// carry bounded HTTP timeouts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNoRoute means the venue cannot swap between the requested pair
	// for the requested amount.
	ErrNoRoute = errors.New("no route for swap")
)

// Route is a priced swap opportunity returned by Quote. RawQuote carries
// the venue's quote payload verbatim because Execute must echo it back.
type Route struct {
	InputMint  string
	OutputMint string
	InAmount   uint64
	OutAmount  uint64
	RawQuote   json.RawMessage
}

// SwapResult reports a broadcast swap.
type SwapResult struct {
	TxRef        string
	OutputAmount uint64
}

// SwapGateway quotes and executes swaps. Quote never mutates anything;
// Execute signs and broadcasts, then waits for a terminal response.
type SwapGateway interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Route, error)
	Execute(ctx context.Context, route *Route) (*SwapResult, error)
}

// TransferClient moves base-currency funds to an external address. Used
// by the settlement engine for net payouts.
type TransferClient interface {
	Transfer(ctx context.Context, destAddress string, lamports uint64) (string, error)
}
