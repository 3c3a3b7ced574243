package gateway

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolTransferClient sends plain SOL system-program transfers from the
// custody wallet, used by the settlement engine for net payouts.
type SolTransferClient struct {
	RPC    *rpc.Client
	Owner  solana.PrivateKey
	Commit rpc.CommitmentType
}

func NewSolTransferClient(rpcURL string, owner solana.PrivateKey, commit string) *SolTransferClient {
	c := rpc.CommitmentConfirmed
	switch commit {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	return &SolTransferClient{
		RPC:    rpc.New(rpcURL),
		Owner:  owner,
		Commit: c,
	}
}

// Transfer moves lamports to destAddress and returns the transaction
// signature.
func (t *SolTransferClient) Transfer(ctx context.Context, destAddress string, lamports uint64) (string, error) {
	dest, err := solana.PublicKeyFromBase58(destAddress)
	if err != nil {
		return "", fmt.Errorf("parse destination: %w", err)
	}

	recent, err := t.RPC.GetLatestBlockhash(ctx, t.Commit)
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(
				lamports,
				t.Owner.PublicKey(),
				dest,
			).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(t.Owner.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("build tx: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(t.Owner.PublicKey()) {
			return &t.Owner
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	sig, err := t.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: t.Commit,
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}
