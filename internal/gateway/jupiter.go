package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// JupiterClient talks to the Jupiter v6 quote/swap API and submits the
// signed transactions through a Solana RPC node.
type JupiterClient struct {
	Base        string
	RPC         *rpc.Client
	Owner       solana.PrivateKey
	Commit      rpc.CommitmentType
	SlippageBps int
	Http        *http.Client
}

type jupiterQuote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	OtherAmount    string `json:"otherAmountThreshold"`
	SlippageBps    int    `json:"slippageBps"`
	RoutePlan      []any  `json:"routePlan"`
	PriceImpactPct any    `json:"priceImpactPct"`
}

func NewJupiterClient(rpcURL, base string, owner solana.PrivateKey, commit string, slippageBps, timeoutMs int) *JupiterClient {
	c := rpc.CommitmentConfirmed
	switch commit {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	if timeoutMs <= 0 {
		timeoutMs = 20000
	}
	return &JupiterClient{
		Base:        base,
		RPC:         rpc.New(rpcURL),
		Owner:       owner,
		Commit:      c,
		SlippageBps: slippageBps,
		Http:        &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

// Quote asks for the best route. Amount is in the input asset's smallest
// units (lamports for SOL).
func (j *JupiterClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Route, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(j.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	u := j.Base + "/v6/quote?" + q.Encode()

	req, _ := http.NewRequestWithContext(ctx, "GET", u, nil)
	resp, err := j.Http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoRoute
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter quote status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var quote jupiterQuote
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil, err
	}
	if quote.OutAmount == "" || len(quote.RoutePlan) == 0 {
		return nil, ErrNoRoute
	}
	outAmount, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount: %w", err)
	}
	inAmount, _ := strconv.ParseUint(quote.InAmount, 10, 64)

	return &Route{
		InputMint:  quote.InputMint,
		OutputMint: quote.OutputMint,
		InAmount:   inAmount,
		OutAmount:  outAmount,
		RawQuote:   raw,
	}, nil
}

// Execute asks Jupiter for a ready-to-sign transaction, signs it
// locally, then submits via RPC. Once broadcast there is no mid-flight
// cancellation; the caller waits for this terminal response.
func (j *JupiterClient) Execute(ctx context.Context, route *Route) (*SwapResult, error) {
	payload := map[string]any{
		"userPublicKey":             j.Owner.PublicKey().String(),
		"wrapAndUnwrapSol":          true,
		"asLegacyTransaction":       false,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
		"quoteResponse":             route.RawQuote,
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, "POST", j.Base+"/v6/swap", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := j.Http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter swap status %d", resp.StatusCode)
	}
	var sr struct {
		SwapTransaction string `json:"swapTransaction"` // base64-encoded tx (unsigned)
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(j.Owner.PublicKey()) {
			return &j.Owner
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	sig, err := j.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: j.Commit,
	})
	if err != nil {
		return nil, err
	}

	return &SwapResult{
		TxRef:        sig.String(),
		OutputAmount: route.OutAmount,
	}, nil
}
