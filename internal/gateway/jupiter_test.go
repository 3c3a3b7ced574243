package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

func TestNewJupiterClientCommit(t *testing.T) {
	wallet := solana.NewWallet()
	client := NewJupiterClient("https://rpc", "https://jup", wallet.PrivateKey, "finalized", 150, 0)
	if client.Commit != rpc.CommitmentFinalized {
		t.Fatalf("expected finalized commitment, got %v", client.Commit)
	}
	if client.Http.Timeout == 0 {
		t.Fatalf("expected default http timeout")
	}
}

func TestQuote(t *testing.T) {
	wallet := solana.NewWallet()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v6/quote" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("inputMint") != "AAA" {
			t.Fatalf("missing inputMint query")
		}
		if r.URL.Query().Get("slippageBps") != "150" {
			t.Fatalf("missing slippageBps query")
		}
		resp := map[string]any{
			"inputMint":  "AAA",
			"outputMint": "BBB",
			"inAmount":   "10",
			"outAmount":  "20",
			"routePlan":  []any{map[string]any{"percent": 100}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewJupiterClient("https://rpc", server.URL, wallet.PrivateKey, "processed", 150, 5000)
	client.Http = server.Client()

	route, err := client.Quote(context.Background(), "AAA", "BBB", 10)
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if route.OutAmount != 20 {
		t.Fatalf("expected OutAmount 20, got %d", route.OutAmount)
	}
	if len(route.RawQuote) == 0 {
		t.Fatalf("raw quote payload not retained")
	}
}

func TestQuoteNoRouteOn404(t *testing.T) {
	wallet := solana.NewWallet()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewJupiterClient("https://rpc", server.URL, wallet.PrivateKey, "confirmed", 150, 5000)
	client.Http = server.Client()

	if _, err := client.Quote(context.Background(), "AAA", "BBB", 10); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestQuoteNoRouteOnEmptyPlan(t *testing.T) {
	wallet := solana.NewWallet()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"inputMint":  "AAA",
			"outputMint": "BBB",
			"outAmount":  "20",
			"routePlan":  []any{},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewJupiterClient("https://rpc", server.URL, wallet.PrivateKey, "confirmed", 150, 5000)
	client.Http = server.Client()

	if _, err := client.Quote(context.Background(), "AAA", "BBB", 10); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute for empty route plan, got %v", err)
	}
}
