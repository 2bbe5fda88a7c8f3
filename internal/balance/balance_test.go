package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"
)

// fakeClient derives each balance from the token address and completes
// batches after a random delay.
type fakeClient struct {
	web3.Client
	mu        sync.Mutex
	batchLens []int
	inFlight  atomic.Int64
	maxFlight atomic.Int64
	failing   map[string]bool
	failBatch bool
}

func (f *fakeClient) Balance(ctx context.Context, owner, token string) (*big.Int, error) {
	if f.failing[token] {
		return nil, errors.New("rpc unavailable")
	}
	return balanceFor(token), nil
}

func (f *fakeClient) Balances(ctx context.Context, owner string, tokens []string) ([]*big.Int, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxFlight.Load()
		if n <= max || f.maxFlight.CompareAndSwap(max, n) {
			break
		}
	}
	f.mu.Lock()
	f.batchLens = append(f.batchLens, len(tokens))
	f.mu.Unlock()
	if f.failBatch {
		return nil, errors.New("batch endpoint down")
	}

	time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	out := make([]*big.Int, len(tokens))
	for i, token := range tokens {
		if f.failing[token] {
			continue
		}
		out[i] = balanceFor(token)
	}
	return out, nil
}

type fakeSource struct{ client *fakeClient }

func (s fakeSource) Client(chainID uint64) (web3.Client, error) {
	if chainID != 1 {
		return nil, xerrors.New(xerrors.CodeValidation, "unsupported chain")
	}
	return s.client, nil
}

func tokenAddress(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func balanceFor(token string) *big.Int {
	n, _ := new(big.Int).SetString(strings.TrimPrefix(token, "0x"), 16)
	return new(big.Int).Mul(n, big.NewInt(1_000))
}

func TestGetBalancesPreservesInputOrder(t *testing.T) {
	client := &fakeClient{}
	fetcher := NewFetcher(fakeSource{client: client})

	tokens := make([]route.Token, 250)
	for i := range tokens {
		tokens[i] = route.Token{Address: tokenAddress(i), ChainID: 1, Symbol: fmt.Sprintf("T%d", i), Decimals: 3}
	}

	balances, err := fetcher.GetBalances(context.Background(), "0x00000000000000000000000000000000000000aa", tokens)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if len(balances) != len(tokens) {
		t.Fatalf("expected %d balances, got %d", len(tokens), len(balances))
	}
	for i, b := range balances {
		if b.Address != tokens[i].Address {
			t.Fatalf("entry %d is %s, want %s", i, b.Address, tokens[i].Address)
		}
		if want := balanceFor(tokens[i].Address).String(); b.Amount != want {
			t.Fatalf("entry %d amount %s, want %s", i, b.Amount, want)
		}
		if b.Formatted != fmt.Sprintf("%d", i+1) {
			t.Fatalf("entry %d formatted %s", i, b.Formatted)
		}
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.batchLens) != 3 {
		t.Fatalf("expected 3 batches, got %v", client.batchLens)
	}
	total := 0
	for _, n := range client.batchLens {
		if n > DefaultChunkSize {
			t.Fatalf("batch of %d exceeds ceiling", n)
		}
		total += n
	}
	if total != 250 {
		t.Fatalf("batches cover %d tokens", total)
	}
}

func TestGetBalancesFailedEntriesAreZero(t *testing.T) {
	client := &fakeClient{failing: map[string]bool{tokenAddress(1): true}}
	fetcher := NewFetcher(fakeSource{client: client}, WithChunkSize(2))

	tokens := []route.Token{
		{Address: tokenAddress(0), ChainID: 1, Decimals: 0},
		{Address: tokenAddress(1), ChainID: 1, Decimals: 0},
		{Address: tokenAddress(2), ChainID: 1, Decimals: 0},
	}
	balances, err := fetcher.GetBalances(context.Background(), "0x00000000000000000000000000000000000000aa", tokens)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if balances[1].Amount != "0" || balances[0].Amount != "1000" || balances[2].Amount != "3000" {
		t.Fatalf("unexpected balances %+v", balances)
	}

	client.failBatch = true
	balances, err = fetcher.GetBalances(context.Background(), "0x00000000000000000000000000000000000000aa", tokens)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	for _, b := range balances {
		if b.Amount != "0" {
			t.Fatalf("expected zero balance for failed batch, got %s", b.Amount)
		}
	}
}

func TestGetBalancesUnknownChain(t *testing.T) {
	fetcher := NewFetcher(fakeSource{client: &fakeClient{}})
	_, err := fetcher.GetBalances(context.Background(), "0xaa", []route.Token{{Address: tokenAddress(0), ChainID: 99}})
	if !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestGetBalancesConcurrencyLimit(t *testing.T) {
	client := &fakeClient{}
	fetcher := NewFetcher(fakeSource{client: client}, WithChunkSize(10), WithConcurrency(2))

	tokens := make([]route.Token, 95)
	for i := range tokens {
		tokens[i] = route.Token{Address: tokenAddress(i), ChainID: 1}
	}
	if _, err := fetcher.GetBalances(context.Background(), "0xaa", tokens); err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if client.maxFlight.Load() > 2 {
		t.Fatalf("expected at most 2 batches in flight, saw %d", client.maxFlight.Load())
	}
}

func TestCheckBalance(t *testing.T) {
	fetcher := NewFetcher(fakeSource{client: &fakeClient{}})
	token := route.Token{Address: tokenAddress(4), ChainID: 1, Symbol: "USDC", Decimals: 6}

	if err := fetcher.CheckBalance(context.Background(), "0xaa", token, "5000"); err != nil {
		t.Fatalf("expected sufficient balance, got %v", err)
	}
	err := fetcher.CheckBalance(context.Background(), "0xaa", token, "5001")
	if !xerrors.HasCode(err, xerrors.CodeBalanceTooLow) {
		t.Fatalf("expected BALANCE_TOO_LOW, got %v", err)
	}
	if !strings.Contains(err.Error(), "0.005001") {
		t.Fatalf("expected formatted amount in message: %v", err)
	}
	if err := fetcher.CheckBalance(context.Background(), "0xaa", token, "abc"); !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for malformed amount, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		amount   int64
		decimals int
		want     string
	}{
		{1_500_000, 6, "1.5"},
		{0, 18, "0"},
		{42, 0, "42"},
	}
	for _, tc := range cases {
		if got := Format(big.NewInt(tc.amount), tc.decimals); got != tc.want {
			t.Fatalf("Format(%d, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}
