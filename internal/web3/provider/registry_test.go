package provider

import (
	"context"
	"math/big"
	"testing"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/core/types"
)

type stubClient struct {
	id     uint64
	closed bool
}

func (s *stubClient) ChainID() uint64                             { return s.id }
func (s *stubClient) BlockNumber(context.Context) (uint64, error) { return 1, nil }
func (s *stubClient) Balance(context.Context, string, string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *stubClient) Balances(_ context.Context, _ string, tokens []string) ([]*big.Int, error) {
	return make([]*big.Int, len(tokens)), nil
}
func (s *stubClient) Allowance(context.Context, string, string, string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *stubClient) EstimateGas(context.Context, route.TransactionRequest) (uint64, error) {
	return 21_000, nil
}
func (s *stubClient) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubClient) PendingNonceAt(context.Context, string) (uint64, error) {
	return 0, nil
}
func (s *stubClient) SendTransaction(context.Context, *types.Transaction) error { return nil }
func (s *stubClient) WaitMined(context.Context, web3.TxRef) (*web3.Receipt, error) {
	return &web3.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}
func (s *stubClient) Close() { s.closed = true }

func TestRegistryLookup(t *testing.T) {
	r := New()
	eth := &stubClient{id: 1}
	op := &stubClient{id: 10}
	if err := r.Register(web3.Chain{ID: 10, Name: "Optimism"}, op); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(web3.Chain{ID: 1, Name: "Ethereum"}, eth); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(web3.Chain{ID: 1}, eth); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	chain, err := r.Chain(1)
	if err != nil || chain.Name != "Ethereum" {
		t.Fatalf("unexpected chain %+v (%v)", chain, err)
	}
	client, err := r.Client(10)
	if err != nil || client.ChainID() != 10 {
		t.Fatalf("unexpected client (%v)", err)
	}
	if _, err := r.Chain(56); !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for unknown chain, got %v", err)
	}

	chains := r.Chains()
	if len(chains) != 2 || chains[0].ID != 1 || chains[1].ID != 10 {
		t.Fatalf("chains not ordered by id: %+v", chains)
	}

	r.Close()
	if !eth.closed || !op.closed {
		t.Fatal("expected clients to be closed")
	}
	if len(r.Chains()) != 0 {
		t.Fatal("expected empty registry after close")
	}
}

func TestNewRegistryRequiresChains(t *testing.T) {
	if _, err := NewRegistry(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without chain definitions")
	}
}
