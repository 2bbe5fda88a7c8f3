package allowance

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common/math"
)

type allowanceClient struct {
	web3.Client
	amount *big.Int
	err    error
	calls  int
}

func (c *allowanceClient) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	c.calls++
	return c.amount, c.err
}

type source struct{ client *allowanceClient }

func (s source) Client(uint64) (web3.Client, error) { return s.client, nil }

var usdc = route.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1, Symbol: "USDC", Decimals: 6}

func TestGetApproved(t *testing.T) {
	client := &allowanceClient{amount: big.NewInt(500)}
	svc := NewService(source{client: client})

	got, err := svc.GetApproved(context.Background(), "0x1", usdc, "0x2")
	if err != nil || got.Int64() != 500 {
		t.Fatalf("unexpected allowance %v (%v)", got, err)
	}

	native, err := svc.GetApproved(context.Background(), "0x1", route.Token{Address: route.NativeTokenAddress, ChainID: 1}, "0x2")
	if err != nil || native.Cmp(math.MaxBig256) != 0 {
		t.Fatalf("native assets must report unlimited allowance, got %v (%v)", native, err)
	}
	if client.calls != 1 {
		t.Fatalf("native lookup must not hit the chain, calls=%d", client.calls)
	}

	client.err = errors.New("timeout")
	if _, err := svc.GetApproved(context.Background(), "0x1", usdc, "0x2"); !xerrors.HasCode(err, xerrors.CodeRPCFailure) {
		t.Fatalf("expected RPC_ERROR, got %v", err)
	}
}

func TestApprovalRequest(t *testing.T) {
	svc := NewService(source{client: &allowanceClient{}})
	spender := "0x1111111254EEB25477B68fb85Ed929f73A960582"

	req, err := svc.ApprovalRequest(usdc, spender, big.NewInt(1_000), false)
	if err != nil {
		t.Fatalf("ApprovalRequest: %v", err)
	}
	if req.To != usdc.Address || req.ChainID != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	if !strings.HasPrefix(req.Data, "0x095ea7b3") {
		t.Fatalf("expected approve selector, got %s", req.Data[:10])
	}
	if !strings.HasSuffix(req.Data, "03e8") {
		t.Fatalf("expected exact amount encoded, got %s", req.Data)
	}

	infinite, err := svc.ApprovalRequest(usdc, spender, big.NewInt(1_000), true)
	if err != nil {
		t.Fatalf("ApprovalRequest: %v", err)
	}
	if !strings.HasSuffix(infinite.Data, strings.Repeat("f", 64)) {
		t.Fatalf("expected max uint256 approval, got %s", infinite.Data)
	}

	if _, err := svc.ApprovalRequest(route.Token{Address: route.NativeTokenAddress}, spender, nil, false); !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for native token, got %v", err)
	}
	if _, err := svc.ApprovalRequest(usdc, "bogus", nil, false); !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for bad spender, got %v", err)
	}
}
