// Package allowance reads ERC-20 allowances and prepares approval
// transactions for the execution orchestrator.
package allowance

import (
	"context"
	"math/big"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// ClientSource resolves the client of a chain.
type ClientSource interface {
	Client(chainID uint64) (web3.Client, error)
}

// Service implements the allowance collaborator over the chain registry.
type Service struct {
	clients ClientSource
}

// NewService constructs a Service.
func NewService(clients ClientSource) *Service {
	return &Service{clients: clients}
}

// GetApproved returns how much of token owner has approved for spender.
func (s *Service) GetApproved(ctx context.Context, owner string, token route.Token, spender string) (*big.Int, error) {
	if token.IsNative() {
		return math.MaxBig256, nil
	}
	client, err := s.clients.Client(token.ChainID)
	if err != nil {
		return nil, err
	}
	amount, err := client.Allowance(ctx, token.Address, owner, spender)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "allowance lookup failed")
	}
	return amount, nil
}

// ApprovalRequest builds the approve(spender, amount) transaction. With
// infinite set the maximum uint256 is approved.
func (s *Service) ApprovalRequest(token route.Token, spender string, amount *big.Int, infinite bool) (route.TransactionRequest, error) {
	if token.IsNative() {
		return route.TransactionRequest{}, xerrors.New(xerrors.CodeValidation, "native assets do not need approval")
	}
	if infinite || amount == nil {
		amount = math.MaxBig256
	}
	data, err := ethereum.PackApprove(spender, amount)
	if err != nil {
		return route.TransactionRequest{}, xerrors.Wrap(xerrors.CodeValidation, err, "invalid approval")
	}
	return route.TransactionRequest{
		To:      token.Address,
		Data:    hexutil.Encode(data),
		Value:   "0",
		ChainID: token.ChainID,
	}, nil
}
