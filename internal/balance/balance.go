// Package balance reads token balances for route execution. Large requests
// are split into chunks that run in parallel and are flattened back into
// input order.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the upstream multicall ceiling.
const DefaultChunkSize = 100

// ClientSource resolves the client of a chain.
type ClientSource interface {
	Client(chainID uint64) (web3.Client, error)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithChunkSize overrides the number of tokens per batch.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithConcurrency bounds the number of chunks in flight.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// Fetcher reads balances through the chain registry.
type Fetcher struct {
	clients     ClientSource
	chunkSize   int
	concurrency int
	log         *slog.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(clients ClientSource, opts ...Option) *Fetcher {
	f := &Fetcher{clients: clients, chunkSize: DefaultChunkSize, log: logger.Named("balance")}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// GetBalance returns the balance of owner for one token.
func (f *Fetcher) GetBalance(ctx context.Context, owner string, token route.Token) (route.TokenAmount, error) {
	client, err := f.clients.Client(token.ChainID)
	if err != nil {
		return route.TokenAmount{}, err
	}
	amount, err := client.Balance(ctx, owner, token.Address)
	if err != nil {
		return route.TokenAmount{}, xerrors.Wrap(xerrors.CodeRPCFailure, err, "balance lookup failed")
	}
	return amountOf(token, amount), nil
}

// GetBalances returns one entry per token in input order. Tokens whose
// balance cannot be read report an amount of zero.
func (f *Fetcher) GetBalances(ctx context.Context, owner string, tokens []route.Token) ([]route.TokenAmount, error) {
	out := make([]route.TokenAmount, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for start := 0; start < len(tokens); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		start, end := start, end
		g.Go(func() error {
			return f.fetchChunk(ctx, owner, tokens[start:end], out[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchChunk writes the balances of tokens into dst, grouping the lookups
// by chain.
func (f *Fetcher) fetchChunk(ctx context.Context, owner string, tokens []route.Token, dst []route.TokenAmount) error {
	byChain := make(map[uint64][]int)
	for i, token := range tokens {
		byChain[token.ChainID] = append(byChain[token.ChainID], i)
	}
	for chainID, indexes := range byChain {
		client, err := f.clients.Client(chainID)
		if err != nil {
			return err
		}
		addresses := make([]string, len(indexes))
		for j, idx := range indexes {
			addresses[j] = tokens[idx].Address
		}
		amounts, err := client.Balances(ctx, owner, addresses)
		if err != nil {
			f.log.Warn("batch balance lookup failed", "chain_id", chainID, "tokens", len(indexes), "error", err)
			amounts = make([]*big.Int, len(indexes))
		}
		for j, idx := range indexes {
			var amount *big.Int
			if j < len(amounts) {
				amount = amounts[j]
			}
			dst[idx] = amountOf(tokens[idx], amount)
		}
	}
	return nil
}

// CheckBalance fails with BALANCE_TOO_LOW when owner holds less than amount
// of token.
func (f *Fetcher) CheckBalance(ctx context.Context, owner string, token route.Token, amount string) error {
	required, err := web3.ParseAmount(amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "invalid from amount")
	}
	current, err := f.GetBalance(ctx, owner, token)
	if err != nil {
		return err
	}
	have, err := web3.ParseAmount(current.Amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRPCFailure, err, "invalid balance")
	}
	if have.Cmp(required) >= 0 {
		return nil
	}
	needed := Format(required, token.Decimals)
	return xerrors.New(xerrors.CodeBalanceTooLow,
		fmt.Sprintf("Your %s balance is too low, you try to transfer %s %s, but your wallet only holds %s %s. No funds have been sent.",
			token.Symbol, needed, token.Symbol, current.Formatted, token.Symbol),
		xerrors.WithMetadata("token", token.Symbol),
		xerrors.WithMetadata("required", required.String()),
		xerrors.WithMetadata("available", have.String()),
	)
}

// Format renders a raw integer amount shifted by decimals.
func Format(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}

func amountOf(token route.Token, amount *big.Int) route.TokenAmount {
	if amount == nil {
		amount = new(big.Int)
	}
	return route.TokenAmount{
		Token:     token,
		Amount:    amount.String(),
		Formatted: Format(amount, token.Decimals),
	}
}
