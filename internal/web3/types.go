package web3

import (
	"context"
	"math/big"
	"strings"

	"OpenRoute-Chain/internal/route"

	"github.com/ethereum/go-ethereum/core/types"
)

// Chain is the static metadata of a supported network.
type Chain struct {
	ID          uint64
	Key         string
	Name        string
	ExplorerURL string
	NativeToken route.Token
	// SafeServiceURL is the Safe transaction service of the chain, used by
	// multisig accounts.
	SafeServiceURL string
}

// TxLink renders the explorer link of a transaction hash.
func (c Chain) TxLink(hash string) string {
	if c.ExplorerURL == "" || hash == "" {
		return ""
	}
	base := c.ExplorerURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "tx/" + hash
}

// TxRef identifies a submitted transaction. From and Nonce enable
// replacement detection when the original hash never gets mined.
type TxRef struct {
	Hash  string
	From  string
	Nonce *uint64
}

// Receipt is the outcome of a mined transaction. When the original
// transaction was replaced, TxHash is the replacement and OriginalHash the
// submitted one.
type Receipt struct {
	TxHash            string
	OriginalHash      string
	Replaced          bool
	BlockNumber       uint64
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// Client is the per-chain connectivity used by execution.
type Client interface {
	ChainID() uint64
	BlockNumber(ctx context.Context) (uint64, error)
	// Balance returns the balance of owner for token; the native token
	// address selects the chain's native asset.
	Balance(ctx context.Context, owner, token string) (*big.Int, error)
	// Balances returns one balance per token in input order. A nil entry
	// marks a token whose balance could not be read.
	Balances(ctx context.Context, owner string, tokens []string) ([]*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	EstimateGas(ctx context.Context, req route.TransactionRequest) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account string) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, ref TxRef) (*Receipt, error)
	Close()
}

// Submission is the handle of a transaction sent by an account.
type Submission struct {
	Hash  string
	Nonce *uint64
	// InternalHash is set by multisig accounts whose proposal is executed
	// out of band.
	InternalHash string
}

// ProposalState is the lifecycle of a multisig proposal.
type ProposalState string

const (
	ProposalPending  ProposalState = "PENDING"
	ProposalExecuted ProposalState = "EXECUTED"
	ProposalFailed   ProposalState = "FAILED"
)

// Proposal is the state of a transaction proposed by a multisig account.
// TxHash is set once the proposal was executed on chain.
type Proposal struct {
	State         ProposalState
	TxHash        string
	Confirmations int
	Required      int
	Reason        string
}

// Account is the signing identity executing a route.
type Account interface {
	Address() string
	ChainID() uint64
	IsMultisig() bool
	SendTransaction(ctx context.Context, req route.TransactionRequest) (Submission, error)
}

// SwitchChainHook asks the account holder to move to chainID. It returns the
// account bound to the new chain, or nil when the switch was refused.
type SwitchChainHook func(ctx context.Context, chainID uint64) (Account, error)
