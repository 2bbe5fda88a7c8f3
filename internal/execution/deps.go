package execution

import (
	"context"
	"math/big"
	"time"

	"OpenRoute-Chain/internal/receiving"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"
)

// ChainRegistry resolves chain metadata and clients.
type ChainRegistry interface {
	Chain(id uint64) (web3.Chain, error)
	Client(id uint64) (web3.Client, error)
}

// BalanceChecker fails with BALANCE_TOO_LOW when owner cannot cover amount.
type BalanceChecker interface {
	CheckBalance(ctx context.Context, owner string, token route.Token, amount string) error
}

// AllowanceService reads allowances and prepares approvals.
type AllowanceService interface {
	GetApproved(ctx context.Context, owner string, token route.Token, spender string) (*big.Int, error)
	ApprovalRequest(token route.Token, spender string, amount *big.Int, infinite bool) (route.TransactionRequest, error)
}

// StepTransactionSource populates the transaction request of a step.
type StepTransactionSource interface {
	GetStepTransaction(ctx context.Context, step route.Step) (route.Step, error)
}

// ReceiptAwaiter waits for the destination side of a bridge transfer.
type ReceiptAwaiter interface {
	AwaitReceipt(ctx context.Context, req receiving.Request, progress receiving.ProgressFunc) (receiving.Receipt, error)
}

// MultisigTracker reports how a proposal sent by a multisig account ended.
type MultisigTracker interface {
	ProposalStatus(ctx context.Context, chainID uint64, internalHash string) (web3.Proposal, error)
}

// StepMetrics records the outcome of step executions.
type StepMetrics interface {
	ObserveStep(stepType route.StepType, status route.Status, elapsed time.Duration)
	ObserveTransaction(process route.ProcessType, outcome string)
}

// Dependencies are the collaborators of an Executor. Receipts is only
// needed for cross-chain steps, Multisig only for multisig accounts and
// Metrics is optional.
type Dependencies struct {
	Chains     ChainRegistry
	Balances   BalanceChecker
	Allowances AllowanceService
	Backend    StepTransactionSource
	Receipts   ReceiptAwaiter
	Multisig   MultisigTracker
	Metrics    StepMetrics
}

// AcceptSlippageUpdateHook decides whether a refreshed quote whose minimum
// output dropped beyond the slippage tolerance may be executed.
type AcceptSlippageUpdateHook func(ctx context.Context, previous, updated route.Step) (bool, error)

// UpdateTransactionRequestHook lets the caller set gas parameters before a
// transaction is signed.
type UpdateTransactionRequestHook func(ctx context.Context, req route.TransactionRequest) (route.TransactionRequest, error)

// Settings are the per-run caller hooks. Every hook is optional.
type Settings struct {
	SwitchChainHook              web3.SwitchChainHook
	AcceptSlippageUpdateHook     AcceptSlippageUpdateHook
	UpdateTransactionRequestHook UpdateTransactionRequestHook
	// InfiniteApproval approves the maximum amount instead of the step amount.
	InfiniteApproval bool
}
