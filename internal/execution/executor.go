// Package execution drives one step of a route through allowance, balance
// check, preparation, chain switch, submission and confirmation. All state
// lives in the step's process ledger so an interrupted run resumes where it
// stopped without resubmitting transactions.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/receiving"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/status"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/pkg/logger"
)

// Request is one invocation of Execute.
type Request struct {
	Manager     *status.Manager
	StepID      string
	Account     web3.Account
	Interaction *Interaction
	Settings    Settings
}

// Executor runs steps against its collaborators. It is stateless between
// calls and safe for concurrent use on different routes.
type Executor struct {
	deps     Dependencies
	switcher *ChainSwitcher
	log      *slog.Logger
	audit    *slog.Logger
}

// NewExecutor validates deps and constructs an Executor.
func NewExecutor(deps Dependencies) (*Executor, error) {
	switch {
	case deps.Chains == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "chain registry is required")
	case deps.Balances == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "balance checker is required")
	case deps.Allowances == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "allowance service is required")
	case deps.Backend == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "step transaction source is required")
	}
	return &Executor{
		deps:     deps,
		switcher: NewChainSwitcher(deps.Chains),
		log:      logger.Named("execution"),
		audit:    logger.Audit(),
	}, nil
}

// errPaused unwinds a run that stopped at a suspension point.
var errPaused = errors.New("execution paused")

// Execute advances the step until it is done, failed, cancelled or paused
// and returns the resulting execution. A paused run returns a nil error and
// a non-terminal status; failures are returned as *Error.
func (e *Executor) Execute(ctx context.Context, req Request) (route.Execution, error) {
	if req.Manager == nil {
		return route.Execution{}, xerrors.New(xerrors.CodeValidation, "status manager is required")
	}
	if req.Account == nil {
		return route.Execution{}, xerrors.New(xerrors.CodeValidation, "account is required")
	}

	started := time.Now()
	r := &run{
		Executor: e,
		req:      req,
		m:        req.Manager,
		routeID:  req.Manager.RouteID(),
		account:  req.Account,
	}
	err := r.execute(ctx)
	if errors.Is(err, errPaused) {
		e.log.Info("step paused", "route", r.routeID, "step", req.StepID)
		err = nil
	}

	exec, execErr := req.Manager.Execution(req.StepID)
	if execErr != nil {
		if err == nil {
			err = execErr
		}
		return route.Execution{}, err
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveStep(r.step.Type, exec.Status, time.Since(started))
	}
	return exec, err
}

// run is the state of one Execute call.
type run struct {
	*Executor
	req        Request
	m          *status.Manager
	routeID    string
	account    web3.Account
	step       route.Step
	fromChain  web3.Chain
	toChain    web3.Chain
	client     web3.Client
	fromAmount *big.Int
	transfer   route.ProcessType
}

func (r *run) execute(ctx context.Context) error {
	id := r.req.StepID
	exec, err := r.m.InitExecution(id)
	if err != nil {
		return err
	}
	switch exec.Status {
	case route.StatusDone:
		return nil
	case route.StatusFailed, route.StatusCancelled:
		if err := r.prepareRestart(exec); err != nil {
			return err
		}
	}

	if r.step, err = r.m.Step(id); err != nil {
		return err
	}
	if err := r.resolve(); err != nil {
		return r.fail("", err)
	}
	r.log.Debug("executing step", "route", r.routeID, "step", id, "process", r.transfer,
		"from_chain", r.fromChain.ID, "to_chain", r.toChain.ID)

	if exec, err = r.m.Execution(id); err != nil {
		return err
	}
	if r.needsAllowance(exec) {
		if err := r.allowanceStage(ctx); err != nil {
			return err
		}
	}

	proc, err := r.m.FindOrCreateProcess(id, r.transfer)
	if err != nil {
		return err
	}
	var receipt *web3.Receipt
	switch proc.Status {
	case route.StatusDone:
	case route.StatusMultisigPending:
		if receipt, err = r.multisigStage(ctx, proc); err != nil {
			return err
		}
	default:
		if receipt, err = r.transferStage(ctx, proc); err != nil {
			return err
		}
	}

	if r.transfer == route.ProcessCrossChain {
		return r.receivingStage(ctx)
	}
	return r.settle(receipt)
}

// prepareRestart readies a failed or cancelled execution for another run.
// Finished processes and processes whose transaction may still be mined or
// whose multisig proposal is still open are kept so nothing is submitted
// twice. A transaction that was mined and reverted is settled and dropped.
func (r *run) prepareRestart(exec route.Execution) error {
	id := r.req.StepID
	var keptTx bool
	for _, p := range exec.Process {
		switch {
		case p.Status == route.StatusDone:
		case p.Type == route.ProcessReceivingChain || reverted(p):
			if err := r.m.RemoveProcess(id, p.Type); err != nil {
				return err
			}
		case p.TxHash != "":
			if p.Type.IsTransfer() {
				keptTx = true
			}
			if _, err := r.m.UpdateProcess(id, p.Type, route.StatusPending); err != nil {
				return err
			}
		case p.MultisigTxHash != "" && p.Status != route.StatusFailed:
			keptTx = true
			if _, err := r.m.UpdateProcess(id, p.Type, route.StatusMultisigPending); err != nil {
				return err
			}
		default:
			if err := r.m.RemoveProcess(id, p.Type); err != nil {
				return err
			}
		}
	}
	if !keptTx {
		step, err := r.m.Step(id)
		if err != nil {
			return err
		}
		step.TransactionRequest = nil
		if err := r.m.SetTransactionRequest(id, step); err != nil {
			return err
		}
	}
	_, err := r.m.UpdateExecution(id, route.StatusPending)
	return err
}

func reverted(p route.Process) bool {
	return p.Status == route.StatusFailed && p.Error != nil && p.Error.Reason == reasonReverted
}

func (r *run) resolve() error {
	a := r.step.Action
	if a.FromChainID == 0 || a.ToChainID == 0 {
		return xerrors.New(xerrors.CodeValidation, "step action must name both chains")
	}
	amount, err := web3.ParseAmount(a.FromAmount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "step fromAmount is invalid")
	}
	if amount.Sign() == 0 {
		return xerrors.New(xerrors.CodeValidation, "step fromAmount must be positive")
	}
	r.fromAmount = amount

	if r.fromChain, err = r.deps.Chains.Chain(a.FromChainID); err != nil {
		return err
	}
	if r.toChain, err = r.deps.Chains.Chain(a.ToChainID); err != nil {
		return err
	}
	if r.client, err = r.deps.Chains.Client(a.FromChainID); err != nil {
		return err
	}

	r.transfer = route.ProcessSwap
	if r.fromChain.ID != r.toChain.ID {
		r.transfer = route.ProcessCrossChain
		if r.deps.Receipts == nil {
			return xerrors.New(xerrors.CodeValidation, "cross-chain steps need a receipt awaiter")
		}
	}
	return nil
}

func (r *run) needsAllowance(exec route.Execution) bool {
	if r.step.Action.FromToken.IsNative() || r.account.IsMultisig() {
		return false
	}
	if p, ok := exec.FindProcess(r.transfer); ok && p.TxHash != "" {
		return false
	}
	if p, ok := exec.FindProcess(route.ProcessTokenAllowance); ok && p.Status == route.StatusDone {
		return false
	}
	return true
}

func (r *run) allowanceStage(ctx context.Context) error {
	id := r.req.StepID
	const t = route.ProcessTokenAllowance
	token := r.step.Action.FromToken

	proc, err := r.m.FindOrCreateProcess(id, t)
	if err != nil {
		return err
	}
	spender := strings.TrimSpace(r.step.Estimate.ApprovalAddress)
	if spender == "" {
		return r.fail(t, xerrors.New(xerrors.CodeValidation, "step has no approval address"))
	}

	if proc.TxHash != "" {
		if _, err := r.m.UpdateProcess(id, t, route.StatusPending); err != nil {
			return err
		}
		if err := r.awaitApproval(ctx, proc.TxHash, proc.Nonce); err != nil {
			return err
		}
		return r.confirmAllowance(ctx, spender)
	}

	approved, err := r.deps.Allowances.GetApproved(ctx, r.account.Address(), token, spender)
	if err != nil {
		return r.fail(t, err)
	}
	if approved.Cmp(r.fromAmount) >= 0 {
		_, err := r.m.UpdateProcess(id, t, route.StatusDone)
		return err
	}

	if err := r.ensureChain(ctx); err != nil {
		return err
	}
	if _, err := r.m.UpdateProcess(id, t, route.StatusActionRequired); err != nil {
		return err
	}
	if !r.req.Interaction.Allowed() {
		return errPaused
	}

	txReq, err := r.deps.Allowances.ApprovalRequest(token, spender, r.fromAmount, r.req.Settings.InfiniteApproval)
	if err != nil {
		return r.fail(t, err)
	}
	txReq.From = r.account.Address()
	if txReq, err = prepareGas(ctx, r.client, txReq, r.req.Settings.UpdateTransactionRequestHook); err != nil {
		return r.fail(t, err)
	}
	sub, err := r.account.SendTransaction(ctx, txReq)
	if err != nil {
		return r.fail(t, err)
	}
	r.submitted(t, sub)
	if _, err := r.m.UpdateProcess(id, t, route.StatusPending, status.TxUpdate{
		Hash: sub.Hash, Link: r.fromChain.TxLink(sub.Hash), Nonce: sub.Nonce,
	}); err != nil {
		return err
	}
	if err := r.awaitApproval(ctx, sub.Hash, sub.Nonce); err != nil {
		return err
	}
	return r.confirmAllowance(ctx, spender)
}

func (r *run) awaitApproval(ctx context.Context, hash string, nonce *uint64) error {
	const t = route.ProcessTokenAllowance
	receipt, err := r.waitMined(ctx, t, hash, nonce)
	if err != nil {
		return err
	}
	if receipt.Replaced {
		if _, err := r.m.UpdateProcess(r.req.StepID, t, route.StatusPending, status.TxUpdate{
			Hash: receipt.TxHash, Link: r.fromChain.TxLink(receipt.TxHash), Nonce: nonce,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) confirmAllowance(ctx context.Context, spender string) error {
	const t = route.ProcessTokenAllowance
	approved, err := r.deps.Allowances.GetApproved(ctx, r.account.Address(), r.step.Action.FromToken, spender)
	if err != nil {
		return r.fail(t, err)
	}
	if approved.Cmp(r.fromAmount) < 0 {
		return r.fail(t, xerrors.New(xerrors.CodeAllowanceInsufficient,
			fmt.Sprintf("approved %s of %s %s", approved, r.fromAmount, r.step.Action.FromToken.Symbol)))
	}
	_, err = r.m.UpdateProcess(r.req.StepID, t, route.StatusDone)
	return err
}

func (r *run) ensureChain(ctx context.Context) error {
	account, err := r.switcher.EnsureChain(ctx, r.m, r.req.StepID, r.account, r.step.Action.FromChainID,
		r.req.Settings.SwitchChainHook, r.req.Interaction)
	if err != nil {
		return r.fail(route.ProcessSwitchChain, err)
	}
	if account == nil {
		return errPaused
	}
	r.account = account
	return nil
}

func (r *run) transferStage(ctx context.Context, proc route.Process) (*web3.Receipt, error) {
	id := r.req.StepID
	t := r.transfer

	if proc.TxHash != "" {
		if err := r.ensureChain(ctx); err != nil {
			return nil, err
		}
		if _, err := r.m.UpdateProcess(id, t, route.StatusPending); err != nil {
			return nil, err
		}
		r.log.Info("resuming submitted transaction", "route", r.routeID, "step", id, "tx", proc.TxHash)
		return r.awaitTransfer(ctx, proc.TxHash, proc.Nonce)
	}

	if _, err := r.m.UpdateProcess(id, t, route.StatusStarted); err != nil {
		return nil, err
	}
	if err := r.deps.Balances.CheckBalance(ctx, r.account.Address(), r.step.Action.FromToken, r.step.Action.FromAmount); err != nil {
		return nil, r.fail(t, err)
	}
	if r.step.TransactionRequest == nil {
		if err := r.prepareTransaction(ctx); err != nil {
			return nil, err
		}
	}
	if r.step.TransactionRequest == nil {
		return nil, r.fail(t, xerrors.New(xerrors.CodeTransactionUnprepared, "unable to prepare transaction"))
	}

	if err := r.ensureChain(ctx); err != nil {
		return nil, err
	}
	if _, err := r.m.UpdateProcess(id, t, route.StatusActionRequired); err != nil {
		return nil, err
	}
	if !r.req.Interaction.Allowed() {
		return nil, errPaused
	}

	txReq := *r.step.TransactionRequest
	if txReq.From == "" {
		txReq.From = r.account.Address()
	}
	if txReq.ChainID == 0 {
		txReq.ChainID = r.fromChain.ID
	}
	txReq, err := prepareGas(ctx, r.client, txReq, r.req.Settings.UpdateTransactionRequestHook)
	if err != nil {
		return nil, r.fail(t, err)
	}
	sub, err := r.account.SendTransaction(ctx, txReq)
	if err != nil {
		return nil, r.fail(t, err)
	}
	r.submitted(t, sub)

	if r.account.IsMultisig() && sub.InternalHash != "" {
		if _, err := r.m.UpdateProcess(id, t, route.StatusMultisigPending,
			status.MultisigUpdate{InternalHash: sub.InternalHash}); err != nil {
			return nil, err
		}
		return nil, errPaused
	}
	if _, err := r.m.UpdateProcess(id, t, route.StatusPending, status.TxUpdate{
		Hash: sub.Hash, Link: r.fromChain.TxLink(sub.Hash), Nonce: sub.Nonce,
	}); err != nil {
		return nil, err
	}
	return r.awaitTransfer(ctx, sub.Hash, sub.Nonce)
}

// multisigStage checks the proposal of a multisig transfer. An open proposal
// keeps the step paused, an executed one is awaited like any transaction and
// a rejected or reverted one fails the step.
func (r *run) multisigStage(ctx context.Context, proc route.Process) (*web3.Receipt, error) {
	id := r.req.StepID
	t := r.transfer
	if r.deps.Multisig == nil {
		r.log.Warn("multisig proposal cannot be tracked", "route", r.routeID, "step", id, "multisig_tx", proc.MultisigTxHash)
		return nil, errPaused
	}
	proposal, err := r.deps.Multisig.ProposalStatus(ctx, r.fromChain.ID, proc.MultisigTxHash)
	if err != nil {
		r.log.Warn("query multisig proposal failed", "route", r.routeID, "step", id,
			"multisig_tx", proc.MultisigTxHash, "error", err)
		return nil, errPaused
	}

	switch proposal.State {
	case web3.ProposalExecuted:
		if _, err := r.m.UpdateProcess(id, t, route.StatusPending, status.TxUpdate{
			Hash: proposal.TxHash, Link: r.fromChain.TxLink(proposal.TxHash),
		}); err != nil {
			return nil, err
		}
		r.log.Info("multisig proposal executed", "route", r.routeID, "step", id,
			"multisig_tx", proc.MultisigTxHash, "tx", proposal.TxHash)
		return r.awaitTransfer(ctx, proposal.TxHash, nil)
	case web3.ProposalFailed:
		msg := proposal.Reason
		if msg == "" {
			msg = "multisig proposal failed"
		}
		opts := []xerrors.Option{xerrors.WithMetadata("multisig_tx", proc.MultisigTxHash)}
		if proposal.TxHash != "" {
			opts = append(opts, xerrors.WithMetadata("reason", reasonReverted), xerrors.WithMetadata("tx_hash", proposal.TxHash))
		}
		return nil, r.failTx(t, r.fromChain.TxLink(proposal.TxHash), xerrors.New(xerrors.CodeTransactionFailed, msg, opts...))
	default:
		r.log.Debug("multisig proposal awaiting confirmations", "route", r.routeID, "step", id,
			"confirmations", proposal.Confirmations, "required", proposal.Required)
		return nil, errPaused
	}
}

// prepareTransaction fetches the transaction request for the step and
// checks the refreshed quote against the one the user agreed to.
func (r *run) prepareTransaction(ctx context.Context) error {
	id := r.req.StepID
	t := r.transfer

	personalized := r.step.Clone()
	if personalized.Action.FromAddress == "" {
		personalized.Action.FromAddress = r.account.Address()
	}
	if personalized.Action.ToAddress == "" {
		personalized.Action.ToAddress = r.account.Address()
	}
	updated, err := r.deps.Backend.GetStepTransaction(ctx, personalized)
	if err != nil {
		return r.fail(t, err)
	}

	changed, err := needsSlippageApproval(personalized, updated)
	if err != nil {
		return r.fail(t, err)
	}
	if changed {
		if !r.req.Interaction.Allowed() {
			if _, err := r.m.UpdateProcess(id, t, route.StatusActionRequired,
				status.MessageUpdate{Message: "Exchange rate has changed!"}); err != nil {
				return err
			}
			return errPaused
		}
		accepted := false
		if hook := r.req.Settings.AcceptSlippageUpdateHook; hook != nil {
			if accepted, err = hook(ctx, personalized, updated); err != nil {
				return r.fail(t, xerrors.Wrap(xerrors.CodeSlippageRejected, err, "exchange rate update was not confirmed"))
			}
		}
		if !accepted {
			return r.fail(t, xerrors.New(xerrors.CodeSlippageRejected,
				fmt.Sprintf("exchange rate has changed: minimum output %s is below %s", updated.Estimate.ToAmountMin, personalized.Estimate.ToAmountMin)))
		}
	}

	if err := r.m.SetTransactionRequest(id, updated); err != nil {
		return err
	}
	r.step, err = r.m.Step(id)
	return err
}

func (r *run) awaitTransfer(ctx context.Context, hash string, nonce *uint64) (*web3.Receipt, error) {
	t := r.transfer
	receipt, err := r.waitMined(ctx, t, hash, nonce)
	if err != nil {
		return nil, err
	}
	if _, err := r.m.UpdateProcess(r.req.StepID, t, route.StatusDone, status.TxUpdate{
		Hash: receipt.TxHash, Link: r.fromChain.TxLink(receipt.TxHash), Nonce: nonce,
	}); err != nil {
		return nil, err
	}
	r.audit.Info("transaction confirmed", "route", r.routeID, "step", r.req.StepID, "process", t,
		"chain_id", r.fromChain.ID, "tx", receipt.TxHash, "block", receipt.BlockNumber)
	r.observeTx(t, "confirmed")
	return receipt, nil
}

// waitMined waits for hash and fails process t when it does not succeed. A
// replaced transaction is reported through the returned receipt.
func (r *run) waitMined(ctx context.Context, t route.ProcessType, hash string, nonce *uint64) (*web3.Receipt, error) {
	link := r.fromChain.TxLink(hash)
	receipt, err := r.client.WaitMined(ctx, web3.TxRef{Hash: hash, From: r.account.Address(), Nonce: nonce})
	if err != nil {
		return nil, r.failTx(t, link, err)
	}
	if receipt.TxHash == "" {
		receipt.TxHash = hash
	}
	if receipt.Replaced {
		link = r.fromChain.TxLink(receipt.TxHash)
		r.log.Info("transaction replaced", "route", r.routeID, "step", r.req.StepID, "process", t,
			"original", hash, "replacement", receipt.TxHash)
		r.observeTx(t, "replaced")
	}
	if !receipt.Succeeded() {
		return nil, r.failTx(t, link, xerrors.New(xerrors.CodeTransactionFailed, "transaction reverted",
			xerrors.WithMetadata("tx_hash", receipt.TxHash), xerrors.WithMetadata("reason", reasonReverted)))
	}
	return receipt, nil
}

func (r *run) receivingStage(ctx context.Context) error {
	id := r.req.StepID
	const t = route.ProcessReceivingChain

	exec, err := r.m.Execution(id)
	if err != nil {
		return err
	}
	var sendHash, sendLink string
	if p, ok := exec.FindProcess(r.transfer); ok {
		sendHash, sendLink = p.TxHash, p.TxLink
	}
	if _, err := r.m.FindOrCreateProcess(id, t, route.StatusPending); err != nil {
		return err
	}
	if sendHash == "" {
		return r.fail(t, xerrors.New(xerrors.CodeTransactionFailed, "source transaction hash is unknown"))
	}

	progress := func(substatus, message string) {
		if _, err := r.m.UpdateProcess(id, t, route.StatusPending,
			status.SubstatusUpdate{Substatus: substatus, Message: message}); err != nil {
			r.log.Warn("record bridge progress failed", "step", id, "error", err)
		}
	}
	receipt, err := r.deps.Receipts.AwaitReceipt(ctx, receiving.Request{Step: r.step, TxHash: sendHash}, progress)
	if err != nil {
		return r.failTx(t, sendLink, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "failed while waiting for receiving chain"))
	}

	switch receipt.Status {
	case route.StatusDone:
		update := status.ReceivingUpdate{Substatus: receipt.Substatus, Message: receipt.SubstatusMessage}
		if recv := receipt.Receiving; recv != nil && recv.TxHash != "" {
			update.Hash = recv.TxHash
			update.Link = recv.TxLink
			if update.Link == "" {
				update.Link = r.toChain.TxLink(recv.TxHash)
			}
		}
		if _, err := r.m.UpdateProcess(id, t, route.StatusDone, update); err != nil {
			return err
		}
		if _, err := r.m.UpdateExecution(id, route.StatusDone, r.bridgeSettlement(receipt)); err != nil {
			return err
		}
		r.audit.Info("bridge completed", "route", r.routeID, "step", id, "tool", r.step.Tool,
			"from_chain", r.fromChain.ID, "to_chain", r.toChain.ID, "receiving_tx", update.Hash)
		return nil
	case route.StatusCancelled:
		if _, err := r.m.UpdateProcess(id, t, route.StatusCancelled,
			status.SubstatusUpdate{Substatus: receipt.Substatus, Message: receipt.SubstatusMessage}); err != nil {
			return err
		}
		if _, err := r.m.UpdateExecution(id, route.StatusCancelled); err != nil {
			return err
		}
		r.audit.Warn("bridge cancelled", "route", r.routeID, "step", id, "tool", r.step.Tool, "substatus", receipt.Substatus)
		return nil
	default:
		msg := "bridge transfer failed"
		if receipt.SubstatusMessage != "" {
			msg = receipt.SubstatusMessage
		}
		return r.failTx(t, sendLink, xerrors.New(xerrors.CodeTransactionFailed, msg,
			xerrors.WithMetadata("substatus", receipt.Substatus)))
	}
}

func (r *run) bridgeSettlement(receipt receiving.Receipt) status.SettlementUpdate {
	u := status.SettlementUpdate{FromAmount: r.step.Action.FromAmount}
	if s := receipt.Sending; s != nil {
		if s.Amount != "" {
			u.FromAmount = s.Amount
		}
		u.GasAmount = s.GasAmount
		u.GasAmountUSD = s.GasAmountUSD
		u.GasPrice = s.GasPrice
		u.GasUsed = s.GasUsed
		u.GasToken = s.GasToken
	}
	if recv := receipt.Receiving; recv != nil {
		u.ToAmount = recv.Amount
		u.ToToken = recv.Token
	}
	return u
}

// settle records the realized totals of a same-chain step.
func (r *run) settle(receipt *web3.Receipt) error {
	toToken := r.step.Action.ToToken
	u := status.SettlementUpdate{
		FromAmount: r.step.Action.FromAmount,
		ToAmount:   r.step.Estimate.ToAmount,
		ToToken:    &toToken,
	}
	if native := r.fromChain.NativeToken; native.Symbol != "" {
		u.GasToken = &native
	}
	if receipt != nil {
		u.GasUsed = strconv.FormatUint(receipt.GasUsed, 10)
		if price := receipt.EffectiveGasPrice; price != nil {
			u.GasPrice = price.String()
			u.GasAmount = new(big.Int).Mul(price, new(big.Int).SetUint64(receipt.GasUsed)).String()
		}
	}
	if _, err := r.m.UpdateExecution(r.req.StepID, route.StatusDone, u); err != nil {
		return err
	}
	r.audit.Info("swap completed", "route", r.routeID, "step", r.req.StepID, "tool", r.step.Tool,
		"chain_id", r.fromChain.ID, "to_amount", u.ToAmount, "gas_used", u.GasUsed)
	return nil
}

func (r *run) submitted(t route.ProcessType, sub web3.Submission) {
	r.audit.Info("transaction submitted", "route", r.routeID, "step", r.req.StepID, "process", t,
		"chain_id", r.fromChain.ID, "account", r.account.Address(), "tx", sub.Hash, "multisig_tx", sub.InternalHash)
	r.observeTx(t, "submitted")
}

func (r *run) observeTx(t route.ProcessType, outcome string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveTransaction(t, outcome)
	}
}

func (r *run) fail(t route.ProcessType, err error) error {
	return r.failTx(t, "", err)
}

// failTx marks process t and the execution FAILED and returns the failure as
// *Error. An empty t only fails the execution.
func (r *run) failTx(t route.ProcessType, link string, err error) error {
	if errors.Is(err, errPaused) {
		return err
	}
	coded := Normalize(err)
	id := r.req.StepID
	if t != "" {
		if _, uerr := r.m.UpdateProcess(id, t, route.StatusFailed,
			status.FailureUpdate{Error: processError(coded)}); uerr != nil && !xerrors.HasCode(uerr, xerrors.CodeNotFound) {
			r.log.Warn("record process failure failed", "step", id, "process", t, "error", uerr)
		}
	}
	if _, uerr := r.m.UpdateExecution(id, route.StatusFailed); uerr != nil {
		r.log.Warn("record execution failure failed", "step", id, "error", uerr)
	}

	chainID := r.step.Action.FromChainID
	if t == route.ProcessReceivingChain {
		chainID = r.step.Action.ToChainID
	}
	r.audit.Error("step failed", "route", r.routeID, "step", id, "process", t, "chain_id", chainID,
		"code", coded.Code(), "error", coded.Error(), "tx_link", link)
	if t != "" {
		r.observeTx(t, "failed")
	}
	return &Error{StepID: id, Process: t, ChainID: chainID, TxLink: link, Err: coded}
}
