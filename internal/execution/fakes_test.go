package execution

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/receiving"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/status"
	"OpenRoute-Chain/internal/web3"
)

const (
	routerAddress = "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE"
	ownerAddress  = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

var (
	usdc    = route.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1, Symbol: "USDC", Decimals: 6}
	dai     = route.Token{Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", ChainID: 1, Symbol: "DAI", Decimals: 18}
	ether   = route.Token{Address: route.NativeTokenAddress, ChainID: 1, Symbol: "ETH", Decimals: 18}
	opUSDC  = route.Token{Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", ChainID: 10, Symbol: "USDC", Decimals: 6}
	mainnet = web3.Chain{ID: 1, Key: "eth", Name: "Ethereum", ExplorerURL: "https://etherscan.io", NativeToken: ether}
	op      = web3.Chain{ID: 10, Key: "opt", Name: "Optimism", ExplorerURL: "https://optimistic.etherscan.io",
		NativeToken: route.Token{Address: route.NativeTokenAddress, ChainID: 10, Symbol: "ETH", Decimals: 18}}
)

type stepOption func(*route.Step)

func native() stepOption {
	return func(s *route.Step) { s.Action.FromToken = ether }
}

func crossChain() stepOption {
	return func(s *route.Step) {
		s.Type = route.StepTypeCross
		s.Tool = "stargate"
		s.Action.ToChainID = 10
		s.Action.ToToken = opUSDC
	}
}

func withExecution(exec route.Execution) stepOption {
	return func(s *route.Step) { s.Execution = &exec }
}

func testRoute(opts ...stepOption) route.Route {
	step := route.Step{
		ID:   "step-1",
		Type: route.StepTypeSwap,
		Tool: "uniswap",
		Action: route.Action{
			FromChainID: 1,
			ToChainID:   1,
			FromToken:   usdc,
			ToToken:     dai,
			FromAmount:  "1000000",
			Slippage:    0.03,
		},
		Estimate: route.Estimate{
			FromAmount:      "1000000",
			ToAmount:        "990000000000000000",
			ToAmountMin:     "960000000000000000",
			ApprovalAddress: routerAddress,
		},
	}
	for _, opt := range opts {
		opt(&step)
	}
	return route.Route{
		ID:          "route-1",
		FromChainID: step.Action.FromChainID,
		FromAmount:  step.Action.FromAmount,
		FromToken:   step.Action.FromToken,
		ToChainID:   step.Action.ToChainID,
		ToAmount:    step.Estimate.ToAmount,
		ToToken:     step.Action.ToToken,
		Steps:       []route.Step{step},
	}
}

type fakeChains struct {
	chains map[uint64]web3.Chain
	client web3.Client
}

func (f *fakeChains) Chain(id uint64) (web3.Chain, error) {
	c, ok := f.chains[id]
	if !ok {
		return web3.Chain{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("chain %d is not supported", id))
	}
	return c, nil
}

func (f *fakeChains) Client(id uint64) (web3.Client, error) {
	if _, err := f.Chain(id); err != nil {
		return nil, err
	}
	return f.client, nil
}

type fakeClient struct {
	mu       sync.Mutex
	receipts map[string]*web3.Receipt
	waitErr  error
	waited   []string
	estimate uint64
	gasPrice *big.Int
}

func (c *fakeClient) ChainID() uint64 { return 1 }

func (c *fakeClient) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (c *fakeClient) Balance(context.Context, string, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeClient) Balances(_ context.Context, _ string, tokens []string) ([]*big.Int, error) {
	return make([]*big.Int, len(tokens)), nil
}

func (c *fakeClient) Allowance(context.Context, string, string, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeClient) EstimateGas(context.Context, route.TransactionRequest) (uint64, error) {
	if c.estimate == 0 {
		return 0, fmt.Errorf("execution reverted")
	}
	return c.estimate, nil
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	if c.gasPrice == nil {
		return nil, fmt.Errorf("gas price unavailable")
	}
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeClient) PendingNonceAt(context.Context, string) (uint64, error) { return 0, nil }

func (c *fakeClient) SendTransaction(context.Context, *coretypes.Transaction) error { return nil }

func (c *fakeClient) WaitMined(_ context.Context, ref web3.TxRef) (*web3.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waited = append(c.waited, ref.Hash)
	if c.waitErr != nil {
		return nil, c.waitErr
	}
	if r, ok := c.receipts[ref.Hash]; ok {
		out := *r
		return &out, nil
	}
	return &web3.Receipt{
		TxHash:            ref.Hash,
		BlockNumber:       42,
		Status:            coretypes.ReceiptStatusSuccessful,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(7),
	}, nil
}

func (c *fakeClient) Close() {}

func (c *fakeClient) waitedHashes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.waited...)
}

type fakeAccount struct {
	mu       sync.Mutex
	address  string
	chainID  uint64
	multisig bool
	hashes   []string
	sendErr  error
	sent     []route.TransactionRequest
}

func (a *fakeAccount) Address() string  { return a.address }
func (a *fakeAccount) ChainID() uint64  { return a.chainID }
func (a *fakeAccount) IsMultisig() bool { return a.multisig }

func (a *fakeAccount) SendTransaction(_ context.Context, req route.TransactionRequest) (web3.Submission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return web3.Submission{}, a.sendErr
	}
	a.sent = append(a.sent, req)
	n := uint64(len(a.sent) - 1)
	hash := fmt.Sprintf("0x%064x", len(a.sent))
	if int(n) < len(a.hashes) {
		hash = a.hashes[n]
	}
	if a.multisig {
		return web3.Submission{InternalHash: "0xsafe" + hash[2:10]}, nil
	}
	return web3.Submission{Hash: hash, Nonce: &n}, nil
}

func (a *fakeAccount) sentRequests() []route.TransactionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]route.TransactionRequest(nil), a.sent...)
}

type fakeBalances struct {
	err   error
	calls int
}

func (f *fakeBalances) CheckBalance(context.Context, string, route.Token, string) error {
	f.calls++
	return f.err
}

type fakeAllowances struct {
	before    *big.Int
	after     *big.Int
	approvals int
	reads     int
	infinite  bool
}

func (f *fakeAllowances) GetApproved(context.Context, string, route.Token, string) (*big.Int, error) {
	f.reads++
	if f.approvals > 0 {
		return new(big.Int).Set(f.after), nil
	}
	return new(big.Int).Set(f.before), nil
}

func (f *fakeAllowances) ApprovalRequest(token route.Token, spender string, amount *big.Int, infinite bool) (route.TransactionRequest, error) {
	f.approvals++
	f.infinite = infinite
	return route.TransactionRequest{To: token.Address, Data: "0x095ea7b3", Value: "0", ChainID: token.ChainID}, nil
}

type fakeBackend struct {
	calls       int
	err         error
	toAmountMin string
	noPayload   bool
}

func (f *fakeBackend) GetStepTransaction(_ context.Context, step route.Step) (route.Step, error) {
	f.calls++
	if f.err != nil {
		return route.Step{}, f.err
	}
	out := step.Clone()
	if f.toAmountMin != "" {
		out.Estimate.ToAmountMin = f.toAmountMin
	}
	if !f.noPayload {
		out.TransactionRequest = &route.TransactionRequest{
			From:    step.Action.FromAddress,
			To:      routerAddress,
			Data:    "0x4630a0d8",
			Value:   "0",
			ChainID: step.Action.FromChainID,
		}
	}
	return out, nil
}

type fakeAwaiter struct {
	receipt  receiving.Receipt
	err      error
	progress [][2]string
	requests []receiving.Request
}

func (f *fakeAwaiter) AwaitReceipt(_ context.Context, req receiving.Request, progress receiving.ProgressFunc) (receiving.Receipt, error) {
	f.requests = append(f.requests, req)
	for _, p := range f.progress {
		progress(p[0], p[1])
	}
	if f.err != nil {
		return receiving.Receipt{}, f.err
	}
	return f.receipt, nil
}

type fakeTracker struct {
	mu       sync.Mutex
	proposal web3.Proposal
	err      error
	queries  []string
}

func (f *fakeTracker) ProposalStatus(_ context.Context, chainID uint64, internalHash string) (web3.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, fmt.Sprintf("%d:%s", chainID, internalHash))
	if f.err != nil {
		return web3.Proposal{}, f.err
	}
	return f.proposal, nil
}

func (f *fakeTracker) queried() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type recorder struct {
	mu    sync.Mutex
	snaps []route.Route
}

func (r *recorder) RouteUpdated(snap route.Route) {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
}

func (r *recorder) snapshots() []route.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]route.Route(nil), r.snaps...)
}

type harness struct {
	chains     *fakeChains
	client     *fakeClient
	account    *fakeAccount
	balances   *fakeBalances
	allowances *fakeAllowances
	backend    *fakeBackend
	awaiter    *fakeAwaiter
	tracker    *fakeTracker
	recorder   *recorder
	executor   *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := &fakeClient{receipts: map[string]*web3.Receipt{}, estimate: 100000, gasPrice: big.NewInt(7)}
	h := &harness{
		chains:     &fakeChains{chains: map[uint64]web3.Chain{1: mainnet, 10: op}, client: client},
		client:     client,
		account:    &fakeAccount{address: ownerAddress, chainID: 1},
		balances:   &fakeBalances{},
		allowances: &fakeAllowances{before: big.NewInt(0), after: big.NewInt(1_000_000)},
		backend:    &fakeBackend{},
		awaiter:    &fakeAwaiter{receipt: receiving.Receipt{Status: route.StatusDone}},
		tracker:    &fakeTracker{proposal: web3.Proposal{State: web3.ProposalPending, Required: 2}},
		recorder:   &recorder{},
	}
	executor, err := NewExecutor(Dependencies{
		Chains:     h.chains,
		Balances:   h.balances,
		Allowances: h.allowances,
		Backend:    h.backend,
		Receipts:   h.awaiter,
		Multisig:   h.tracker,
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	h.executor = executor
	return h
}

func (h *harness) manager(r route.Route) *status.Manager {
	return status.NewManager(r, status.WithObservers(h.recorder))
}

func (h *harness) execute(m *status.Manager, interaction *Interaction, settings Settings) (route.Execution, error) {
	return h.executor.Execute(context.Background(), Request{
		Manager:     m,
		StepID:      "step-1",
		Account:     h.account,
		Interaction: interaction,
		Settings:    settings,
	})
}

// checkProjection asserts on every observed snapshot that a DONE execution
// only holds DONE processes and that a failed process fails the execution.
func checkProjection(t *testing.T, snaps []route.Route) {
	t.Helper()
	for i, snap := range snaps {
		for _, step := range snap.Steps {
			exec := step.Execution
			if exec == nil {
				continue
			}
			allDone, anyFailed := true, false
			for _, p := range exec.Process {
				if p.Status != route.StatusDone {
					allDone = false
				}
				if p.Status == route.StatusFailed {
					anyFailed = true
				}
				if p.DoneAt != 0 && p.DoneAt < p.StartedAt {
					t.Fatalf("snapshot %d: %s doneAt %d before startedAt %d", i, p.Type, p.DoneAt, p.StartedAt)
				}
			}
			if exec.Status == route.StatusDone && !allDone {
				t.Fatalf("snapshot %d: execution DONE with unfinished processes %+v", i, exec.Process)
			}
			if anyFailed && exec.Status != route.StatusFailed {
				t.Fatalf("snapshot %d: failed process under %s execution", i, exec.Status)
			}
		}
	}
}

func processOf(t *testing.T, exec route.Execution, pt route.ProcessType) route.Process {
	t.Helper()
	p, ok := exec.FindProcess(pt)
	if !ok {
		t.Fatalf("process %s missing in %+v", pt, exec.Process)
	}
	return *p
}

func processTypes(exec route.Execution) []route.ProcessType {
	out := make([]route.ProcessType, 0, len(exec.Process))
	for _, p := range exec.Process {
		out = append(out, p.Type)
	}
	return out
}
