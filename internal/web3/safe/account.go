package safe

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Origin tags the proposals created by this daemon.
const Origin = "openroute"

var zeroAddress = common.Address{}.Hex()

// Registry holds the transaction services of the chains that have one.
type Registry struct {
	mu       sync.RWMutex
	services map[uint64]*Service
}

// NewRegistry creates a service for every chain with a SafeServiceURL.
func NewRegistry(chains []web3.Chain, httpClient *http.Client) (*Registry, error) {
	r := &Registry{services: make(map[uint64]*Service)}
	for _, chain := range chains {
		if chain.SafeServiceURL == "" {
			continue
		}
		svc, err := NewService(chain.SafeServiceURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("链 %d 的 Safe 服务配置无效: %w", chain.ID, err)
		}
		r.services[chain.ID] = svc
	}
	return r, nil
}

// Register sets the service of chainID.
func (r *Registry) Register(chainID uint64, svc *Service) {
	r.mu.Lock()
	r.services[chainID] = svc
	r.mu.Unlock()
}

// Len reports the number of chains with a transaction service.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Service returns the transaction service of chainID.
func (r *Registry) Service(chainID uint64) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[chainID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("chain %d has no safe transaction service", chainID))
	}
	return svc, nil
}

// ProposalStatus reports whether the proposal with internalHash is still
// collecting confirmations, was executed or can no longer be executed
// because its nonce was consumed by another transaction.
func (r *Registry) ProposalStatus(ctx context.Context, chainID uint64, internalHash string) (web3.Proposal, error) {
	svc, err := r.Service(chainID)
	if err != nil {
		return web3.Proposal{}, err
	}
	tx, err := svc.Transaction(ctx, internalHash)
	if xerrors.HasCode(err, xerrors.CodeNotFound) {
		return web3.Proposal{State: web3.ProposalFailed, Reason: "proposal was deleted from the transaction service"}, nil
	}
	if err != nil {
		return web3.Proposal{}, err
	}

	p := web3.Proposal{
		State:         web3.ProposalPending,
		Confirmations: len(tx.Confirmations),
		Required:      tx.ConfirmationsRequired,
	}
	if tx.IsExecuted {
		if tx.IsSuccessful != nil && !*tx.IsSuccessful {
			p.State = web3.ProposalFailed
			p.TxHash = tx.TransactionHash
			p.Reason = "safe transaction reverted"
			return p, nil
		}
		if tx.TransactionHash != "" {
			p.State = web3.ProposalExecuted
			p.TxHash = tx.TransactionHash
		}
		return p, nil
	}

	info, err := svc.Info(ctx, tx.Safe)
	if err != nil {
		return web3.Proposal{}, err
	}
	if info.Nonce > tx.Nonce {
		p.State = web3.ProposalFailed
		p.Reason = fmt.Sprintf("safe nonce %d was used by another transaction", tx.Nonce)
	}
	return p, nil
}

// Signer is the Safe owner that signs proposals.
type Signer interface {
	Address() string
	SignHash(hash []byte) ([]byte, error)
}

// Account executes routes from a Safe. SendTransaction proposes instead of
// broadcasting and returns the safe transaction hash as InternalHash.
type Account struct {
	address  common.Address
	chainID  uint64
	owner    Signer
	services *Registry
}

// NewAccount binds the Safe at address to chainID.
func NewAccount(address string, chainID uint64, owner Signer, services *Registry) (*Account, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid safe address %q", address)
	}
	if owner == nil {
		return nil, fmt.Errorf("safe %s has no owner signer", address)
	}
	if services == nil {
		return nil, fmt.Errorf("safe %s has no transaction services", address)
	}
	return &Account{address: common.HexToAddress(address), chainID: chainID, owner: owner, services: services}, nil
}

// Address returns the checksummed Safe address.
func (a *Account) Address() string { return a.address.Hex() }

// ChainID returns the chain the account is bound to.
func (a *Account) ChainID() uint64 { return a.chainID }

// IsMultisig is always true.
func (a *Account) IsMultisig() bool { return true }

// OnChain returns the account bound to chainID. The chain must have a
// transaction service.
func (a *Account) OnChain(chainID uint64) (*Account, error) {
	if _, err := a.services.Service(chainID); err != nil {
		return nil, err
	}
	c := *a
	c.chainID = chainID
	return &c, nil
}

// SendTransaction signs req as a Safe transaction with the owner key and
// proposes it to the transaction service.
func (a *Account) SendTransaction(ctx context.Context, req route.TransactionRequest) (web3.Submission, error) {
	if req.ChainID != 0 && req.ChainID != a.chainID {
		return web3.Submission{}, fmt.Errorf("transaction targets chain %d but safe is on chain %d", req.ChainID, a.chainID)
	}
	if !common.IsHexAddress(req.To) {
		return web3.Submission{}, fmt.Errorf("invalid transaction recipient %q", req.To)
	}
	svc, err := a.services.Service(a.chainID)
	if err != nil {
		return web3.Submission{}, err
	}
	value, err := web3.ParseAmount(req.Value)
	if err != nil {
		return web3.Submission{}, err
	}
	data := req.Data
	if data == "" {
		data = "0x"
	}
	if _, err := hexutil.Decode(data); err != nil {
		return web3.Submission{}, fmt.Errorf("invalid transaction data: %w", err)
	}

	nonce, err := svc.NextNonce(ctx, a.Address())
	if err != nil {
		return web3.Submission{}, err
	}
	proposal := Proposal{
		To:             common.HexToAddress(req.To).Hex(),
		Value:          value.String(),
		Data:           data,
		SafeTxGas:      "0",
		BaseGas:        "0",
		GasPrice:       "0",
		GasToken:       zeroAddress,
		RefundReceiver: zeroAddress,
		Nonce:          nonce,
		Sender:         common.HexToAddress(a.owner.Address()).Hex(),
		Origin:         Origin,
	}
	hash, err := TransactionHash(a.chainID, a.Address(), proposal)
	if err != nil {
		return web3.Submission{}, err
	}
	sig, err := a.owner.SignHash(hash)
	if err != nil {
		return web3.Submission{}, err
	}
	proposal.ContractTransactionHash = hexutil.Encode(hash)
	proposal.Signature = hexutil.Encode(sig)

	if err := svc.Propose(ctx, a.Address(), proposal); err != nil {
		return web3.Submission{}, err
	}
	logger.Named("safe").Info("safe transaction proposed", "safe", a.Address(), "chain_id", a.chainID,
		"nonce", nonce, "safe_tx_hash", proposal.ContractTransactionHash)
	return web3.Submission{InternalHash: proposal.ContractTransactionHash}, nil
}

// TransactionHash is the EIP-712 hash of a Safe transaction that owners sign.
func TransactionHash(chainID uint64, safe string, p Proposal) ([]byte, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"SafeTx": {
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "data", Type: "bytes"},
				{Name: "operation", Type: "uint8"},
				{Name: "safeTxGas", Type: "uint256"},
				{Name: "baseGas", Type: "uint256"},
				{Name: "gasPrice", Type: "uint256"},
				{Name: "gasToken", Type: "address"},
				{Name: "refundReceiver", Type: "address"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "SafeTx",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(chainID)),
			VerifyingContract: checksum(safe),
		},
		Message: apitypes.TypedDataMessage{
			"to":             p.To,
			"value":          p.Value,
			"data":           p.Data,
			"operation":      fmt.Sprint(p.Operation),
			"safeTxGas":      p.SafeTxGas,
			"baseGas":        p.BaseGas,
			"gasPrice":       p.GasPrice,
			"gasToken":       p.GasToken,
			"refundReceiver": p.RefundReceiver,
			"nonce":          fmt.Sprint(p.Nonce),
		},
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "hash safe transaction")
	}
	return hash, nil
}
