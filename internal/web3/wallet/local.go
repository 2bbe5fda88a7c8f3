// Package wallet provides a local private-key account that signs and
// broadcasts route transactions through the chain registry.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ClientSource resolves the client of a chain.
type ClientSource interface {
	Client(chainID uint64) (web3.Client, error)
}

// LocalAccount signs with an in-process private key. It is bound to one
// chain at a time; OnChain returns a copy bound to another chain.
type LocalAccount struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID uint64
	clients ClientSource
}

// NewLocalAccount parses a hex encoded private key.
func NewLocalAccount(hexKey string, chainID uint64, clients ClientSource) (*LocalAccount, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return FromKey(key, chainID, clients)
}

// FromKey wraps an existing private key.
func FromKey(key *ecdsa.PrivateKey, chainID uint64, clients ClientSource) (*LocalAccount, error) {
	if key == nil {
		return nil, errors.New("私钥不能为空")
	}
	if clients == nil {
		return nil, errors.New("缺少链客户端来源")
	}
	return &LocalAccount{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		clients: clients,
	}, nil
}

// Address returns the checksummed account address.
func (a *LocalAccount) Address() string { return a.address.Hex() }

// ChainID returns the chain the account is currently bound to.
func (a *LocalAccount) ChainID() uint64 { return a.chainID }

// IsMultisig is always false for a local key.
func (a *LocalAccount) IsMultisig() bool { return false }

// SignHash signs a 32 byte digest. The recovery id is offset by 27 as
// expected by contract signature checks.
func (a *LocalAccount) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, a.key)
	if err != nil {
		return nil, fmt.Errorf("签名摘要失败: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// OnChain returns the account bound to chainID.
func (a *LocalAccount) OnChain(chainID uint64) (*LocalAccount, error) {
	if _, err := a.clients.Client(chainID); err != nil {
		return nil, err
	}
	c := *a
	c.chainID = chainID
	return &c, nil
}

// SendTransaction signs req for the bound chain and broadcasts it.
func (a *LocalAccount) SendTransaction(ctx context.Context, req route.TransactionRequest) (web3.Submission, error) {
	if req.ChainID != 0 && req.ChainID != a.chainID {
		return web3.Submission{}, fmt.Errorf("transaction targets chain %d but account is on chain %d", req.ChainID, a.chainID)
	}
	client, err := a.clients.Client(a.chainID)
	if err != nil {
		return web3.Submission{}, err
	}
	tx, err := a.buildTx(ctx, client, req)
	if err != nil {
		return web3.Submission{}, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(a.chainID)), a.key)
	if err != nil {
		return web3.Submission{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return web3.Submission{}, err
	}
	nonce := signed.Nonce()
	return web3.Submission{Hash: signed.Hash().Hex(), Nonce: &nonce}, nil
}

func (a *LocalAccount) buildTx(ctx context.Context, client web3.Client, req route.TransactionRequest) (*types.Transaction, error) {
	if !common.IsHexAddress(req.To) {
		return nil, fmt.Errorf("invalid transaction recipient %q", req.To)
	}
	to := common.HexToAddress(req.To)

	value, err := web3.ParseAmount(req.Value)
	if err != nil {
		return nil, err
	}
	var data []byte
	if req.Data != "" {
		if data, err = hexutil.Decode(req.Data); err != nil {
			return nil, fmt.Errorf("invalid transaction data: %w", err)
		}
	}

	nonce, err := client.PendingNonceAt(ctx, a.Address())
	if err != nil {
		return nil, err
	}

	gasLimit, err := web3.OptionalAmount(req.GasLimit)
	if err != nil {
		return nil, err
	}
	var gas uint64
	if gasLimit != nil && gasLimit.Sign() > 0 {
		gas = gasLimit.Uint64()
	} else {
		estimateReq := req
		estimateReq.From = a.Address()
		if gas, err = client.EstimateGas(ctx, estimateReq); err != nil {
			return nil, err
		}
	}

	maxFee, err := web3.OptionalAmount(req.MaxFeePerGas)
	if err != nil {
		return nil, err
	}
	if maxFee != nil {
		tip, err := web3.OptionalAmount(req.MaxPriorityFeePerGas)
		if err != nil {
			return nil, err
		}
		if tip == nil {
			tip = new(big.Int).Set(maxFee)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(a.chainID),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: maxFee,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		}), nil
	}

	gasPrice, err := web3.OptionalAmount(req.GasPrice)
	if err != nil {
		return nil, err
	}
	if gasPrice == nil {
		if gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
			return nil, err
		}
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	}), nil
}

// SwitchHook returns a chain switch hook that rebinds account to the
// requested chain when the registry knows it.
func SwitchHook(account *LocalAccount) web3.SwitchChainHook {
	return func(ctx context.Context, chainID uint64) (web3.Account, error) {
		next, err := account.OnChain(chainID)
		if err != nil {
			return nil, err
		}
		return next, nil
	}
}

var _ web3.Account = (*LocalAccount)(nil)
