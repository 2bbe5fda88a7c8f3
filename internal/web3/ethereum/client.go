package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"OpenRoute-Chain/internal/polling"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultScanDepth    = 64
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	ChainID     uint64
	RPCURL      string
	BatchRPCURL string
	// PollInterval paces the block watcher driving receipt lookups.
	PollInterval time.Duration
	// ReplacementScanDepth bounds how many recent blocks are searched for a
	// transaction replacing an unmined one.
	ReplacementScanDepth uint64
}

// chainBackend is the subset of ethclient.Client used by Client. The
// simulated backend satisfies it as well.
type chainBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*coretypes.Block, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name        string
	chainID     uint64
	rpcClient   *gethrpc.Client
	batchClient *gethrpc.Client
	eth         *ethclient.Client
	backend     chainBackend
	// committer mines pending transactions on simulated chains.
	committer    interface{ Commit() common.Hash }
	blocks       *polling.Hub[polling.Block]
	pollInterval time.Duration
	scanDepth    uint64
	log          *slog.Logger
	mu           sync.Mutex
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	batchClient := rpcClient
	if batchURL := strings.TrimSpace(cfg.BatchRPCURL); batchURL != "" && batchURL != rpcURL {
		batchClient, err = gethrpc.DialContext(ctx, batchURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("连接批量 RPC 节点失败: %w", err)
		}
	}

	chainID := cfg.ChainID
	if chainID == 0 {
		id, err := eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		chainID = id.Uint64()
	}

	c := newClient(cfg.Name, chainID, eth, cfg)
	c.rpcClient = rpcClient
	c.batchClient = batchClient
	c.eth = eth
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing
// purposes. Sent transactions are mined immediately.
func NewSimulatedClient(name string, chainID uint64, sim *backends.SimulatedBackend, cfg Config) *Client {
	c := newClient(name, chainID, sim, cfg)
	c.committer = sim
	return c
}

func newClient(name string, chainID uint64, backend chainBackend, cfg Config) *Client {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	depth := cfg.ReplacementScanDepth
	if depth == 0 {
		depth = defaultScanDepth
	}
	return &Client{
		name:         name,
		chainID:      chainID,
		backend:      backend,
		blocks:       polling.NewHub[polling.Block](interval),
		pollInterval: interval,
		scanDepth:    depth,
		log:          logger.Named("ethereum").With("chain", name, "chain_id", chainID),
	}
}

// ChainID returns the numeric chain id.
func (c *Client) ChainID() uint64 { return c.chainID }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.batchClient != nil && c.batchClient != c.rpcClient {
		c.batchClient.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.batchClient = nil
	c.eth = nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return n, nil
}

// Balance returns the native or ERC-20 balance of owner.
func (c *Client) Balance(ctx context.Context, owner, token string) (*big.Int, error) {
	ownerAddr, err := hexAddress(owner)
	if err != nil {
		return nil, err
	}
	if isNative(token) {
		balance, err := c.backend.BalanceAt(ctx, ownerAddr, nil)
		if err != nil {
			return nil, fmt.Errorf("查询余额失败: %w", err)
		}
		return balance, nil
	}
	tokenAddr, err := hexAddress(token)
	if err != nil {
		return nil, err
	}
	data, err := packBalanceOf(ownerAddr)
	if err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询代币余额失败: %w", err)
	}
	return unpackUint("balanceOf", out)
}

// Balances reads the balances of owner for every token in one RPC batch
// when a batch endpoint is available. Failed entries are nil.
func (c *Client) Balances(ctx context.Context, owner string, tokens []string) ([]*big.Int, error) {
	ownerAddr, err := hexAddress(owner)
	if err != nil {
		return nil, err
	}
	results := make([]*big.Int, len(tokens))
	if len(tokens) == 0 {
		return results, nil
	}

	batch := c.batch()
	if batch == nil {
		for i, token := range tokens {
			balance, err := c.Balance(ctx, owner, token)
			if err != nil {
				c.log.Debug("balance lookup failed", "token", token, "error", err)
				continue
			}
			results[i] = balance
		}
		return results, nil
	}

	elems := make([]gethrpc.BatchElem, len(tokens))
	natives := make([]hexutil.Big, len(tokens))
	calls := make([]hexutil.Bytes, len(tokens))
	for i, token := range tokens {
		if isNative(token) {
			elems[i] = gethrpc.BatchElem{
				Method: "eth_getBalance",
				Args:   []any{ownerAddr, "latest"},
				Result: &natives[i],
			}
			continue
		}
		data, err := packBalanceOf(ownerAddr)
		if err != nil {
			return nil, err
		}
		elems[i] = gethrpc.BatchElem{
			Method: "eth_call",
			Args: []any{map[string]any{
				"to":   common.HexToAddress(token),
				"data": hexutil.Bytes(data),
			}, "latest"},
			Result: &calls[i],
		}
	}
	if err := batch.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("批量查询余额失败: %w", err)
	}
	for i, token := range tokens {
		if elems[i].Error != nil {
			c.log.Debug("balance lookup failed", "token", token, "error", elems[i].Error)
			continue
		}
		if isNative(token) {
			results[i] = natives[i].ToInt()
			continue
		}
		balance, err := unpackUint("balanceOf", calls[i])
		if err != nil {
			c.log.Debug("balance decode failed", "token", token, "error", err)
			continue
		}
		results[i] = balance
	}
	return results, nil
}

// Allowance returns the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	tokenAddr, err := hexAddress(token)
	if err != nil {
		return nil, err
	}
	ownerAddr, err := hexAddress(owner)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := hexAddress(spender)
	if err != nil {
		return nil, err
	}
	data, err := packAllowance(ownerAddr, spenderAddr)
	if err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询授权额度失败: %w", err)
	}
	return unpackUint("allowance", out)
}

// EstimateGas estimates the gas limit of a transaction request.
func (c *Client) EstimateGas(ctx context.Context, req route.TransactionRequest) (uint64, error) {
	msg, err := callMsg(req)
	if err != nil {
		return 0, err
	}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("估算 gas 失败: %w", err)
	}
	return gas, nil
}

// SuggestGasPrice returns the current network gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	return price, nil
}

// PendingNonceAt returns the next nonce of account including pending
// transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account string) (uint64, error) {
	addr, err := hexAddress(account)
	if err != nil {
		return 0, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if tx == nil {
		return errors.New("没有可发送的交易")
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("发送交易失败: %w", err)
	}
	if c.committer != nil {
		c.committer.Commit()
	}
	return nil
}

// WaitMined looks the transaction up once and again on every new block
// until it is mined. When the original hash disappears because the sender's
// nonce was consumed by another transaction, the receipt of that replacement
// is returned with Replaced set. All waits on a chain share one block
// watcher.
func (c *Client) WaitMined(ctx context.Context, ref web3.TxRef) (*web3.Receipt, error) {
	if !isHash(ref.Hash) {
		return nil, fmt.Errorf("invalid transaction hash %q", ref.Hash)
	}

	blocks := make(chan struct{}, 1)
	stop := polling.WatchBlockNumber(c.blocks, c, polling.BlockWatchOptions{Interval: c.pollInterval},
		func(polling.Block) {
			select {
			case blocks <- struct{}{}:
			default:
			}
		},
		func(err error) { c.log.Debug("block watch failed", "error", err) })
	defer stop()

	for {
		receipt, err := c.lookup(ctx, ref)
		if err != nil && ctx.Err() == nil {
			c.log.Debug("receipt lookup failed", "tx", ref.Hash, "error", err)
		}
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-blocks:
		}
	}
}

func (c *Client) lookup(ctx context.Context, ref web3.TxRef) (*web3.Receipt, error) {
	hash := common.HexToHash(ref.Hash)
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err == nil && receipt != nil {
		return toReceipt(receipt, ""), nil
	}
	if err != nil && !errors.Is(err, gethcore.NotFound) {
		return nil, err
	}
	if ref.Nonce == nil || !common.IsHexAddress(ref.From) {
		return nil, nil
	}

	from := common.HexToAddress(ref.From)
	latest, err := c.backend.NonceAt(ctx, from, nil)
	if err != nil {
		return nil, err
	}
	if latest <= *ref.Nonce {
		return nil, nil
	}
	replacement, err := c.findReplacement(ctx, from, *ref.Nonce, hash)
	if err != nil || replacement == (common.Hash{}) {
		return nil, err
	}
	receipt, err = c.backend.TransactionReceipt(ctx, replacement)
	if err != nil {
		return nil, err
	}
	c.log.Info("transaction replaced", "original", ref.Hash, "replacement", replacement.Hex())
	return toReceipt(receipt, ref.Hash), nil
}

func (c *Client) findReplacement(ctx context.Context, from common.Address, nonce uint64, original common.Hash) (common.Hash, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	signer := coretypes.LatestSignerForChainID(new(big.Int).SetUint64(c.chainID))
	for depth := uint64(0); depth < c.scanDepth && depth <= head; depth++ {
		block, err := c.backend.BlockByNumber(ctx, new(big.Int).SetUint64(head-depth))
		if err != nil {
			return common.Hash{}, err
		}
		for _, tx := range block.Transactions() {
			if tx.Nonce() != nonce || tx.Hash() == original {
				continue
			}
			sender, err := coretypes.Sender(signer, tx)
			if err != nil || sender != from {
				continue
			}
			return tx.Hash(), nil
		}
	}
	return common.Hash{}, nil
}

func (c *Client) batch() *gethrpc.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchClient
}

func toReceipt(r *coretypes.Receipt, original string) *web3.Receipt {
	out := &web3.Receipt{
		TxHash:  r.TxHash.Hex(),
		Status:  r.Status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = new(big.Int).Set(r.EffectiveGasPrice)
	}
	if original != "" && !strings.EqualFold(original, out.TxHash) {
		out.OriginalHash = original
		out.Replaced = true
	}
	return out
}

func callMsg(req route.TransactionRequest) (gethcore.CallMsg, error) {
	msg := gethcore.CallMsg{}
	if req.From != "" {
		from, err := hexAddress(req.From)
		if err != nil {
			return msg, err
		}
		msg.From = from
	}
	if req.To != "" {
		to, err := hexAddress(req.To)
		if err != nil {
			return msg, err
		}
		msg.To = &to
	}
	value, err := web3.OptionalAmount(req.Value)
	if err != nil {
		return msg, err
	}
	msg.Value = value
	if req.Data != "" {
		data, err := hexutil.Decode(req.Data)
		if err != nil {
			return msg, fmt.Errorf("invalid transaction data: %w", err)
		}
		msg.Data = data
	}
	return msg, nil
}

func hexAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func isNative(token string) bool {
	return route.Token{Address: token}.IsNative()
}

func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

var _ web3.Client = (*Client)(nil)
