// Package provider holds the explicit chain registry shared by the
// execution components. Its lifecycle is tied to application start and
// shutdown.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/internal/web3/ethereum"
)

// Options configures the clients created by NewRegistry.
type Options struct {
	ChainConfig  string
	PollInterval time.Duration
}

// Registry manages chain metadata and clients keyed by chain id.
type Registry struct {
	mu      sync.RWMutex
	chains  map[uint64]web3.Chain
	clients map[uint64]web3.Client
}

// New returns an empty registry. Chains are added with Register.
func New() *Registry {
	return &Registry{
		chains:  make(map[uint64]web3.Chain),
		clients: make(map[uint64]web3.Client),
	}
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(opts.ChainConfig)
	if err != nil {
		return nil, err
	}

	r := New()
	for key, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:         key,
				ChainID:      def.ChainID,
				RPCURL:       def.RPCURL,
				BatchRPCURL:  def.BatchRPCURL,
				PollInterval: opts.PollInterval,
			})
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("初始化链 %s 失败: %w", key, err)
			}
			if err := r.Register(def.Chain(key), client); err != nil {
				client.Close()
				r.Close()
				return nil, err
			}
		default:
			r.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", key, def.Type)
		}
	}

	if len(r.chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	return r, nil
}

// Register adds a chain and its client. Registering an id twice is an error.
func (r *Registry) Register(chain web3.Chain, client web3.Client) error {
	if chain.ID == 0 {
		return errors.New("链 ID 不能为空")
	}
	if client == nil {
		return fmt.Errorf("链 %d 缺少客户端", chain.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.chains[chain.ID]; exists {
		return fmt.Errorf("链 %d 重复注册", chain.ID)
	}
	r.chains[chain.ID] = chain
	r.clients[chain.ID] = client
	return nil
}

// Chain returns the metadata of a registered chain.
func (r *Registry) Chain(id uint64) (web3.Chain, error) {
	if r == nil {
		return web3.Chain{}, xerrors.New(xerrors.CodeInitializationFailure, "chain registry is not initialized")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.chains[id]
	if !ok {
		return web3.Chain{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("chain %d is not supported", id))
	}
	return chain, nil
}

// Client returns the client of a registered chain.
func (r *Registry) Client(id uint64) (web3.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "chain registry is not initialized")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("chain %d is not supported", id))
	}
	return client, nil
}

// Chains returns the registered chains ordered by id.
func (r *Registry) Chains() []web3.Chain {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]web3.Chain, 0, len(r.chains))
	for _, chain := range r.chains {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, id)
		delete(r.chains, id)
	}
}
