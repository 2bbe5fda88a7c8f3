package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/internal/web3/safe"
)

// Keyring holds the local accounts and Safes the daemon may execute routes
// for, indexed by lower-cased address.
type Keyring struct {
	mu       sync.RWMutex
	accounts map[string]*LocalAccount
	safes    map[string]*safe.Account
	clients  ClientSource
}

// NewKeyring creates an empty keyring.
func NewKeyring(clients ClientSource) *Keyring {
	return &Keyring{
		accounts: make(map[string]*LocalAccount),
		safes:    make(map[string]*safe.Account),
		clients:  clients,
	}
}

// Import parses hexKey and adds the account. It returns the address.
func (k *Keyring) Import(hexKey string) (string, error) {
	account, err := NewLocalAccount(hexKey, 0, k.clients)
	if err != nil {
		return "", err
	}
	k.mu.Lock()
	k.accounts[strings.ToLower(account.Address())] = account
	k.mu.Unlock()
	return account.Address(), nil
}

// AddSafe registers the Safe at address. Its proposals are signed by owner,
// which must have been imported before.
func (k *Keyring) AddSafe(address, owner string, services *safe.Registry) (string, error) {
	signer, err := k.lookup(owner)
	if err != nil {
		return "", err
	}
	account, err := safe.NewAccount(address, 0, signer, services)
	if err != nil {
		return "", err
	}
	k.mu.Lock()
	k.safes[strings.ToLower(account.Address())] = account
	k.mu.Unlock()
	return account.Address(), nil
}

// Addresses lists the imported addresses and Safes.
func (k *Keyring) Addresses() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.accounts)+len(k.safes))
	for _, a := range k.accounts {
		out = append(out, a.Address())
	}
	for _, a := range k.safes {
		out = append(out, a.Address())
	}
	return out
}

func (k *Keyring) lookup(address string) (*LocalAccount, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	account, ok := k.accounts[strings.ToLower(strings.TrimSpace(address))]
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("no signing key for account %s", address))
	}
	return account, nil
}

// Account returns the account bound to chainID. Safes take precedence over
// local keys.
func (k *Keyring) Account(_ context.Context, address string, chainID uint64) (web3.Account, error) {
	k.mu.RLock()
	multisig, ok := k.safes[strings.ToLower(strings.TrimSpace(address))]
	k.mu.RUnlock()
	if ok {
		return multisig.OnChain(chainID)
	}
	account, err := k.lookup(address)
	if err != nil {
		return nil, err
	}
	return account.OnChain(chainID)
}

// SwitchHook returns the chain switch hook of address.
func (k *Keyring) SwitchHook(address string) web3.SwitchChainHook {
	return func(ctx context.Context, chainID uint64) (web3.Account, error) {
		return k.Account(ctx, address, chainID)
	}
}
