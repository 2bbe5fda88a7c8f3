package execution

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/status"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/pkg/logger"
)

// ChainSwitcher moves an account to the chain a step has to be signed on.
type ChainSwitcher struct {
	chains ChainRegistry
	log    *slog.Logger
}

// NewChainSwitcher constructs a ChainSwitcher.
func NewChainSwitcher(chains ChainRegistry) *ChainSwitcher {
	return &ChainSwitcher{chains: chains, log: logger.Named("chain-switch")}
}

// EnsureChain returns an account bound to chainID. When the account is on
// another chain a SWITCH_CHAIN process asks for the switch. A nil account
// with a nil error means the run paused because interaction is disallowed.
// Failures are returned as CHAIN_SWITCH_FAILED and left for the caller to
// record.
func (s *ChainSwitcher) EnsureChain(ctx context.Context, m *status.Manager, stepID string, account web3.Account, chainID uint64, hook web3.SwitchChainHook, interaction *Interaction) (web3.Account, error) {
	if account != nil && account.ChainID() == chainID {
		// A switch requested by an earlier run may still be pending.
		if exec, err := m.Execution(stepID); err == nil {
			if _, ok := exec.FindProcess(route.ProcessSwitchChain); ok {
				if err := m.RemoveProcess(stepID, route.ProcessSwitchChain); err != nil {
					return nil, err
				}
			}
		}
		return account, nil
	}

	name := fmt.Sprintf("chain %d", chainID)
	if chain, err := s.chains.Chain(chainID); err == nil {
		name = chain.Name
	}
	if _, err := m.FindOrCreateProcess(stepID, route.ProcessSwitchChain); err != nil {
		return nil, err
	}
	if _, err := m.UpdateProcess(stepID, route.ProcessSwitchChain, route.StatusActionRequired,
		status.MessageUpdate{Message: fmt.Sprintf("Change chain to %s", name)}); err != nil {
		return nil, err
	}

	if !interaction.Allowed() {
		s.log.Info("chain switch paused", "step", stepID, "chain_id", chainID)
		return nil, nil
	}
	if hook == nil {
		return nil, xerrors.New(xerrors.CodeChainSwitchFailed, fmt.Sprintf("switch to %s required but no switch hook is configured", name))
	}

	switched, err := hook(ctx, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSwitchFailed, err, fmt.Sprintf("switch to %s failed", name))
	}
	if switched == nil || switched.ChainID() != chainID {
		return nil, xerrors.New(xerrors.CodeChainSwitchFailed, fmt.Sprintf("account is not connected to %s", name))
	}

	if err := m.RemoveProcess(stepID, route.ProcessSwitchChain); err != nil {
		return nil, err
	}
	if _, err := m.UpdateExecution(stepID, route.StatusPending); err != nil {
		return nil, err
	}
	s.log.Info("chain switched", "step", stepID, "chain_id", chainID, "account", switched.Address())
	return switched, nil
}
