package execution

import "sync/atomic"

// Interaction is the cooperative pause token of one route run. It is
// consulted before every prompt and every submission; when disallowed the
// executor returns the current snapshot instead of blocking. Hard
// cancellation goes through context.Context.
type Interaction struct {
	allowed atomic.Bool
}

// NewInteraction returns a token in the given state.
func NewInteraction(allowed bool) *Interaction {
	i := &Interaction{}
	i.allowed.Store(allowed)
	return i
}

// Allow permits prompts and submissions.
func (i *Interaction) Allow() { i.allowed.Store(true) }

// Disallow makes the next suspension point pause the run.
func (i *Interaction) Disallow() { i.allowed.Store(false) }

// Allowed reports the current state. A nil token allows interaction.
func (i *Interaction) Allowed() bool {
	if i == nil {
		return true
	}
	return i.allowed.Load()
}
