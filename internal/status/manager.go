// Package status owns the process ledger of a route. Every mutation goes
// through Manager, which notifies the registered observers with a full,
// consistent snapshot of the route afterwards.
package status

import (
	"fmt"
	"sync"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// Observer receives a snapshot of the whole route after every mutation.
type Observer interface {
	RouteUpdated(r route.Route)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(r route.Route)

// RouteUpdated calls f(r).
func (f ObserverFunc) RouteUpdated(r route.Route) { f(r) }

// Option configures a Manager.
type Option func(*Manager)

// WithObservers registers observers notified on every mutation.
func WithObservers(observers ...Observer) Option {
	return func(m *Manager) {
		for _, o := range observers {
			if o != nil {
				m.observers = append(m.observers, o)
			}
		}
	}
}

// WithClock overrides the time source used for process timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the single writer of a route's execution state.
type Manager struct {
	// writeMu orders mutations together with their notifications so observers
	// see snapshots in mutation order.
	writeMu   sync.Mutex
	mu        sync.Mutex
	route     route.Route
	observers []Observer
	now       func() time.Time
}

// NewManager takes ownership of a copy of r.
func NewManager(r route.Route, opts ...Option) *Manager {
	m := &Manager{route: r.Clone(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// AddObserver registers an additional observer.
func (m *Manager) AddObserver(o Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Route returns a snapshot of the managed route.
func (m *Manager) Route() route.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route.Clone()
}

// RouteID returns the id of the managed route.
func (m *Manager) RouteID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route.ID
}

// Step returns a snapshot of one step.
func (m *Manager) Step(stepID string) (route.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, err := m.step(stepID)
	if err != nil {
		return route.Step{}, err
	}
	return step.Clone(), nil
}

// SetTransactionRequest stores the prepared payload and any refreshed quote
// data on the step, keeping its execution untouched.
func (m *Manager) SetTransactionRequest(stepID string, updated route.Step) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	step, err := m.step(stepID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	step.Action = updated.Action
	step.Estimate = updated.Estimate
	step.Estimate.FeeCosts = append([]route.FeeCost(nil), updated.Estimate.FeeCosts...)
	step.Estimate.GasCosts = append([]route.GasCost(nil), updated.Estimate.GasCosts...)
	step.TransactionRequest = updated.TransactionRequest.Clone()
	snapshot := m.route.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// InitExecution returns the step's execution, creating a pending one when
// missing. Observers are notified only on creation.
func (m *Manager) InitExecution(stepID string) (route.Execution, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	step, err := m.step(stepID)
	if err != nil {
		m.mu.Unlock()
		return route.Execution{}, err
	}
	if step.Execution != nil {
		exec := step.Execution.Clone()
		m.mu.Unlock()
		return exec, nil
	}
	step.Execution = route.NewExecution()
	exec := step.Execution.Clone()
	snapshot := m.route.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return exec, nil
}

// FindOrCreateProcess returns the process of the given type, inserting it
// with the given initial status (PENDING by default) when absent.
func (m *Manager) FindOrCreateProcess(stepID string, t route.ProcessType, initial ...route.Status) (route.Process, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	exec, err := m.execution(stepID)
	if err != nil {
		m.mu.Unlock()
		return route.Process{}, err
	}
	if p, ok := exec.FindProcess(t); ok {
		out := p.Clone()
		snapshot := m.route.Clone()
		m.mu.Unlock()
		m.notify(snapshot)
		return out, nil
	}

	status := route.StatusPending
	if len(initial) > 0 && initial[0].Valid() {
		status = initial[0]
	}
	p := route.Process{
		Type:      t,
		Status:    status,
		Message:   ProcessMessage(t, status),
		StartedAt: m.now().UnixMilli(),
	}
	exec.Process = append(exec.Process, p)
	if !exec.Status.IsTerminal() {
		exec.Status = route.StatusPending
	}
	snapshot := m.route.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return p.Clone(), nil
}

// UpdateProcess transitions the process of the given type and applies the
// typed updates. It stamps doneAt/failedAt and keeps the execution status in
// line with the transition.
func (m *Manager) UpdateProcess(stepID string, t route.ProcessType, s route.Status, updates ...ProcessUpdate) (route.Process, error) {
	if !s.Valid() {
		return route.Process{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("unknown process status %q", s))
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	exec, err := m.execution(stepID)
	if err != nil {
		m.mu.Unlock()
		return route.Process{}, err
	}
	p, ok := exec.FindProcess(t)
	if !ok {
		m.mu.Unlock()
		return route.Process{}, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("process %s not found in step %s", t, stepID))
	}

	now := m.now().UnixMilli()
	if now < p.StartedAt {
		now = p.StartedAt
	}
	p.Status = s
	if s != route.StatusFailed {
		p.Error = nil
		p.FailedAt = 0
	}
	if msg := ProcessMessage(t, s); msg != "" {
		p.Message = msg
	}
	switch s {
	case route.StatusDone, route.StatusCancelled:
		p.DoneAt = now
	case route.StatusFailed:
		p.FailedAt = now
		exec.Status = route.StatusFailed
	case route.StatusPending, route.StatusStarted:
		if !exec.Status.IsTerminal() {
			exec.Status = route.StatusPending
		}
	case route.StatusActionRequired:
		if t == route.ProcessSwitchChain {
			exec.Status = route.StatusChainSwitchRequired
		} else {
			exec.Status = route.StatusActionRequired
		}
	case route.StatusMultisigPending:
		exec.Status = route.StatusMultisigPending
	}
	for _, u := range updates {
		if u != nil {
			u.applyProcess(p)
		}
	}
	out := p.Clone()
	snapshot := m.route.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return out, nil
}

// RemoveProcess deletes the process of the given type. Removing an absent
// process is not an error.
func (m *Manager) RemoveProcess(stepID string, t route.ProcessType) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	exec, err := m.execution(stepID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	kept := exec.Process[:0]
	for _, p := range exec.Process {
		if p.Type != t {
			kept = append(kept, p)
		}
	}
	exec.Process = kept
	snapshot := m.route.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// UpdateExecution sets the execution status and applies the typed updates.
func (m *Manager) UpdateExecution(stepID string, s route.Status, updates ...ExecutionUpdate) (route.Execution, error) {
	if !s.Valid() {
		return route.Execution{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("unknown execution status %q", s))
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	exec, err := m.execution(stepID)
	if err != nil {
		m.mu.Unlock()
		return route.Execution{}, err
	}
	exec.Status = s
	for _, u := range updates {
		if u != nil {
			u.applyExecution(exec)
		}
	}
	out := exec.Clone()
	snapshot := m.route.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return out, nil
}

// Execution returns a snapshot of the step's execution.
func (m *Manager) Execution(stepID string) (route.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, err := m.execution(stepID)
	if err != nil {
		return route.Execution{}, err
	}
	return exec.Clone(), nil
}

func (m *Manager) step(stepID string) (*route.Step, error) {
	step, ok := m.route.StepByID(stepID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("step %s not found in route %s", stepID, m.route.ID))
	}
	return step, nil
}

func (m *Manager) execution(stepID string) (*route.Execution, error) {
	step, err := m.step(stepID)
	if err != nil {
		return nil, err
	}
	if step.Execution == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("step %s has no execution", stepID))
	}
	return step.Execution, nil
}

func (m *Manager) notify(snapshot route.Route) {
	m.mu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, o := range observers {
		o.RouteUpdated(snapshot.Clone())
	}
}
