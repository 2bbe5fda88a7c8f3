package route

// Status is the lifecycle state of an execution or a process.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusStarted             Status = "STARTED"
	StatusActionRequired      Status = "ACTION_REQUIRED"
	StatusChainSwitchRequired Status = "CHAIN_SWITCH_REQUIRED"
	StatusMultisigPending     Status = "MULTISIG_PENDING"
	StatusDone                Status = "DONE"
	StatusFailed              Status = "FAILED"
	StatusCancelled           Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusActionRequired, StatusChainSwitchRequired,
		StatusMultisigPending, StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ProcessType names a sub-operation of an execution.
type ProcessType string

const (
	ProcessTokenAllowance ProcessType = "TOKEN_ALLOWANCE"
	ProcessSwitchChain    ProcessType = "SWITCH_CHAIN"
	ProcessSwap           ProcessType = "SWAP"
	ProcessCrossChain     ProcessType = "CROSS_CHAIN"
	ProcessReceivingChain ProcessType = "RECEIVING_CHAIN"
)

// IsTransfer reports whether the process submits the step's main transaction.
func (t ProcessType) IsTransfer() bool {
	return t == ProcessSwap || t == ProcessCrossChain
}

// ProcessError is the structured failure attached to a process.
type ProcessError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	HTMLMessage string `json:"htmlMessage,omitempty"`
	// Reason refines Code, e.g. REVERTED for a transaction that was mined
	// and failed or TIMEOUT for an aborted wait.
	Reason string `json:"reason,omitempty"`
}

// Process is one named sub-operation of an execution.
type Process struct {
	Type             ProcessType   `json:"type"`
	Status           Status        `json:"status"`
	Message          string        `json:"message,omitempty"`
	StartedAt        int64         `json:"startedAt"`
	DoneAt           int64         `json:"doneAt,omitempty"`
	FailedAt         int64         `json:"failedAt,omitempty"`
	TxHash           string        `json:"txHash,omitempty"`
	TxLink           string        `json:"txLink,omitempty"`
	Nonce            *uint64       `json:"nonce,omitempty"`
	MultisigTxHash   string        `json:"multisigTxHash,omitempty"`
	Substatus        string        `json:"substatus,omitempty"`
	SubstatusMessage string        `json:"substatusMessage,omitempty"`
	Error            *ProcessError `json:"error,omitempty"`
}

// Clone returns a deep copy of the process.
func (p Process) Clone() Process {
	out := p
	if p.Nonce != nil {
		n := *p.Nonce
		out.Nonce = &n
	}
	if p.Error != nil {
		e := *p.Error
		out.Error = &e
	}
	return out
}

// Execution is the lifecycle record attached to a step.
type Execution struct {
	Status       Status    `json:"status"`
	Process      []Process `json:"process"`
	FromAmount   string    `json:"fromAmount,omitempty"`
	ToAmount     string    `json:"toAmount,omitempty"`
	ToToken      *Token    `json:"toToken,omitempty"`
	GasAmount    string    `json:"gasAmount,omitempty"`
	GasAmountUSD string    `json:"gasAmountUSD,omitempty"`
	GasPrice     string    `json:"gasPrice,omitempty"`
	GasToken     *Token    `json:"gasToken,omitempty"`
	GasUsed      string    `json:"gasUsed,omitempty"`
}

// NewExecution returns an empty pending execution.
func NewExecution() *Execution {
	return &Execution{Status: StatusPending, Process: []Process{}}
}

// FindProcess returns the process with the given type.
func (e *Execution) FindProcess(t ProcessType) (*Process, bool) {
	if e == nil {
		return nil, false
	}
	for i := range e.Process {
		if e.Process[i].Type == t {
			return &e.Process[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the execution.
func (e Execution) Clone() Execution {
	out := e
	if e.Process != nil {
		out.Process = make([]Process, len(e.Process))
		for i := range e.Process {
			out.Process[i] = e.Process[i].Clone()
		}
	}
	if e.ToToken != nil {
		t := *e.ToToken
		out.ToToken = &t
	}
	if e.GasToken != nil {
		t := *e.GasToken
		out.GasToken = &t
	}
	return out
}

// ProjectStatus derives an execution status from its processes. A failed or
// cancelled process dominates, an awaiting chain switch or user action comes
// next, and DONE requires every process to be done.
func ProjectStatus(processes []Process) Status {
	if len(processes) == 0 {
		return StatusPending
	}
	var (
		allDone        = true
		actionRequired bool
		switchRequired bool
		multisig       bool
	)
	for _, p := range processes {
		switch p.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCancelled:
			return StatusCancelled
		case StatusActionRequired:
			if p.Type == ProcessSwitchChain {
				switchRequired = true
			} else {
				actionRequired = true
			}
		case StatusMultisigPending:
			multisig = true
		}
		if p.Status != StatusDone {
			allDone = false
		}
	}
	switch {
	case switchRequired:
		return StatusChainSwitchRequired
	case actionRequired:
		return StatusActionRequired
	case multisig:
		return StatusMultisigPending
	case allDone:
		return StatusDone
	default:
		return StatusPending
	}
}
