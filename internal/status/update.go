package status

import "OpenRoute-Chain/internal/route"

// ProcessUpdate is a typed change applied to a process alongside a status
// transition. The set of implementations is closed to this package.
type ProcessUpdate interface {
	applyProcess(p *route.Process)
}

// ExecutionUpdate is a typed change applied to an execution.
type ExecutionUpdate interface {
	applyExecution(e *route.Execution)
}

// TxUpdate records the transaction backing a process.
type TxUpdate struct {
	Hash  string
	Link  string
	Nonce *uint64
}

func (u TxUpdate) applyProcess(p *route.Process) {
	p.TxHash = u.Hash
	p.TxLink = u.Link
	if u.Nonce != nil {
		n := *u.Nonce
		p.Nonce = &n
	}
}

// FailureUpdate attaches a structured error to a process.
type FailureUpdate struct {
	Error route.ProcessError
}

func (u FailureUpdate) applyProcess(p *route.Process) {
	e := u.Error
	p.Error = &e
}

// SubstatusUpdate records intermediate bridge progress.
type SubstatusUpdate struct {
	Substatus string
	Message   string
}

func (u SubstatusUpdate) applyProcess(p *route.Process) {
	p.Substatus = u.Substatus
	p.SubstatusMessage = u.Message
}

// ReceivingUpdate records the destination-chain outcome of a bridge.
type ReceivingUpdate struct {
	Substatus string
	Message   string
	Hash      string
	Link      string
}

func (u ReceivingUpdate) applyProcess(p *route.Process) {
	p.Substatus = u.Substatus
	p.SubstatusMessage = u.Message
	if u.Hash != "" {
		p.TxHash = u.Hash
		p.TxLink = u.Link
	}
}

// MultisigUpdate records the internal hash of a multisig proposal.
type MultisigUpdate struct {
	InternalHash string
}

func (u MultisigUpdate) applyProcess(p *route.Process) {
	p.MultisigTxHash = u.InternalHash
}

// MessageUpdate overrides the human readable process message.
type MessageUpdate struct {
	Message string
}

func (u MessageUpdate) applyProcess(p *route.Process) {
	p.Message = u.Message
}

// SettlementUpdate records the realized totals of a finished step. Empty
// fields leave the current value untouched.
type SettlementUpdate struct {
	FromAmount   string
	ToAmount     string
	ToToken      *route.Token
	GasAmount    string
	GasAmountUSD string
	GasPrice     string
	GasToken     *route.Token
	GasUsed      string
}

func (u SettlementUpdate) applyExecution(e *route.Execution) {
	setIfNotEmpty(&e.FromAmount, u.FromAmount)
	setIfNotEmpty(&e.ToAmount, u.ToAmount)
	setIfNotEmpty(&e.GasAmount, u.GasAmount)
	setIfNotEmpty(&e.GasAmountUSD, u.GasAmountUSD)
	setIfNotEmpty(&e.GasPrice, u.GasPrice)
	setIfNotEmpty(&e.GasUsed, u.GasUsed)
	if u.ToToken != nil {
		t := *u.ToToken
		e.ToToken = &t
	}
	if u.GasToken != nil {
		t := *u.GasToken
		e.GasToken = &t
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
