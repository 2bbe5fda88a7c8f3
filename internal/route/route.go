package route

import (
	"encoding/json"
	"strings"
)

// NativeTokenAddress is the placeholder address used for a chain's native asset.
const NativeTokenAddress = "0x0000000000000000000000000000000000000000"

// StepType discriminates the kind of action a step performs.
type StepType string

const (
	StepTypeSwap  StepType = "swap"
	StepTypeCross StepType = "cross"
	StepTypeLiFi  StepType = "lifi"
)

// Token describes an asset on a specific chain.
type Token struct {
	Address  string `json:"address"`
	ChainID  uint64 `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name,omitempty"`
	PriceUSD string `json:"priceUSD,omitempty"`
}

// IsNative reports whether the token is the chain's native asset.
func (t Token) IsNative() bool {
	addr := strings.TrimSpace(t.Address)
	return addr == "" || strings.EqualFold(addr, NativeTokenAddress)
}

// TokenAmount pairs a token with an amount. Amount is the raw integer amount,
// Formatted is the amount shifted by the token decimals.
type TokenAmount struct {
	Token
	Amount    string `json:"amount"`
	Formatted string `json:"formatted,omitempty"`
}

// Action is the requested side of a step.
type Action struct {
	FromChainID uint64  `json:"fromChainId"`
	ToChainID   uint64  `json:"toChainId"`
	FromToken   Token   `json:"fromToken"`
	ToToken     Token   `json:"toToken"`
	FromAmount  string  `json:"fromAmount"`
	FromAddress string  `json:"fromAddress,omitempty"`
	ToAddress   string  `json:"toAddress,omitempty"`
	Slippage    float64 `json:"slippage"`
}

// FeeCost is a fee charged by a tool or bridge.
type FeeCost struct {
	Name      string `json:"name"`
	Amount    string `json:"amount"`
	AmountUSD string `json:"amountUSD,omitempty"`
	Token     Token  `json:"token"`
	Included  bool   `json:"included,omitempty"`
}

// GasCost is an estimated gas expense.
type GasCost struct {
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	AmountUSD string `json:"amountUSD,omitempty"`
	Token     Token  `json:"token"`
	Estimate  string `json:"estimate,omitempty"`
	Limit     string `json:"limit,omitempty"`
	Price     string `json:"price,omitempty"`
}

// Estimate is the quoted outcome of a step.
type Estimate struct {
	FromAmount        string    `json:"fromAmount"`
	FromAmountUSD     string    `json:"fromAmountUSD,omitempty"`
	ToAmount          string    `json:"toAmount"`
	ToAmountMin       string    `json:"toAmountMin"`
	ToAmountUSD       string    `json:"toAmountUSD,omitempty"`
	ApprovalAddress   string    `json:"approvalAddress"`
	ExecutionDuration int       `json:"executionDuration"`
	FeeCosts          []FeeCost `json:"feeCosts,omitempty"`
	GasCosts          []GasCost `json:"gasCosts,omitempty"`
	Tool              string    `json:"tool,omitempty"`
}

// TransactionRequest is the payload the account signs and submits. Numeric
// fields are base-10 or 0x-prefixed strings as returned by the backend.
type TransactionRequest struct {
	From                 string `json:"from,omitempty"`
	To                   string `json:"to"`
	Data                 string `json:"data,omitempty"`
	Value                string `json:"value,omitempty"`
	GasLimit             string `json:"gasLimit,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	ChainID              uint64 `json:"chainId,omitempty"`
}

// Clone returns a copy of the request.
func (r *TransactionRequest) Clone() *TransactionRequest {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Step is one atomic swap or bridge action within a route.
type Step struct {
	ID                 string              `json:"id"`
	Type               StepType            `json:"type"`
	Tool               string              `json:"tool"`
	Action             Action              `json:"action"`
	Estimate           Estimate            `json:"estimate"`
	IncludedSteps      []Step              `json:"includedSteps,omitempty"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
	Execution          *Execution          `json:"execution,omitempty"`
}

// IsCrossChain reports whether source and destination chains differ.
func (s *Step) IsCrossChain() bool {
	return s.Action.FromChainID != s.Action.ToChainID
}

// Route is a full user-requested transfer composed of one or more steps.
type Route struct {
	ID          string `json:"id"`
	FromChainID uint64 `json:"fromChainId"`
	FromAmount  string `json:"fromAmount"`
	FromAddress string `json:"fromAddress,omitempty"`
	FromToken   Token  `json:"fromToken"`
	ToChainID   uint64 `json:"toChainId"`
	ToAmount    string `json:"toAmount"`
	ToAmountMin string `json:"toAmountMin,omitempty"`
	ToAddress   string `json:"toAddress,omitempty"`
	ToToken     Token  `json:"toToken"`
	Steps       []Step `json:"steps"`
}

// StepByID returns a pointer to the step with the given id.
func (r *Route) StepByID(id string) (*Step, bool) {
	for i := range r.Steps {
		if r.Steps[i].ID == id {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Status summarizes the route as the status of its first unfinished step.
// A route with no steps is reported as pending.
func (r *Route) Status() Status {
	if len(r.Steps) == 0 {
		return StatusPending
	}
	for i := range r.Steps {
		exec := r.Steps[i].Execution
		if exec == nil {
			return StatusPending
		}
		if exec.Status != StatusDone {
			return exec.Status
		}
	}
	return StatusDone
}

// Clone returns a deep copy of the route.
func (r Route) Clone() Route {
	out := r
	if r.Steps != nil {
		out.Steps = make([]Step, len(r.Steps))
		for i := range r.Steps {
			out.Steps[i] = r.Steps[i].Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	out.Estimate.FeeCosts = append([]FeeCost(nil), s.Estimate.FeeCosts...)
	out.Estimate.GasCosts = append([]GasCost(nil), s.Estimate.GasCosts...)
	if s.IncludedSteps != nil {
		out.IncludedSteps = make([]Step, len(s.IncludedSteps))
		for i := range s.IncludedSteps {
			out.IncludedSteps[i] = s.IncludedSteps[i].Clone()
		}
	}
	out.TransactionRequest = s.TransactionRequest.Clone()
	if s.Execution != nil {
		exec := s.Execution.Clone()
		out.Execution = &exec
	}
	return out
}

// Marshal encodes the route as a JSON document.
func Marshal(r Route) ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a JSON route document.
func Unmarshal(data []byte) (Route, error) {
	var r Route
	if err := json.Unmarshal(data, &r); err != nil {
		return Route{}, err
	}
	return r, nil
}
