package status

import "OpenRoute-Chain/internal/route"

var processMessages = map[route.ProcessType]map[route.Status]string{
	route.ProcessTokenAllowance: {
		route.StatusStarted:        "Setting token allowance.",
		route.StatusActionRequired: "Please approve the token allowance.",
		route.StatusPending:        "Waiting for token allowance.",
		route.StatusDone:           "Token allowance set.",
	},
	route.ProcessSwitchChain: {
		route.StatusPending: "Switching chain.",
		route.StatusDone:    "Chain switched successfully.",
	},
	route.ProcessSwap: {
		route.StatusStarted:         "Preparing swap transaction.",
		route.StatusActionRequired:  "Please sign the transaction.",
		route.StatusPending:         "Waiting for swap transaction.",
		route.StatusMultisigPending: "Waiting for multisig confirmations.",
		route.StatusDone:            "Swap completed.",
	},
	route.ProcessCrossChain: {
		route.StatusStarted:         "Preparing bridge transaction.",
		route.StatusActionRequired:  "Please sign the transaction.",
		route.StatusPending:         "Waiting for bridge transaction.",
		route.StatusMultisigPending: "Waiting for multisig confirmations.",
		route.StatusDone:            "Bridge transaction confirmed.",
	},
	route.ProcessReceivingChain: {
		route.StatusPending:   "Waiting for destination chain.",
		route.StatusDone:      "Bridge completed.",
		route.StatusCancelled: "Bridge was cancelled.",
	},
}

// ProcessMessage returns the default message for a process in a status.
func ProcessMessage(t route.ProcessType, s route.Status) string {
	if msgs, ok := processMessages[t]; ok {
		if msg, ok := msgs[s]; ok {
			return msg
		}
	}
	if s == route.StatusFailed {
		return "Transaction failed."
	}
	return ""
}

// substatusMessages describes intermediate bridge states.
var substatusMessages = map[string]string{
	"WAIT_SOURCE_CONFIRMATIONS":     "The bridge is waiting for additional confirmations.",
	"WAIT_DESTINATION_TRANSACTION":  "The bridge off-chain logic is being executed. Wait for the transaction to appear on the destination chain.",
	"BRIDGE_NOT_AVAILABLE":          "The bridge API or subgraph is temporarily unavailable, check back later.",
	"CHAIN_NOT_AVAILABLE":           "The RPC for the source or destination chain is temporarily unavailable.",
	"REFUND_IN_PROGRESS":            "The refund has been requested and is being processed.",
	"UNKNOWN_ERROR":                 "The transfer status cannot be determined.",
	"COMPLETED":                     "The transfer was successful.",
	"PARTIAL":                       "The transfer was partially successful. This can happen when liquidity is low and an alternative token was delivered.",
	"REFUNDED":                      "The transfer was not successful and the sent tokens have been refunded.",
	"NOT_PROCESSABLE_REFUND_NEEDED": "The transfer cannot be completed and requires a refund.",
	"OUT_OF_GAS":                    "The transaction ran out of gas during execution.",
	"SLIPPAGE_EXCEEDED":             "The return amount is below the slippage limit.",
	"INSUFFICIENT_ALLOWANCE":        "The transfer amount exceeds the token allowance.",
	"INSUFFICIENT_BALANCE":          "The transfer amount exceeds the available balance.",
	"EXPIRED":                       "The transfer has expired.",
}

// SubstatusMessage returns a human readable description for a bridge substatus.
func SubstatusMessage(substatus string) string {
	return substatusMessages[substatus]
}
