package execution

import (
	"context"
	"errors"
	"fmt"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// Error is a step failure with the context needed to render it.
type Error struct {
	StepID  string
	Process route.ProcessType
	ChainID uint64
	TxLink  string
	Err     *xerrors.Error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("step %s", e.StepID)
	if e.Process != "" {
		msg += fmt.Sprintf(" %s", e.Process)
	}
	if e.ChainID != 0 {
		msg += fmt.Sprintf(" on chain %d", e.ChainID)
	}
	msg += fmt.Sprintf(": %v", e.Err)
	if e.TxLink != "" {
		msg += fmt.Sprintf(" (%s)", e.TxLink)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the error kind.
func (e *Error) Code() xerrors.Code { return e.Err.Code() }

// Failure reasons recorded on process errors.
const (
	reasonReverted = "REVERTED"
	reasonTimeout  = string(xerrors.CodeTimeout)
)

// Normalize maps any error onto one of the execution error kinds. Coded
// errors keep their code, context errors become TRANSACTION_FAILED and
// anything else is UNKNOWN.
func Normalize(err error) *xerrors.Error {
	if err == nil {
		return nil
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTransactionFailed, err, "transaction wait was aborted",
			xerrors.WithMetadata("reason", reasonTimeout))
	}
	if coded, ok := xerrors.From(err); ok {
		return coded
	}
	return xerrors.Wrap(xerrors.CodeUnknown, err, err.Error())
}

// processError is the ledger form of a normalized error.
func processError(e *xerrors.Error) route.ProcessError {
	msg := e.Message()
	if cause := e.Unwrap(); cause != nil && cause.Error() != msg {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return route.ProcessError{
		Code:        string(e.Code()),
		Message:     msg,
		HTMLMessage: e.Detail(),
		Reason:      e.Metadata()["reason"],
	}
}
