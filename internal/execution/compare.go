package execution

import (
	"strings"

	"github.com/shopspring/decimal"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// needsSlippageApproval reports whether the refreshed minimum output fell
// below the previously quoted minimum by more than the step slippage.
func needsSlippageApproval(previous, updated route.Step) (bool, error) {
	oldMin, err := parseAmount(previous.Estimate.ToAmountMin)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeValidation, err, "quoted toAmountMin is invalid")
	}
	newMin, err := parseAmount(updated.Estimate.ToAmountMin)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeValidation, err, "updated toAmountMin is invalid")
	}
	if oldMin.IsZero() {
		return false, nil
	}
	slippage := decimal.NewFromFloat(previous.Action.Slippage)
	floor := oldMin.Mul(decimal.NewFromInt(1).Sub(slippage))
	return newMin.LessThan(floor), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
