package execution

import (
	"context"
	"math/big"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/web3"
)

// gasBufferPercent is applied on top of the node's gas estimate.
const gasBufferPercent = 125

// prepareGas sets the gas parameters of req. The caller hook wins; without
// it the estimate is buffered and the current network gas price is used.
// Estimation errors leave req as it is.
func prepareGas(ctx context.Context, client web3.Client, req route.TransactionRequest, hook UpdateTransactionRequestHook) (route.TransactionRequest, error) {
	if hook != nil {
		custom, err := hook(ctx, req)
		if err != nil {
			return req, err
		}
		req.GasLimit = custom.GasLimit
		req.GasPrice = custom.GasPrice
		req.MaxFeePerGas = custom.MaxFeePerGas
		req.MaxPriorityFeePerGas = custom.MaxPriorityFeePerGas
		return req, nil
	}

	if estimate, err := client.EstimateGas(ctx, req); err == nil && estimate > 0 {
		limit := new(big.Int).SetUint64(estimate)
		limit.Mul(limit, big.NewInt(gasBufferPercent))
		limit.Div(limit, big.NewInt(100))
		req.GasLimit = limit.String()
	}
	if price, err := client.SuggestGasPrice(ctx); err == nil && price != nil {
		req.GasPrice = price.String()
	}
	return req, nil
}
