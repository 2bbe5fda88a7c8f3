// Package receiving waits for the destination side of a bridge transfer by
// polling the backend status endpoint.
package receiving

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"OpenRoute-Chain/internal/backend"
	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/polling"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/status"
	"OpenRoute-Chain/pkg/logger"
)

// StatusSource reports the backend view of a bridge transfer.
type StatusSource interface {
	GetStatus(ctx context.Context, req backend.StatusRequest) (backend.StatusResponse, error)
}

// Request identifies the transfer to await.
type Request struct {
	Step   route.Step
	TxHash string
}

// Receipt is the final outcome of a bridge transfer. Status is DONE, FAILED
// or CANCELLED.
type Receipt struct {
	Status           route.Status
	Substatus        string
	SubstatusMessage string
	Sending          *backend.TransferInfo
	Receiving        *backend.TransferInfo
}

// ProgressFunc receives pending substatus changes.
type ProgressFunc func(substatus, message string)

// Awaiter polls the backend until a transfer settles.
type Awaiter struct {
	source StatusSource
	hub    *polling.Hub[backend.StatusResponse]
	log    *slog.Logger
}

// NewAwaiter constructs an Awaiter polling at interval.
func NewAwaiter(source StatusSource, interval time.Duration) *Awaiter {
	return &Awaiter{
		source: source,
		hub:    polling.NewHub[backend.StatusResponse](interval),
		log:    logger.Named("receiving"),
	}
}

// AwaitReceipt blocks until the transfer identified by req reaches a final
// status or ctx ends. There is no built-in timeout.
func (a *Awaiter) AwaitReceipt(ctx context.Context, req Request, progress ProgressFunc) (Receipt, error) {
	if strings.TrimSpace(req.TxHash) == "" {
		return Receipt{}, xerrors.New(xerrors.CodeValidation, "source transaction hash is required")
	}
	statusReq := backend.StatusRequest{
		TxHash:    req.TxHash,
		Bridge:    req.Step.Tool,
		FromChain: req.Step.Action.FromChainID,
		ToChain:   req.Step.Action.ToChainID,
	}
	key := fmt.Sprintf("bridge-status:%s:%s", req.Step.Tool, strings.ToLower(req.TxHash))

	var (
		mu   sync.Mutex
		last string
	)
	report := func(resp backend.StatusResponse) {
		if progress == nil || resp.Status != backend.StatusPending || resp.Substatus == "" {
			return
		}
		mu.Lock()
		changed := resp.Substatus != last
		last = resp.Substatus
		mu.Unlock()
		if changed {
			progress(resp.Substatus, describe(resp))
		}
	}

	resp, err := polling.Await(ctx, a.hub, key, func(ctx context.Context, emit polling.Emitter[backend.StatusResponse]) error {
		resp, err := a.source.GetStatus(ctx, statusReq)
		if err != nil {
			if xerrors.HasCode(err, xerrors.CodeValidation) {
				return polling.Permanent(err)
			}
			return err
		}
		emit.Emit(resp)
		return nil
	}, isFinal, report)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		Substatus:        resp.Substatus,
		SubstatusMessage: describe(resp),
		Sending:          resp.Sending,
		Receiving:        resp.Receiving,
	}
	switch resp.Status {
	case backend.StatusDone:
		receipt.Status = route.StatusDone
	case backend.StatusCancelled:
		receipt.Status = route.StatusCancelled
	default:
		receipt.Status = route.StatusFailed
	}
	a.log.Info("bridge transfer settled", "tx_hash", req.TxHash, "status", receipt.Status, "substatus", receipt.Substatus)
	return receipt, nil
}

func isFinal(resp backend.StatusResponse) bool {
	switch resp.Status {
	case backend.StatusDone, backend.StatusFailed, backend.StatusInvalid, backend.StatusCancelled:
		return true
	default:
		return false
	}
}

func describe(resp backend.StatusResponse) string {
	if resp.SubstatusMessage != "" {
		return resp.SubstatusMessage
	}
	return status.SubstatusMessage(resp.Substatus)
}
