package metrics

import (
	"time"

	"OpenRoute-Chain/internal/route"
)

// Execution records executor outcomes on the package collectors.
type Execution struct{}

// ObserveStep records one Execute run.
func (Execution) ObserveStep(stepType route.StepType, status route.Status, elapsed time.Duration) {
	StepDuration.WithLabelValues(string(stepType), string(status)).Observe(elapsed.Seconds())
	StepsTotal.WithLabelValues(string(stepType), string(status)).Inc()
}

// ObserveTransaction records a transaction lifecycle event.
func (Execution) ObserveTransaction(process route.ProcessType, outcome string) {
	TransactionsTotal.WithLabelValues(string(process), outcome).Inc()
}
