/**
 * @description
 * Scheduled job implementations for the ledger-service.
 */
package app

import (
	"context"
	"log/slog"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service *Service
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, logger *slog.Logger) *Jobs {
	return &Jobs{
		service: service,
		logger:  logger,
	}
}

// RunReconciliationSweep recomputes every account balance from the transaction
// log and repairs any drifted counters.
func (j *Jobs) RunReconciliationSweep() {
	j.logger.Info("starting balance reconciliation sweep")
	ctx := context.Background()

	result, err := j.service.ReconcileAll(ctx)
	if err != nil {
		j.logger.Error("reconciliation sweep aborted", "error", err, "visited", result.Visited)
		return
	}

	j.logger.Info("balance reconciliation sweep finished",
		"visited", result.Visited,
		"repaired", result.Repaired,
		"failed", result.Failed)
}
