package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/metrics"
)

const (
	defaultStaleAfter     = 15 * time.Minute
	defaultStaleBatchSize = 50
)

type stalePendingLedger interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	MarkSwept(ctx context.Context, sessionIDs []string, at time.Time) error
}

type sessionReconciler interface {
	ReconcileSession(ctx context.Context, sessionID, path string) (*payments.SessionStatus, error)
}

// StalePendingJobParams configures the sweep that re-asks the provider about
// checkouts nobody confirmed.
type StalePendingJobParams struct {
	Logger     *logger.Logger
	Ledger     stalePendingLedger
	Reconciler sessionReconciler
	StaleAfter time.Duration
	BatchSize  int
	Now        func() time.Time
}

type stalePendingJob struct {
	logg       *logger.Logger
	ledger     stalePendingLedger
	reconciler sessionReconciler
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewStalePendingJob(params StalePendingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("transaction ledger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("session reconciler required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultStaleBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &stalePendingJob{
		logg:       params.Logger,
		ledger:     params.Ledger,
		reconciler: params.Reconciler,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		now:        now,
	}, nil
}

func (j *stalePendingJob) Name() string { return "stale-pending-reconcile" }

// Run reconciles one batch per cycle. A session the provider rejects does
// not stop the rest of the batch. Visited rows are stamped first so sessions
// that never settle rotate behind the ones not yet looked at.
func (j *stalePendingJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.staleAfter)
	rows, err := j.ledger.ListStalePending(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	sessionIDs := make([]string, 0, len(rows))
	for _, txn := range rows {
		sessionIDs = append(sessionIDs, txn.SessionID)
	}
	if err := j.ledger.MarkSwept(ctx, sessionIDs, now); err != nil {
		return fmt.Errorf("mark swept: %w", err)
	}

	var (
		errs     []error
		settled  int
		skipped  int
		failures int
	)
	for _, txn := range rows {
		sessionCtx := j.logg.WithField(ctx, "session_id", txn.SessionID)
		status, err := j.reconciler.ReconcileSession(sessionCtx, txn.SessionID, metrics.PathSweep)
		switch {
		case err == nil:
			if status != nil && (status.Paid() || status.Expired()) {
				settled++
			}
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			skipped++
			j.logg.Warn(j.logg.WithField(sessionCtx, "error", err.Error()), "stale session vanished")
		default:
			failures++
			errs = append(errs, fmt.Errorf("reconcile %s: %w", txn.SessionID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"scanned":  len(rows),
		"settled":  settled,
		"skipped":  skipped,
		"failures": failures,
	})
	j.logg.Info(logCtx, "stale pending sweep complete")
	return multierr.Combine(errs...)
}
