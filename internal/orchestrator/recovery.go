package orchestrator

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
)

type RecoveryReport struct {
	RecoveredLeases int
	EnqueuedSyncs   int
}

// Recover returns expired leases to the queue and queues a sync for every
// pending draft that has no sync job.
func (o *Orchestrator) Recover(ctx context.Context) (RecoveryReport, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.Recover")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	var report RecoveryReport
	if o.cfg.LeaseTimeout > 0 {
		recovered, err := o.queue.RecoverStale(ctx, utils.Now().Add(-o.cfg.LeaseTimeout))
		if err != nil {
			tracing.TraceErr(span, err)
			return report, err
		}
		report.RecoveredLeases = recovered
	}

	states, err := o.tracker.ListByStatus(ctx, enum.SyncStatusPending)
	if err != nil {
		tracing.TraceErr(span, err)
		return report, err
	}
	for _, state := range states {
		draftID, found, err := o.currentDraftID(ctx, &models.OutboxJob{OwnerID: state.OwnerID, DraftID: state.DraftID})
		if err != nil {
			tracing.TraceErr(span, err)
			return report, err
		}
		if found {
			state.DraftID = draftID
		}
		existing, err := o.queue.Get(ctx, models.JobKey(enum.JobKindSyncDraft, state.DraftID))
		if err != nil {
			tracing.TraceErr(span, err)
			return report, err
		}
		if len(existing) > 0 {
			continue
		}
		if err = o.EnqueueSync(ctx, state.OwnerID, state.DraftID); err != nil {
			tracing.TraceErr(span, err)
			return report, err
		}
		report.EnqueuedSyncs++
	}

	span.SetTag("recovered", report.RecoveredLeases)
	span.SetTag("enqueued", report.EnqueuedSyncs)
	if report.RecoveredLeases > 0 || report.EnqueuedSyncs > 0 {
		o.log.Info("outbox recovery",
			zap.Int("recoveredLeases", report.RecoveredLeases),
			zap.Int("enqueuedSyncs", report.EnqueuedSyncs))
	}
	if report.RecoveredLeases > 0 {
		o.signal()
	}
	return report, nil
}
