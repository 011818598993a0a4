package orchestrator

import (
	"context"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/jobs"
	"github.com/customeros/draftsync/internal/models"
)

// dependencies lists the job kinds that must finish before kind may start.
var dependencies = map[enum.JobKind][]enum.JobKind{
	enum.JobKindUploadAttachments: {enum.JobKindSyncDraft},
	enum.JobKindSendDraft:         {enum.JobKindSyncDraft, enum.JobKindUploadAttachments},
}

// blockedBy lists sync states in which a job kind can never succeed until
// the user retries.
var blockedBy = map[enum.JobKind][]enum.DraftSyncStatus{
	enum.JobKindUploadAttachments: {enum.SyncStatusErrorUploadDraft},
	enum.JobKindSendDraft:         {enum.SyncStatusErrorUploadDraft, enum.SyncStatusErrorUploadAttachments},
}

// gate returns a result when the job must not run now, nil when it may.
// It relies on durable queue and state records only.
func (o *Orchestrator) gate(ctx context.Context, job *models.OutboxJob) jobs.Result {
	deps, ok := dependencies[job.Kind]
	if !ok {
		return nil
	}
	for _, dep := range deps {
		pending, err := o.queue.Get(ctx, models.JobKey(dep, job.DraftID))
		if err != nil {
			return jobs.RetryableFailure{Reason: err.Error()}
		}
		if len(pending) > 0 {
			return jobs.NotReady{Reason: "waiting for " + dep.String()}
		}
	}

	draftID, found, err := o.currentDraftID(ctx, job)
	if err != nil {
		return jobs.RetryableFailure{Reason: err.Error()}
	}
	if !found {
		return jobs.Skipped{Reason: "draft discarded"}
	}
	state, err := o.tracker.Get(ctx, job.OwnerID, draftID)
	if err != nil {
		return jobs.RetryableFailure{Reason: err.Error()}
	}
	if state == nil {
		return jobs.NotReady{Reason: "draft has never been synced"}
	}
	for _, status := range blockedBy[job.Kind] {
		if state.Status == status {
			return jobs.Skipped{Reason: "earlier stage failed: " + status.String()}
		}
	}
	if !state.DraftSynced() {
		return jobs.NotReady{Reason: "draft content is not synced"}
	}
	return nil
}
