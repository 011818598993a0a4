// Package orchestrator runs outbox jobs on a worker pool. It is the only
// place that turns a job result into a retry, a reschedule or a surfaced
// error.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/config"
	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/jobs"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
)

// DraftResolver finds a draft by its current or former id.
type DraftResolver interface {
	Get(ctx context.Context, ownerID, id string) (*models.Draft, error)
}

type Orchestrator struct {
	cfg     config.OutboxConfig
	queue   interfaces.JobQueue
	drafts  DraftResolver
	tracker *syncstate.Tracker
	runners map[enum.JobKind]jobs.Runner
	log     logger.Logger

	wake   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.OutboxConfig, queue interfaces.JobQueue, drafts DraftResolver, tracker *syncstate.Tracker, log logger.Logger, runners ...jobs.Runner) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	o := &Orchestrator{
		cfg:     cfg,
		queue:   queue,
		drafts:  drafts,
		tracker: tracker,
		runners: make(map[enum.JobKind]jobs.Runner, len(runners)),
		log:     log,
		wake:    make(chan struct{}, cfg.Workers),
	}
	for _, r := range runners {
		o.runners[r.Kind()] = r
	}
	return o
}

func (o *Orchestrator) EnqueueSync(ctx context.Context, ownerID, draftID string) error {
	return o.enqueue(ctx, &models.OutboxJob{Kind: enum.JobKindSyncDraft, OwnerID: ownerID, DraftID: draftID})
}

func (o *Orchestrator) EnqueueUpload(ctx context.Context, ownerID, draftID string) error {
	return o.enqueue(ctx, &models.OutboxJob{Kind: enum.JobKindUploadAttachments, OwnerID: ownerID, DraftID: draftID})
}

func (o *Orchestrator) EnqueueSend(ctx context.Context, ownerID, draftID string) error {
	return o.enqueue(ctx, &models.OutboxJob{Kind: enum.JobKindSendDraft, OwnerID: ownerID, DraftID: draftID})
}

func (o *Orchestrator) EnqueueDeleteAttachment(ctx context.Context, ownerID, draftID, attachmentID, remoteAttachmentID string) error {
	return o.enqueue(ctx, &models.OutboxJob{
		Kind:               enum.JobKindDeleteAttachment,
		OwnerID:            ownerID,
		DraftID:            draftID,
		AttachmentID:       attachmentID,
		RemoteAttachmentID: remoteAttachmentID,
	})
}

// CancelQueued drops a queued job of kind for the draft. A running one is
// left to finish.
func (o *Orchestrator) CancelQueued(ctx context.Context, kind enum.JobKind, draftID string) error {
	return o.queue.Cancel(ctx, models.JobKey(kind, draftID))
}

func (o *Orchestrator) enqueue(ctx context.Context, job *models.OutboxJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.Enqueue")
	defer span.Finish()
	tracing.SetDefaultJobSpanTags(ctx, span, job.Kind.String())
	tracing.TagOwner(span, job.OwnerID)
	tracing.TagDraft(span, job.DraftID)

	if job.OwnerID == "" {
		return draftsyncerrors.ErrOwnerMissing
	}
	if job.Target() == "" {
		return fmt.Errorf("%w: job %s has no target", draftsyncerrors.ErrInvalidInput, job.Kind)
	}
	if err := o.resolveDraftID(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := o.queue.EnqueueUnique(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	// a reconciliation that committed after the lookup has already rekeyed
	// the queue, so the job just added would stay under the placeholder
	queuedAs := job.DraftID
	if err := o.resolveDraftID(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if job.DraftID != queuedAs {
		if err := o.queue.Rekey(ctx, queuedAs, job.DraftID); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		job.Key = models.JobKey(job.Kind, job.Target())
	}
	o.log.Debug("job enqueued",
		zap.String("ownerId", job.OwnerID),
		zap.String("draftId", job.DraftID),
		zap.String("jobKind", job.Kind.String()),
		zap.String("key", job.Key))
	o.signal()
	return nil
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker pool. Stop waits for running jobs.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
	o.log.Infof("outbox orchestrator started with %d workers", o.cfg.Workers)
}

func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	o.wg.Wait()
	o.log.Info("outbox orchestrator stopped")
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		processed, err := o.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			o.log.Error("outbox worker failed", zap.Int("worker", id), zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

// RunOnce leases and runs at most one ready job. It reports whether a job was run.
func (o *Orchestrator) RunOnce(ctx context.Context) (bool, error) {
	job, err := o.queue.Dequeue(ctx, utils.Now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, o.process(ctx, job)
}

// Drain runs jobs until none is ready. Used by tests and the CLI.
func (o *Orchestrator) Drain(ctx context.Context) error {
	for {
		processed, err := o.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, job *models.OutboxJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.process")
	defer span.Finish()
	tracing.SetDefaultJobSpanTags(ctx, span, job.Kind.String())
	tracing.TagOwner(span, job.OwnerID)
	tracing.TagDraft(span, job.DraftID)
	span.SetTag("attempt", job.Attempt)

	result := o.gate(ctx, job)
	if result == nil {
		result = o.run(ctx, job)
	}
	span.SetTag("result", jobs.Describe(result))
	err := o.handle(ctx, job, result)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, job *models.OutboxJob) (result jobs.Result) {
	runner, ok := o.runners[job.Kind]
	if !ok {
		return jobs.TerminalFailure{Reason: "no runner for job kind " + job.Kind.String()}
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("outbox job panicked",
				zap.String("jobKind", job.Kind.String()),
				zap.String("draftId", job.DraftID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			result = jobs.RetryableFailure{Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return runner.Run(ctx, job)
}

func (o *Orchestrator) handle(ctx context.Context, job *models.OutboxJob, result jobs.Result) error {
	fields := []zap.Field{
		zap.String("ownerId", job.OwnerID),
		zap.String("draftId", job.DraftID),
		zap.String("jobKind", job.Kind.String()),
		zap.Int("attempt", job.Attempt),
	}

	switch r := result.(type) {
	case jobs.Success:
		o.log.Debug("job completed", fields...)
		return o.queue.Complete(ctx, job)

	case jobs.Skipped:
		o.log.Info("job skipped", append(fields, zap.String("reason", r.Reason))...)
		return o.queue.Complete(ctx, job)

	case jobs.NotReady:
		requeued := job.Clone()
		if requeued.Attempt > 0 {
			requeued.Attempt--
		}
		o.log.Debug("job waiting for dependency", append(fields, zap.String("reason", r.Reason))...)
		return o.queue.Reschedule(ctx, requeued, utils.Now().Add(o.cfg.DependencyDelay), r.Reason)

	case jobs.RetryableFailure:
		if ctx.Err() != nil {
			// shutting down; the lease is returned without spending an attempt
			requeued := job.Clone()
			if requeued.Attempt > 0 {
				requeued.Attempt--
			}
			return o.queue.Reschedule(context.WithoutCancel(ctx), requeued, utils.Now(), r.Reason)
		}
		if job.Attempt >= o.cfg.MaxAttempts {
			o.log.Warn("job retries exhausted", append(fields, zap.String("reason", r.Reason))...)
			return o.handle(ctx, job, jobs.TerminalFailure{Reason: r.Reason})
		}
		delay := o.backoffFor(job.Attempt)
		o.log.Info("job will be retried",
			append(fields, zap.Duration("delay", delay), zap.String("reason", r.Reason))...)
		return o.queue.Reschedule(ctx, job, utils.Now().Add(delay), r.Reason)

	case jobs.TerminalFailure:
		o.log.Warn("job failed",
			append(fields, zap.String("reason", r.Reason), zap.String("sendingError", r.SendingError.String()))...)
		if err := o.surface(ctx, job, r); err != nil {
			return err
		}
		return o.queue.Complete(ctx, job)

	default:
		return fmt.Errorf("unhandled job result %T", result)
	}
}

// surface records a terminal failure for the UI.
func (o *Orchestrator) surface(ctx context.Context, job *models.OutboxJob, r jobs.TerminalFailure) error {
	if job.Kind == enum.JobKindDeleteAttachment {
		return nil
	}
	draftID, found, err := o.currentDraftID(ctx, job)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	switch job.Kind {
	case enum.JobKindSyncDraft:
		_, err = o.tracker.FailDraftSync(ctx, job.OwnerID, draftID, r.SendingError, r.Reason)
	case enum.JobKindUploadAttachments:
		_, err = o.tracker.FailUpload(ctx, job.OwnerID, draftID, r.SendingError, r.Reason)
	case enum.JobKindSendDraft:
		_, err = o.tracker.FailSend(ctx, job.OwnerID, draftID, r.SendingError, r.Reason)
	}
	return err
}

// resolveDraftID points the job at the draft's current id. Jobs of drafts
// that no longer exist keep the id they were given.
func (o *Orchestrator) resolveDraftID(ctx context.Context, job *models.OutboxJob) error {
	if job.DraftID == "" {
		return nil
	}
	draftID, found, err := o.currentDraftID(ctx, job)
	if err != nil || !found {
		return err
	}
	job.DraftID = draftID
	return nil
}

// currentDraftID follows a reconciliation that happened after the job was leased.
func (o *Orchestrator) currentDraftID(ctx context.Context, job *models.OutboxJob) (string, bool, error) {
	draft, err := o.drafts.Get(ctx, job.OwnerID, job.DraftID)
	if err != nil {
		return "", false, err
	}
	if draft == nil {
		return "", false, nil
	}
	return draft.ID, true, nil
}

func (o *Orchestrator) backoffFor(attempt int) time.Duration {
	b := &backoff.Backoff{
		Min:    o.cfg.BackoffMin,
		Max:    o.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	if attempt < 1 {
		attempt = 1
	}
	return b.ForAttempt(float64(attempt - 1))
}
