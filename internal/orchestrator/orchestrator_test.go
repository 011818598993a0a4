package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/draftstore"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/jobs"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/orchestrator"
	"github.com/customeros/draftsync/internal/outbox"
	"github.com/customeros/draftsync/internal/repository"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/services/storage"
)

const owner = "owner-1"

type stubRunner struct {
	mu       sync.Mutex
	kind     enum.JobKind
	results  []jobs.Result
	attempts []int
	order    *[]enum.JobKind
	panicAt  int
}

func (s *stubRunner) Kind() enum.JobKind { return s.kind }

func (s *stubRunner) Run(_ context.Context, job *models.OutboxJob) jobs.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, job.Attempt)
	if s.order != nil {
		*s.order = append(*s.order, s.kind)
	}
	if s.panicAt > 0 && len(s.attempts) == s.panicAt {
		panic("boom")
	}
	if len(s.results) == 0 {
		return jobs.Success{}
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func (s *stubRunner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

type fixture struct {
	ctx     context.Context
	store   *draftstore.Store
	tracker *syncstate.Tracker
	queue   interfaces.JobQueue
	draft   *models.Draft
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := repository.InitInMemoryRepositories()
	f := &fixture{
		ctx:     context.Background(),
		store:   draftstore.NewStore(repos.DraftRepository, repos.DraftAttachmentRepository, storage.NewMemoryStorageService()),
		tracker: syncstate.NewTracker(repos.DraftSyncStateRepository, nil, logger.NewNopAppLogger()),
		queue:   outbox.NewInMemoryJobQueue(),
	}
	f.draft = &models.Draft{OwnerID: owner, Action: enum.DraftActionCompose, Subject: "s"}
	require.NoError(t, f.store.Create(f.ctx, f.draft))
	_, err := f.tracker.MarkPending(f.ctx, owner, f.draft.ID, f.draft.Revision)
	require.NoError(t, err)
	return f
}

func (f *fixture) orchestrator(maxAttempts int, runners ...jobs.Runner) *orchestrator.Orchestrator {
	return orchestrator.New(config.OutboxConfig{
		Workers:      2,
		MaxAttempts:  maxAttempts,
		BackoffMin:   time.Nanosecond,
		BackoffMax:   time.Nanosecond,
		PollInterval: 10 * time.Millisecond,
	}, f.queue, f.store, f.tracker, logger.NewNopAppLogger(), runners...)
}

func (f *fixture) markSynced(t *testing.T) {
	t.Helper()
	_, err := f.tracker.CompleteDraftSync(f.ctx, owner, f.draft.ID, f.draft.Revision)
	require.NoError(t, err)
}

func (f *fixture) queued(t *testing.T) []*models.OutboxJob {
	t.Helper()
	all, err := f.queue.List(f.ctx)
	require.NoError(t, err)
	return all
}

func TestOrchestrator_RetryThenSuccess(t *testing.T) {
	// Arrange
	f := newFixture(t)
	runner := &stubRunner{kind: enum.JobKindSyncDraft, results: []jobs.Result{jobs.RetryableFailure{Reason: "503"}}}
	o := f.orchestrator(3, runner)
	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))

	// Act
	require.NoError(t, drain(t, o))

	// Assert
	assert.Equal(t, []int{1, 2}, runner.attempts)
	assert.Empty(t, f.queued(t))
}

func TestOrchestrator_RetriesExhaustedBecomeTerminal(t *testing.T) {
	f := newFixture(t)
	runner := &stubRunner{kind: enum.JobKindSyncDraft, results: []jobs.Result{
		jobs.RetryableFailure{Reason: "timeout"},
		jobs.RetryableFailure{Reason: "timeout"},
		jobs.RetryableFailure{Reason: "timeout"},
		jobs.RetryableFailure{Reason: "timeout"},
	}}
	o := f.orchestrator(3, runner)
	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))

	require.NoError(t, drain(t, o))

	assert.Equal(t, 3, runner.calls())
	state, err := f.tracker.Get(f.ctx, owner, f.draft.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncStatusErrorUploadDraft, state.Status)
	assert.Equal(t, "timeout", state.LastError)
	assert.Empty(t, f.queued(t))
}

func TestOrchestrator_TerminalFailureRecordsStateByKind(t *testing.T) {
	cases := []struct {
		kind   enum.JobKind
		status enum.DraftSyncStatus
	}{
		{enum.JobKindSyncDraft, enum.SyncStatusErrorUploadDraft},
		{enum.JobKindUploadAttachments, enum.SyncStatusErrorUploadAttachments},
		{enum.JobKindSendDraft, enum.SyncStatusErrorSending},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.markSynced(t)
			runner := &stubRunner{kind: tc.kind, results: []jobs.Result{
				jobs.TerminalFailure{Reason: "rejected", SendingError: enum.SendingErrorMessageSizeExceeded},
			}}
			o := f.orchestrator(3, runner)
			enqueue := map[enum.JobKind]func(context.Context, string, string) error{
				enum.JobKindSyncDraft:         o.EnqueueSync,
				enum.JobKindUploadAttachments: o.EnqueueUpload,
				enum.JobKindSendDraft:         o.EnqueueSend,
			}
			require.NoError(t, enqueue[tc.kind](f.ctx, owner, f.draft.ID))

			require.NoError(t, drain(t, o))

			state, err := f.tracker.Get(f.ctx, owner, f.draft.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, state.Status)
			assert.Equal(t, enum.SendingErrorMessageSizeExceeded, state.SendingError)
		})
	}
}

func TestOrchestrator_NotReadyDoesNotSpendAttempts(t *testing.T) {
	f := newFixture(t)
	runner := &stubRunner{kind: enum.JobKindSyncDraft, results: []jobs.Result{
		jobs.NotReady{Reason: "wait"},
		jobs.NotReady{Reason: "wait"},
		jobs.NotReady{Reason: "wait"},
	}}
	o := f.orchestrator(1, runner)
	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))

	require.NoError(t, drain(t, o))

	assert.Equal(t, []int{1, 1, 1, 1}, runner.attempts)
	state, err := f.tracker.Get(f.ctx, owner, f.draft.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncStatusPending, state.Status)
}

func TestOrchestrator_UploadWaitsForSync(t *testing.T) {
	// Arrange
	f := newFixture(t)
	var order []enum.JobKind
	syncRunner := &stubRunner{kind: enum.JobKindSyncDraft, order: &order}
	uploadRunner := &stubRunner{kind: enum.JobKindUploadAttachments, order: &order}
	sendRunner := &stubRunner{kind: enum.JobKindSendDraft, order: &order}
	o := f.orchestrator(3, syncRunner, uploadRunner, sendRunner)

	// send and upload are queued before the sync they depend on
	require.NoError(t, o.EnqueueSend(f.ctx, owner, f.draft.ID))
	require.NoError(t, o.EnqueueUpload(f.ctx, owner, f.draft.ID))

	// Act
	processed, err := o.RunOnce(f.ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))
	for i := 0; i < 50 && syncRunner.calls() == 0; i++ {
		_, err = o.RunOnce(f.ctx)
		require.NoError(t, err)
	}
	f.markSynced(t)
	require.NoError(t, drain(t, o))

	// Assert
	assert.Equal(t, []enum.JobKind{enum.JobKindSyncDraft, enum.JobKindUploadAttachments, enum.JobKindSendDraft}, order)
}

func TestOrchestrator_ChainStopsAfterTerminalSyncFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.FailDraftSync(f.ctx, owner, f.draft.ID, enum.SendingErrorNone, "rejected")
	require.NoError(t, err)
	uploadRunner := &stubRunner{kind: enum.JobKindUploadAttachments}
	sendRunner := &stubRunner{kind: enum.JobKindSendDraft}
	o := f.orchestrator(3, uploadRunner, sendRunner)
	require.NoError(t, o.EnqueueUpload(f.ctx, owner, f.draft.ID))
	require.NoError(t, o.EnqueueSend(f.ctx, owner, f.draft.ID))

	require.NoError(t, drain(t, o))

	assert.Equal(t, 0, uploadRunner.calls())
	assert.Equal(t, 0, sendRunner.calls())
	assert.Empty(t, f.queued(t))
}

func TestOrchestrator_PanicIsRetried(t *testing.T) {
	f := newFixture(t)
	runner := &stubRunner{kind: enum.JobKindSyncDraft, panicAt: 1}
	o := f.orchestrator(3, runner)
	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))

	require.NoError(t, drain(t, o))

	assert.Equal(t, 2, runner.calls())
	assert.Empty(t, f.queued(t))
}

func TestOrchestrator_EnqueueValidation(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(3)

	assert.Error(t, o.EnqueueSync(f.ctx, "", f.draft.ID))
	assert.Error(t, o.EnqueueSync(f.ctx, owner, ""))
}

func TestOrchestrator_EnqueueReplacesQueuedJob(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(3)

	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))
	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))

	assert.Len(t, f.queued(t), 1)
}

func TestOrchestrator_Recover(t *testing.T) {
	// Arrange
	f := newFixture(t)
	o := orchestrator.New(config.OutboxConfig{LeaseTimeout: time.Nanosecond}, f.queue, f.store, f.tracker, logger.NewNopAppLogger())

	// Act: the pending draft has no job yet
	report, err := o.Recover(f.ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, report.EnqueuedSyncs)
	require.Len(t, f.queued(t), 1)

	// a lease held by a dead worker is returned
	leased, err := f.queue.Dequeue(f.ctx, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, leased)
	time.Sleep(time.Millisecond)
	report, err = o.Recover(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RecoveredLeases)
	assert.Equal(t, 0, report.EnqueuedSyncs)
}

func TestOrchestrator_WorkersRunJobs(t *testing.T) {
	f := newFixture(t)
	runner := &stubRunner{kind: enum.JobKindSyncDraft}
	o := f.orchestrator(3, runner)

	o.Start(f.ctx)
	defer o.Stop()
	require.NoError(t, o.EnqueueSync(f.ctx, owner, f.draft.ID))

	require.Eventually(t, func() bool { return runner.calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.queued(t)) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func drain(t *testing.T, o *orchestrator.Orchestrator) error {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		processed, err := o.RunOnce(ctx)
		if err != nil || !processed {
			return err
		}
	}
	t.Fatal("queue did not become idle")
	return nil
}
