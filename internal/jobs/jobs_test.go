package jobs_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/internal/draftstore"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/identity"
	"github.com/customeros/draftsync/internal/jobs"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/outbox"
	"github.com/customeros/draftsync/internal/repository"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/services/mailapi"
	"github.com/customeros/draftsync/services/mailapi/mailapitest"
	"github.com/customeros/draftsync/services/storage"
)

const owner = "owner-1"

type fixture struct {
	ctx        context.Context
	store      *draftstore.Store
	tracker    *syncstate.Tracker
	reconciler *identity.Reconciler
	queue      interfaces.JobQueue
	api        *mailapitest.Fake
	cancels    *jobs.CancelRegistry
}

func newFixture() *fixture {
	log := logger.NewNopAppLogger()
	repos := repository.InitInMemoryRepositories()
	queue := outbox.NewInMemoryJobQueue()
	return &fixture{
		ctx:        context.Background(),
		store:      draftstore.NewStore(repos.DraftRepository, repos.DraftAttachmentRepository, storage.NewMemoryStorageService()),
		tracker:    syncstate.NewTracker(repos.DraftSyncStateRepository, nil, log),
		reconciler: identity.NewReconciler(repos.DraftRepository, queue, log),
		queue:      queue,
		api:        mailapitest.NewFake(),
		cancels:    jobs.NewCancelRegistry(),
	}
}

func (f *fixture) syncJob() *jobs.DraftSyncJob {
	return jobs.NewDraftSyncJob(f.store, f.tracker, f.reconciler, f.api, mailapitest.PlainEncryptor{}, logger.NewNopAppLogger())
}

func (f *fixture) uploadJob() *jobs.AttachmentUploadJob {
	return jobs.NewAttachmentUploadJob(f.store, f.tracker, f.api, mailapitest.PlainEncryptor{}, f.queue, f.cancels, logger.NewNopAppLogger())
}

func (f *fixture) sendJob() *jobs.SendJob {
	return jobs.NewSendJob(f.store, f.tracker, f.api, f.queue, logger.NewNopAppLogger())
}

func (f *fixture) newDraft(t *testing.T, subject string) *models.Draft {
	t.Helper()
	draft := &models.Draft{OwnerID: owner, Action: enum.DraftActionCompose}
	draft.ApplyContent(models.DraftContent{Subject: subject, ToAddresses: []string{"bob@example.com"}})
	require.NoError(t, f.store.Create(f.ctx, draft))
	_, err := f.tracker.MarkPending(f.ctx, owner, draft.ID, draft.Revision)
	require.NoError(t, err)
	return draft
}

func jobFor(kind enum.JobKind, draftID string) *models.OutboxJob {
	return &models.OutboxJob{Kind: kind, OwnerID: owner, DraftID: draftID, Attempt: 1}
}

func TestSendJob_FailsFastOnLocalID(t *testing.T) {
	// Arrange
	f := newFixture()
	draft := f.newDraft(t, "hi")

	// Act
	result := f.sendJob().Run(f.ctx, jobFor(enum.JobKindSendDraft, draft.ID))

	// Assert
	assert.IsType(t, jobs.TerminalFailure{}, result)
	assert.Equal(t, 0, f.api.Calls())
}

func TestSendJob_NotReadyUntilSynced(t *testing.T) {
	f := newFixture()
	draft := f.newDraft(t, "hi")
	_, err := f.reconciler.Reconcile(f.ctx, owner, draft.ID, "remote-9")
	require.NoError(t, err)

	result := f.sendJob().Run(f.ctx, jobFor(enum.JobKindSendDraft, "remote-9"))

	assert.IsType(t, jobs.NotReady{}, result)
	assert.Equal(t, 0, f.api.Calls())
}

func TestSendJob_NotReadyWithPendingAttachments(t *testing.T) {
	f := newFixture()
	draft := f.newDraft(t, "hi")
	require.IsType(t, jobs.Success{}, f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, draft.ID)))
	require.NoError(t, f.store.AddAttachment(f.ctx, &models.DraftAttachment{OwnerID: owner, DraftID: draft.ID, Filename: "a"}, []byte("a")))

	result := f.sendJob().Run(f.ctx, jobFor(enum.JobKindSendDraft, draft.ID))

	assert.IsType(t, jobs.NotReady{}, result)
	assert.Empty(t, f.api.Sends)
}

func TestSendJob_SuccessRemovesDraft(t *testing.T) {
	f := newFixture()
	draft := f.newDraft(t, "hi")
	require.IsType(t, jobs.Success{}, f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, draft.ID)))

	result := f.sendJob().Run(f.ctx, jobFor(enum.JobKindSendDraft, draft.ID))

	assert.IsType(t, jobs.Success{}, result)
	gone, err := f.store.Get(f.ctx, owner, draft.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	state, err := f.tracker.Get(f.ctx, owner, "remote-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestDraftSyncJob_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected jobs.Result
	}{
		{
			name:     "transient",
			err:      &mailapi.APIError{StatusCode: http.StatusBadGateway, Retryable: true, Message: "bad gateway"},
			expected: jobs.RetryableFailure{},
		},
		{
			name:     "already sent",
			err:      &mailapi.APIError{StatusCode: http.StatusUnprocessableEntity, Code: 2500, SendingError: enum.SendingErrorMessageAlreadySent},
			expected: jobs.TerminalFailure{},
		},
		{
			name:     "timeout",
			err:      context.DeadlineExceeded,
			expected: jobs.RetryableFailure{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			draft := f.newDraft(t, "x")
			f.api.OnCreate = func(context.Context, *dto.CreateDraftRequest) error { return tc.err }

			result := f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, draft.ID))

			assert.IsType(t, tc.expected, result)
			if terminal, ok := result.(jobs.TerminalFailure); ok {
				assert.Equal(t, enum.SendingErrorMessageAlreadySent, terminal.SendingError)
			}
			stillLocal, err := f.store.Get(f.ctx, owner, draft.ID)
			require.NoError(t, err)
			assert.True(t, identity.IsLocal(stillLocal.ID))
		})
	}
}

func TestDraftSyncJob_SkipsDiscardedDraft(t *testing.T) {
	f := newFixture()

	result := f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, "3f7d8a52-5c1e-4b8e-9a57-0d35b4a0f001"))

	assert.IsType(t, jobs.Skipped{}, result)
	assert.Equal(t, 0, f.api.Calls())
}

func TestDraftSyncJob_SendsUploadedKeyPackets(t *testing.T) {
	f := newFixture()
	draft := f.newDraft(t, "x")
	require.IsType(t, jobs.Success{}, f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, draft.ID)))
	require.NoError(t, f.store.AddAttachment(f.ctx, &models.DraftAttachment{OwnerID: owner, DraftID: draft.ID, Filename: "a"}, []byte("a")))
	require.IsType(t, jobs.Success{}, f.uploadJob().Run(f.ctx, jobFor(enum.JobKindUploadAttachments, "remote-1")))

	require.IsType(t, jobs.Success{}, f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, "remote-1")))

	require.Len(t, f.api.Updates, 1)
	assert.Contains(t, f.api.Updates[0].Request.AttachmentKeyPackets, "ratt-1")
}

func TestAttachmentUploadJob_NotReadyOnLocalID(t *testing.T) {
	f := newFixture()
	draft := f.newDraft(t, "x")
	require.NoError(t, f.store.AddAttachment(f.ctx, &models.DraftAttachment{OwnerID: owner, DraftID: draft.ID, Filename: "a"}, []byte("a")))

	result := f.uploadJob().Run(f.ctx, jobFor(enum.JobKindUploadAttachments, draft.ID))

	assert.IsType(t, jobs.NotReady{}, result)
	assert.Equal(t, 0, f.api.Calls())
}

func TestAttachmentUploadJob_MostActionableSendingErrorWins(t *testing.T) {
	// Arrange
	f := newFixture()
	draft := f.newDraft(t, "x")
	require.IsType(t, jobs.Success{}, f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, draft.ID)))
	for _, name := range []string{"large", "sent", "fine"} {
		require.NoError(t, f.store.AddAttachment(f.ctx, &models.DraftAttachment{OwnerID: owner, DraftID: "remote-1", Filename: name}, []byte(name)))
	}
	f.api.OnUpload = func(_ context.Context, req *dto.UploadAttachmentRequest) error {
		switch req.Filename {
		case "large":
			return &mailapi.APIError{StatusCode: 422, Code: 2011, SendingError: enum.SendingErrorAttachmentTooLarge}
		case "sent":
			return &mailapi.APIError{StatusCode: 422, Code: 2500, SendingError: enum.SendingErrorMessageAlreadySent}
		}
		return nil
	}

	// Act
	result := f.uploadJob().Run(f.ctx, jobFor(enum.JobKindUploadAttachments, "remote-1"))

	// Assert
	terminal, ok := result.(jobs.TerminalFailure)
	require.True(t, ok, "got %s", jobs.Describe(result))
	assert.Equal(t, enum.SendingErrorMessageAlreadySent, terminal.SendingError)
	pending, err := f.store.PendingAttachments(f.ctx, owner, "remote-1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Equal(t, 1, f.api.UploadCount())
}

func TestAttachmentUploadJob_RetryClassification(t *testing.T) {
	f := newFixture()
	draft := f.newDraft(t, "x")
	require.IsType(t, jobs.Success{}, f.syncJob().Run(f.ctx, jobFor(enum.JobKindSyncDraft, draft.ID)))
	require.NoError(t, f.store.AddAttachment(f.ctx, &models.DraftAttachment{OwnerID: owner, DraftID: "remote-1", Filename: "a"}, []byte("a")))
	f.api.OnUpload = func(context.Context, *dto.UploadAttachmentRequest) error {
		return errors.New("connection reset")
	}

	result := f.uploadJob().Run(f.ctx, jobFor(enum.JobKindUploadAttachments, "remote-1"))

	assert.IsType(t, jobs.TerminalFailure{}, result, "plain errors are not network errors")

	f.api.OnUpload = func(context.Context, *dto.UploadAttachmentRequest) error {
		return &mailapi.APIError{StatusCode: http.StatusServiceUnavailable, Retryable: true}
	}
	result = f.uploadJob().Run(f.ctx, jobFor(enum.JobKindUploadAttachments, "remote-1"))
	assert.IsType(t, jobs.RetryableFailure{}, result)
}

func TestDeleteAttachmentJob(t *testing.T) {
	f := newFixture()
	job := jobs.NewDeleteAttachmentJob(f.api, logger.NewNopAppLogger())

	skipped := job.Run(f.ctx, &models.OutboxJob{Kind: enum.JobKindDeleteAttachment, OwnerID: owner, AttachmentID: "att_1"})
	assert.IsType(t, jobs.Skipped{}, skipped)

	done := job.Run(f.ctx, &models.OutboxJob{Kind: enum.JobKindDeleteAttachment, OwnerID: owner, AttachmentID: "att_1", RemoteAttachmentID: "ratt-1"})
	assert.IsType(t, jobs.Success{}, done)
	assert.Equal(t, []string{"ratt-1"}, f.api.Deletes)
}

func TestCancelRegistry(t *testing.T) {
	r := jobs.NewCancelRegistry()
	assert.False(t, r.Cancel("att_1"))
	assert.False(t, r.InFlight("att_1"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "success", jobs.Describe(jobs.Success{}))
	assert.Equal(t, "retryable: x", jobs.Describe(jobs.RetryableFailure{Reason: "x"}))
	assert.Equal(t, "terminal (MessageAlreadySent): y", jobs.Describe(jobs.TerminalFailure{Reason: "y", SendingError: enum.SendingErrorMessageAlreadySent}))
	assert.Equal(t, "not ready: z", jobs.Describe(jobs.NotReady{Reason: "z"}))
}
