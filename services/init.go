package services

import (
	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/draftstore"
	"github.com/customeros/draftsync/internal/identity"
	"github.com/customeros/draftsync/internal/jobs"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/orchestrator"
	"github.com/customeros/draftsync/internal/repository"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/services/drafts"
)

// Dependencies are the pieces chosen by configuration.
type Dependencies struct {
	Repositories *repository.Repositories
	Blobs        interfaces.StorageService
	Queue        interfaces.JobQueue
	MailAPI      interfaces.MailAPI
	Encryptor    interfaces.Encryptor
	// Notifier may be nil.
	Notifier interfaces.SyncStateNotifier
	Outbox   config.OutboxConfig
}

type Services struct {
	Store        *draftstore.Store
	Tracker      *syncstate.Tracker
	Reconciler   *identity.Reconciler
	Queue        interfaces.JobQueue
	Cancels      *jobs.CancelRegistry
	Orchestrator *orchestrator.Orchestrator
	DraftService *drafts.Service
}

func InitServices(deps Dependencies, log logger.Logger) *Services {
	store := draftstore.NewStore(deps.Repositories.DraftRepository, deps.Repositories.DraftAttachmentRepository, deps.Blobs)
	tracker := syncstate.NewTracker(deps.Repositories.DraftSyncStateRepository, deps.Notifier, log)
	reconciler := identity.NewReconciler(deps.Repositories.DraftRepository, deps.Queue, log)
	cancels := jobs.NewCancelRegistry()

	orch := orchestrator.New(deps.Outbox, deps.Queue, store, tracker, log,
		jobs.NewDraftSyncJob(store, tracker, reconciler, deps.MailAPI, deps.Encryptor, log),
		jobs.NewAttachmentUploadJob(store, tracker, deps.MailAPI, deps.Encryptor, deps.Queue, cancels, log),
		jobs.NewSendJob(store, tracker, deps.MailAPI, deps.Queue, log),
		jobs.NewDeleteAttachmentJob(deps.MailAPI, log),
	)

	return &Services{
		Store:        store,
		Tracker:      tracker,
		Reconciler:   reconciler,
		Queue:        deps.Queue,
		Cancels:      cancels,
		Orchestrator: orch,
		DraftService: drafts.NewDraftService(store, tracker, orch, cancels, log),
	}
}
