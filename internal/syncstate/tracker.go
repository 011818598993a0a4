// Package syncstate records, per draft, which outbox stage last succeeded or
// failed and streams every change to subscribers.
package syncstate

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/pubsub"
	"github.com/customeros/draftsync/internal/tracing"
)

type Key struct {
	OwnerID string
	DraftID string
}

// Snapshot is what subscribers see. Deleted is set on the final value after
// a successful send or a discard.
type Snapshot struct {
	OwnerID         string               `json:"ownerId"`
	DraftID         string               `json:"draftId"`
	Status          enum.DraftSyncStatus `json:"status"`
	SendingError    enum.SendingError    `json:"sendingError,omitempty"`
	ContentRevision int64                `json:"contentRevision"`
	SyncedRevision  int64                `json:"syncedRevision"`
	Deleted         bool                 `json:"deleted,omitempty"`
	Version         int64                `json:"version"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func snapshotOf(s *models.DraftSyncState) Snapshot {
	return Snapshot{
		OwnerID:         s.OwnerID,
		DraftID:         s.DraftID,
		Status:          s.Status,
		SendingError:    s.SendingError,
		ContentRevision: s.ContentRevision,
		SyncedRevision:  s.SyncedRevision,
		Version:         s.Version,
		UpdatedAt:       s.UpdatedAt,
	}
}

type Tracker struct {
	repo     interfaces.DraftSyncStateRepository
	broker   *pubsub.Broker[Key, Snapshot]
	notifier interfaces.SyncStateNotifier
	log      logger.Logger

	// publishMu orders the version check against the broker publish.
	publishMu sync.Mutex
}

// NewTracker builds a tracker. notifier may be nil.
func NewTracker(repo interfaces.DraftSyncStateRepository, notifier interfaces.SyncStateNotifier, log logger.Logger) *Tracker {
	return &Tracker{
		repo:     repo,
		broker:   pubsub.NewBroker[Key, Snapshot](8),
		notifier: notifier,
		log:      log,
	}
}

func (t *Tracker) Get(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	return t.repo.Get(ctx, ownerID, draftID)
}

func (t *Tracker) ListByStatus(ctx context.Context, statuses ...enum.DraftSyncStatus) ([]*models.DraftSyncState, error) {
	return t.repo.ListByStatus(ctx, statuses...)
}

// MarkPending records a local change. revision is the draft revision after
// the change, or zero when only attachments changed.
func (t *Tracker) MarkPending(ctx context.Context, ownerID, draftID string, revision int64) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, "MarkPending", func(s *models.DraftSyncState) {
		if revision > s.ContentRevision {
			s.ContentRevision = revision
		}
		s.Status = enum.SyncStatusPending
		s.SendingError = enum.SendingErrorNone
		s.LastError = ""
	})
}

func (t *Tracker) RequestSend(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, "RequestSend", func(s *models.DraftSyncState) {
		s.SendRequested = true
		if s.Status.IsError() {
			s.Status = enum.SyncStatusPending
			s.SendingError = enum.SendingErrorNone
			s.LastError = ""
		}
	})
}

func (t *Tracker) BeginDraftSync(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, "BeginDraftSync", func(s *models.DraftSyncState) {
		s.Status = enum.SyncStatusSyncingDraft
	})
}

// CompleteDraftSync records that the server holds revision. If a newer edit
// arrived meanwhile the draft goes back to pending instead of synced.
func (t *Tracker) CompleteDraftSync(ctx context.Context, ownerID, draftID string, revision int64) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, "CompleteDraftSync", func(s *models.DraftSyncState) {
		if revision > s.SyncedRevision {
			s.SyncedRevision = revision
		}
		if s.SyncedRevision > s.ContentRevision {
			s.ContentRevision = s.SyncedRevision
		}
		s.SendingError = enum.SendingErrorNone
		s.LastError = ""
		if s.SyncedRevision >= s.ContentRevision {
			s.Status = enum.SyncStatusSynced
		} else {
			s.Status = enum.SyncStatusPending
		}
	})
}

func (t *Tracker) FailDraftSync(ctx context.Context, ownerID, draftID string, sendingError enum.SendingError, reason string) (*models.DraftSyncState, error) {
	return t.fail(ctx, ownerID, draftID, "FailDraftSync", enum.SyncStatusErrorUploadDraft, sendingError, reason)
}

func (t *Tracker) BeginUpload(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, "BeginUpload", func(s *models.DraftSyncState) {
		s.Status = enum.SyncStatusUploadingAttachments
	})
}

func (t *Tracker) CompleteUpload(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, "CompleteUpload", func(s *models.DraftSyncState) {
		s.SendingError = enum.SendingErrorNone
		s.LastError = ""
		if s.DraftSynced() {
			s.Status = enum.SyncStatusSynced
		} else {
			s.Status = enum.SyncStatusPending
		}
	})
}

func (t *Tracker) FailUpload(ctx context.Context, ownerID, draftID string, sendingError enum.SendingError, reason string) (*models.DraftSyncState, error) {
	return t.fail(ctx, ownerID, draftID, "FailUpload", enum.SyncStatusErrorUploadAttachments, sendingError, reason)
}

func (t *Tracker) BeginSend(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, "BeginSend", func(s *models.DraftSyncState) {
		s.Status = enum.SyncStatusSending
	})
}

func (t *Tracker) FailSend(ctx context.Context, ownerID, draftID string, sendingError enum.SendingError, reason string) (*models.DraftSyncState, error) {
	return t.fail(ctx, ownerID, draftID, "FailSend", enum.SyncStatusErrorSending, sendingError, reason)
}

// CompleteSend publishes the terminal state and removes the record.
func (t *Tracker) CompleteSend(ctx context.Context, ownerID, draftID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Tracker.CompleteSend")
	defer span.Finish()
	tracing.TagDraft(span, draftID)

	state, err := t.repo.Get(ctx, ownerID, draftID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if state == nil {
		state = &models.DraftSyncState{OwnerID: ownerID, DraftID: draftID}
	}
	state.Status = enum.SyncStatusSent
	state.SendingError = enum.SendingErrorNone

	if err := t.repo.Delete(ctx, ownerID, draftID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	t.finish(ctx, state)
	return nil
}

// Forget drops the state of a discarded draft.
func (t *Tracker) Forget(ctx context.Context, ownerID, draftID string) error {
	state, err := t.repo.Get(ctx, ownerID, draftID)
	if err != nil {
		return err
	}
	if err := t.repo.Delete(ctx, ownerID, draftID); err != nil {
		return err
	}
	if state == nil {
		state = &models.DraftSyncState{OwnerID: ownerID, DraftID: draftID, Status: enum.SyncStatusPending}
	}
	t.finish(ctx, state)
	return nil
}

// Rename moves live subscriptions from a local placeholder to the remote id.
// The stored row is moved by the draft repository.
func (t *Tracker) Rename(ownerID, localID, remoteID string) {
	t.broker.Rename(Key{OwnerID: ownerID, DraftID: localID}, Key{OwnerID: ownerID, DraftID: remoteID})
}

// Subscribe streams the state of a draft, starting with its current value.
func (t *Tracker) Subscribe(ctx context.Context, ownerID, draftID string) (<-chan Snapshot, func(), error) {
	key := Key{OwnerID: ownerID, DraftID: draftID}
	if _, ok := t.broker.Last(key); !ok {
		state, err := t.repo.Get(ctx, ownerID, draftID)
		if err != nil {
			return nil, nil, err
		}
		if state != nil {
			t.publishLatest(snapshotOf(state))
		}
	}
	ch, cancel := t.broker.Subscribe(ctx, key)
	return ch, cancel, nil
}

func (t *Tracker) fail(ctx context.Context, ownerID, draftID, op string, status enum.DraftSyncStatus, sendingError enum.SendingError, reason string) (*models.DraftSyncState, error) {
	return t.transition(ctx, ownerID, draftID, op, func(s *models.DraftSyncState) {
		s.Status = status
		s.SendingError = sendingError
		s.LastError = reason
	})
}

func (t *Tracker) transition(ctx context.Context, ownerID, draftID, op string, fn func(*models.DraftSyncState)) (*models.DraftSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Tracker."+op)
	defer span.Finish()
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, draftID)

	var from enum.DraftSyncStatus
	state, err := t.repo.Modify(ctx, ownerID, draftID, func(s *models.DraftSyncState) error {
		from = s.Status
		fn(s)
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		t.log.Error("failed to update sync state",
			zap.String("ownerId", ownerID), zap.String("draftId", draftID), zap.String("op", op), zap.Error(err))
		return nil, err
	}
	span.SetTag("status", state.Status.String())

	t.log.Debug("sync state transition",
		zap.String("ownerId", ownerID),
		zap.String("draftId", draftID),
		zap.String("from", from.String()),
		zap.String("to", state.Status.String()),
		zap.String("sendingError", state.SendingError.String()))

	t.publish(ctx, snapshotOf(state))
	return state, nil
}

func (t *Tracker) finish(ctx context.Context, state *models.DraftSyncState) {
	snap := snapshotOf(state)
	snap.Deleted = true
	t.publish(ctx, snap)
	t.broker.Close(Key{OwnerID: state.OwnerID, DraftID: state.DraftID})
}

// publishLatest hands snap to the broker unless a newer version of the
// same draft was published already. Transitions commit in version order
// but may reach here in any order.
func (t *Tracker) publishLatest(snap Snapshot) bool {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()
	key := Key{OwnerID: snap.OwnerID, DraftID: snap.DraftID}
	if last, ok := t.broker.Last(key); ok && !snap.Deleted && snap.Version < last.Version {
		return false
	}
	t.broker.Publish(key, snap)
	return true
}

func (t *Tracker) publish(ctx context.Context, snap Snapshot) {
	if !t.publishLatest(snap) {
		t.log.Debug("stale sync state not published",
			zap.String("ownerId", snap.OwnerID), zap.String("draftId", snap.DraftID), zap.Int64("version", snap.Version))
		return
	}
	if t.notifier == nil {
		return
	}
	err := t.notifier.NotifySyncStateChanged(ctx, dto.DraftSyncStateChanged{
		OwnerId:      snap.OwnerID,
		DraftId:      snap.DraftID,
		Status:       snap.Status,
		SendingError: snap.SendingError,
		Revision:     snap.SyncedRevision,
		Version:      snap.Version,
		Deleted:      snap.Deleted,
	})
	if err != nil {
		t.log.Warn("failed to notify sync state change",
			zap.String("ownerId", snap.OwnerID), zap.String("draftId", snap.DraftID), zap.Error(err))
	}
}
