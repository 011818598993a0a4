package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/tracing"
)

type draftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) interfaces.DraftRepository {
	return &draftRepository{db: db}
}

func byDraftIdentifier(db *gorm.DB, ownerID, id string) *gorm.DB {
	return db.Where("owner_id = ? AND (id = ? OR local_id = ?)", ownerID, id, id)
}

func (r *draftRepository) Create(ctx context.Context, draft *models.Draft) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if draft.OwnerID == "" {
		return draftsyncerrors.ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Create(draft).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create draft: %w", err)
	}
	tracing.TagEntity(span, draft.ID)
	return nil
}

func (r *draftRepository) Get(ctx context.Context, ownerID, id string) (*models.Draft, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftRepository.Get")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var draft models.Draft
	if err := byDraftIdentifier(r.db.WithContext(ctx), ownerID, id).First(&draft).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return &draft, nil
}

func (r *draftRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Draft, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftRepository.List")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Draft{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to count drafts: %w", err)
	}

	var drafts []*models.Draft
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&drafts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, count, nil
}

func (r *draftRepository) Update(ctx context.Context, ownerID, id string, fn func(*models.Draft) error) (*models.Draft, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var updated models.Draft
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var draft models.Draft
		err := byDraftIdentifier(tx.Clauses(clause.Locking{Strength: "UPDATE"}), ownerID, id).First(&draft).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return draftsyncerrors.ErrDraftNotFound
			}
			return err
		}

		currentID, localID := draft.ID, draft.LocalID
		if err := fn(&draft); err != nil {
			return err
		}
		// identity only changes through ReassignID
		draft.ID, draft.LocalID, draft.OwnerID = currentID, localID, ownerID

		if err := tx.Save(&draft).Error; err != nil {
			return err
		}
		updated = draft
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &updated, nil
}

func (r *draftRepository) Delete(ctx context.Context, ownerID, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if err := byDraftIdentifier(r.db.WithContext(ctx), ownerID, id).Delete(&models.Draft{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

func (r *draftRepository) ReassignID(ctx context.Context, ownerID, localID, remoteID string) (*models.Draft, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftRepository.ReassignID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("local-id", localID)
	span.SetTag("remote-id", remoteID)

	var result models.Draft
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var draft models.Draft
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ? AND local_id = ?", ownerID, localID).
			First(&draft).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return draftsyncerrors.ErrDraftNotFound
			}
			return err
		}
		if draft.ID == remoteID {
			result = draft
			return nil
		}
		if draft.ID != localID {
			return fmt.Errorf("draft %s already reconciled to %s", localID, draft.ID)
		}

		if err := tx.Model(&models.Draft{}).Where("id = ?", localID).Update("id", remoteID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.DraftAttachment{}).
			Where("owner_id = ? AND draft_id = ?", ownerID, localID).
			Update("draft_id", remoteID).Error; err != nil {
			return err
		}
		if err := moveSyncState(tx, ownerID, localID, remoteID); err != nil {
			return err
		}
		draft.ID = remoteID
		result = draft
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to reassign draft id: %w", err)
	}
	return &result, nil
}

// moveSyncState rekeys the state row of localID. A row already stored under
// remoteID is kept instead when it has the higher version.
func moveSyncState(tx *gorm.DB, ownerID, localID, remoteID string) error {
	var states []models.DraftSyncState
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND draft_id IN ?", ownerID, []string{localID, remoteID}).
		Find(&states).Error; err != nil {
		return err
	}
	var local, remote *models.DraftSyncState
	for i := range states {
		switch states[i].DraftID {
		case localID:
			local = &states[i]
		case remoteID:
			remote = &states[i]
		}
	}
	if local == nil {
		return nil
	}
	if remote != nil {
		loser := remote.DraftID
		if remote.Version >= local.Version {
			loser = local.DraftID
		}
		if err := tx.Where("owner_id = ? AND draft_id = ?", ownerID, loser).Delete(&models.DraftSyncState{}).Error; err != nil {
			return err
		}
		if loser == localID {
			return nil
		}
	}
	return tx.Model(&models.DraftSyncState{}).
		Where("owner_id = ? AND draft_id = ?", ownerID, localID).
		Update("draft_id", remoteID).Error
}
