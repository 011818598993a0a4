package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
)

type draftSyncStateRepository struct {
	db *gorm.DB
}

func NewDraftSyncStateRepository(db *gorm.DB) interfaces.DraftSyncStateRepository {
	return &draftSyncStateRepository{db: db}
}

// currentDraftID maps a local id to the id the draft carries now. Ids with
// no draft row are returned unchanged. With lock set the draft row is held
// in share mode, which orders the caller against a concurrent ReassignID.
func currentDraftID(tx *gorm.DB, ownerID, draftID string, lock bool) (string, error) {
	query := tx.Model(&models.Draft{}).Select("id")
	if lock {
		query = query.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var ids []string
	if err := byDraftIdentifier(query, ownerID, draftID).Limit(1).Pluck("id", &ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return draftID, nil
	}
	return ids[0], nil
}

func (r *draftSyncStateRepository) Get(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftSyncStateRepository.Get")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, draftID)

	db := r.db.WithContext(ctx)
	draftID, err := currentDraftID(db, ownerID, draftID, false)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get draft sync state: %w", err)
	}
	var state models.DraftSyncState
	err = db.Where("owner_id = ? AND draft_id = ?", ownerID, draftID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get draft sync state: %w", err)
	}
	return &state, nil
}

func (r *draftSyncStateRepository) Modify(ctx context.Context, ownerID, draftID string, fn func(*models.DraftSyncState) error) (*models.DraftSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftSyncStateRepository.Modify")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, draftID)

	var result models.DraftSyncState
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draftID, err := currentDraftID(tx, ownerID, draftID, true)
		if err != nil {
			return err
		}
		now := utils.Now()
		initial := models.DraftSyncState{
			OwnerID:   ownerID,
			DraftID:   draftID,
			Status:    enum.SyncStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&initial).Error; err != nil {
			return err
		}

		var state models.DraftSyncState
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ? AND draft_id = ?", ownerID, draftID).
			First(&state).Error
		if err != nil {
			return err
		}
		if err := fn(&state); err != nil {
			return err
		}
		state.OwnerID, state.DraftID = ownerID, draftID
		state.Version++
		state.UpdatedAt = utils.Now()
		if err := tx.Save(&state).Error; err != nil {
			return err
		}
		result = state
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &result, nil
}

func (r *draftSyncStateRepository) Delete(ctx context.Context, ownerID, draftID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftSyncStateRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, draftID)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draftID, err := currentDraftID(tx, ownerID, draftID, true)
		if err != nil {
			return err
		}
		return tx.Where("owner_id = ? AND draft_id = ?", ownerID, draftID).Delete(&models.DraftSyncState{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete draft sync state: %w", err)
	}
	return nil
}

func (r *draftSyncStateRepository) ListByStatus(ctx context.Context, statuses ...enum.DraftSyncStatus) ([]*models.DraftSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftSyncStateRepository.ListByStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var states []*models.DraftSyncState
	query := r.db.WithContext(ctx)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Order("updated_at ASC").Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list draft sync states: %w", err)
	}
	return states, nil
}
