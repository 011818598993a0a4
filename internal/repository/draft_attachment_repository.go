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

type draftAttachmentRepository struct {
	db *gorm.DB
}

func NewDraftAttachmentRepository(db *gorm.DB) interfaces.DraftAttachmentRepository {
	return &draftAttachmentRepository{db: db}
}

func (r *draftAttachmentRepository) Create(ctx context.Context, attachment *models.DraftAttachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftAttachmentRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if attachment.OwnerID == "" || attachment.DraftID == "" {
		return draftsyncerrors.ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Create(attachment).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create draft attachment: %w", err)
	}
	return nil
}

func (r *draftAttachmentRepository) Get(ctx context.Context, ownerID, id string) (*models.DraftAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftAttachmentRepository.Get")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var attachment models.DraftAttachment
	err := r.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).First(&attachment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get draft attachment: %w", err)
	}
	return &attachment, nil
}

func (r *draftAttachmentRepository) ListByDraft(ctx context.Context, ownerID, draftID string) ([]*models.DraftAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftAttachmentRepository.ListByDraft")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, draftID)

	var attachments []*models.DraftAttachment
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND draft_id = ?", ownerID, draftID).
		Order("created_at ASC").
		Find(&attachments).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list draft attachments: %w", err)
	}
	return attachments, nil
}

func (r *draftAttachmentRepository) Update(ctx context.Context, ownerID, id string, fn func(*models.DraftAttachment) error) (*models.DraftAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftAttachmentRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var updated models.DraftAttachment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var attachment models.DraftAttachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ? AND id = ?", ownerID, id).
			First(&attachment).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return draftsyncerrors.ErrAttachmentNotFound
			}
			return err
		}
		draftID := attachment.DraftID
		if err := fn(&attachment); err != nil {
			return err
		}
		attachment.ID, attachment.OwnerID, attachment.DraftID = id, ownerID, draftID
		if err := tx.Save(&attachment).Error; err != nil {
			return err
		}
		updated = attachment
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &updated, nil
}

func (r *draftAttachmentRepository) Delete(ctx context.Context, ownerID, id string) (*models.DraftAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftAttachmentRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var deleted *models.DraftAttachment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var attachment models.DraftAttachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ? AND id = ?", ownerID, id).
			First(&attachment).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Delete(&attachment).Error; err != nil {
			return err
		}
		deleted = &attachment
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to delete draft attachment: %w", err)
	}
	return deleted, nil
}

func (r *draftAttachmentRepository) DeleteByDraft(ctx context.Context, ownerID, draftID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "draftAttachmentRepository.DeleteByDraft")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, draftID)

	err := r.db.WithContext(ctx).Where("owner_id = ? AND draft_id = ?", ownerID, draftID).Delete(&models.DraftAttachment{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete draft attachments: %w", err)
	}
	return nil
}
