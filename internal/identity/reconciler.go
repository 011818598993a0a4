// Package identity tells local draft placeholders apart from server ids and
// swaps one for the other after the first successful create.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/tracing"
)

// IsLocal reports whether id is a client generated placeholder.
// Server ids are opaque and never UUID formatted.
func IsLocal(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

type Reconciler struct {
	drafts interfaces.DraftRepository
	queue  interfaces.JobQueue
	log    logger.Logger
}

func NewReconciler(drafts interfaces.DraftRepository, queue interfaces.JobQueue, log logger.Logger) *Reconciler {
	return &Reconciler{drafts: drafts, queue: queue, log: log}
}

func (r *Reconciler) IsLocal(id string) bool {
	return IsLocal(id)
}

// Reconcile replaces localID with remoteID in the draft store and in any
// pending job keys. Repeating it with the same pair is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID, localID, remoteID string) (*models.Draft, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Reconciler.Reconcile")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)
	span.SetTag("local-id", localID)
	span.SetTag("remote-id", remoteID)

	if !IsLocal(localID) {
		err := fmt.Errorf("reconcile: %s is not a local id", localID)
		tracing.TraceErr(span, err)
		return nil, err
	}
	if remoteID == "" || IsLocal(remoteID) {
		err := fmt.Errorf("reconcile: invalid remote id %q", remoteID)
		tracing.TraceErr(span, err)
		return nil, err
	}

	draft, err := r.drafts.ReassignID(ctx, ownerID, localID, remoteID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// jobs are moved even on a repeat call; a crash between the two steps
	// must not leave jobs keyed by the placeholder
	if err := r.queue.Rekey(ctx, localID, remoteID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	r.log.Info("draft id reconciled",
		zap.String("ownerId", ownerID),
		zap.String("localId", localID),
		zap.String("draftId", remoteID))
	return draft, nil
}
