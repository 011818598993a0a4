package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrOwnerMissing = errors.New("owner is missing")
	ErrInvalidInput = errors.New("invalid input")

	// draft errors
	ErrDraftNotFound      = errors.New("draft not found")
	ErrDraftIDStillLocal  = errors.New("draft id has not been assigned by the server")
	ErrDraftNotSynced     = errors.New("draft content is not synced")
	ErrDraftAlreadySent   = errors.New("draft already sent")
	ErrAttachmentsPending = errors.New("draft attachments are not uploaded")

	// attachment errors
	ErrAttachmentNotFound  = errors.New("attachment not found")
	ErrAttachmentCancelled = errors.New("attachment upload cancelled")

	// outbox errors
	ErrQueueClosed = errors.New("job queue closed")
)
