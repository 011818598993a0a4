package drafts

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/internal/tracing"
	draftservice "github.com/customeros/draftsync/services/drafts"
)

type DraftRequest struct {
	Action       enum.DraftAction `json:"action"`
	ParentId     string           `json:"parentId"`
	Subject      string           `json:"subject"`
	FromAddress  string           `json:"fromAddress"`
	FromName     string           `json:"fromName"`
	ToAddresses  []string         `json:"toAddresses"`
	CcAddresses  []string         `json:"ccAddresses"`
	BccAddresses []string         `json:"bccAddresses"`
	Body         string           `json:"body"`
	MIMEType     enum.MIMEType    `json:"mimeType"`
	Flags        []string         `json:"flags"`
}

func (r DraftRequest) content() models.DraftContent {
	return models.DraftContent{
		Subject:      r.Subject,
		FromAddress:  r.FromAddress,
		FromName:     r.FromName,
		ToAddresses:  r.ToAddresses,
		CcAddresses:  r.CcAddresses,
		BccAddresses: r.BccAddresses,
		Body:         r.Body,
		MIMEType:     r.MIMEType,
		Flags:        r.Flags,
	}
}

type DraftResponse struct {
	Id           string           `json:"id"`
	LocalId      string           `json:"localId"`
	Action       enum.DraftAction `json:"action"`
	ParentId     string           `json:"parentId,omitempty"`
	Subject      string           `json:"subject"`
	FromAddress  string           `json:"fromAddress"`
	FromName     string           `json:"fromName,omitempty"`
	ToAddresses  []string         `json:"toAddresses"`
	CcAddresses  []string         `json:"ccAddresses"`
	BccAddresses []string         `json:"bccAddresses"`
	Body         string           `json:"body"`
	MIMEType     enum.MIMEType    `json:"mimeType"`
	Flags        []string         `json:"flags,omitempty"`
	Revision     int64            `json:"revision"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

func toDraftResponse(d *models.Draft) DraftResponse {
	return DraftResponse{
		Id:           d.ID,
		LocalId:      d.LocalID,
		Action:       d.Action,
		ParentId:     d.ParentID,
		Subject:      d.Subject,
		FromAddress:  d.FromAddress,
		FromName:     d.FromName,
		ToAddresses:  nonNil(d.ToAddresses),
		CcAddresses:  nonNil(d.CcAddresses),
		BccAddresses: nonNil(d.BccAddresses),
		Body:         d.Body,
		MIMEType:     d.MIMEType,
		Flags:        d.Flags,
		Revision:     d.Revision,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type AttachmentResponse struct {
	Id           string                      `json:"id"`
	DraftId      string                      `json:"draftId"`
	Filename     string                      `json:"filename"`
	ContentType  string                      `json:"contentType"`
	ContentId    string                      `json:"contentId,omitempty"`
	Inline       bool                        `json:"inline"`
	Size         int64                       `json:"size"`
	UploadStatus enum.AttachmentUploadStatus `json:"uploadStatus"`
	RemoteId     string                      `json:"remoteId,omitempty"`
	LastError    string                      `json:"lastError,omitempty"`
}

func toAttachmentResponse(a *models.DraftAttachment) AttachmentResponse {
	return AttachmentResponse{
		Id:           a.ID,
		DraftId:      a.DraftID,
		Filename:     a.Filename,
		ContentType:  a.ContentType,
		ContentId:    a.ContentID,
		Inline:       a.IsInline,
		Size:         a.Size,
		UploadStatus: a.UploadStatus,
		RemoteId:     a.RemoteID,
		LastError:    a.LastError,
	}
}

type StateResponse struct {
	DraftId         string               `json:"draftId"`
	Status          enum.DraftSyncStatus `json:"status"`
	SendingError    enum.SendingError    `json:"sendingError,omitempty"`
	LastError       string               `json:"lastError,omitempty"`
	ContentRevision int64                `json:"contentRevision"`
	SyncedRevision  int64                `json:"syncedRevision"`
	Deleted         bool                 `json:"deleted,omitempty"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func toStateResponse(s *models.DraftSyncState) StateResponse {
	return StateResponse{
		DraftId:         s.DraftID,
		Status:          s.Status,
		SendingError:    s.SendingError,
		LastError:       s.LastError,
		ContentRevision: s.ContentRevision,
		SyncedRevision:  s.SyncedRevision,
		UpdatedAt:       s.UpdatedAt,
	}
}

func snapshotResponse(s syncstate.Snapshot) StateResponse {
	return StateResponse{
		DraftId:         s.DraftID,
		Status:          s.Status,
		SendingError:    s.SendingError,
		ContentRevision: s.ContentRevision,
		SyncedRevision:  s.SyncedRevision,
		Deleted:         s.Deleted,
		UpdatedAt:       s.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, draftsyncerrors.ErrDraftNotFound),
		errors.Is(err, draftsyncerrors.ErrAttachmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, draftservice.ErrRecipientsMissing),
		errors.Is(err, draftservice.ErrInvalidRecipient),
		errors.Is(err, draftservice.ErrInvalidSender):
		return http.StatusUnprocessableEntity
	case errors.Is(err, draftsyncerrors.ErrDraftAlreadySent):
		return http.StatusConflict
	case errors.Is(err, draftsyncerrors.ErrOwnerMissing),
		errors.Is(err, draftsyncerrors.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(c *gin.Context, span opentracing.Span, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		tracing.TraceErr(span, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
