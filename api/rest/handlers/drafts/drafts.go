package drafts

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	custom_err "github.com/customeros/draftsync/api/errors"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
	draftservice "github.com/customeros/draftsync/services/drafts"
)

func (h *DraftsHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.Create", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var request DraftRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
			return
		}
		if request.Action == "" {
			request.Action = enum.DraftActionCompose
		}
		if errs := validateDraftRequest(ctx, &request, true); errs.HasErrors() {
			c.JSON(http.StatusBadRequest, errs)
			return
		}

		draft, err := h.drafts.CreateDraft(ctx, utils.GetOwnerFromContext(ctx), draftservice.CreateDraftInput{
			Action:   request.Action,
			ParentID: request.ParentId,
			Content:  request.content(),
		})
		if err != nil {
			respondWithError(c, span, err)
			return
		}
		tracing.TagDraft(span, draft.ID)

		c.JSON(http.StatusCreated, toDraftResponse(draft))
	}
}

func (h *DraftsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.List", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		limit := queryInt(c, "limit", 50, 200)
		offset := queryInt(c, "offset", 0, 0)

		drafts, total, err := h.drafts.ListDrafts(ctx, utils.GetOwnerFromContext(ctx), limit, offset)
		if err != nil {
			respondWithError(c, span, err)
			return
		}

		items := make([]DraftResponse, 0, len(drafts))
		for _, d := range drafts {
			items = append(items, toDraftResponse(d))
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
	}
}

func (h *DraftsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.Get", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		draft, err := h.drafts.GetDraft(ctx, utils.GetOwnerFromContext(ctx), c.Param("id"))
		if err != nil {
			respondWithError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, toDraftResponse(draft))
	}
}

// Update replaces the editable content. Action and parent are fixed at creation.
func (h *DraftsHandler) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.Update", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var request DraftRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
			return
		}
		if errs := validateDraftRequest(ctx, &request, false); errs.HasErrors() {
			c.JSON(http.StatusBadRequest, errs)
			return
		}

		draft, err := h.drafts.UpdateDraft(ctx, utils.GetOwnerFromContext(ctx), c.Param("id"), request.content())
		if err != nil {
			respondWithError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, toDraftResponse(draft))
	}
}

func (h *DraftsHandler) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.Delete", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if err := h.drafts.DiscardDraft(ctx, utils.GetOwnerFromContext(ctx), c.Param("id")); err != nil {
			respondWithError(c, span, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *DraftsHandler) Sync() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.Sync", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if err := h.drafts.RequestSync(ctx, utils.GetOwnerFromContext(ctx), c.Param("id")); err != nil {
			respondWithError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

func (h *DraftsHandler) Send() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.Send", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if err := h.drafts.RequestSend(ctx, utils.GetOwnerFromContext(ctx), c.Param("id")); err != nil {
			respondWithError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

// validateDraftRequest checks shape only. Recipients are validated when a
// send is requested since a draft may be saved half written.
func validateDraftRequest(ctx context.Context, request *DraftRequest, creating bool) *custom_err.MultiErrors {
	span, _ := opentracing.StartSpanFromContext(ctx, "DraftsHandler.validateDraftRequest")
	defer span.Finish()

	errs := custom_err.NewMultiErrors()

	if creating {
		if !request.Action.IsValid() {
			errs.Add("action", "action must be one of compose, reply, reply_all, forward", errors.New("invalid action"))
		} else if request.Action.RequiresParent() && request.ParentId == "" {
			errs.Add("parentId", "parentId is required for "+request.Action.String(), errors.New("parent missing"))
		}
	}
	switch request.MIMEType {
	case "", enum.MIMETypeHTML, enum.MIMETypePlainText:
	default:
		errs.Add("mimeType", "mimeType must be text/html or text/plain", errors.New("invalid mime type"))
	}

	if errs.HasErrors() {
		tracing.TraceErr(span, errs)
	}
	return errs
}
