package drafts

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
	draftservice "github.com/customeros/draftsync/services/drafts"
)

// AddAttachment accepts multipart/form-data with a "file" part plus optional
// contentId and inline fields.
func (h *DraftsHandler) AddAttachment() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.AddAttachment", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxAttachmentSize+1<<20)
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required", "details": err.Error()})
			return
		}
		if header.Size > h.cfg.MaxAttachmentSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment is too large"})
			return
		}

		file, err := header.Open()
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
			return
		}
		defer file.Close()
		content, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxAttachmentSize+1))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
			return
		}
		if int64(len(content)) > h.cfg.MaxAttachmentSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment is too large"})
			return
		}

		inline, _ := strconv.ParseBool(c.PostForm("inline"))
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = http.DetectContentType(content)
		}

		attachment, err := h.drafts.AddAttachment(ctx, utils.GetOwnerFromContext(ctx), c.Param("id"), draftservice.AttachmentInput{
			Filename:    header.Filename,
			ContentType: contentType,
			ContentID:   c.PostForm("contentId"),
			Inline:      inline,
			Content:     content,
		})
		if err != nil {
			respondWithError(c, span, err)
			return
		}
		span.SetTag("attachment.id", attachment.ID)

		c.JSON(http.StatusCreated, toAttachmentResponse(attachment))
	}
}

func (h *DraftsHandler) ListAttachments() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.ListAttachments", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		attachments, err := h.drafts.ListAttachments(ctx, utils.GetOwnerFromContext(ctx), c.Param("id"))
		if err != nil {
			respondWithError(c, span, err)
			return
		}
		items := make([]AttachmentResponse, 0, len(attachments))
		for _, a := range attachments {
			items = append(items, toAttachmentResponse(a))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// DeleteAttachment removes the attachment, cancelling an upload in flight.
func (h *DraftsHandler) DeleteAttachment() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.DeleteAttachment", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		span.SetTag("attachment.id", c.Param("attachmentId"))

		if err := h.drafts.DeleteAttachment(ctx, utils.GetOwnerFromContext(ctx), c.Param("attachmentId")); err != nil {
			respondWithError(c, span, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
