package drafts

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
)

func (h *DraftsHandler) State() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.State", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		state, err := h.drafts.GetSyncState(ctx, utils.GetOwnerFromContext(ctx), c.Param("id"))
		if err != nil {
			respondWithError(c, span, err)
			return
		}
		if state == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft has no sync state"})
			return
		}
		c.JSON(http.StatusOK, toStateResponse(state))
	}
}

// StateStream pushes every state change as a server-sent "state" event,
// starting with the current value. The stream ends after the draft is
// deleted, which includes a successful send.
func (h *DraftsHandler) StateStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DraftsHandler.StateStream", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		updates, cancel, err := h.drafts.ObserveSyncState(ctx, utils.GetOwnerFromContext(ctx), c.Param("id"))
		if err != nil {
			respondWithError(c, span, err)
			return
		}
		defer cancel()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		keepAlive := time.NewTicker(h.cfg.StreamKeepAlive)
		defer keepAlive.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-keepAlive.C:
				_, err := io.WriteString(w, ": keep-alive\n\n")
				return err == nil
			case snap, ok := <-updates:
				if !ok {
					return false
				}
				c.SSEvent("state", snapshotResponse(snap))
				return !snap.Deleted
			}
		})
	}
}
