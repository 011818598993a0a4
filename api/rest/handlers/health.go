package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/tracing"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

type QueueStatus struct {
	Total   int                       `json:"total"`
	ByKind  map[string]int            `json:"byKind"`
	ByState map[string]int            `json:"byState"`
	Failing map[string]map[string]int `json:"failing,omitempty"`
}

// Status summarizes the outbox. Failing counts jobs that already failed at
// least once, grouped by kind and last error.
func Status(queue interfaces.JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "Status", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		jobs, err := queue.List(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbox unavailable"})
			return
		}

		status := QueueStatus{
			Total:   len(jobs),
			ByKind:  map[string]int{},
			ByState: map[string]int{},
			Failing: map[string]map[string]int{},
		}
		for _, job := range jobs {
			status.ByKind[job.Kind.String()]++
			status.ByState[job.State.String()]++
			if job.LastError == "" {
				continue
			}
			if status.Failing[job.Kind.String()] == nil {
				status.Failing[job.Kind.String()] = map[string]int{}
			}
			status.Failing[job.Kind.String()][job.LastError]++
		}
		c.JSON(http.StatusOK, status)
	}
}
