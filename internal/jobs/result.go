// Package jobs holds the outbox job bodies. A job never decides whether it
// is retried; it returns a Result and the orchestrator acts on it.
package jobs

import (
	"context"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/services/mailapi"
)

// Result is one of Success, RetryableFailure, TerminalFailure, NotReady or Skipped.
type Result interface {
	result()
}

type Success struct{}

// RetryableFailure is a transient transport failure.
type RetryableFailure struct {
	Reason string
}

// TerminalFailure stops the chain until the user retries.
type TerminalFailure struct {
	Reason       string
	SendingError enum.SendingError
}

// NotReady means a dependency has not completed yet. The job is requeued
// without counting against its attempt budget.
type NotReady struct {
	Reason string
}

// Skipped means the job has nothing left to do, for example the draft was
// discarded or an earlier stage failed terminally.
type Skipped struct {
	Reason string
}

func (Success) result()          {}
func (RetryableFailure) result() {}
func (TerminalFailure) result()  {}
func (NotReady) result()         {}
func (Skipped) result()          {}

// Runner executes one kind of outbox job.
type Runner interface {
	Kind() enum.JobKind
	Run(ctx context.Context, job *models.OutboxJob) Result
}

func failureOf(err error) Result {
	cl := mailapi.Classify(err)
	if cl.Retryable {
		return RetryableFailure{Reason: cl.Reason}
	}
	return TerminalFailure{Reason: cl.Reason, SendingError: cl.SendingError}
}

// Describe renders a result for logs and job records.
func Describe(r Result) string {
	switch v := r.(type) {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable: " + v.Reason
	case TerminalFailure:
		if v.SendingError != enum.SendingErrorNone {
			return "terminal (" + v.SendingError.String() + "): " + v.Reason
		}
		return "terminal: " + v.Reason
	case NotReady:
		return "not ready: " + v.Reason
	case Skipped:
		return "skipped: " + v.Reason
	default:
		return "unknown"
	}
}
