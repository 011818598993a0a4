package jobs

import (
	"context"
	"sync"
)

// CancelRegistry tracks in-flight attachment uploads so a user delete can
// stop the request before more bytes are sent.
type CancelRegistry struct {
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{inflight: make(map[string]context.CancelFunc)}
}

func (r *CancelRegistry) register(ctx context.Context, attachmentID string) (context.Context, func()) {
	attCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.inflight[attachmentID] = cancel
	r.mu.Unlock()
	return attCtx, func() {
		r.mu.Lock()
		delete(r.inflight, attachmentID)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel reports whether an upload for attachmentID was in flight.
func (r *CancelRegistry) Cancel(attachmentID string) bool {
	r.mu.Lock()
	cancel, ok := r.inflight[attachmentID]
	delete(r.inflight, attachmentID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *CancelRegistry) InFlight(attachmentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[attachmentID]
	return ok
}
