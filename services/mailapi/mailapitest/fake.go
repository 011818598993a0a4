// Package mailapitest provides an in-process mail API for tests.
package mailapitest

import (
	"context"
	"fmt"
	"sync"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/interfaces"
)

type UpdateCall struct {
	RemoteID string
	Request  dto.UpdateDraftRequest
}

// Fake records every call. Hooks run before the call is recorded and may
// return an error to fail it.
type Fake struct {
	mu sync.Mutex

	Creates  []dto.CreateDraftRequest
	Updates  []UpdateCall
	Uploads  []dto.UploadAttachmentRequest
	Deletes  []string
	Sends    []string
	calls    int
	nextID   int
	subjects map[string]string

	OnCreate func(ctx context.Context, req *dto.CreateDraftRequest) error
	OnUpdate func(ctx context.Context, remoteID string, req *dto.UpdateDraftRequest) error
	OnUpload func(ctx context.Context, req *dto.UploadAttachmentRequest) error
	OnDelete func(ctx context.Context, remoteAttachmentID string) error
	OnSend   func(ctx context.Context, remoteID string) error
}

func NewFake() *Fake {
	return &Fake{subjects: make(map[string]string)}
}

var _ interfaces.MailAPI = (*Fake)(nil)

func (f *Fake) CreateDraft(ctx context.Context, _ string, req *dto.CreateDraftRequest) (*dto.DraftResponse, error) {
	f.count()
	if f.OnCreate != nil {
		if err := f.OnCreate(ctx, req); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.Creates = append(f.Creates, *req)
	f.subjects[id] = req.Message.Subject
	return &dto.DraftResponse{ID: id}, nil
}

func (f *Fake) UpdateDraft(ctx context.Context, _ string, remoteID string, req *dto.UpdateDraftRequest) (*dto.DraftResponse, error) {
	f.count()
	if f.OnUpdate != nil {
		if err := f.OnUpdate(ctx, remoteID, req); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, UpdateCall{RemoteID: remoteID, Request: *req})
	f.subjects[remoteID] = req.Message.Subject
	return &dto.DraftResponse{ID: remoteID}, nil
}

func (f *Fake) UploadAttachment(ctx context.Context, _ string, req *dto.UploadAttachmentRequest) (*dto.AttachmentResponse, error) {
	f.count()
	if f.OnUpload != nil {
		if err := f.OnUpload(ctx, req); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads = append(f.Uploads, *req)
	return &dto.AttachmentResponse{
		ID:   fmt.Sprintf("ratt-%d", len(f.Uploads)),
		Size: int64(len(req.DataPacket)),
	}, nil
}

func (f *Fake) DeleteAttachment(ctx context.Context, _ string, remoteAttachmentID string) error {
	f.count()
	if f.OnDelete != nil {
		if err := f.OnDelete(ctx, remoteAttachmentID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes = append(f.Deletes, remoteAttachmentID)
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, _ string, remoteID string, _ *dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	f.count()
	if f.OnSend != nil {
		if err := f.OnSend(ctx, remoteID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sends = append(f.Sends, remoteID)
	return &dto.SendMessageResponse{SentMessageID: "sent-" + remoteID}, nil
}

func (f *Fake) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

// Calls is the number of requests made, failed ones included.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Subject is the last subject the server stored for remoteID.
func (f *Fake) Subject(remoteID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subjects[remoteID]
}

func (f *Fake) UploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Uploads)
}

// PlainEncryptor returns its input unchanged.
type PlainEncryptor struct{}

func (PlainEncryptor) EncryptBody(_ context.Context, _ string, body []byte) ([]byte, error) {
	return append([]byte(nil), body...), nil
}

func (PlainEncryptor) EncryptAttachment(_ context.Context, _ string, content []byte) (*interfaces.EncryptedAttachment, error) {
	return &interfaces.EncryptedAttachment{
		KeyPackets: []byte("keys"),
		DataPacket: append([]byte(nil), content...),
		Signature:  []byte("sig"),
	}, nil
}
