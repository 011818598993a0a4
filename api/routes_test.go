package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/draftsync/api"
	"github.com/customeros/draftsync/api/middleware"
	"github.com/customeros/draftsync/api/rest/handlers/drafts"
	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/outbox"
	"github.com/customeros/draftsync/internal/repository"
	"github.com/customeros/draftsync/services"
	"github.com/customeros/draftsync/services/mailapi/mailapitest"
	"github.com/customeros/draftsync/services/storage"
)

const (
	apiKey = "test-key"
	owner  = "owner-1"
)

type server struct {
	router *gin.Engine
	svcs   *services.Services
	api    *mailapitest.Fake
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := mailapitest.NewFake()
	svcs := services.InitServices(services.Dependencies{
		Repositories: repository.InitInMemoryRepositories(),
		Blobs:        storage.NewMemoryStorageService(),
		Queue:        outbox.NewInMemoryJobQueue(),
		MailAPI:      fake,
		Encryptor:    mailapitest.PlainEncryptor{},
		Outbox:       config.OutboxConfig{MaxAttempts: 3, BackoffMin: time.Nanosecond, BackoffMax: time.Nanosecond},
	}, logger.NewNopAppLogger())

	r := gin.New()
	api.RegisterRoutes(r, svcs.DraftService, svcs.Queue, api.RouteConfig{
		APIKey:  apiKey,
		Handler: drafts.Config{MaxAttachmentSize: 1024, StreamKeepAlive: time.Hour},
	})
	return &server{router: r, svcs: svcs, api: fake}
}

func (s *server) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAPIKey, apiKey)
	req.Header.Set(middleware.HeaderOwnerId, owner)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, s.svcs.Orchestrator.Drain(context.Background()))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createDraft(t *testing.T, s *server, to ...string) drafts.DraftResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/drafts", drafts.DraftRequest{
		Subject:     "hello",
		FromAddress: "me@example.com",
		ToAddresses: to,
		Body:        "<p>hi</p>",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[drafts.DraftResponse](t, w)
}

func TestHealth_NoAuth(t *testing.T) {
	s := newServer(t)
	w := httptest.NewRecorder()

	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthAndOwnerHeaders(t *testing.T) {
	s := newServer(t)

	noKey := httptest.NewRequest(http.MethodGet, "/v1/drafts", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, noKey)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	wrongKey := httptest.NewRequest(http.MethodGet, "/v1/drafts", nil)
	wrongKey.Header.Set(middleware.HeaderAPIKey, "nope")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, wrongKey)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	noOwner := httptest.NewRequest(http.MethodGet, "/v1/drafts", nil)
	noOwner.Header.Set(middleware.HeaderAPIKey, apiKey)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, noOwner)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestId))
}

func TestDrafts_CreateGetAfterReconcile(t *testing.T) {
	// Arrange
	s := newServer(t)
	created := createDraft(t, s, "you@example.com")
	assert.Equal(t, created.Id, created.LocalId)
	assert.Equal(t, int64(1), created.Revision)

	// Act
	s.drain(t)
	w := s.do(t, http.MethodGet, "/v1/drafts/"+created.LocalId, nil)

	// Assert: the local handle still resolves after the server assigned an id
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[drafts.DraftResponse](t, w)
	assert.Equal(t, "remote-1", got.Id)
	assert.Equal(t, created.LocalId, got.LocalId)

	list := decode[struct {
		Items []drafts.DraftResponse `json:"items"`
		Total int64                  `json:"total"`
	}](t, s.do(t, http.MethodGet, "/v1/drafts?limit=10", nil))
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Items, 1)

	state := decode[drafts.StateResponse](t, s.do(t, http.MethodGet, "/v1/drafts/remote-1/state", nil))
	assert.Equal(t, "synced", state.Status.String())
}

func TestDrafts_Validation(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/v1/drafts", drafts.DraftRequest{Action: "reply"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "parentId")

	w = s.do(t, http.MethodPost, "/v1/drafts", drafts.DraftRequest{MIMEType: "image/png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "mimeType")

	w = s.do(t, http.MethodGet, "/v1/drafts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDrafts_UpdateBumpsRevision(t *testing.T) {
	s := newServer(t)
	created := createDraft(t, s)

	w := s.do(t, http.MethodPut, "/v1/drafts/"+created.Id, drafts.DraftRequest{Subject: "edited"})

	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[drafts.DraftResponse](t, w)
	assert.Equal(t, "edited", updated.Subject)
	assert.Equal(t, int64(2), updated.Revision)
}

func TestDrafts_SendRequiresRecipients(t *testing.T) {
	s := newServer(t)
	created := createDraft(t, s)

	w := s.do(t, http.MethodPost, "/v1/drafts/"+created.Id+"/send", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDrafts_SendRemovesDraft(t *testing.T) {
	s := newServer(t)
	created := createDraft(t, s, "you@example.com")

	w := s.do(t, http.MethodPost, "/v1/drafts/"+created.Id+"/send", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	s.drain(t)

	assert.Len(t, s.api.Sends, 1)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/drafts/"+created.Id, nil).Code)

	status := decode[struct {
		Total int `json:"total"`
	}](t, s.do(t, http.MethodGet, "/status", nil))
	assert.Equal(t, 0, status.Total)
}

func TestAttachments_AddListDelete(t *testing.T) {
	// Arrange
	s := newServer(t)
	created := createDraft(t, s)
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("some notes"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("inline", "false"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/drafts/"+created.Id+"/attachments", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.HeaderAPIKey, apiKey)
	req.Header.Set(middleware.HeaderOwnerId, owner)

	// Act
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	// Assert
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	att := decode[drafts.AttachmentResponse](t, w)
	assert.Equal(t, "notes.txt", att.Filename)
	assert.Equal(t, int64(10), att.Size)
	assert.Equal(t, "pending", string(att.UploadStatus))

	list := decode[struct {
		Items []drafts.AttachmentResponse `json:"items"`
	}](t, s.do(t, http.MethodGet, "/v1/drafts/"+created.Id+"/attachments", nil))
	assert.Len(t, list.Items, 1)

	w = s.do(t, http.MethodDelete, "/v1/drafts/"+created.Id+"/attachments/"+att.Id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, "/v1/drafts/"+created.Id+"/attachments/"+att.Id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAttachments_TooLarge(t *testing.T) {
	s := newServer(t)
	created := createDraft(t, s)
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "big.bin")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 2048))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/drafts/"+created.Id+"/attachments", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.HeaderAPIKey, apiKey)
	req.Header.Set(middleware.HeaderOwnerId, owner)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestStateStream_ReplaysCurrentAndEndsOnDiscard(t *testing.T) {
	// Arrange
	s := newServer(t)
	created := createDraft(t, s)
	ts := httptest.NewServer(s.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/drafts/"+created.Id+"/state/stream", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.HeaderAPIKey, apiKey)
	req.Header.Set(middleware.HeaderOwnerId, owner)

	// Act
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	// Assert: the current state arrives without any change happening
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:state", strings.TrimSpace(line))
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, data, `"status":"pending"`)

	require.NoError(t, s.svcs.DraftService.DiscardDraft(context.Background(), owner, created.Id))
	for {
		if _, err = reader.ReadString('\n'); err != nil {
			break
		}
	}
	assert.NoError(t, ctx.Err(), "stream should end once the draft is gone")
}
