// Package mailapi is the HTTP transport to the remote mail server.
package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/tracing"
)

const (
	headerOwnerID = "X-Owner-Id"

	pathMessages    = "/mail/v4/messages"
	pathAttachments = "/mail/v4/attachments"
)

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	codes      SendingErrorCodes
	log        logger.Logger
}

func NewClient(cfg *config.MailAPIConfig, log logger.Logger) (interfaces.MailAPI, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("mail api url is not configured")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, errors.Wrap(err, "invalid mail api url")
	}
	codes, err := ParseSendingErrorCodes(cfg.SendingErrorCodes)
	if err != nil {
		return nil, err
	}
	return &client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		codes:      codes,
		log:        log,
	}, nil
}

func (c *client) CreateDraft(ctx context.Context, ownerID string, req *dto.CreateDraftRequest) (*dto.DraftResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailAPI.CreateDraft")
	defer span.Finish()
	tracing.TagComponentMailAPI(span)
	tracing.TagOwner(span, ownerID)

	var envelope struct {
		Message dto.DraftResponse `json:"Message"`
	}
	if err := c.doJSON(ctx, span, http.MethodPost, pathMessages, ownerID, req, &envelope); err != nil {
		return nil, err
	}
	if envelope.Message.ID == "" {
		err := &APIError{StatusCode: http.StatusOK, Message: "create draft response has no id", Retryable: true}
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogFields(tracingLog.String("remoteId", envelope.Message.ID))
	return &envelope.Message, nil
}

func (c *client) UpdateDraft(ctx context.Context, ownerID, remoteID string, req *dto.UpdateDraftRequest) (*dto.DraftResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailAPI.UpdateDraft")
	defer span.Finish()
	tracing.TagComponentMailAPI(span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, remoteID)

	var envelope struct {
		Message dto.DraftResponse `json:"Message"`
	}
	err := c.doJSON(ctx, span, http.MethodPut, pathMessages+"/"+url.PathEscape(remoteID), ownerID, req, &envelope)
	if err != nil {
		return nil, err
	}
	if envelope.Message.ID == "" {
		envelope.Message.ID = remoteID
	}
	return &envelope.Message, nil
}

func (c *client) UploadAttachment(ctx context.Context, ownerID string, req *dto.UploadAttachmentRequest) (*dto.AttachmentResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailAPI.UploadAttachment")
	defer span.Finish()
	tracing.TagComponentMailAPI(span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, req.MessageID)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"MessageID": req.MessageID,
		"Filename":  req.Filename,
		"MIMEType":  req.MIMEType,
	}
	if req.ContentID != "" {
		fields["ContentID"] = req.ContentID
	}
	if req.Inline {
		fields["Disposition"] = "inline"
	} else {
		fields["Disposition"] = "attachment"
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	parts := []struct {
		name string
		data []byte
	}{
		{"KeyPackets", req.KeyPackets},
		{"DataPacket", req.DataPacket},
		{"Signature", req.Signature},
	}
	for _, p := range parts {
		if p.data == nil {
			continue
		}
		part, err := writer.CreateFormFile(p.name, "blob")
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		if _, err = part.Write(p.data); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var envelope struct {
		Attachment dto.AttachmentResponse `json:"Attachment"`
	}
	if err := c.do(ctx, span, http.MethodPost, pathAttachments, ownerID, writer.FormDataContentType(), body, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Attachment, nil
}

func (c *client) DeleteAttachment(ctx context.Context, ownerID, remoteAttachmentID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailAPI.DeleteAttachment")
	defer span.Finish()
	tracing.TagComponentMailAPI(span)
	tracing.TagOwner(span, ownerID)
	tracing.TagEntity(span, remoteAttachmentID)

	err := c.do(ctx, span, http.MethodDelete, pathAttachments+"/"+url.PathEscape(remoteAttachmentID), ownerID, "", nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		// already gone
		return nil
	}
	return err
}

func (c *client) SendMessage(ctx context.Context, ownerID, remoteID string, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailAPI.SendMessage")
	defer span.Finish()
	tracing.TagComponentMailAPI(span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, remoteID)

	if req == nil {
		req = &dto.SendMessageRequest{}
	}
	var envelope struct {
		Sent dto.SendMessageResponse `json:"Sent"`
	}
	if err := c.doJSON(ctx, span, http.MethodPost, pathMessages+"/"+url.PathEscape(remoteID), ownerID, req, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Sent, nil
}

func (c *client) doJSON(ctx context.Context, span opentracing.Span, method, path, ownerID string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		err = errors.Wrap(err, "failed to encode request")
		tracing.TraceErr(span, err)
		return err
	}
	return c.do(ctx, span, method, path, ownerID, "application/json", bytes.NewReader(payload), out)
}

func (c *client) do(ctx context.Context, span opentracing.Span, method, path, ownerID, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerOwnerID, ownerID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req = tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "failed to call mail api"))
		return err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "failed to read mail api response"))
		return err
	}
	span.LogFields(tracingLog.Int("statusCode", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := c.toAPIError(resp.StatusCode, responseBody)
		tracing.TraceErr(span, apiErr)
		c.log.Warn("mail api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("statusCode", resp.StatusCode),
			zap.Int("code", apiErr.Code),
			zap.Bool("retryable", apiErr.Retryable))
		return apiErr
	}
	if out == nil || len(responseBody) == 0 {
		return nil
	}
	if err = json.Unmarshal(responseBody, out); err != nil {
		err = &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid response body: %v", err), Retryable: true}
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (c *client) toAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Retryable: retryableStatus(status)}
	var errResp dto.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Code != 0 || errResp.Error != "") {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if sendingError, ok := c.codes[apiErr.Code]; ok {
		apiErr.SendingError = sendingError
		apiErr.Retryable = false
	}
	return apiErr
}
