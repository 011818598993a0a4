package dto

// Wire shapes of the remote mail API.

type Recipient struct {
	Address string `json:"Address"`
	Name    string `json:"Name,omitempty"`
}

type DraftTemplate struct {
	Subject  string      `json:"Subject"`
	Sender   Recipient   `json:"Sender"`
	ToList   []Recipient `json:"ToList"`
	CCList   []Recipient `json:"CCList"`
	BCCList  []Recipient `json:"BCCList"`
	Body     string      `json:"Body"`
	MIMEType string      `json:"MIMEType"`
	Flags    []string    `json:"Flags,omitempty"`
	Unread   bool        `json:"Unread"`
}

// Action values understood by the create-draft endpoint.
const (
	CreateDraftActionReply    = 0
	CreateDraftActionReplyAll = 1
	CreateDraftActionForward  = 2
)

type CreateDraftRequest struct {
	Message              DraftTemplate     `json:"Message"`
	ParentID             string            `json:"ParentID,omitempty"`
	Action               *int              `json:"Action,omitempty"`
	AttachmentKeyPackets map[string]string `json:"AttachmentKeyPackets,omitempty"`
}

type UpdateDraftRequest struct {
	Message              DraftTemplate     `json:"Message"`
	AttachmentKeyPackets map[string]string `json:"AttachmentKeyPackets,omitempty"`
}

type DraftResponse struct {
	ID string `json:"ID"`
}

// UploadAttachmentRequest becomes one multipart/form-data request.
type UploadAttachmentRequest struct {
	MessageID  string
	Filename   string
	MIMEType   string
	ContentID  string
	Inline     bool
	KeyPackets []byte
	DataPacket []byte
	Signature  []byte
}

type AttachmentResponse struct {
	ID         string `json:"ID"`
	KeyPackets string `json:"KeyPackets"`
	Signature  string `json:"Signature,omitempty"`
	Size       int64  `json:"Size"`
}

type SendMessageRequest struct {
	DeliveryTime int64 `json:"DeliveryTime,omitempty"`
}

type SendMessageResponse struct {
	SentMessageID string `json:"ID"`
}

type ErrorResponse struct {
	Code    int    `json:"Code"`
	Error   string `json:"Error"`
	Details string `json:"Details,omitempty"`
}
