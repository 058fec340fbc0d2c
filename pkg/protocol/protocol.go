// Package protocol defines the JSON frames exchanged over the chat socket
// and the wire shape of a chat message. It is shared by the server handlers
// and by pkg/chatclient.
package protocol

import (
	"encoding/json"
	"time"
)

// Client -> server events.
const (
	EventJoinRoom      = "joinRoom"
	EventLeaveRoom     = "leaveRoom"
	EventSendMessage   = "sendMessage"
	EventEditMessage   = "editMessage"
	EventDeleteMessage = "deleteMessage"
	EventTyping        = "typing"
)

// Server -> client events.
const (
	EventRoomJoined         = "roomJoined"
	EventRoomMembersUpdated = "roomMembersUpdated"
	EventMessage            = "message"
	EventMessageUpdated     = "messageUpdated"
	EventMessageDeleted     = "messageDeleted"
	EventError              = "error"
	EventAck                = "ack"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeValidation      = "validation"
	CodeUnauthorized    = "unauthorized"
	CodeRateLimited     = "rate_limited"
	CodeNotFound        = "not_found"
	CodeUnauthenticated = "unauthenticated"
	CodeInternal        = "internal"
)

// Envelope is a single socket frame. ID is set on requests that expect an
// acknowledgement and echoed on the matching ack frame.
type Envelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the body of an error event or a failed ack.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// Event and GroupID identify the request that failed, when known.
	Event   string `json:"event,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

func (e *ErrorPayload) Error() string {
	return e.Message
}

type RoomRequest struct {
	GroupID string `json:"groupId"`
}

type SendMessageRequest struct {
	GroupID         string `json:"groupId"`
	Text            string `json:"text,omitempty"`
	Type            string `json:"type,omitempty"`
	FileURL         string `json:"fileUrl,omitempty"`
	FileDownloadURL string `json:"fileDownloadUrl,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	FileMime        string `json:"fileMime,omitempty"`
	ReplyTo         string `json:"replyTo,omitempty"`
	ClientTempID    string `json:"clientTempId,omitempty"`
}

type EditMessageRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	GroupID   string `json:"groupId"`
}

type DeleteMessageRequest struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId"`
}

type TypingRequest struct {
	GroupID  string `json:"groupId"`
	IsTyping bool   `json:"isTyping"`
}

type RoomJoined struct {
	GroupID string `json:"groupId"`
}

// Member is one entry of a room membership snapshot.
type Member struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
}

type RoomMembers struct {
	GroupID string   `json:"groupId"`
	Members []Member `json:"members"`
	Admins  []string `json:"admins"`
}

type MessageUpdated struct {
	ID        string    `json:"_id"`
	Text      *string   `json:"text"`
	Edited    bool      `json:"edited"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId"`
}

type Typing struct {
	UserID   string `json:"userId"`
	GroupID  string `json:"groupId"`
	IsTyping bool   `json:"isTyping"`
}

// Sender identifies the author of a message.
type Sender struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
}

// Message is the canonical wire shape of a chat message. Optional fields are
// pointers so that a tombstone serializes text and file fields as null.
type Message struct {
	ID              string    `json:"_id,omitempty"`
	GroupID         string    `json:"groupId"`
	Sender          Sender    `json:"sender"`
	Type            string    `json:"type"`
	Text            *string   `json:"text"`
	FileURL         *string   `json:"fileUrl,omitempty"`
	FileDownloadURL *string   `json:"fileDownloadUrl,omitempty"`
	FileName        *string   `json:"fileName,omitempty"`
	FileSize        *int64    `json:"fileSize,omitempty"`
	FileMime        *string   `json:"fileMime,omitempty"`
	ReplyTo         string    `json:"replyTo,omitempty"`
	ClientTempID    string    `json:"clientTempId,omitempty"`
	Edited          bool      `json:"edited"`
	Deleted         bool      `json:"deleted"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Encode builds an envelope for event with payload marshalled as data.
func Encode(event string, id uint64, payload any) ([]byte, error) {
	env := Envelope{Event: event, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// EncodeError builds an error frame. When id is non-zero the frame is an ack
// carrying the failure; otherwise it is an error event.
func EncodeError(id uint64, p ErrorPayload) ([]byte, error) {
	if id != 0 {
		return json.Marshal(Envelope{Event: EventAck, ID: id, Error: &p})
	}
	return Encode(EventError, 0, p)
}
