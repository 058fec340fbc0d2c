package models

import (
	"fmt"
	"time"

	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

// MessageKind discriminates the Content variants of a Message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindPDF    MessageKind = "pdf"
	KindSystem MessageKind = "system"
)

// ParseMessageKind maps a wire type to a kind. An empty string is a text message.
func ParseMessageKind(s string) (MessageKind, bool) {
	switch MessageKind(s) {
	case "", KindText:
		return KindText, true
	case KindImage, KindFile, KindPDF, KindSystem:
		return MessageKind(s), true
	}
	return "", false
}

// IsAttachment reports whether messages of this kind carry a file.
func (k MessageKind) IsAttachment() bool {
	return k == KindImage || k == KindFile || k == KindPDF
}

// FileMeta is the opaque attachment metadata produced by the upload endpoint.
type FileMeta struct {
	URL         string `json:"url" bson:"url"`
	DownloadURL string `json:"download_url,omitempty" bson:"download_url,omitempty"`
	Name        string `json:"name,omitempty" bson:"name,omitempty"`
	Size        int64  `json:"size,omitempty" bson:"size,omitempty"`
	Mime        string `json:"mime,omitempty" bson:"mime,omitempty"`
}

// Content is the kind-specific body of a message.
type Content interface {
	Kind() MessageKind
	isContent()
}

type TextContent struct {
	Text string
}

type ImageContent struct {
	Caption string
	File    FileMeta
}

// FileContent covers both generic files and PDFs; PDF selects the kind.
type FileContent struct {
	Caption string
	File    FileMeta
	PDF     bool
}

type SystemContent struct {
	Text string
}

func (TextContent) Kind() MessageKind   { return KindText }
func (ImageContent) Kind() MessageKind  { return KindImage }
func (SystemContent) Kind() MessageKind { return KindSystem }

func (c FileContent) Kind() MessageKind {
	if c.PDF {
		return KindPDF
	}
	return KindFile
}

func (TextContent) isContent()   {}
func (ImageContent) isContent()  {}
func (FileContent) isContent()   {}
func (SystemContent) isContent() {}

// NewContent builds the variant for kind from the flat text/file fields.
func NewContent(kind MessageKind, text string, file *FileMeta) (Content, error) {
	if kind.IsAttachment() {
		if file == nil || file.URL == "" {
			return nil, fmt.Errorf("%s message requires a file url", kind)
		}
	} else if text == "" {
		return nil, fmt.Errorf("%s message requires text", kind)
	}

	switch kind {
	case KindText:
		return TextContent{Text: text}, nil
	case KindSystem:
		return SystemContent{Text: text}, nil
	case KindImage:
		return ImageContent{Caption: text, File: *file}, nil
	case KindFile, KindPDF:
		return FileContent{Caption: text, File: *file, PDF: kind == KindPDF}, nil
	}
	return nil, fmt.Errorf("unknown message kind %q", kind)
}

// Sender is the author reference attached to a message.
type Sender struct {
	ID       string
	Username string
}

// Message is a chat message in a group room. Content is nil once the message
// has been deleted; Kind is kept so the tombstone still renders in place.
type Message struct {
	ID           string
	GroupID      string
	Sender       Sender
	Kind         MessageKind
	Content      Content
	ReplyTo      string
	ClientTempID string
	Edited       bool
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Text returns the message text (or caption) and whether there is one.
func (m *Message) Text() (string, bool) {
	switch c := m.Content.(type) {
	case TextContent:
		return c.Text, true
	case SystemContent:
		return c.Text, true
	case ImageContent:
		return c.Caption, c.Caption != ""
	case FileContent:
		return c.Caption, c.Caption != ""
	}
	return "", false
}

// File returns the attachment of the message, if any.
func (m *Message) File() (FileMeta, bool) {
	switch c := m.Content.(type) {
	case ImageContent:
		return c.File, true
	case FileContent:
		return c.File, true
	}
	return FileMeta{}, false
}

// WithText returns a copy of the content with its text replaced.
func WithText(c Content, text string) Content {
	switch v := c.(type) {
	case TextContent:
		v.Text = text
		return v
	case SystemContent:
		v.Text = text
		return v
	case ImageContent:
		v.Caption = text
		return v
	case FileContent:
		v.Caption = text
		return v
	}
	return c
}

// Tombstone clears the content and marks the message deleted.
func (m *Message) Tombstone(at time.Time) {
	m.Deleted = true
	m.Content = nil
	m.UpdatedAt = at
}

// ToWire converts the message to its canonical wire shape.
func (m *Message) ToWire() protocol.Message {
	out := protocol.Message{
		ID:           m.ID,
		GroupID:      m.GroupID,
		Sender:       protocol.Sender{ID: m.Sender.ID, Username: m.Sender.Username},
		Type:         string(m.Kind),
		ReplyTo:      m.ReplyTo,
		ClientTempID: m.ClientTempID,
		Edited:       m.Edited,
		Deleted:      m.Deleted,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Deleted {
		return out
	}
	if text, ok := m.Text(); ok {
		out.Text = &text
	}
	if f, ok := m.File(); ok {
		out.FileURL = &f.URL
		out.FileDownloadURL = optional(f.DownloadURL)
		out.FileName = optional(f.Name)
		out.FileMime = optional(f.Mime)
		if f.Size > 0 {
			size := f.Size
			out.FileSize = &size
		}
	}
	return out
}

// MessageFromWire rebuilds a message from its wire shape.
func MessageFromWire(w protocol.Message) (*Message, error) {
	kind, ok := ParseMessageKind(w.Type)
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", w.Type)
	}
	m := &Message{
		ID:           w.ID,
		GroupID:      w.GroupID,
		Sender:       Sender{ID: w.Sender.ID, Username: w.Sender.Username},
		Kind:         kind,
		ReplyTo:      w.ReplyTo,
		ClientTempID: w.ClientTempID,
		Edited:       w.Edited,
		Deleted:      w.Deleted,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
	if w.Deleted {
		return m, nil
	}
	var file *FileMeta
	if w.FileURL != nil {
		file = &FileMeta{
			URL:         *w.FileURL,
			DownloadURL: deref(w.FileDownloadURL),
			Name:        deref(w.FileName),
			Mime:        deref(w.FileMime),
		}
		if w.FileSize != nil {
			file.Size = *w.FileSize
		}
	}
	content, err := NewContent(kind, deref(w.Text), file)
	if err != nil {
		return nil, err
	}
	m.Content = content
	return m, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
