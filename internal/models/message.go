package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// MessageKind is the variant tag of a message
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindFile  MessageKind = "file"
)

// MaxContentLength bounds the text payload of a message
const MaxContentLength = 4000

var (
	ErrEmptyMessage   = errors.New("message has neither content nor attachments")
	ErrContentTooLong = fmt.Errorf("message content too long (max %d characters)", MaxContentLength)
	ErrKindMismatch   = errors.New("message kind does not match its payload")
)

// Message is a chat message in a team room.
//
// The envelope (ID, team, sender, timestamp, reactions) is shared by every
// kind; Content and Attachments form the kind-specific payload. A text message
// carries content only, the other kinds carry at least one attachment and an
// optional caption.
type Message struct {
	ID          uuid.UUID    `json:"id"`
	TeamID      uuid.UUID    `json:"team_id"`
	SenderID    uuid.UUID    `json:"sender_id"`
	Sender      *User        `json:"sender,omitempty"`
	Kind        MessageKind  `json:"kind"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions"`
	Mentions    []uuid.UUID  `json:"mentions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Attachment is a file attached to a message, addressed by (message id, index)
type Attachment struct {
	Index     int    `json:"index"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MediaType string `json:"type"`
	Size      int64  `json:"size"`
}

// AttachmentPath is the REST path an attachment is downloaded from
func AttachmentPath(teamID, messageID uuid.UUID, index int) string {
	return fmt.Sprintf("/api/teams/%s/messages/%s/attachments/%d", teamID, messageID, index)
}

// NewMessage creates a new text message
func NewMessage(teamID, senderID uuid.UUID, content string) *Message {
	return &Message{
		ID:        uuid.New(),
		TeamID:    teamID,
		SenderID:  senderID,
		Kind:      KindText,
		Content:   content,
		Reactions: []Reaction{},
		CreatedAt: time.Now().UTC(),
	}
}

// AddAttachment appends an attachment and re-derives the kind from the first
// attachment's media type.
func (m *Message) AddAttachment(a Attachment) {
	a.Index = len(m.Attachments)
	m.Attachments = append(m.Attachments, a)
	m.Kind = KindFromMediaType(m.Attachments[0].MediaType)
}

// Attachment returns the attachment at index
func (m *Message) Attachment(index int) (Attachment, bool) {
	if index < 0 || index >= len(m.Attachments) {
		return Attachment{}, false
	}
	return m.Attachments[index], true
}

// HasAttachments reports whether the message carries files
func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Validate checks that the payload matches the kind
func (m *Message) Validate() error {
	if len(m.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	switch m.Kind {
	case KindText:
		if strings.TrimSpace(m.Content) == "" {
			return ErrEmptyMessage
		}
		if m.HasAttachments() {
			return ErrKindMismatch
		}
	case KindImage, KindVideo, KindFile:
		if !m.HasAttachments() {
			return ErrKindMismatch
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// KindFromMediaType infers the message kind from an attachment's media type
func KindFromMediaType(mediaType string) MessageKind {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case strings.HasPrefix(mediaType, "video/"):
		return KindVideo
	default:
		return KindFile
	}
}

// ExtractMentions resolves "@Display Name" references in content to the IDs of
// active members. A reference must start the text or follow whitespace, and the
// name must be followed by the end of the text, whitespace or punctuation.
// Longer names win when one name is a prefix of another.
func ExtractMentions(content string, members []Member) []uuid.UUID {
	lower := strings.ToLower(content)
	var mentions []uuid.UUID
	seen := make(map[uuid.UUID]bool)

	for _, m := range members {
		if !m.IsActive() || m.DisplayName == "" || seen[m.UserID] {
			continue
		}
		needle := "@" + strings.ToLower(m.DisplayName)
		for offset := 0; ; {
			i := strings.Index(lower[offset:], needle)
			if i < 0 {
				break
			}
			start := offset + i
			end := start + len(needle)
			if mentionBoundaryBefore(lower, start) && mentionBoundaryAfter(lower, end) {
				seen[m.UserID] = true
				mentions = append(mentions, m.UserID)
				break
			}
			offset = start + 1
		}
	}
	return mentions
}

func mentionBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return unicode.IsSpace(r)
}

func mentionBoundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return unicode.IsSpace(r) || (r < unicode.MaxASCII && unicode.IsPunct(r))
}
