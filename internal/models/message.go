package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ChatMessage is an immutable message posted to a chat.
type ChatMessage struct {
	ID        int         `db:"id" json:"id"`
	ChatID    int         `db:"chat_id" json:"chatId"`
	SenderID  int         `db:"sender_id" json:"senderId"`
	Message   string      `db:"message" json:"message"`
	Files     Attachments `db:"files" json:"files"`
	MediaPath *string     `db:"media_path" json:"mediaPath,omitempty"`
	MediaName *string     `db:"media_name" json:"mediaName,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
	Sender    *UserRef    `db:"-" json:"sender,omitempty"`
	Chat      *Chat       `db:"-" json:"chat,omitempty"`
}

// Attachment describes a file stored under the tenant's chats directory.
type Attachment struct {
	Name      string             `json:"name"`
	Size      int64              `json:"size"`
	Type      string             `json:"type"`
	URL       string             `json:"url"`
	Thumbnail string             `json:"thumbnail,omitempty"`
	Metadata  AttachmentMetadata `json:"metadata"`
}

// AttachmentMetadata carries media details; fields are omitted when unknown.
type AttachmentMetadata struct {
	Duration            *float64 `json:"duration,omitempty"`
	Format              string   `json:"format,omitempty"`
	UniversalCompatible bool     `json:"universalCompatible,omitempty"`
}

// Attachments is persisted as a JSON column.
type Attachments []Attachment

// Value implements driver.Valuer. A string is returned so lib/pq sends it as
// text for JSONB columns.
func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attachments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = Attachments{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attachments: unsupported source type %T", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*a = Attachments{}
		return nil
	}
	var out Attachments
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("attachments: %w", err)
	}
	*a = out
	return nil
}

// Event actions published on realtime channels.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionNewMessage = "new-message"
)

// ChatEvent is pushed to subscribers. It carries enough denormalized data that
// clients can render the change without fetching.
type ChatEvent struct {
	Action     string       `json:"action"`
	Record     *Chat        `json:"record,omitempty"`
	Chat       *Chat        `json:"chat,omitempty"`
	NewMessage *ChatMessage `json:"newMessage,omitempty"`
	ID         int          `json:"id,omitempty"`
	UserID     int          `json:"userId,omitempty"`
}
