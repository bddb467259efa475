package model

import (
	"errors"
	"time"
)

type MessageKind int

const (
	MessageKindText MessageKind = iota
	MessageKindImage
	MessageKindDocument
	MessageKindAudio
	MessageKindSticker
	MessageKindVideo
	MessageKindUnknown
)

func (k MessageKind) String() string {
	switch k {
	case MessageKindText:
		return "text"
	case MessageKindImage:
		return "image"
	case MessageKindDocument:
		return "document"
	case MessageKindAudio:
		return "audio"
	case MessageKindSticker:
		return "sticker"
	case MessageKindVideo:
		return "video"
	}
	return "unknown"
}

type Message struct {
	ID                int64         `json:"id"`
	ThreadID          int64         `json:"thread_id"`
	Sender            string        `json:"sender"`
	DisplayName       *string       `json:"display_name,omitempty"`
	Text              *string       `json:"text,omitempty"`
	TimestampUTC      time.Time     `json:"timestamp_utc"`
	ExternalTimestamp *int64        `json:"external_timestamp,omitempty"`
	DirectionIn       bool          `json:"direction_in"`
	MediaURL          *string       `json:"media_url,omitempty"`
	MediaMime         *string       `json:"media_mime,omitempty"`
	MediaType         *string       `json:"media_type,omitempty"`
	MediaCaption      *string       `json:"media_caption,omitempty"`
	HasMedia          bool          `json:"has_media"`
	RawPayload        string        `json:"-"`
	ExternalID        *string       `json:"external_id,omitempty"`
	RawHash           string        `json:"raw_hash"`
	Kind              MessageKind   `json:"message_kind"`
	Reaction          *string       `json:"reaction,omitempty"`
	CreatedUTC        time.Time     `json:"created_utc"`
	Media             *MessageMedia `json:"media,omitempty"`
}

// MessageMedia is the attachment record of a message with binary content.
type MessageMedia struct {
	ID                int64     `json:"id"`
	MessageID         int64     `json:"message_id"`
	MediaType         string    `json:"media_type"`
	MimeType          *string   `json:"mime_type,omitempty"`
	FileName          *string   `json:"file_name,omitempty"`
	FileLength        *int64    `json:"file_length,omitempty"`
	PageCount         *int      `json:"page_count,omitempty"`
	MediaURL          *string   `json:"media_url,omitempty"`
	DirectPath        *string   `json:"direct_path,omitempty"`
	MediaKey          *string   `json:"-"`
	FileSHA256        *string   `json:"file_sha256,omitempty"`
	FileEncSHA256     *string   `json:"file_enc_sha256,omitempty"`
	MediaKeyTimestamp *int64    `json:"media_key_timestamp,omitempty"`
	ThumbnailBase64   *string   `json:"thumbnail_base64,omitempty"`
	CreatedUTC        time.Time `json:"created_utc"`
}

// SendMessageRequest is an agent-authored outbound text. To overrides the
// thread phone when set.
type SendMessageRequest struct {
	ThreadID int64  `json:"-"`
	Text     string `json:"text"`
	Sender   string `json:"sender"`
	To       string `json:"to"`
}

func (p SendMessageRequest) Validate() error {
	if p.ThreadID == 0 {
		return errors.New("thread_id is required")
	}
	if p.Text == "" {
		return errors.New("text is required")
	}
	return nil
}
