package repository

import (
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
)

type MessageEntity struct {
	ID                int64     `gorm:"primaryKey;autoIncrement;column:id"`
	ThreadID          int64     `gorm:"column:thread_id;not null;index"`
	Sender            string    `gorm:"column:sender;size:150;not null"`
	DisplayName       *string   `gorm:"column:display_name;size:200"`
	Text              *string   `gorm:"column:text"`
	TimestampUTC      time.Time `gorm:"column:timestamp_utc;not null"`
	ExternalTimestamp *int64    `gorm:"column:external_timestamp"`
	DirectionIn       bool      `gorm:"column:direction_in;not null"`
	MediaURL          *string   `gorm:"column:media_url"`
	MediaMime         *string   `gorm:"column:media_mime;size:150"`
	MediaType         *string   `gorm:"column:media_type;size:50"`
	MediaCaption      *string   `gorm:"column:media_caption"`
	HasMedia          bool      `gorm:"column:has_media;not null;default:false"`
	RawPayload        string    `gorm:"column:raw_payload"`
	ExternalID        *string   `gorm:"column:external_id;size:150;index:ix_crm_message_external_id"`
	RawHash           string    `gorm:"column:raw_hash;size:64;not null;index:ix_crm_message_raw_hash"`
	MessageKind       int       `gorm:"column:message_kind;not null;default:0"`
	Reaction          *string   `gorm:"column:reaction;size:50"`
	CreatedUTC        time.Time `gorm:"column:created_utc;autoCreateTime"`

	Media *MessageMediaEntity `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (MessageEntity) TableName() string {
	return "crm_message"
}

type MessageMediaEntity struct {
	ID                int64     `gorm:"primaryKey;autoIncrement;column:id"`
	MessageID         int64     `gorm:"column:message_id;not null;uniqueIndex:ux_crm_message_media_message"`
	MediaType         string    `gorm:"column:media_type;size:50;not null"`
	MimeType          *string   `gorm:"column:mime_type;size:150"`
	FileName          *string   `gorm:"column:file_name;size:300"`
	FileLength        *int64    `gorm:"column:file_length"`
	PageCount         *int      `gorm:"column:page_count"`
	MediaURL          *string   `gorm:"column:media_url"`
	DirectPath        *string   `gorm:"column:direct_path"`
	MediaKey          *string   `gorm:"column:media_key;size:200"`
	FileSHA256        *string   `gorm:"column:file_sha256;size:200"`
	FileEncSHA256     *string   `gorm:"column:file_enc_sha256;size:200"`
	MediaKeyTimestamp *int64    `gorm:"column:media_key_timestamp"`
	ThumbnailBase64   *string   `gorm:"column:thumbnail_base64"`
	CreatedUTC        time.Time `gorm:"column:created_utc;autoCreateTime"`
}

func (MessageMediaEntity) TableName() string {
	return "crm_message_media"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:                m.ID,
		ThreadID:          m.ThreadID,
		Sender:            m.Sender,
		DisplayName:       m.DisplayName,
		Text:              m.Text,
		TimestampUTC:      m.TimestampUTC.UTC(),
		ExternalTimestamp: m.ExternalTimestamp,
		DirectionIn:       m.DirectionIn,
		MediaURL:          m.MediaURL,
		MediaMime:         m.MediaMime,
		MediaType:         m.MediaType,
		MediaCaption:      m.MediaCaption,
		HasMedia:          m.HasMedia,
		RawPayload:        m.RawPayload,
		ExternalID:        m.ExternalID,
		RawHash:           m.RawHash,
		MessageKind:       int(m.Kind),
		Reaction:          m.Reaction,
		CreatedUTC:        m.CreatedUTC,
		Media:             toMessageMediaEntity(m.Media),
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:                e.ID,
		ThreadID:          e.ThreadID,
		Sender:            e.Sender,
		DisplayName:       e.DisplayName,
		Text:              e.Text,
		TimestampUTC:      e.TimestampUTC.UTC(),
		ExternalTimestamp: e.ExternalTimestamp,
		DirectionIn:       e.DirectionIn,
		MediaURL:          e.MediaURL,
		MediaMime:         e.MediaMime,
		MediaType:         e.MediaType,
		MediaCaption:      e.MediaCaption,
		HasMedia:          e.HasMedia,
		RawPayload:        e.RawPayload,
		ExternalID:        e.ExternalID,
		RawHash:           e.RawHash,
		Kind:              model.MessageKind(e.MessageKind),
		Reaction:          e.Reaction,
		CreatedUTC:        e.CreatedUTC.UTC(),
		Media:             toMessageMediaModel(e.Media),
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}

func toMessageMediaEntity(m *model.MessageMedia) *MessageMediaEntity {
	if m == nil {
		return nil
	}
	return &MessageMediaEntity{
		ID:                m.ID,
		MessageID:         m.MessageID,
		MediaType:         m.MediaType,
		MimeType:          m.MimeType,
		FileName:          m.FileName,
		FileLength:        m.FileLength,
		PageCount:         m.PageCount,
		MediaURL:          m.MediaURL,
		DirectPath:        m.DirectPath,
		MediaKey:          m.MediaKey,
		FileSHA256:        m.FileSHA256,
		FileEncSHA256:     m.FileEncSHA256,
		MediaKeyTimestamp: m.MediaKeyTimestamp,
		ThumbnailBase64:   m.ThumbnailBase64,
		CreatedUTC:        m.CreatedUTC,
	}
}

func toMessageMediaModel(e *MessageMediaEntity) *model.MessageMedia {
	if e == nil {
		return nil
	}
	return &model.MessageMedia{
		ID:                e.ID,
		MessageID:         e.MessageID,
		MediaType:         e.MediaType,
		MimeType:          e.MimeType,
		FileName:          e.FileName,
		FileLength:        e.FileLength,
		PageCount:         e.PageCount,
		MediaURL:          e.MediaURL,
		DirectPath:        e.DirectPath,
		MediaKey:          e.MediaKey,
		FileSHA256:        e.FileSHA256,
		FileEncSHA256:     e.FileEncSHA256,
		MediaKeyTimestamp: e.MediaKeyTimestamp,
		ThumbnailBase64:   e.ThumbnailBase64,
		CreatedUTC:        e.CreatedUTC.UTC(),
	}
}
