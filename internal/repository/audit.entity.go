package repository

import (
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
)

type DeadLetterEntity struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	RawPayload  string    `gorm:"column:raw_payload;not null"`
	Error       string    `gorm:"column:error"`
	Source      *string   `gorm:"column:source;size:50"`
	Reviewed    bool      `gorm:"column:reviewed;not null;default:false;index:ix_dead_letter_reviewed_occurred,priority:1"`
	OccurredUTC time.Time `gorm:"column:occurred_utc;not null;index:ix_dead_letter_reviewed_occurred,priority:2"`
	CreatedUTC  time.Time `gorm:"column:created_utc;autoCreateTime"`
}

func (DeadLetterEntity) TableName() string {
	return "message_dead_letter"
}

func toDeadLetterModel(e *DeadLetterEntity) *model.DeadLetter {
	return &model.DeadLetter{
		ID:          e.ID,
		RawPayload:  e.RawPayload,
		Error:       e.Error,
		Source:      e.Source,
		Reviewed:    e.Reviewed,
		OccurredUTC: e.OccurredUTC.UTC(),
		CreatedUTC:  e.CreatedUTC.UTC(),
	}
}

type PipelineHistoryEntity struct {
	ID           int64     `gorm:"primaryKey;autoIncrement;column:id"`
	ThreadID     int64     `gorm:"column:thread_id;not null;index"`
	PipelineName string    `gorm:"column:pipeline_name;size:100;not null"`
	StageName    string    `gorm:"column:stage_name;size:100;not null"`
	Source       string    `gorm:"column:source;size:50;not null"`
	ChangedUTC   time.Time `gorm:"column:changed_utc;not null"`
}

func (PipelineHistoryEntity) TableName() string {
	return "pipeline_history"
}

func toPipelineHistoryModel(e *PipelineHistoryEntity) *model.PipelineHistory {
	return &model.PipelineHistory{
		ID:           e.ID,
		ThreadID:     e.ThreadID,
		PipelineName: e.PipelineName,
		StageName:    e.StageName,
		Source:       e.Source,
		ChangedUTC:   e.ChangedUTC.UTC(),
	}
}

type RawPayloadEntity struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement;column:id"`
	ThreadKey           *string    `gorm:"column:thread_key;size:150;index"`
	Source              string     `gorm:"column:source;size:50;not null"`
	Instance            *string    `gorm:"column:instance;size:100"`
	Event               *string    `gorm:"column:event;size:100"`
	MessageType         *string    `gorm:"column:message_type;size:100"`
	RemoteJid           *string    `gorm:"column:remote_jid;size:150"`
	FromMe              *bool      `gorm:"column:from_me"`
	Sender              *string    `gorm:"column:sender;size:150"`
	CustomerPhone       *string    `gorm:"column:customer_phone;size:50"`
	CustomerDisplayName *string    `gorm:"column:customer_display_name;size:200"`
	MessageDateUTC      *time.Time `gorm:"column:message_date_utc"`
	PayloadJSON         string     `gorm:"column:payload_json;not null"`
	Processed           bool       `gorm:"column:processed;not null;default:false"`
	Notes               *string    `gorm:"column:notes"`
	ReceivedUTC         time.Time  `gorm:"column:received_utc;not null"`
}

func (RawPayloadEntity) TableName() string {
	return "evolution_raw_payload"
}

func toRawPayloadEntity(m *model.RawPayload) *RawPayloadEntity {
	return &RawPayloadEntity{
		ID:                  m.ID,
		ThreadKey:           m.ThreadKey,
		Source:              m.Source,
		Instance:            m.Instance,
		Event:               m.Event,
		MessageType:         m.MessageType,
		RemoteJid:           m.RemoteJid,
		FromMe:              m.FromMe,
		Sender:              m.Sender,
		CustomerPhone:       m.CustomerPhone,
		CustomerDisplayName: m.CustomerDisplayName,
		MessageDateUTC:      m.MessageDateUTC,
		PayloadJSON:         m.PayloadJSON,
		Processed:           m.Processed,
		Notes:               m.Notes,
		ReceivedUTC:         m.ReceivedUTC.UTC(),
	}
}

func toRawPayloadModel(e *RawPayloadEntity) *model.RawPayload {
	return &model.RawPayload{
		ID:                  e.ID,
		ThreadKey:           e.ThreadKey,
		Source:              e.Source,
		Instance:            e.Instance,
		Event:               e.Event,
		MessageType:         e.MessageType,
		RemoteJid:           e.RemoteJid,
		FromMe:              e.FromMe,
		Sender:              e.Sender,
		CustomerPhone:       e.CustomerPhone,
		CustomerDisplayName: e.CustomerDisplayName,
		MessageDateUTC:      utcPtr(e.MessageDateUTC),
		PayloadJSON:         e.PayloadJSON,
		Processed:           e.Processed,
		Notes:               e.Notes,
		ReceivedUTC:         e.ReceivedUTC.UTC(),
	}
}

type WebhookControlEntity struct {
	Name       string    `gorm:"primaryKey;column:name;size:100"`
	Enabled    bool      `gorm:"column:enabled;not null"`
	UpdatedUTC time.Time `gorm:"column:updated_utc;not null"`
}

func (WebhookControlEntity) TableName() string {
	return "webhook_control"
}
