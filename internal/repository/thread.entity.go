package repository

import (
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
)

type ThreadEntity struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement;column:id"`
	ThreadKey           string     `gorm:"column:thread_key;size:150;not null;uniqueIndex:ux_crm_thread_key"`
	BusinessAccountID   string     `gorm:"column:business_account_id;size:100;not null;index"`
	Channel             int        `gorm:"column:channel;not null"`
	CustomerDisplayName string     `gorm:"column:customer_display_name;size:200"`
	CustomerPhone       *string    `gorm:"column:customer_phone;size:50;index"`
	CustomerEmail       *string    `gorm:"column:customer_email;size:200"`
	CustomerPlatformID  *string    `gorm:"column:customer_platform_id;size:150"`
	CustomerLID         *string    `gorm:"column:customer_lid;size:150;index"`
	MainParticipant     string     `gorm:"column:main_participant;size:150"`
	AssignedTo          *string    `gorm:"column:assigned_to;size:100;index"`
	UnreadCount         int        `gorm:"column:unread_count;not null;default:0"`
	LastMessageUTC      *time.Time `gorm:"column:last_message_utc"`
	LastMessagePreview  string     `gorm:"column:last_message_preview;size:500"`
	Status              int        `gorm:"column:status;not null;default:0"`
	CreatedUTC          time.Time  `gorm:"column:created_utc;autoCreateTime"`

	Messages []*MessageEntity         `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE"`
	History  []*PipelineHistoryEntity `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE"`
}

func (ThreadEntity) TableName() string {
	return "crm_thread"
}

func toThreadEntity(t *model.Thread) *ThreadEntity {
	if t == nil {
		return nil
	}
	return &ThreadEntity{
		ID:                  t.ID,
		ThreadKey:           t.ThreadKey,
		BusinessAccountID:   t.BusinessAccountID,
		Channel:             t.Channel,
		CustomerDisplayName: t.CustomerDisplayName,
		CustomerPhone:       t.CustomerPhone,
		CustomerEmail:       t.CustomerEmail,
		CustomerPlatformID:  t.CustomerPlatformID,
		CustomerLID:         t.CustomerLID,
		MainParticipant:     t.MainParticipant,
		AssignedTo:          t.AssignedTo,
		UnreadCount:         t.UnreadCount,
		LastMessageUTC:      t.LastMessageUTC,
		LastMessagePreview:  t.LastMessagePreview,
		Status:              int(t.Status),
		CreatedUTC:          t.CreatedUTC,
	}
}

func toThreadModel(e *ThreadEntity) *model.Thread {
	if e == nil {
		return nil
	}
	return &model.Thread{
		ID:                  e.ID,
		ThreadKey:           e.ThreadKey,
		BusinessAccountID:   e.BusinessAccountID,
		Channel:             e.Channel,
		CustomerDisplayName: e.CustomerDisplayName,
		CustomerPhone:       e.CustomerPhone,
		CustomerEmail:       e.CustomerEmail,
		CustomerPlatformID:  e.CustomerPlatformID,
		CustomerLID:         e.CustomerLID,
		MainParticipant:     e.MainParticipant,
		AssignedTo:          e.AssignedTo,
		UnreadCount:         e.UnreadCount,
		LastMessageUTC:      utcPtr(e.LastMessageUTC),
		LastMessagePreview:  e.LastMessagePreview,
		Status:              model.ThreadStatus(e.Status),
		CreatedUTC:          e.CreatedUTC.UTC(),
	}
}

func toThreadModels(entities []*ThreadEntity) []*model.Thread {
	models := make([]*model.Thread, len(entities))
	for i, e := range entities {
		models[i] = toThreadModel(e)
	}
	return models
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
