package model

import (
	"errors"
	"time"
)

const ChannelWhatsApp = 1

type ThreadStatus int

const (
	ThreadStatusOpen ThreadStatus = iota
	ThreadStatusClosed
	ThreadStatusArchived
)

type Thread struct {
	ID                  int64        `json:"id"`
	ThreadKey           string       `json:"thread_key"`
	BusinessAccountID   string       `json:"business_account_id"`
	Channel             int          `json:"channel"`
	CustomerDisplayName string       `json:"customer_display_name"`
	CustomerPhone       *string      `json:"customer_phone,omitempty"`
	CustomerEmail       *string      `json:"customer_email,omitempty"`
	CustomerPlatformID  *string      `json:"customer_platform_id,omitempty"`
	CustomerLID         *string      `json:"customer_lid,omitempty"`
	MainParticipant     string       `json:"main_participant"`
	AssignedTo          *string      `json:"assigned_to,omitempty"`
	UnreadCount         int          `json:"unread_count"`
	LastMessageUTC      *time.Time   `json:"last_message_utc,omitempty"`
	LastMessagePreview  string       `json:"last_message_preview"`
	Status              ThreadStatus `json:"status"`
	CreatedUTC          time.Time    `json:"created_utc"`
}

// ThreadWithMessages is the detail view of a conversation.
type ThreadWithMessages struct {
	*Thread
	Messages []*Message `json:"messages"`
}

type ThreadListFilter string

const (
	ThreadFilterAll        ThreadListFilter = "all"
	ThreadFilterMine       ThreadListFilter = "mine"
	ThreadFilterUnassigned ThreadListFilter = "unassigned"
)

// ThreadFilter controls inbox list queries.
type ThreadFilter struct {
	Filter      ThreadListFilter
	CurrentUser string
	Search      string
	Limit       int // default 50
	Offset      int
}

func (f ThreadFilter) Validate() error {
	switch f.Filter {
	case "", ThreadFilterAll, ThreadFilterUnassigned:
		return nil
	case ThreadFilterMine:
		if f.CurrentUser == "" {
			return errors.New("user is required for the mine filter")
		}
		return nil
	}
	return errors.New("unknown filter " + string(f.Filter))
}

type InboxCounts struct {
	All        int64 `json:"all"`
	Mine       int64 `json:"mine"`
	Unassigned int64 `json:"unassigned"`
}
