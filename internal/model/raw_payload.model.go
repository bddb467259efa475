package model

import "time"

// RawPayload retains every inbound webhook body, parseable or not.
type RawPayload struct {
	ID                  int64      `json:"id"`
	ThreadKey           *string    `json:"thread_key,omitempty"`
	Source              string     `json:"source"`
	Instance            *string    `json:"instance,omitempty"`
	Event               *string    `json:"event,omitempty"`
	MessageType         *string    `json:"message_type,omitempty"`
	RemoteJid           *string    `json:"remote_jid,omitempty"`
	FromMe              *bool      `json:"from_me,omitempty"`
	Sender              *string    `json:"sender,omitempty"`
	CustomerPhone       *string    `json:"customer_phone,omitempty"`
	CustomerDisplayName *string    `json:"customer_display_name,omitempty"`
	MessageDateUTC      *time.Time `json:"message_date_utc,omitempty"`
	PayloadJSON         string     `json:"payload_json"`
	Processed           bool       `json:"processed"`
	Notes               *string    `json:"notes,omitempty"`
	ReceivedUTC         time.Time  `json:"received_utc"`
}

type WebhookControl struct {
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	UpdatedUTC time.Time `json:"updated_utc"`
}
