package fanout

import (
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
)

const (
	EventNewMessage = "new_message"
	EventReaction   = "reaction"
)

// Event is what connected agents receive for a business account.
type Event struct {
	Type              string            `json:"type"`
	BusinessAccountID string            `json:"business_account_id"`
	ThreadKey         string            `json:"thread_id"`
	ThreadDBID        int64             `json:"thread_db_id"`
	MessageID         int64             `json:"message_id"`
	Sender            string            `json:"sender"`
	DisplayName       string            `json:"display_name"`
	Text              string            `json:"text"`
	Kind              model.MessageKind `json:"message_kind"`
	MediaURL          *string           `json:"media_url,omitempty"`
	Reaction          *string           `json:"reaction,omitempty"`
	CreatedUTC        time.Time         `json:"created_utc"`
	DirectionIn       bool              `json:"direction_in"`
}

// EventFromIncoming builds the broadcast for a message handed to the worker.
func EventFromIncoming(m *model.IncomingMessage) *Event {
	typ := EventNewMessage
	if m.Action == model.ActionReaction {
		typ = EventReaction
	}
	return &Event{
		Type:              typ,
		BusinessAccountID: m.BusinessAccountID,
		ThreadKey:         m.ThreadKey,
		ThreadDBID:        m.ThreadID,
		MessageID:         m.MessageID,
		Sender:            m.Sender,
		DisplayName:       m.DisplayName,
		Text:              m.Text,
		Kind:              m.Kind,
		MediaURL:          m.MediaURL,
		Reaction:          m.Reaction,
		CreatedUTC:        m.Timestamp.UTC(),
		DirectionIn:       m.DirectionIn,
	}
}
