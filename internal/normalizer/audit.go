package normalizer

import (
	"time"

	"github.com/nimasrn/crm-inbox/internal/identity"
)

const UnknownThreadKey = "wa:unknown"

// Envelope is the best-effort metadata recorded next to every raw body.
// Unlike Normalize it never fails on missing fields.
type Envelope struct {
	ThreadKey      string
	Instance       *string
	Event          *string
	MessageType    *string
	RemoteJid      *string
	FromMe         *bool
	Sender         *string
	CustomerPhone  *string
	PushName       *string
	MessageDateUTC *time.Time
}

// Inspect extracts audit metadata. It returns an error only when the body is
// not a json object.
func Inspect(raw []byte) (*Envelope, error) {
	root, err := decode(raw)
	if err != nil {
		return nil, err
	}
	data, ok := root.obj("data")
	if !ok {
		data = root
	}

	env := &Envelope{
		ThreadKey:   UnknownThreadKey,
		Instance:    root.strPtr("instance"),
		Event:       root.strPtr("event"),
		Sender:      root.strPtr("sender"),
		MessageType: data.strPtr("messageType"),
		PushName:    data.strPtr("pushName"),
	}

	if key, ok := data.obj("key"); ok {
		env.RemoteJid = key.strPtr("remoteJid")
		if key.has("fromMe") {
			fm := key.boolean("fromMe")
			env.FromMe = &fm
		}
		id := identity.Resolve(key.str("remoteJid"), firstNonEmpty(key.str("senderPn"), key.str("participantPn")))
		if !id.Empty() {
			env.ThreadKey = identity.ThreadKey(id)
		}
		if id.HasPhone() {
			env.CustomerPhone = &id.Phone
		}
	}

	if env.MessageType == nil {
		if message, ok := data.obj("message"); ok {
			if t := detectType(message); t != "" {
				env.MessageType = &t
			}
		}
	}

	if ts, ok := data.int64("messageTimestamp"); ok && ts > 0 {
		t := time.Unix(ts, 0).UTC()
		env.MessageDateUTC = &t
	}
	return env, nil
}
