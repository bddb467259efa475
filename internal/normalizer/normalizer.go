// Package normalizer parses provider webhook bodies into canonical snapshots.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"

	"github.com/nimasrn/crm-inbox/internal/identity"
)

const (
	DisplayNameAd          = "Prospecto de Anuncio"
	DisplayNameLIDPending  = "Contacto LID (Pendiente)"
	DisplayNameLID         = "Contacto LID"
	DefaultMediaHost       = "https://mmg.whatsapp.net"
	internalMediaHostToken = "web.whatsapp.net"
)

var (
	ErrNormalization = errors.New("payload normalization failed")
	errNotObject     = errors.New("payload is not a json object")
)

// IsPlaceholderName reports whether a thread name is one of the generated
// labels that may later be replaced by a real push name.
func IsPlaceholderName(name string) bool {
	switch name {
	case "", DisplayNameAd, DisplayNameLIDPending, DisplayNameLID:
		return true
	}
	return false
}

type Normalizer struct {
	mediaHost string
	now       func() time.Time
}

func New(mediaHost string) *Normalizer {
	if mediaHost == "" {
		mediaHost = DefaultMediaHost
	}
	return &Normalizer{mediaHost: mediaHost, now: time.Now}
}

// WithClock replaces the clock used for payloads without a usable timestamp.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize turns a raw body into a Snapshot. Every failure wraps
// ErrNormalization; unknown message types are not failures.
func (n *Normalizer) Normalize(raw []byte) (*Snapshot, error) {
	root, err := decode(raw)
	if err != nil {
		return nil, errors.Wrap(ErrNormalization, err.Error())
	}
	data, ok := root.obj("data")
	if !ok {
		data = root
	}

	instance := root.str("instance")
	if instance == "" {
		return nil, errors.Wrap(ErrNormalization, "missing instance")
	}
	key, ok := data.obj("key")
	if !ok {
		return nil, errors.Wrap(ErrNormalization, "missing key")
	}
	remoteJid := key.str("remoteJid")
	if remoteJid == "" {
		return nil, errors.Wrap(ErrNormalization, "missing key.remoteJid")
	}
	if !data.has("messageTimestamp") {
		return nil, errors.Wrap(ErrNormalization, "missing messageTimestamp")
	}
	message, ok := data.obj("message")
	if !ok {
		return nil, errors.Wrap(ErrNormalization, "missing message")
	}

	// phone-number jid of the participant when remoteJid is a LID
	senderPn := firstNonEmpty(key.str("senderPn"), key.str("participantPn"))
	id := identity.Resolve(remoteJid, senderPn)
	if id.Empty() {
		return nil, errors.Wrapf(ErrNormalization, "unresolvable participant %q", remoteJid)
	}

	fromMe := key.boolean("fromMe")
	messageType := data.str("messageType")
	if messageType == "" {
		messageType = data.str("type")
	}
	if messageType == "" {
		messageType = detectType(message)
	}
	if messageType == "" {
		messageType = "unknown"
	}

	snap := &Snapshot{
		BusinessAccountID: instance,
		Event:             root.str("event"),
		Source:            firstNonEmpty(data.str("source"), root.str("source")),
		MessageType:       messageType,
		RemoteJid:         remoteJid,
		Identity:          id,
		ThreadKey:         identity.ThreadKey(id),
		PushName:          data.str("pushName"),
		DirectionIn:       !fromMe,
		ExternalID:        key.str("id"),
		Raw:               raw,
		RawHash:           Hash(raw),
	}

	if fromMe && senderPn != "" {
		snap.Sender = senderPn
	} else {
		snap.Sender = firstNonEmpty(root.str("sender"), remoteJid)
	}

	ts, ok := data.int64("messageTimestamp")
	if !ok || ts <= 0 {
		ts = n.now().Unix()
	}
	snap.ExternalTimestamp = ts
	snap.TimestampUTC = time.Unix(ts, 0).UTC()

	extract(n.mediaHost, messageType, message, snap)

	snap.FromAd = fromAd(data, message, messageType)
	snap.DisplayName = displayName(snap.PushName, fromMe, snap.FromAd)

	return snap, nil
}

// Hash is the lowercase hex SHA-256 used for duplicate suppression.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// displayName never takes the push name of an outbound event: it names the
// local operator, not the customer.
func displayName(pushName string, fromMe, fromAd bool) string {
	if fromMe {
		if fromAd {
			return DisplayNameAd
		}
		return DisplayNameLIDPending
	}
	if pushName != "" {
		return pushName
	}
	if fromAd {
		return DisplayNameAd
	}
	return DisplayNameLID
}

func fromAd(data, message node, messageType string) bool {
	check := func(ctx node) bool {
		if ctx == nil {
			return false
		}
		return ctx.boolean("automatedGreetingMessageShown") || ctx.has("externalAdReply")
	}
	if ctx, ok := data.obj("contextInfo"); ok && check(ctx) {
		return true
	}
	if inner, ok := message.obj(messageType); ok {
		if ctx, ok := inner.obj("contextInfo"); ok && check(ctx) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
