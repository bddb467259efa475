// Package identity turns provider participant ids into the phone / LID pair
// that identifies a conversation thread.
package identity

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	SuffixDirect = "@s.whatsapp.net"
	SuffixLegacy = "@c.us"
	SuffixLID    = "@lid"

	ThreadKeyPrefix = "wa"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// Identity is the resolved participant. Empty strings mean unknown. LID keeps
// the full opaque jid ("123@lid").
type Identity struct {
	Phone string
	LID   string
}

func (i Identity) HasPhone() bool { return i.Phone != "" }
func (i Identity) HasLID() bool   { return i.LID != "" }
func (i Identity) Empty() bool    { return i.Phone == "" && i.LID == "" }

// Resolve extracts the identity from the remote participant id. When the
// remote id is an opaque LID the phone is recovered from secondary only if it
// is itself a direct-contact jid.
func Resolve(remoteJid, secondary string) Identity {
	remoteJid = strings.TrimSpace(remoteJid)
	secondary = strings.TrimSpace(secondary)

	switch {
	case IsDirect(remoteJid):
		return Identity{Phone: phoneFromJid(remoteJid)}
	case IsLID(remoteJid):
		id := Identity{LID: remoteJid}
		if IsDirect(secondary) {
			id.Phone = phoneFromJid(secondary)
		}
		return id
	}
	return Identity{}
}

// ThreadKey derives the external thread key. Phone always wins over the LID.
func ThreadKey(id Identity) string {
	if id.HasPhone() {
		return ThreadKeyPrefix + ":" + id.Phone
	}
	if id.HasLID() {
		return ThreadKeyPrefix + ":lid:" + strings.TrimSuffix(id.LID, SuffixLID)
	}
	return ""
}

// MainParticipant is the bare phone, or the LID jid when no phone is known.
func MainParticipant(id Identity) string {
	if id.HasPhone() {
		return id.Phone
	}
	return id.LID
}

// PlatformID rebuilds the direct-contact jid of a phone.
func PlatformID(phone string) string {
	return phone + SuffixDirect
}

func IsDirect(jid string) bool {
	return strings.HasSuffix(jid, SuffixDirect) || strings.HasSuffix(jid, SuffixLegacy)
}

func IsLID(jid string) bool {
	return strings.HasSuffix(jid, SuffixLID)
}

// phoneFromJid strips the server suffix and the multi-device part
// ("5215550001111:12@s.whatsapp.net").
func phoneFromJid(jid string) string {
	user := strings.TrimSuffix(strings.TrimSuffix(jid, SuffixDirect), SuffixLegacy)
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}

// NormalizeDialable turns an agent-typed destination ("+1 (415) 555-2671",
// a bare jid, national digits) into the digits-only E.164 form the provider
// expects. defaultRegion is used when the number has no country code.
func NormalizeDialable(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if IsDirect(raw) {
		raw = "+" + phoneFromJid(raw)
	}
	if raw == "" {
		return "", ErrInvalidPhone
	}

	num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidPhone
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}
