package fixtures

import (
	"fmt"
	"time"
)

const (
	Instance    = "ventas"
	CustomerJid = "5215551234567@s.whatsapp.net"
	CustomerLID = "98765432109876@lid"
)

// BaseTime is the provider timestamp used by every fixture unless overridden.
var BaseTime = time.Date(2025, 12, 14, 18, 0, 0, 0, time.UTC)

// TextMessage is an inbound messages.upsert delivery with a plain text body.
func TextMessage(remoteJid, id, pushName, text string, at time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"messages.upsert","instance":%q,"data":{"key":{"remoteJid":%q,"fromMe":false,"id":%q},"pushName":%q,"messageType":"conversation","messageTimestamp":%d,"message":{"conversation":%q}}}`,
		Instance, remoteJid, id, pushName, at.Unix(), text))
}

// AgentEcho is the send.message delivery the provider posts back after an
// outbound send.
func AgentEcho(remoteJid, id, text string, at time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"send.message","instance":%q,"data":{"key":{"remoteJid":%q,"fromMe":true,"id":%q},"messageType":"conversation","messageTimestamp":%d,"message":{"conversation":%q}}}`,
		Instance, remoteJid, id, at.Unix(), text))
}

// Reaction targets a previously delivered message by its provider id. An
// empty emoji clears the reaction.
func Reaction(remoteJid, id, targetID, emoji string, at time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"messages.upsert","instance":%q,"data":{"key":{"remoteJid":%q,"fromMe":false,"id":%q},"messageType":"reactionMessage","messageTimestamp":%d,"message":{"reactionMessage":{"key":{"id":%q},"text":%q}}}}`,
		Instance, remoteJid, id, at.Unix(), targetID, emoji))
}

// Presence is a non-message event that is audited and otherwise ignored.
func Presence(remoteJid string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"presence.update","instance":%q,"data":{"id":%q,"presences":{}}}`,
		Instance, remoteJid))
}

// SendTextReply is the provider answer to a successful sendText call.
func SendTextReply(remoteJid, id string) []byte {
	return []byte(fmt.Sprintf(
		`{"key":{"remoteJid":%q,"fromMe":true,"id":%q},"message":{"conversation":"ok"},"status":"PENDING"}`,
		remoteJid, id))
}
