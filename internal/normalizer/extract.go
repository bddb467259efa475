package normalizer

import (
	"strings"

	"github.com/nimasrn/crm-inbox/internal/model"
)

const (
	TypeConversation = "conversation"
	TypeExtendedText = "extendedTextMessage"
	TypeImage        = "imageMessage"
	TypeAudio        = "audioMessage"
	TypeVideo        = "videoMessage"
	TypeDocument     = "documentMessage"
	TypeDocCaption   = "documentWithCaptionMessage"
	TypeSticker      = "stickerMessage"
	TypeReaction     = "reactionMessage"

	PreviewUnknown = "[Mensaje]"
)

type extractor func(host string, message node, snap *Snapshot)

var extractors = map[string]extractor{
	TypeConversation: extractConversation,
	TypeExtendedText: extractExtendedText,
	TypeImage:        extractImage,
	TypeAudio:        extractAudio,
	TypeVideo:        extractVideo,
	TypeDocument:     extractDocument,
	TypeDocCaption:   extractDocumentWithCaption,
	TypeSticker:      extractSticker,
	TypeReaction:     extractReaction,
}

// detectOrder is the precedence used when the payload carries no type tag
// and the message object has to speak for itself.
var detectOrder = []string{
	TypeReaction,
	TypeConversation,
	TypeExtendedText,
	TypeImage,
	TypeVideo,
	TypeAudio,
	TypeDocument,
	TypeDocCaption,
	TypeSticker,
}

// detectType returns the first key of message that has an extractor, or "".
func detectType(message node) string {
	for _, t := range detectOrder {
		if message.has(t) {
			return t
		}
	}
	return ""
}

func extract(host, messageType string, message node, snap *Snapshot) {
	fn, ok := extractors[messageType]
	if !ok {
		snap.Kind = model.MessageKindUnknown
		snap.Preview = PreviewUnknown
		return
	}
	fn(host, message, snap)
}

// inner returns the type node, or the message itself when the provider has
// already flattened it.
func inner(message node, messageType string) node {
	if n, ok := message.obj(messageType); ok {
		return n
	}
	return message
}

func extractConversation(_ string, message node, snap *Snapshot) {
	snap.Kind = model.MessageKindText
	text := message.str(TypeConversation)
	snap.Text = &text
	snap.Preview = text
}

func extractExtendedText(_ string, message node, snap *Snapshot) {
	snap.Kind = model.MessageKindText
	text := inner(message, TypeExtendedText).str("text")
	snap.Text = &text
	snap.Preview = text
}

func extractImage(host string, message node, snap *Snapshot) {
	img := inner(message, TypeImage)
	snap.Kind = model.MessageKindImage
	snap.Media = media(host, "image", img, "image/jpeg")
	snap.Media.Caption = img.strPtr("caption")
	snap.Media.Thumbnail = img.strPtr("jpegThumbnail")
	snap.Text = snap.Media.Caption
	snap.Preview = withCaption("📷", snap.Media.Caption, "Foto")
}

func extractAudio(host string, message node, snap *Snapshot) {
	aud := inner(message, TypeAudio)
	snap.Kind = model.MessageKindAudio
	snap.Media = media(host, "audio", aud, "audio/ogg; codecs=opus")
	snap.Preview = "🎤 Nota de voz"
}

func extractVideo(host string, message node, snap *Snapshot) {
	vid := inner(message, TypeVideo)
	snap.Kind = model.MessageKindVideo
	snap.Media = media(host, "video", vid, "video/mp4")
	snap.Media.Caption = vid.strPtr("caption")
	snap.Media.Thumbnail = vid.strPtr("jpegThumbnail")
	snap.Text = snap.Media.Caption
	snap.Preview = withCaption("🎥", snap.Media.Caption, "Video")
}

func extractDocument(host string, message node, snap *Snapshot) {
	doc := inner(message, TypeDocument)
	snap.Kind = model.MessageKindDocument
	snap.Media = media(host, "document", doc, "application/octet-stream")
	snap.Media.Caption = doc.strPtr("caption")
	if snap.Media.Caption == nil {
		snap.Media.Caption = doc.strPtr("title")
	}
	snap.Media.FileName = doc.strPtr("fileName")
	snap.Media.Thumbnail = doc.strPtr("jpegThumbnail")
	if pc, ok := doc.int64("pageCount"); ok {
		p := int(pc)
		snap.Media.PageCount = &p
	}
	if snap.Media.FileName != nil {
		snap.Preview = "📄 " + *snap.Media.FileName
	} else {
		snap.Preview = "[Documento]"
	}
}

// extractDocumentWithCaption unwraps
// documentWithCaptionMessage.message.documentMessage.
func extractDocumentWithCaption(host string, message node, snap *Snapshot) {
	wrapped, _ := inner(message, TypeDocCaption).obj("message")
	extractDocument(host, wrapped, snap)
	if c := snap.Media.Caption; c != nil && *c != "" {
		snap.Text = c
	}
}

func extractSticker(host string, message node, snap *Snapshot) {
	stk := inner(message, TypeSticker)
	snap.Kind = model.MessageKindSticker
	snap.Media = media(host, "sticker", stk, "image/webp")
	snap.Preview = "[Sticker]"
}

func extractReaction(_ string, message node, snap *Snapshot) {
	r := inner(message, TypeReaction)
	target, _ := r.obj("key")
	snap.Kind = model.MessageKindText
	snap.Reaction = &Reaction{
		TargetExternalID: target.str("id"),
		Emoji:            r.str("text"),
	}
	snap.Preview = "Reaccionó " + snap.Reaction.Emoji + " a un mensaje"
}

// media reads the fields shared by every attachment type.
func media(host, mediaType string, n node, defaultMime string) *Media {
	m := &Media{
		Type:              mediaType,
		Mime:              n.str("mimetype"),
		DirectPath:        n.strPtr("directPath"),
		MediaKey:          n.strPtr("mediaKey"),
		FileSHA256:        n.strPtr("fileSha256"),
		FileEncSHA256:     n.strPtr("fileEncSha256"),
		MediaKeyTimestamp: n.int64Ptr("mediaKeyTimestamp"),
		FileLength:        n.int64Ptr("fileLength"),
	}
	if m.Mime == "" {
		m.Mime = defaultMime
	}
	m.URL = MediaURL(host, n.str("url"), n.str("directPath"))
	return m
}

// MediaURL prefers the CDN direct path when the literal url is missing or
// points at the short-lived web host.
func MediaURL(host, literal, directPath string) string {
	if directPath != "" && (literal == "" || strings.Contains(literal, internalMediaHostToken)) {
		return strings.TrimRight(host, "/") + directPath
	}
	return literal
}

func withCaption(icon string, caption *string, fallback string) string {
	if caption != nil && *caption != "" {
		return icon + " " + *caption
	}
	return icon + " " + fallback
}
