package normalizer

import (
	"time"

	"github.com/nimasrn/crm-inbox/internal/identity"
	"github.com/nimasrn/crm-inbox/internal/model"
)

// Snapshot is the canonical form of one inbound webhook delivery.
type Snapshot struct {
	BusinessAccountID string
	Event             string
	Source            string
	MessageType       string

	RemoteJid string
	Sender    string
	Identity  identity.Identity
	ThreadKey string

	// DisplayName is the derived customer label, PushName the raw field.
	DisplayName string
	PushName    string
	FromAd      bool

	DirectionIn       bool
	ExternalID        string
	ExternalTimestamp int64
	TimestampUTC      time.Time

	Kind     model.MessageKind
	Text     *string
	Preview  string
	Media    *Media
	Reaction *Reaction

	Raw     []byte
	RawHash string
}

func (s *Snapshot) IsReaction() bool { return s.Reaction != nil }

func (s *Snapshot) HasMedia() bool { return s.Media != nil }

// Media carries the attachment metadata needed to fetch and decrypt later.
type Media struct {
	Type              string
	URL               string
	Mime              string
	Caption           *string
	DirectPath        *string
	MediaKey          *string
	FileSHA256        *string
	FileEncSHA256     *string
	MediaKeyTimestamp *int64
	FileName          *string
	FileLength        *int64
	PageCount         *int
	Thumbnail         *string
}

// Reaction targets an earlier message by provider id. An empty emoji clears it.
type Reaction struct {
	TargetExternalID string
	Emoji            string
}
