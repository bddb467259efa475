package model

import "time"

const (
	DeadLetterSourceWebhook = "webhook"
	DeadLetterSourceWorker  = "worker"
)

type DeadLetter struct {
	ID          int64     `json:"id"`
	RawPayload  string    `json:"raw_payload"`
	Error       string    `json:"error"`
	Source      *string   `json:"source,omitempty"`
	Reviewed    bool      `json:"reviewed"`
	OccurredUTC time.Time `json:"occurred_utc"`
	CreatedUTC  time.Time `json:"created_utc"`
}

// DeadLetterFilter controls review queries.
type DeadLetterFilter struct {
	Reviewed *bool
	Source   *string
	From     *time.Time
	To       *time.Time
	Limit    int // default 50
	Offset   int
}
