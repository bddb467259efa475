package model

import (
	"strings"
	"time"
)

// AIInfo is the optional classification attached to an incoming message.
type AIInfo struct {
	Channel      int    `json:"channel"`
	PipelineName string `json:"pipeline_name"`
	StageName    string `json:"stage_name"`
}

const (
	ActionInitial  = "initial"
	ActionReaction = "reaction"
	ActionOutbound = "outbound"
)

// IncomingMessage is the lightweight item handed from the webhook path to the
// background worker. It never carries the raw payload.
type IncomingMessage struct {
	ThreadKey         string      `json:"thread_key"`
	ThreadID          int64       `json:"thread_id"`
	MessageID         int64       `json:"message_id"`
	BusinessAccountID string      `json:"business_account_id"`
	Sender            string      `json:"sender"`
	DisplayName       string      `json:"display_name"`
	Text              string      `json:"text"`
	Kind              MessageKind `json:"kind"`
	MediaURL          *string     `json:"media_url,omitempty"`
	Reaction          *string     `json:"reaction,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	DirectionIn       bool        `json:"direction_in"`
	AI                *AIInfo     `json:"ai,omitempty"`
	Action            string      `json:"action"`
	Reason            string      `json:"reason"`
	Title             string      `json:"title"`
}

// TitleFromName returns the first word of a display name.
func TitleFromName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
