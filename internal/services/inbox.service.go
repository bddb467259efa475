package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/crm-inbox/internal/fanout"
	gateway "github.com/nimasrn/crm-inbox/internal/gateways"
	"github.com/nimasrn/crm-inbox/internal/identity"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/normalizer"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/pkg/logger"
)

var (
	ErrNotFound          = errors.New("error notfound")
	ErrThreadNotDialable = errors.New("thread has no phone number to send to")
	ErrInvalidMobile     = errors.New("invalid mobile number")
	ErrSendFailed        = errors.New("provider send failed")
)

const (
	DefaultThreadMessages = 200
	outboundSender        = "agent"
	outboundRawPayload    = "{}"
)

type InboxThreadRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Thread, error)
	List(ctx context.Context, f model.ThreadFilter) ([]*model.Thread, int64, error)
	Counts(ctx context.Context, user string) (*model.InboxCounts, error)
	MarkRead(ctx context.Context, id int64) error
	Assign(ctx context.Context, id int64, agent *string) error
	ApplyMessage(ctx context.Context, id int64, at time.Time, preview string, inbound bool) error
}

type InboxMessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	FindByExternalID(ctx context.Context, threadID int64, externalID string) (*model.Message, error)
	ListByThread(ctx context.Context, threadID int64, limit int) ([]*model.Message, error)
}

type TextSender interface {
	SendText(ctx context.Context, number, text string) (*gateway.SendTextResponse, error)
}

// InboxService backs the agent facing query and action endpoints.
type InboxService struct {
	threads  InboxThreadRepository
	messages InboxMessageRepository
	tx       Transactor
	sender   TextSender
	notifier fanout.Notifier
	region   string
	now      func() time.Time
}

func NewInboxService(
	threads InboxThreadRepository,
	messages InboxMessageRepository,
	tx Transactor,
	sender TextSender,
	notifier fanout.Notifier,
	defaultRegion string,
) *InboxService {
	if notifier == nil {
		notifier = fanout.Nop{}
	}
	return &InboxService{
		threads:  threads,
		messages: messages,
		tx:       tx,
		sender:   sender,
		notifier: notifier,
		region:   defaultRegion,
		now:      time.Now,
	}
}

func (s *InboxService) Counts(ctx context.Context, user string) (*model.InboxCounts, error) {
	return s.threads.Counts(ctx, strings.TrimSpace(user))
}

func (s *InboxService) List(ctx context.Context, f model.ThreadFilter) ([]*model.Thread, int64, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	return s.threads.List(ctx, f)
}

// Thread returns the conversation with its latest messages, oldest first.
func (s *InboxService) Thread(ctx context.Context, id int64, limit int) (*model.ThreadWithMessages, error) {
	t, err := s.thread(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultThreadMessages
	}
	msgs, err := s.messages.ListByThread(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &model.ThreadWithMessages{Thread: t, Messages: msgs}, nil
}

// Assign hands the thread to user; an empty user unassigns it.
func (s *InboxService) Assign(ctx context.Context, id int64, user string) error {
	var agent *string
	if u := strings.TrimSpace(user); u != "" {
		agent = &u
	}
	return s.notFound(s.threads.Assign(ctx, id, agent))
}

func (s *InboxService) MarkRead(ctx context.Context, id int64) error {
	return s.notFound(s.threads.MarkRead(ctx, id))
}

// Send delivers an agent text through the provider and records it as an
// outbound message. The provider call happens before the write so a failed
// send leaves no row behind. The provider's fromMe echo may be ingested
// before SendText returns; that row is reused instead of storing a second
// one under the same provider id.
func (s *InboxService) Send(ctx context.Context, req model.SendMessageRequest) (*model.Message, error) {
	req.Text = strings.TrimSpace(req.Text)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t, err := s.thread(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}

	number, err := s.destination(t, req.To)
	if err != nil {
		return nil, err
	}

	resp, err := s.sender.SendText(ctx, number, req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	now := s.now().UTC()
	sender := req.Sender
	if sender == "" {
		sender = outboundSender
	}
	text := req.Text
	ext := resp.ExternalID
	ts := now.Unix()
	msg := &model.Message{
		ThreadID:          t.ID,
		Sender:            sender,
		Text:              &text,
		TimestampUTC:      now,
		ExternalTimestamp: &ts,
		DirectionIn:       false,
		RawPayload:        outboundRawPayload,
		ExternalID:        &ext,
		RawHash:           normalizer.Hash([]byte(fmt.Sprintf("%d|%s|%s|%d", t.ID, ext, text, now.UnixNano()))),
		Kind:              model.MessageKindText,
	}

	var (
		saved  *model.Message
		echoed bool
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if ext != "" {
			existing, err := s.messages.FindByExternalID(ctx, t.ID, ext)
			if err == nil {
				saved, echoed = existing, true
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		var err error
		if saved, err = s.messages.Create(ctx, msg); err != nil {
			return err
		}
		return s.threads.ApplyMessage(ctx, t.ID, now, text, false)
	})
	if err != nil {
		// the provider already has it; the webhook echo will still land it
		logger.Error("outbound message sent but not stored", "thread_id", t.ID, "external_id", ext, "error", err)
		return nil, fmt.Errorf("store outbound message: %w", err)
	}
	if echoed {
		// the echo delivery already updated the summary and went through fanout
		logger.Info("outbound message already stored by its echo", "thread_id", t.ID, "external_id", ext, "message_id", saved.ID)
		return saved, nil
	}

	s.notifier.Notify(ctx, fanout.EventFromIncoming(&model.IncomingMessage{
		ThreadKey:         t.ThreadKey,
		ThreadID:          t.ID,
		MessageID:         saved.ID,
		BusinessAccountID: t.BusinessAccountID,
		Sender:            sender,
		DisplayName:       t.CustomerDisplayName,
		Text:              text,
		Kind:              model.MessageKindText,
		Timestamp:         now,
		DirectionIn:       false,
		Action:            model.ActionOutbound,
	}))

	logger.Info("outbound message sent", "thread_id", t.ID, "external_id", ext, "number", number)
	return saved, nil
}

func (s *InboxService) destination(t *model.Thread, override string) (string, error) {
	if override != "" {
		n, err := identity.NormalizeDialable(override, s.region)
		if err != nil {
			return "", ErrInvalidMobile
		}
		return n, nil
	}
	if t.CustomerPhone != nil && *t.CustomerPhone != "" {
		return *t.CustomerPhone, nil
	}
	return "", ErrThreadNotDialable
}

func (s *InboxService) thread(ctx context.Context, id int64) (*model.Thread, error) {
	t, err := s.threads.GetByID(ctx, id)
	if err != nil {
		return nil, s.notFound(err)
	}
	return t, nil
}

func (s *InboxService) notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
