package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/crm-inbox/internal/identity"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/normalizer"
	"github.com/nimasrn/crm-inbox/internal/processor"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/prom"
)

type IngestStatus string

const (
	IngestAccepted     IngestStatus = "accepted"
	IngestDisabled     IngestStatus = "disabled"
	IngestAcceptedRaw  IngestStatus = "accepted_raw"
	IngestDuplicate    IngestStatus = "duplicate"
	IngestDeadLettered IngestStatus = "dead_lettered"
)

const (
	rawSourceEvolution = "evolution"
	reasonIncoming     = "incoming_from_evolution"
)

var ErrEnqueueFailed = errors.New("enqueue failed")

// events that are expected to carry a message; anything else the provider
// posts (presence, connection, receipts) is audited but never dead-lettered
var messageEvents = map[string]bool{
	"":                true,
	"messages.upsert": true,
	"send.message":    true,
}

type IngestResult struct {
	Status    IngestStatus `json:"status"`
	ThreadKey string       `json:"thread_key,omitempty"`
	ThreadID  int64        `json:"thread_id,omitempty"`
	MessageID int64        `json:"message_id,omitempty"`
}

type ThreadStore interface {
	Create(ctx context.Context, t *model.Thread) (*model.Thread, error)
	FindByIdentity(ctx context.Context, key, lid, phone string) (*model.Thread, error)
	UpdateIdentity(ctx context.Context, t *model.Thread) error
	ApplyMessage(ctx context.Context, id int64, at time.Time, preview string, inbound bool) error
}

type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Exists(ctx context.Context, threadID int64, externalID, rawHash string) (bool, error)
	FindByExternalID(ctx context.Context, threadID int64, externalID string) (*model.Message, error)
	SetReaction(ctx context.Context, id int64, reaction *string) error
}

type RawPayloadStore interface {
	Create(ctx context.Context, p *model.RawPayload) (*model.RawPayload, error)
	MarkProcessed(ctx context.Context, id int64, notes *string) error
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type PayloadNormalizer interface {
	Normalize(raw []byte) (*normalizer.Snapshot, error)
}

// DeliveryGuard serializes concurrent retries of one delivery.
type DeliveryGuard interface {
	AcquireProcessingLock(ctx context.Context, key string) (*processor.ProcessingContext, error)
	MarkSuccess(ctx context.Context, pc *processor.ProcessingContext) error
	ReleaseLock(ctx context.Context, pc *processor.ProcessingContext) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg *model.IncomingMessage) error
}

type DeadLetterRecorder interface {
	Record(ctx context.Context, raw string, cause error, source string) error
}

type IngestionService struct {
	normalizer PayloadNormalizer
	tx         Transactor
	threads    ThreadStore
	messages   MessageStore
	raw        RawPayloadStore
	guard      DeliveryGuard
	dispatcher Dispatcher
	deadLetter DeadLetterRecorder
	now        func() time.Time
}

// NewIngestionService wires the synchronous webhook path. guard may be nil,
// storage dedup then is the only duplicate check.
func NewIngestionService(
	n PayloadNormalizer,
	tx Transactor,
	threads ThreadStore,
	messages MessageStore,
	raw RawPayloadStore,
	guard DeliveryGuard,
	dispatcher Dispatcher,
	deadLetter DeadLetterRecorder,
) *IngestionService {
	return &IngestionService{
		normalizer: n,
		tx:         tx,
		threads:    threads,
		messages:   messages,
		raw:        raw,
		guard:      guard,
		dispatcher: dispatcher,
		deadLetter: deadLetter,
		now:        time.Now,
	}
}

type persistOutcome struct {
	thread    *model.Thread
	message   *model.Message
	duplicate bool
	dropped   bool
}

// Ingest runs one authenticated delivery through normalization and the
// transactional write. Only ErrEnqueueFailed is returned as an error, every
// other failure is absorbed and reported through the status.
func (s *IngestionService) Ingest(ctx context.Context, body []byte, remoteIP string) (*IngestResult, error) {
	start := time.Now()
	raw := append([]byte(nil), body...)

	ref, env := s.audit(ctx, raw, remoteIP)

	snap, err := s.normalizer.Normalize(raw)
	if err != nil {
		s.note(ctx, ref, "normalization: "+err.Error())
		if env == nil || messageEvents[deref(env.Event)] {
			s.recordDeadLetter(ctx, raw, err)
		}
		logger.Warn("webhook payload not normalized", "raw_payload_id", ref.id, "error", err)
		return s.done(start, &IngestResult{Status: IngestAcceptedRaw}, "unparsed"), nil
	}

	result := &IngestResult{ThreadKey: snap.ThreadKey}
	kind := snap.Kind.String()
	if snap.IsReaction() {
		kind = "reaction"
	}

	var pc *processor.ProcessingContext
	if s.guard != nil {
		pc, err = s.guard.AcquireProcessingLock(ctx, processor.DeliveryKey(snap.ThreadKey, snap.ExternalID, snap.RawHash))
		switch {
		case errors.Is(err, processor.ErrAlreadyProcessed), errors.Is(err, processor.ErrDeliveryInFlight):
			s.note(ctx, ref, "duplicate")
			result.Status = IngestDuplicate
			return s.done(start, result, kind), nil
		case err != nil:
			logger.Warn("delivery lock unavailable, relying on storage dedup", "thread_key", snap.ThreadKey, "error", err)
		}
	}

	out, err := s.persistWithRetry(ctx, snap)
	if err != nil {
		if s.guard != nil {
			_ = s.guard.ReleaseLock(ctx, pc)
		}
		logger.Error("webhook persistence failed", "thread_key", snap.ThreadKey, "external_id", snap.ExternalID, "error", err)
		s.note(ctx, ref, "dead_lettered: "+err.Error())
		s.recordDeadLetter(ctx, raw, err)
		result.Status = IngestDeadLettered
		return s.done(start, result, kind), nil
	}

	if out.thread != nil {
		result.ThreadID = out.thread.ID
	}
	switch {
	case out.duplicate:
		s.markProcessed(ctx, pc)
		s.note(ctx, ref, "duplicate")
		result.Status = IngestDuplicate
		return s.done(start, result, kind), nil
	case out.dropped:
		s.markProcessed(ctx, pc)
		s.note(ctx, ref, "reaction target not found")
		result.Status = IngestAccepted
		return s.done(start, result, kind), nil
	}
	s.note(ctx, ref, "")

	if out.message != nil {
		result.MessageID = out.message.ID
	}
	item := s.incoming(snap, out)
	if err := s.dispatcher.Dispatch(ctx, item); err != nil {
		logger.Error("failed to enqueue incoming message", "thread_key", snap.ThreadKey, "message_id", result.MessageID, "error", err)
		prom.IncWebhookDelivery("enqueue_failed")
		if s.guard != nil {
			_ = s.guard.ReleaseLock(ctx, pc)
		}
		// the row is committed, so a provider retry resolves as a storage
		// duplicate; the worker item is parked for review instead
		s.parkWorkItem(ctx, item, err)
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	s.markProcessed(ctx, pc)

	result.Status = IngestAccepted
	return s.done(start, result, kind), nil
}

func (s *IngestionService) done(start time.Time, r *IngestResult, kind string) *IngestResult {
	prom.IncWebhookDelivery(string(r.Status))
	prom.ObserveIngestDuration(time.Since(start).Seconds(), kind)
	return r
}

// auditRef points at the raw payload row of the current delivery. id is 0
// when the row could not be written.
type auditRef struct {
	id int64
	ip string
}

// audit stores the body before anything else may fail.
func (s *IngestionService) audit(ctx context.Context, raw []byte, remoteIP string) (auditRef, *normalizer.Envelope) {
	ref := auditRef{ip: remoteIP}
	row := &model.RawPayload{
		Source:      rawSourceEvolution,
		PayloadJSON: string(raw),
		ReceivedUTC: s.now().UTC(),
		Notes:       ref.notes(""),
	}

	env, err := normalizer.Inspect(raw)
	if err != nil {
		key := normalizer.UnknownThreadKey
		row.ThreadKey = &key
	} else {
		row.ThreadKey = &env.ThreadKey
		row.Instance = env.Instance
		row.Event = env.Event
		row.MessageType = env.MessageType
		row.RemoteJid = env.RemoteJid
		row.FromMe = env.FromMe
		row.Sender = env.Sender
		row.CustomerPhone = env.CustomerPhone
		row.CustomerDisplayName = env.PushName
		row.MessageDateUTC = env.MessageDateUTC
	}

	saved, werr := s.raw.Create(ctx, row)
	if werr != nil {
		logger.Error("failed to store raw payload", "error", werr)
		return ref, env
	}
	ref.id = saved.ID
	return ref, env
}

func (r auditRef) notes(outcome string) *string {
	var parts []string
	if r.ip != "" {
		parts = append(parts, "ip="+r.ip)
	}
	if outcome != "" {
		parts = append(parts, outcome)
	}
	if len(parts) == 0 {
		return nil
	}
	n := strings.Join(parts, "; ")
	return &n
}

func (s *IngestionService) note(ctx context.Context, ref auditRef, outcome string) {
	if ref.id == 0 {
		return
	}
	if err := s.raw.MarkProcessed(ctx, ref.id, ref.notes(outcome)); err != nil {
		logger.Warn("failed to update raw payload", "raw_payload_id", ref.id, "error", err)
	}
}

// markProcessed records the delivery as finished once nothing is left to do
// for it on this path.
func (s *IngestionService) markProcessed(ctx context.Context, pc *processor.ProcessingContext) {
	if s.guard == nil || pc == nil {
		return
	}
	if err := s.guard.MarkSuccess(ctx, pc); err != nil {
		logger.Warn("failed to mark delivery processed", "error", err)
	}
}

func (s *IngestionService) parkWorkItem(ctx context.Context, item *model.IncomingMessage, cause error) {
	if s.deadLetter == nil {
		return
	}
	b, err := json.Marshal(item)
	if err != nil {
		logger.Error("worker item could not be encoded", "thread_key", item.ThreadKey, "error", err)
		return
	}
	if err := s.deadLetter.Record(ctx, string(b), fmt.Errorf("%w: %v", ErrEnqueueFailed, cause), model.DeadLetterSourceWorker); err != nil {
		logger.Error("worker item lost, every dead letter sink failed", "thread_key", item.ThreadKey, "error", err)
	}
}

func (s *IngestionService) recordDeadLetter(ctx context.Context, raw []byte, cause error) {
	if s.deadLetter == nil {
		return
	}
	if err := s.deadLetter.Record(ctx, string(raw), cause, model.DeadLetterSourceWebhook); err != nil {
		logger.Error("delivery lost, every dead letter sink failed", "error", err)
	}
}

// persistWithRetry runs the write once more when it lost a race on a unique
// index; the second attempt finds the row the winner created.
func (s *IngestionService) persistWithRetry(ctx context.Context, snap *normalizer.Snapshot) (*persistOutcome, error) {
	var (
		out *persistOutcome
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			var perr error
			out, perr = s.persist(ctx, snap)
			return perr
		})
		if err == nil || !repository.IsDuplicate(err) || ctx.Err() != nil {
			break
		}
		logger.Info("concurrent delivery won the insert, retrying", "thread_key", snap.ThreadKey)
	}
	return out, err
}

func (s *IngestionService) persist(ctx context.Context, snap *normalizer.Snapshot) (*persistOutcome, error) {
	if snap.IsReaction() {
		return s.applyReaction(ctx, snap)
	}

	thread, created, err := s.resolveThread(ctx, snap)
	if err != nil {
		return nil, err
	}
	out := &persistOutcome{thread: thread}

	if !created {
		dup, err := s.messages.Exists(ctx, thread.ID, snap.ExternalID, snap.RawHash)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		if dup {
			logger.Info("duplicate delivery skipped", "thread_key", thread.ThreadKey, "external_id", snap.ExternalID)
			out.duplicate = true
			return out, nil
		}
	}

	msg, err := s.messages.Create(ctx, buildMessage(thread.ID, snap))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	out.message = msg

	if err := s.threads.ApplyMessage(ctx, thread.ID, snap.TimestampUTC, snap.Preview, snap.DirectionIn); err != nil {
		return nil, fmt.Errorf("update thread summary: %w", err)
	}
	return out, nil
}

func (s *IngestionService) resolveThread(ctx context.Context, snap *normalizer.Snapshot) (*model.Thread, bool, error) {
	id := snap.Identity
	t, err := s.threads.FindByIdentity(ctx, snap.ThreadKey, id.LID, id.Phone)
	if errors.Is(err, repository.ErrNotFound) {
		t, err = s.threads.Create(ctx, newThread(snap, s.now()))
		if err != nil {
			return nil, false, fmt.Errorf("create thread: %w", err)
		}
		logger.Info("thread created", "thread_key", t.ThreadKey, "thread_id", t.ID)
		return t, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find thread: %w", err)
	}

	if mergeIdentity(t, snap) {
		if err := s.threads.UpdateIdentity(ctx, t); err != nil {
			return nil, false, fmt.Errorf("update thread identity: %w", err)
		}
	}
	return t, false, nil
}

// applyReaction annotates the target message and moves the thread summary
// without touching the unread counter. A reaction never creates a thread or a
// message; without a known target it is dropped.
func (s *IngestionService) applyReaction(ctx context.Context, snap *normalizer.Snapshot) (*persistOutcome, error) {
	r := snap.Reaction
	thread, err := s.threads.FindByIdentity(ctx, snap.ThreadKey, snap.Identity.LID, snap.Identity.Phone)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("reaction for unknown thread, dropped", "thread_key", snap.ThreadKey, "target_external_id", r.TargetExternalID)
		return &persistOutcome{dropped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find thread: %w", err)
	}
	out := &persistOutcome{thread: thread}

	target, err := s.messages.FindByExternalID(ctx, thread.ID, r.TargetExternalID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("reaction target not found, dropped", "thread_key", out.thread.ThreadKey, "target_external_id", r.TargetExternalID)
		out.dropped = true
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reaction target: %w", err)
	}

	var emoji *string
	if r.Emoji != "" {
		e := r.Emoji
		emoji = &e
	}
	if err := s.messages.SetReaction(ctx, target.ID, emoji); err != nil {
		return nil, fmt.Errorf("set reaction: %w", err)
	}
	if err := s.threads.ApplyMessage(ctx, thread.ID, snap.TimestampUTC, snap.Preview, false); err != nil {
		return nil, fmt.Errorf("update thread summary: %w", err)
	}
	target.Reaction = emoji
	out.message = target
	return out, nil
}

func newThread(snap *normalizer.Snapshot, now time.Time) *model.Thread {
	id := snap.Identity
	t := &model.Thread{
		ThreadKey:           snap.ThreadKey,
		BusinessAccountID:   snap.BusinessAccountID,
		Channel:             model.ChannelWhatsApp,
		CustomerDisplayName: snap.DisplayName,
		MainParticipant:     identity.MainParticipant(id),
		Status:              model.ThreadStatusOpen,
		CreatedUTC:          now.UTC(),
	}
	if id.HasPhone() {
		phone := id.Phone
		pid := identity.PlatformID(phone)
		t.CustomerPhone = &phone
		t.CustomerPlatformID = &pid
	}
	if id.HasLID() {
		lid := id.LID
		t.CustomerLID = &lid
		if t.CustomerPlatformID == nil {
			t.CustomerPlatformID = &lid
		}
	}
	return t
}

// mergeIdentity promotes a LID-only thread once a phone is known and upgrades
// a placeholder name. A known phone is never replaced or cleared.
func mergeIdentity(t *model.Thread, snap *normalizer.Snapshot) bool {
	id := snap.Identity
	changed := false

	if id.HasPhone() && t.CustomerPhone == nil {
		phone := id.Phone
		pid := identity.PlatformID(phone)
		logger.Info("promoting thread to phone identity", "thread_id", t.ID, "from", t.ThreadKey, "to", identity.ThreadKey(id))
		t.ThreadKey = identity.ThreadKey(identity.Identity{Phone: phone})
		t.CustomerPhone = &phone
		t.CustomerPlatformID = &pid
		t.MainParticipant = phone
		changed = true
	}
	if id.HasLID() && t.CustomerLID == nil {
		lid := id.LID
		t.CustomerLID = &lid
		changed = true
	}
	if snap.DirectionIn && normalizer.IsPlaceholderName(t.CustomerDisplayName) && !normalizer.IsPlaceholderName(snap.DisplayName) {
		t.CustomerDisplayName = snap.DisplayName
		changed = true
	}
	return changed
}

func buildMessage(threadID int64, snap *normalizer.Snapshot) *model.Message {
	ts := snap.ExternalTimestamp
	m := &model.Message{
		ThreadID:          threadID,
		Sender:            snap.Sender,
		Text:              snap.Text,
		TimestampUTC:      snap.TimestampUTC,
		ExternalTimestamp: &ts,
		DirectionIn:       snap.DirectionIn,
		RawPayload:        string(snap.Raw),
		RawHash:           snap.RawHash,
		Kind:              snap.Kind,
	}
	if snap.DisplayName != "" {
		name := snap.DisplayName
		m.DisplayName = &name
	}
	if snap.ExternalID != "" {
		ext := snap.ExternalID
		m.ExternalID = &ext
	}
	if md := snap.Media; md != nil {
		url, mime, typ := md.URL, md.Mime, md.Type
		m.HasMedia = true
		m.MediaURL = &url
		m.MediaMime = &mime
		m.MediaType = &typ
		m.MediaCaption = md.Caption
		m.Media = &model.MessageMedia{
			MediaType:         md.Type,
			MimeType:          &mime,
			FileName:          md.FileName,
			FileLength:        md.FileLength,
			PageCount:         md.PageCount,
			MediaURL:          &url,
			DirectPath:        md.DirectPath,
			MediaKey:          md.MediaKey,
			FileSHA256:        md.FileSHA256,
			FileEncSHA256:     md.FileEncSHA256,
			MediaKeyTimestamp: md.MediaKeyTimestamp,
			ThumbnailBase64:   md.Thumbnail,
		}
	}
	return m
}

func (s *IngestionService) incoming(snap *normalizer.Snapshot, out *persistOutcome) *model.IncomingMessage {
	msg := &model.IncomingMessage{
		ThreadKey:         out.thread.ThreadKey,
		ThreadID:          out.thread.ID,
		BusinessAccountID: snap.BusinessAccountID,
		Sender:            snap.Sender,
		DisplayName:       out.thread.CustomerDisplayName,
		Text:              snap.Preview,
		Kind:              snap.Kind,
		Timestamp:         snap.TimestampUTC,
		DirectionIn:       snap.DirectionIn,
		Action:            model.ActionInitial,
		Reason:            reasonIncoming,
		Title:             model.TitleFromName(out.thread.CustomerDisplayName),
	}
	if snap.Text != nil {
		msg.Text = *snap.Text
	}
	if out.message != nil {
		msg.MessageID = out.message.ID
	}
	if snap.Media != nil {
		url := snap.Media.URL
		msg.MediaURL = &url
	}
	if snap.IsReaction() {
		msg.Action = model.ActionReaction
		if out.message != nil {
			msg.Reaction = out.message.Reaction
		}
	}
	return msg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
