package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/crm-inbox/internal/fanout"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchStub bool

func (s switchStub) Enabled(context.Context) bool { return bool(s) }

type recordedDeadLetter struct {
	raw    string
	cause  error
	source string
}

type deadLetterStub struct {
	mu      sync.Mutex
	records []recordedDeadLetter
}

func (d *deadLetterStub) Record(_ context.Context, raw string, cause error, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, recordedDeadLetter{raw: raw, cause: cause, source: source})
	return nil
}

func (d *deadLetterStub) all() []recordedDeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedDeadLetter(nil), d.records...)
}

type funcProcessor func(ctx context.Context, msg *model.IncomingMessage) error

func (f funcProcessor) Process(ctx context.Context, msg *model.IncomingMessage) error {
	return f(ctx, msg)
}
func (f funcProcessor) GetType() string { return "test" }

type enrichmentFixture struct {
	threads *repository.ThreadRepository
	history *repository.PipelineHistoryRepository
	hub     *fanout.Hub
	proc    *EnrichmentProcessor
	thread  *model.Thread
}

func setupEnrichment(t *testing.T, enabled bool) *enrichmentFixture {
	t.Helper()
	db := repository.SetupTestDB(t)
	threads := repository.NewThreadRepository(db)
	history := repository.NewPipelineHistoryRepository(db)
	hub := fanout.NewHub(8)

	phone := "5215512345678"
	thread, err := threads.Create(context.Background(), &model.Thread{
		ThreadKey:           "wa:" + phone,
		BusinessAccountID:   "acct-1",
		Channel:             model.ChannelWhatsApp,
		CustomerDisplayName: "Ana",
		CustomerPhone:       &phone,
		MainParticipant:     phone,
		CreatedUTC:          time.Now().UTC(),
	})
	require.NoError(t, err)

	proc := NewEnrichmentProcessor(threads, history, db, switchStub(enabled), fanout.New(hub), "Default", "Inbox")
	return &enrichmentFixture{threads: threads, history: history, hub: hub, proc: proc, thread: thread}
}

func TestEnrichmentProcessor_AppendsHistoryAndNotifies(t *testing.T) {
	f := setupEnrichment(t, true)
	sub := f.hub.Subscribe("acct-1")
	defer f.hub.Unsubscribe(sub)

	err := f.proc.Process(context.Background(), &model.IncomingMessage{
		ThreadKey:         f.thread.ThreadKey,
		BusinessAccountID: "acct-1",
		MessageID:         9,
		Text:              "hola",
		DirectionIn:       true,
		Action:            model.ActionInitial,
		Timestamp:         time.Now(),
	})
	require.NoError(t, err)

	rows, err := f.history.ListByThread(context.Background(), f.thread.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Default", rows[0].PipelineName)
	assert.Equal(t, "Inbox", rows[0].StageName)
	assert.Equal(t, model.PipelineSourceWorker, rows[0].Source)

	select {
	case b := <-sub.C:
		var ev fanout.Event
		require.NoError(t, json.Unmarshal(b, &ev))
		assert.Equal(t, f.thread.ID, ev.ThreadDBID)
		assert.EqualValues(t, 9, ev.MessageID)
	case <-time.After(time.Second):
		t.Fatal("no fanout event")
	}
}

func TestEnrichmentProcessor_UsesClassification(t *testing.T) {
	f := setupEnrichment(t, true)

	err := f.proc.Process(context.Background(), &model.IncomingMessage{
		ThreadID: f.thread.ID,
		Action:   model.ActionInitial,
		AI:       &model.AIInfo{PipelineName: "Ventas", StageName: "Nuevo"},
	})
	require.NoError(t, err)

	rows, err := f.history.ListByThread(context.Background(), f.thread.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ventas", rows[0].PipelineName)
	assert.Equal(t, "Nuevo", rows[0].StageName)
}

func TestEnrichmentProcessor_ReactionSkipsHistory(t *testing.T) {
	f := setupEnrichment(t, true)

	require.NoError(t, f.proc.Process(context.Background(), &model.IncomingMessage{
		ThreadKey: f.thread.ThreadKey,
		Action:    model.ActionReaction,
	}))

	rows, err := f.history.ListByThread(context.Background(), f.thread.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEnrichmentProcessor_DisabledIsNoop(t *testing.T) {
	f := setupEnrichment(t, false)

	require.NoError(t, f.proc.Process(context.Background(), &model.IncomingMessage{
		ThreadKey: f.thread.ThreadKey,
		Action:    model.ActionInitial,
	}))

	rows, err := f.history.ListByThread(context.Background(), f.thread.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEnrichmentProcessor_MissingThreadIsNotRecreated(t *testing.T) {
	f := setupEnrichment(t, true)

	err := f.proc.Process(context.Background(), &model.IncomingMessage{
		ThreadKey: "wa:5219999999999",
		Action:    model.ActionInitial,
	})
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = f.threads.FindByKey(context.Background(), "wa:5219999999999")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEnrichmentProcessor_ReadsThreadFromPrimary(t *testing.T) {
	db := repository.SetupReplicaLagTestDB(t)
	threads := repository.NewThreadRepository(db)
	history := repository.NewPipelineHistoryRepository(db)
	hub := fanout.NewHub(8)
	ctx := context.Background()

	thread, err := threads.Create(ctx, &model.Thread{
		ThreadKey:           "wa:5215512345678",
		BusinessAccountID:   "acct-1",
		Channel:             model.ChannelWhatsApp,
		CustomerDisplayName: "Ana",
		MainParticipant:     "5215512345678",
		CreatedUTC:          time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = threads.GetByID(ctx, thread.ID)
	require.ErrorIs(t, err, repository.ErrNotFound, "replica has not caught up")

	proc := NewEnrichmentProcessor(threads, history, db, switchStub(true), fanout.New(hub), "Default", "Inbox")
	require.NoError(t, proc.Process(ctx, &model.IncomingMessage{
		ThreadKey: thread.ThreadKey,
		ThreadID:  thread.ID,
		MessageID: 1,
		Action:    model.ActionInitial,
	}))

	var rows []*model.PipelineHistory
	require.NoError(t, db.WithinTransaction(ctx, func(ctx context.Context) error {
		rows, err = history.ListByThread(ctx, thread.ID)
		return err
	}))
	assert.Len(t, rows, 1)
}

func TestProcessorService_ProcessesInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int64
	)
	p := funcProcessor(func(_ context.Context, msg *model.IncomingMessage) error {
		mu.Lock()
		seen = append(seen, msg.MessageID)
		mu.Unlock()
		return nil
	})
	svc := NewProcessorService(p, &deadLetterStub{})
	svc.Start()

	for i := int64(1); i <= 50; i++ {
		require.NoError(t, svc.Dispatch(context.Background(), &model.IncomingMessage{MessageID: i}))
	}
	svc.Stop()

	require.Len(t, seen, 50)
	for i, id := range seen {
		assert.EqualValues(t, i+1, id)
	}
	assert.EqualValues(t, 50, svc.Stats().Processed)
}

func TestProcessorService_FailureGoesToDeadLetterAndLoopContinues(t *testing.T) {
	dl := &deadLetterStub{}
	var processed sync.WaitGroup
	processed.Add(3)
	p := funcProcessor(func(_ context.Context, msg *model.IncomingMessage) error {
		defer processed.Done()
		switch msg.MessageID {
		case 1:
			return errors.New("storage unavailable")
		case 2:
			panic("unexpected nil")
		}
		return nil
	})
	svc := NewProcessorService(p, dl)
	svc.Start()
	defer svc.Stop()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, svc.Dispatch(context.Background(), &model.IncomingMessage{MessageID: i, ThreadKey: "wa:1"}))
	}
	processed.Wait()

	require.Eventually(t, func() bool { return len(dl.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	records := dl.all()
	assert.Equal(t, model.DeadLetterSourceWorker, records[0].source)
	assert.EqualError(t, records[0].cause, "storage unavailable")
	assert.Contains(t, records[0].raw, `"message_id":1`)
	assert.Contains(t, records[1].cause.Error(), "unexpected nil")

	require.Eventually(t, func() bool { return svc.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)
	st := svc.Stats()
	assert.EqualValues(t, 2, st.Failed)
	assert.EqualValues(t, 2, st.DeadLettered)
	assert.False(t, st.LastProcessedAt.IsZero())
}

func TestProcessorService_DispatchAfterStop(t *testing.T) {
	svc := NewProcessorService(funcProcessor(func(context.Context, *model.IncomingMessage) error { return nil }), nil)
	svc.Start()
	svc.Stop()

	err := svc.Dispatch(context.Background(), &model.IncomingMessage{})
	assert.ErrorIs(t, err, ErrStopped)
}
