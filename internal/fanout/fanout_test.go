package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenPublisher struct {
	panics bool
	calls  int
}

func (b *brokenPublisher) Name() string { return "broken" }

func (b *brokenPublisher) Publish(context.Context, string, []byte) error {
	b.calls++
	if b.panics {
		panic("transport exploded")
	}
	return errors.New("transport down")
}

func sampleEvent(account string) *Event {
	return EventFromIncoming(&model.IncomingMessage{
		ThreadKey:         "wa:5215512345678",
		ThreadID:          7,
		MessageID:         42,
		BusinessAccountID: account,
		Sender:            "5215512345678@s.whatsapp.net",
		DisplayName:       "Ana",
		Text:              "hola",
		Kind:              model.MessageKindText,
		Timestamp:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		DirectionIn:       true,
		Action:            model.ActionInitial,
	})
}

func receive(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case b, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		var ev Event
		require.NoError(t, json.Unmarshal(b, &ev))
		return &ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return nil
}

func TestHub_DeliversOnlyToAccountGroup(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe("acct-a")
	b := hub.Subscribe("acct-b")
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	New(hub).Notify(context.Background(), sampleEvent("acct-a"))

	ev := receive(t, a)
	assert.Equal(t, EventNewMessage, ev.Type)
	assert.Equal(t, "wa:5215512345678", ev.ThreadKey)
	assert.EqualValues(t, 7, ev.ThreadDBID)
	assert.EqualValues(t, 42, ev.MessageID)
	assert.True(t, ev.DirectionIn)

	select {
	case <-b.C:
		t.Fatal("other account received the event")
	default:
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("acct")
	defer hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Broadcast("acct", []byte(`{}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
	assert.Len(t, sub.C, 1)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(0)
	sub := hub.Subscribe("acct")
	assert.Equal(t, 1, hub.Subscribers("acct"))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.Subscribers("acct"))

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestFanout_PublisherFailuresAreSwallowed(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("acct")
	defer hub.Unsubscribe(sub)

	failing := &brokenPublisher{}
	panicking := &brokenPublisher{panics: true}

	assert.NotPanics(t, func() {
		New(failing, panicking, hub).Notify(context.Background(), sampleEvent("acct"))
	})
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, panicking.calls)

	ev := receive(t, sub)
	assert.Equal(t, "hola", ev.Text)
}

func TestFanout_NilEventAndNoPublishers(t *testing.T) {
	assert.NotPanics(t, func() {
		New().Notify(context.Background(), sampleEvent("acct"))
		New(NewHub(1)).Notify(context.Background(), nil)
		Nop{}.Notify(context.Background(), nil)
	})
}

func TestEventFromIncoming_Reaction(t *testing.T) {
	emoji := "👍"
	ev := EventFromIncoming(&model.IncomingMessage{Action: model.ActionReaction, Reaction: &emoji})
	assert.Equal(t, EventReaction, ev.Type)
	require.NotNil(t, ev.Reaction)
	assert.Equal(t, emoji, *ev.Reaction)
}

func TestRedisRelay_CrossesReplicas(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "crm:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	hub := NewHub(4)
	sub := hub.Subscribe("acct-1")
	defer hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relayDone := make(chan error, 1)
	go func() { relayDone <- RelayToHub(ctx, adapter, hub) }()

	// the relay confirms its subscription before it consumes anything
	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, 2*time.Second, 10*time.Millisecond)

	New(NewRedisPublisher(adapter)).Notify(context.Background(), sampleEvent("acct-1"))

	ev := receive(t, sub)
	assert.Equal(t, "acct-1", ev.BusinessAccountID)

	cancel()
	select {
	case <-relayDone:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestAMQPPublisher_NotConfigured(t *testing.T) {
	p := NewAMQPPublisher("", "crm.inbox.events")
	err := p.Publish(context.Background(), "acct", []byte(`{}`))
	assert.Error(t, err)
	assert.NoError(t, p.Close())
}
