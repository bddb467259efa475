package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/crm-inbox/internal/deadletter"
	"github.com/nimasrn/crm-inbox/internal/fanout"
	gateway "github.com/nimasrn/crm-inbox/internal/gateways"
	"github.com/nimasrn/crm-inbox/internal/handlers"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/normalizer"
	"github.com/nimasrn/crm-inbox/internal/processor"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"github.com/nimasrn/crm-inbox/test/fixtures"
	"github.com/nimasrn/crm-inbox/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const webhookToken = "e2e-token"

var authHeaders = map[string]string{handlers.HeaderWebhookToken: webhookToken}

type sentText struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type TestEnvironment struct {
	DB          *pg.DB
	Redis       *miniredis.Miniredis
	Hub         *fanout.Hub
	Worker      *processor.ProcessorService
	ThreadRepo  *repository.ThreadRepository
	MessageRepo *repository.MessageRepository
	HistoryRepo *repository.PipelineHistoryRepository
	Client      *fasthttp.Client

	mu   sync.Mutex
	sent []sentText
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	env := &TestEnvironment{}
	env.DB = repository.SetupTestDB(t)

	mr, adapter := helpers.SetupTestRedis(t)
	env.Redis = mr

	env.ThreadRepo = repository.NewThreadRepository(env.DB)
	env.MessageRepo = repository.NewMessageRepository(env.DB)
	env.HistoryRepo = repository.NewPipelineHistoryRepository(env.DB)
	deadLetterRepo := repository.NewDeadLetterRepository(env.DB)
	rawRepo := repository.NewRawPayloadRepository(env.DB)
	controlRepo := repository.NewWebhookControlRepository(env.DB)

	deadLetters := deadletter.NewChain(
		deadletter.NewRepositorySink(deadLetterRepo),
		deadletter.NewRedisSink(adapter, deadletter.DefaultRedisKey),
	)

	env.Hub = fanout.NewHub(16)
	notifier := fanout.New(env.Hub)

	control := services.NewControlService(controlRepo, "evolution", time.Minute)
	enrichment := processor.NewEnrichmentProcessor(env.ThreadRepo, env.HistoryRepo, env.DB, control, notifier,
		"Unassigned", "New")
	env.Worker = processor.NewProcessorService(enrichment, deadLetters)
	env.Worker.Start()
	t.Cleanup(env.Worker.Stop)

	provider, err := gateway.NewClient(&gateway.Config{
		BaseURL:  "http://provider.test",
		APIKey:   "provider-key",
		Instance: fixtures.Instance,
		Timeout:  2 * time.Second,
		Dial:     helpers.Dialer(t, env.fakeProvider),
	})
	require.NoError(t, err)

	ingestion := services.NewIngestionService(normalizer.New("https://mmg.whatsapp.net"), env.DB,
		env.ThreadRepo, env.MessageRepo, rawRepo,
		processor.NewIdempotencyService(adapter, processor.DefaultIdempotencyConfig()),
		env.Worker, deadLetters)
	auth := services.NewWebhookAuthenticator(nil, webhookToken, "")
	inbox := services.NewInboxService(env.ThreadRepo, env.MessageRepo, env.DB, provider, notifier, "MX")

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	g := s.Router.Group("/api/v1")
	handlers.RegisterWebhookRoutes(g, handlers.NewWebhookHandler(ingestion, control, auth))
	handlers.RegisterInboxRoutes(g, handlers.NewInboxHandler(inbox))
	handlers.RegisterDeadLetterRoutes(g, handlers.NewDeadLetterHandler(services.NewDeadLetterService(deadLetterRepo)))
	require.NoError(t, s.DoRouting())

	env.Client = helpers.ServeInMemory(t, s.Server.Handler)
	return env
}

func (env *TestEnvironment) fakeProvider(ctx *fasthttp.RequestCtx) {
	if string(ctx.Request.Header.Peek("apikey")) != "provider-key" {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		return
	}
	var req sentText
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	env.mu.Lock()
	env.sent = append(env.sent, req)
	n := len(env.sent)
	env.mu.Unlock()

	ctx.SetStatusCode(fasthttp.StatusCreated)
	ctx.SetBody(fixtures.SendTextReply(req.Number+"@s.whatsapp.net", fmt.Sprintf("OUT-%d", n)))
}

func (env *TestEnvironment) webhook(t *testing.T, payload []byte) services.IngestResult {
	t.Helper()
	status, body := helpers.Do(t, env.Client, fasthttp.MethodPost, "/api/v1/webhooks/evolution", payload, authHeaders)
	require.Equal(t, fasthttp.StatusOK, status, string(body))

	var res services.IngestResult
	require.NoError(t, json.Unmarshal(body, &res))
	return res
}

func (env *TestEnvironment) messageCount(t *testing.T, threadID int64) int64 {
	t.Helper()
	n, err := env.MessageRepo.CountByThread(context.Background(), threadID)
	require.NoError(t, err)
	return n
}

func TestE2E_InboundMessageReachesInboxAndStream(t *testing.T) {
	env := setupE2EEnvironment(t)
	sub := env.Hub.Subscribe(fixtures.Instance)
	defer env.Hub.Unsubscribe(sub)

	res := env.webhook(t, fixtures.TextMessage(fixtures.CustomerJid, "E2E-1", "Maria Lopez", "Hola", fixtures.BaseTime))
	require.Equal(t, services.IngestAccepted, res.Status)
	require.NotZero(t, res.ThreadID)
	require.NotZero(t, res.MessageID)

	select {
	case payload := <-sub.C:
		var ev fanout.Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, fanout.EventNewMessage, ev.Type)
		assert.Equal(t, res.ThreadID, ev.ThreadDBID)
		assert.Equal(t, "Hola", ev.Text)
		assert.True(t, ev.DirectionIn)
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered to the stream hub")
	}

	require.Eventually(t, func() bool {
		h, err := env.HistoryRepo.ListByThread(context.Background(), res.ThreadID)
		return err == nil && len(h) == 1
	}, 3*time.Second, 20*time.Millisecond)

	status, body := helpers.Do(t, env.Client, fasthttp.MethodGet, "/api/v1/inbox/threads", nil, nil)
	require.Equal(t, fasthttp.StatusOK, status)
	var list struct {
		Items []*model.Thread `json:"items"`
		Total int64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, "Maria Lopez", list.Items[0].CustomerDisplayName)
	assert.Equal(t, 1, list.Items[0].UnreadCount)
	assert.Equal(t, "Hola", list.Items[0].LastMessagePreview)

	status, body = helpers.Do(t, env.Client, fasthttp.MethodGet, fmt.Sprintf("/api/v1/inbox/threads/%d", res.ThreadID), nil, nil)
	require.Equal(t, fasthttp.StatusOK, status)
	var detail struct {
		ID       int64            `json:"id"`
		Messages []*model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &detail))
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "Hola", *detail.Messages[0].Text)

	status, _ = helpers.Do(t, env.Client, fasthttp.MethodPost, fmt.Sprintf("/api/v1/inbox/threads/%d/read", res.ThreadID), nil, nil)
	assert.Equal(t, fasthttp.StatusNoContent, status)

	thread, err := env.ThreadRepo.GetByID(context.Background(), res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 0, thread.UnreadCount)
}

func TestE2E_RedeliveryIsStoredOnce(t *testing.T) {
	env := setupE2EEnvironment(t)
	payload := fixtures.TextMessage(fixtures.CustomerJid, "E2E-DUP", "Maria Lopez", "Hola", fixtures.BaseTime)

	first := env.webhook(t, payload)
	second := env.webhook(t, payload)

	assert.Equal(t, services.IngestAccepted, first.Status)
	assert.Equal(t, services.IngestDuplicate, second.Status)
	assert.Equal(t, int64(1), env.messageCount(t, first.ThreadID))
	assert.True(t, env.Redis.Exists("delivery:processed:"+processor.DeliveryKey(first.ThreadKey, "E2E-DUP", normalizer.Hash(payload))))
}

func TestE2E_ReactionAnnotatesTarget(t *testing.T) {
	env := setupE2EEnvironment(t)

	msg := env.webhook(t, fixtures.TextMessage(fixtures.CustomerJid, "E2E-R1", "Maria Lopez", "Hola", fixtures.BaseTime))
	react := env.webhook(t, fixtures.Reaction(fixtures.CustomerJid, "E2E-R2", "E2E-R1", "👍", fixtures.BaseTime.Add(time.Minute)))
	require.Equal(t, services.IngestAccepted, react.Status)

	stored, err := env.MessageRepo.GetByID(context.Background(), msg.MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored.Reaction)
	assert.Equal(t, "👍", *stored.Reaction)
	assert.Equal(t, int64(1), env.messageCount(t, msg.ThreadID))
}

func TestE2E_AgentReplyGoesThroughProvider(t *testing.T) {
	env := setupE2EEnvironment(t)
	res := env.webhook(t, fixtures.TextMessage(fixtures.CustomerJid, "E2E-S1", "Maria Lopez", "Hola", fixtures.BaseTime))

	status, body := helpers.Do(t, env.Client, fasthttp.MethodPost,
		fmt.Sprintf("/api/v1/inbox/threads/%d/messages", res.ThreadID),
		[]byte(`{"text":"  Buenas tardes  ","sender":"ana"}`), nil)
	require.Equal(t, fasthttp.StatusCreated, status, string(body))

	var sent model.Message
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.False(t, sent.DirectionIn)
	assert.Equal(t, "Buenas tardes", *sent.Text)
	require.NotNil(t, sent.ExternalID)
	assert.Equal(t, "OUT-1", *sent.ExternalID)

	env.mu.Lock()
	require.Len(t, env.sent, 1)
	assert.Equal(t, "5215551234567", env.sent[0].Number)
	env.mu.Unlock()

	// the provider echo of our own send is recognised as already stored
	echo := env.webhook(t, fixtures.AgentEcho(fixtures.CustomerJid, "OUT-1", "Buenas tardes", fixtures.BaseTime.Add(time.Minute)))
	assert.Equal(t, services.IngestDuplicate, echo.Status)
	assert.Equal(t, int64(2), env.messageCount(t, res.ThreadID))
}

func TestE2E_KillSwitch(t *testing.T) {
	env := setupE2EEnvironment(t)

	status, _ := helpers.Do(t, env.Client, fasthttp.MethodPut, "/api/v1/webhooks/evolution/control", []byte(`{"enabled":false}`), nil)
	require.Equal(t, fasthttp.StatusOK, status)

	res := env.webhook(t, fixtures.TextMessage(fixtures.CustomerJid, "E2E-K1", "Maria Lopez", "Hola", fixtures.BaseTime))
	assert.Equal(t, services.IngestDisabled, res.Status)

	_, total, err := env.ThreadRepo.List(context.Background(), model.ThreadFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	status, _ = helpers.Do(t, env.Client, fasthttp.MethodPut, "/api/v1/webhooks/evolution/control", []byte(`{"enabled":true}`), nil)
	require.Equal(t, fasthttp.StatusOK, status)
	res = env.webhook(t, fixtures.TextMessage(fixtures.CustomerJid, "E2E-K1", "Maria Lopez", "Hola", fixtures.BaseTime))
	assert.Equal(t, services.IngestAccepted, res.Status)
}

func TestE2E_RejectsUnauthenticatedCaller(t *testing.T) {
	env := setupE2EEnvironment(t)

	status, _ := helpers.Do(t, env.Client, fasthttp.MethodPost, "/api/v1/webhooks/evolution",
		fixtures.TextMessage(fixtures.CustomerJid, "E2E-A1", "Maria Lopez", "Hola", fixtures.BaseTime),
		map[string]string{handlers.HeaderWebhookToken: "wrong"})
	assert.Equal(t, fasthttp.StatusUnauthorized, status)
}

func TestE2E_MalformedPayloadIsDeadLettered(t *testing.T) {
	env := setupE2EEnvironment(t)

	res := env.webhook(t, []byte(`{"event":"messages.upsert","data":`))
	assert.Equal(t, services.IngestAcceptedRaw, res.Status)

	presence := env.webhook(t, fixtures.Presence(fixtures.CustomerJid))
	assert.Equal(t, services.IngestAcceptedRaw, presence.Status)

	status, body := helpers.Do(t, env.Client, fasthttp.MethodGet, "/api/v1/dead-letters?reviewed=false", nil, nil)
	require.Equal(t, fasthttp.StatusOK, status)
	var list struct {
		Items []*model.DeadLetter `json:"items"`
		Total int64               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, `{"event":"messages.upsert","data":`, list.Items[0].RawPayload)

	status, _ = helpers.Do(t, env.Client, fasthttp.MethodPost, fmt.Sprintf("/api/v1/dead-letters/%d/review", list.Items[0].ID), nil, nil)
	assert.Equal(t, fasthttp.StatusNoContent, status)
}
