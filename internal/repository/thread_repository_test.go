package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newThread(key, phone, lid string) *model.Thread {
	t := &model.Thread{
		ThreadKey:           key,
		BusinessAccountID:   "ventas",
		Channel:             model.ChannelWhatsApp,
		CustomerDisplayName: "Contacto LID",
		MainParticipant:     phone,
	}
	if phone != "" {
		t.CustomerPhone = strPtr(phone)
		t.CustomerPlatformID = strPtr(phone + "@s.whatsapp.net")
	}
	if lid != "" {
		t.CustomerLID = strPtr(lid)
		if phone == "" {
			t.MainParticipant = lid
		}
	}
	return t
}

func TestThreadRepository_Create(t *testing.T) {
	repo := NewThreadRepository(SetupTestDB(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, newThread("wa:521", "521", ""))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotZero(t, created.CreatedUTC)

	t.Run("thread key is unique", func(t *testing.T) {
		_, err := repo.Create(ctx, newThread("wa:521", "521", ""))
		assert.Error(t, err)
	})

	t.Run("find by key", func(t *testing.T) {
		got, err := repo.FindByKey(ctx, "wa:521")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		_, err = repo.FindByKey(ctx, "wa:999")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestThreadRepository_FindByIdentity(t *testing.T) {
	repo := NewThreadRepository(SetupTestDB(t))
	ctx := context.Background()

	lidThread, err := repo.Create(ctx, newThread("wa:lid:77", "", "77@lid"))
	require.NoError(t, err)

	t.Run("matches by lid when the key changed", func(t *testing.T) {
		got, err := repo.FindByIdentity(ctx, "wa:521", "77@lid", "521")
		require.NoError(t, err)
		assert.Equal(t, lidThread.ID, got.ID)
	})

	t.Run("prefers the phone match", func(t *testing.T) {
		phoneThread, err := repo.Create(ctx, newThread("wa:522", "522", ""))
		require.NoError(t, err)

		got, err := repo.FindByIdentity(ctx, "wa:522", "77@lid", "522")
		require.NoError(t, err)
		assert.Equal(t, phoneThread.ID, got.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.FindByIdentity(ctx, "wa:000", "", "000")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestThreadRepository_UpdateIdentity(t *testing.T) {
	repo := NewThreadRepository(SetupTestDB(t))
	ctx := context.Background()

	thread, err := repo.Create(ctx, newThread("wa:lid:77", "", "77@lid"))
	require.NoError(t, err)

	thread.ThreadKey = "wa:521"
	thread.CustomerPhone = strPtr("521")
	thread.CustomerPlatformID = strPtr("521@s.whatsapp.net")
	thread.MainParticipant = "521"
	thread.CustomerDisplayName = "Maria"
	require.NoError(t, repo.UpdateIdentity(ctx, thread))

	got, err := repo.GetByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "wa:521", got.ThreadKey)
	assert.Equal(t, "521", *got.CustomerPhone)
	assert.Equal(t, "77@lid", *got.CustomerLID)
	assert.Equal(t, "Maria", got.CustomerDisplayName)

	thread.ID = 999
	assert.ErrorIs(t, repo.UpdateIdentity(ctx, thread), ErrNotFound)
}

func TestThreadRepository_ApplyMessage(t *testing.T) {
	repo := NewThreadRepository(SetupTestDB(t))
	ctx := context.Background()

	thread, err := repo.Create(ctx, newThread("wa:521", "521", ""))
	require.NoError(t, err)

	at := time.Date(2025, 12, 14, 20, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyMessage(ctx, thread.ID, at, "Hola", true))
	require.NoError(t, repo.ApplyMessage(ctx, thread.ID, at.Add(time.Minute), "respuesta", false))
	require.NoError(t, repo.ApplyMessage(ctx, thread.ID, at.Add(2*time.Minute), "otra", true))

	got, err := repo.GetByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)
	assert.Equal(t, "otra", got.LastMessagePreview)
	assert.True(t, at.Add(2*time.Minute).Equal(*got.LastMessageUTC))

	require.NoError(t, repo.MarkRead(ctx, thread.ID))
	got, err = repo.GetByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount)

	assert.ErrorIs(t, repo.ApplyMessage(ctx, 999, at, "x", true), ErrNotFound)
	assert.ErrorIs(t, repo.MarkRead(ctx, 999), ErrNotFound)
}

func TestThreadRepository_ApplyMessageConcurrent(t *testing.T) {
	repo := NewThreadRepository(SetupTestDB(t))
	ctx := context.Background()

	thread, err := repo.Create(ctx, newThread("wa:521", "521", ""))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.ApplyMessage(ctx, thread.ID, time.Now(), "x", true))
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.UnreadCount)
}

func TestThreadRepository_ListAndCounts(t *testing.T) {
	repo := NewThreadRepository(SetupTestDB(t))
	ctx := context.Background()

	base := time.Date(2025, 12, 14, 10, 0, 0, 0, time.UTC)
	for i, phone := range []string{"521", "522", "523"} {
		th := newThread("wa:"+phone, phone, "")
		th.CustomerDisplayName = []string{"Ana", "Beto", "Carla"}[i]
		created, err := repo.Create(ctx, th)
		require.NoError(t, err)
		require.NoError(t, repo.ApplyMessage(ctx, created.ID, base.Add(time.Duration(i)*time.Hour), "msg", true))
		if phone == "522" {
			require.NoError(t, repo.Assign(ctx, created.ID, strPtr("agent1")))
		}
	}

	t.Run("all ordered by last message", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.ThreadFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, items, 3)
		assert.Equal(t, "Carla", items[0].CustomerDisplayName)
		assert.Equal(t, "Ana", items[2].CustomerDisplayName)
	})

	t.Run("mine", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.ThreadFilter{Filter: model.ThreadFilterMine, CurrentUser: "agent1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "Beto", items[0].CustomerDisplayName)
	})

	t.Run("unassigned", func(t *testing.T) {
		_, total, err := repo.List(ctx, model.ThreadFilter{Filter: model.ThreadFilterUnassigned})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("search", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.ThreadFilter{Search: "carl"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "523", *items[0].CustomerPhone)
	})

	t.Run("pagination", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.ThreadFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, items, 1)
	})

	t.Run("counts", func(t *testing.T) {
		counts, err := repo.Counts(ctx, "agent1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), counts.All)
		assert.Equal(t, int64(1), counts.Mine)
		assert.Equal(t, int64(2), counts.Unassigned)
	})

	t.Run("unassign", func(t *testing.T) {
		th, err := repo.FindByKey(ctx, "wa:522")
		require.NoError(t, err)
		require.NoError(t, repo.Assign(ctx, th.ID, nil))
		counts, err := repo.Counts(ctx, "agent1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), counts.Mine)
	})
}

func TestThreadRepository_DuplicateKeyIsDetected(t *testing.T) {
	repo := NewThreadRepository(SetupTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, newThread("wa:5215551234567", "5215551234567", ""))
	require.NoError(t, err)

	_, err = repo.Create(ctx, newThread("wa:5215551234567", "5215551234567", ""))
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
	assert.False(t, IsDuplicate(ErrNotFound))
}
