package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct {
	name  string
	calls int
}

func (s *failingSink) Name() string { return s.name }

func (s *failingSink) Write(context.Context, *model.DeadLetter) error {
	s.calls++
	return errors.New(s.name + " down")
}

type recordingSink struct {
	name    string
	records []*model.DeadLetter
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, dl *model.DeadLetter) error {
	s.records = append(s.records, dl)
	return nil
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

func TestChain_FirstHealthySinkWins(t *testing.T) {
	primary := &recordingSink{name: "primary"}
	secondary := &recordingSink{name: "secondary"}
	chain := NewChain(primary, secondary)

	err := chain.Record(context.Background(), `{"a":1}`, errors.New("boom"), model.DeadLetterSourceWebhook)
	require.NoError(t, err)

	require.Len(t, primary.records, 1)
	assert.Empty(t, secondary.records)

	dl := primary.records[0]
	assert.Equal(t, `{"a":1}`, dl.RawPayload)
	assert.Equal(t, "boom", dl.Error)
	require.NotNil(t, dl.Source)
	assert.Equal(t, model.DeadLetterSourceWebhook, *dl.Source)
	assert.False(t, dl.Reviewed)
	assert.Equal(t, "UTC", dl.OccurredUTC.Location().String())
}

func TestChain_FallsThroughInOrder(t *testing.T) {
	primary := &failingSink{name: "primary"}
	secondary := &failingSink{name: "secondary"}
	last := &recordingSink{name: "last"}
	chain := NewChain(primary, secondary, last)

	require.NoError(t, chain.Record(context.Background(), "raw", nil, model.DeadLetterSourceWorker))

	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	require.Len(t, last.records, 1)
	assert.Equal(t, "unknown error", last.records[0].Error)
}

func TestChain_AllSinksFail(t *testing.T) {
	chain := NewChain(&failingSink{name: "a"}, &failingSink{name: "b"})
	err := chain.Record(context.Background(), "raw", errors.New("x"), model.DeadLetterSourceWorker)
	assert.ErrorIs(t, err, ErrAllSinksFailed)
}

func TestRepositorySink_PersistsReviewableRow(t *testing.T) {
	db := repository.SetupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	chain := NewChain(NewRepositorySink(repo))

	require.NoError(t, chain.Record(context.Background(), "payload", errors.New("db down"), model.DeadLetterSourceWebhook))

	rows, total, err := repo.List(context.Background(), model.DeadLetterFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "payload", rows[0].RawPayload)
	assert.Equal(t, "db down", rows[0].Error)
}

func TestRedisSink_PushesJSON(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	chain := NewChain(&failingSink{name: "database"}, NewRedisSink(adapter, "crm:dead_letters"))

	require.NoError(t, chain.Record(context.Background(), "raw-body", errors.New("db down"), model.DeadLetterSourceWebhook))

	items, err := mr.List("crm:dead_letters")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var dl model.DeadLetter
	require.NoError(t, json.Unmarshal([]byte(items[0]), &dl))
	assert.Equal(t, "raw-body", dl.RawPayload)
	assert.Equal(t, "db down", dl.Error)
}

func TestRedisSink_RedisDownFallsToFile(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	mr.Close()

	path := filepath.Join(t.TempDir(), "nested", "dead.jsonl")
	chain := NewChain(&failingSink{name: "database"}, NewRedisSink(adapter, ""), NewFileSink(path))

	require.NoError(t, chain.Record(context.Background(), "first", errors.New("e1"), model.DeadLetterSourceWorker))
	require.NoError(t, chain.Record(context.Background(), "second", errors.New("e2"), model.DeadLetterSourceWorker))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var raws []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var dl model.DeadLetter
		require.NoError(t, json.Unmarshal(sc.Bytes(), &dl))
		raws = append(raws, dl.RawPayload)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"first", "second"}, raws)
}

func TestRedisSink_NilAdapter(t *testing.T) {
	err := NewRedisSink(nil, "").Write(context.Background(), &model.DeadLetter{})
	assert.Error(t, err)
}
