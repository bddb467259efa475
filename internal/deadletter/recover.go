package deadletter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/prom"
	"github.com/nimasrn/crm-inbox/pkg/redis"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// RecoveryResult counts records moved back into the primary tier.
type RecoveryResult struct {
	FromRedis int `json:"from_redis"`
	FromFile  int `json:"from_file"`
	Corrupt   int `json:"corrupt"`
}

// Recoverer moves records parked in the secondary tiers back into the
// reviewable table once it accepts writes again. Records are removed from a
// tier only after the table accepted them.
type Recoverer struct {
	repo     DeadLetterCreator
	adapter  redis.RedisAdapter
	redisKey string
	filePath string
	log      *logger.ZapLogger
}

func NewRecoverer(repo DeadLetterCreator, adapter redis.RedisAdapter, redisKey, filePath string) *Recoverer {
	if redisKey == "" {
		redisKey = DefaultRedisKey
	}
	return &Recoverer{repo: repo, adapter: adapter, redisKey: redisKey, filePath: filePath, log: logger.Named("deadletter.recovery")}
}

func (r *Recoverer) Run(ctx context.Context) (*RecoveryResult, error) {
	res := &RecoveryResult{}
	err := r.run(ctx, res)
	prom.AddDeadLettersRecovered(TierRedis, res.FromRedis)
	prom.AddDeadLettersRecovered(TierFile, res.FromFile)
	if res.FromRedis+res.FromFile+res.Corrupt > 0 {
		r.log.Info("dead letters recovered", "from_redis", res.FromRedis, "from_file", res.FromFile, "corrupt", res.Corrupt)
	}
	return res, err
}

func (r *Recoverer) run(ctx context.Context, res *RecoveryResult) error {
	if r.adapter != nil {
		if err := r.drainRedis(ctx, res); err != nil {
			return err
		}
	}
	if r.filePath != "" {
		return r.drainFile(ctx, res)
	}
	return nil
}

func (r *Recoverer) drainRedis(ctx context.Context, res *RecoveryResult) error {
	client := r.adapter.Client()
	for ctx.Err() == nil {
		b, err := client.LPop(ctx, r.redisKey).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "pop redis dead letter")
		}

		var dl model.DeadLetter
		if err := json.Unmarshal(b, &dl); err != nil {
			r.log.Warn("corrupt dead letter in redis dropped", "error", err, "raw", string(b))
			res.Corrupt++
			continue
		}
		dl.ID = 0
		if _, err := r.repo.Create(ctx, &dl); err != nil {
			// put it back at the head so order is kept for the next run
			if perr := client.LPush(context.WithoutCancel(ctx), r.redisKey, b).Err(); perr != nil {
				r.log.Error("dead letter lost while requeueing", "error", perr, "raw", string(b))
			}
			return errors.Wrap(err, "store recovered dead letter")
		}
		res.FromRedis++
	}
	return ctx.Err()
}

func (r *Recoverer) drainFile(ctx context.Context, res *RecoveryResult) error {
	content, err := os.ReadFile(r.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", r.filePath)
	}

	var (
		remaining bytes.Buffer
		failure   error
	)
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if failure != nil || ctx.Err() != nil {
			remaining.Write(line)
			remaining.WriteByte('\n')
			continue
		}

		var dl model.DeadLetter
		if err := json.Unmarshal(line, &dl); err != nil {
			r.log.Warn("corrupt dead letter line dropped", "error", err, "path", r.filePath)
			res.Corrupt++
			continue
		}
		dl.ID = 0
		if _, err := r.repo.Create(ctx, &dl); err != nil {
			failure = errors.Wrap(err, "store recovered dead letter")
			remaining.Write(line)
			remaining.WriteByte('\n')
			continue
		}
		res.FromFile++
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", r.filePath)
	}

	if remaining.Len() == 0 {
		if err := os.Remove(r.filePath); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", r.filePath)
		}
		return failure
	}
	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, remaining.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, r.filePath); err != nil {
		return errors.Wrapf(err, "replace %s", r.filePath)
	}
	if failure == nil {
		failure = ctx.Err()
	}
	return failure
}
