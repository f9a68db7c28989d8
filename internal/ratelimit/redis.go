package ratelimit

import (
	"context"
	"time"

	"atelier-api/internal/metrics"
	"atelier-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// admitScript prunes the window, then checks and appends in one atomic step.
// Scores are microsecond timestamps over a sorted set keyed per group.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])
redis.call('ZREMRANGEBYSCORE', key, 0, now - period)
if redis.call('ZCARD', key) >= max then
	return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, ttl)
return 1
`)

// Redis shares window state between hosts so a multi host deployment enforces
// one budget per key instead of one per process.
type Redis struct {
	cfg    Config
	log    *zap.SugaredLogger
	client *redis.Client
	now    func() time.Time
}

func NewRedis(cfg Config, client *redis.Client, log *zap.SugaredLogger) *Redis {
	return &Redis{
		cfg:    cfg,
		log:    log,
		client: client,
		now:    time.Now,
	}
}

func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

// Admit fails open: admission control protects the upstream quota, it is not
// billing, so an unreachable redis must not take the pipeline down with it.
func (r *Redis) Admit(ctx context.Context, key string) (bool, error) {
	if r.cfg.MaxCalls <= 0 {
		return true, nil
	}

	member, _ := nanoid.Generate(shared.IDAlphabet, 12)
	ttl := r.cfg.Period + shared.RedisWindowTTLSlack

	admitted, err := admitScript.Run(ctx, r.client,
		[]string{"ratelimit:window:" + key},
		r.now().UnixMicro(),
		r.cfg.Period.Microseconds(),
		r.cfg.MaxCalls,
		member,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		r.log.Warnw("Rate limit check failed, admitting", "key", key, "error", err)
		return true, err
	}

	if admitted == 0 {
		metrics.RateLimitRejections.WithLabelValues("redis").Inc()
		r.log.Infow("Rate limit reached", "key", key, "max_calls", r.cfg.MaxCalls, "period", r.cfg.Period.String())
		return false, nil
	}
	return true, nil
}
