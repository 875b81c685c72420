package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// releaseScript deletes a claim only if this worker still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends every claim in KEYS still owned by ARGV[1].
var renewScript = redis.NewScript(`
local n = 0
for _, k in ipairs(KEYS) do
	if redis.call("GET", k) == ARGV[1] then
		redis.call("PEXPIRE", k, ARGV[2])
		n = n + 1
	end
end
return n`)

// RedisCoordinator shares claims and heartbeats between workers
// through redis keys that expire after the ttl.  Every heartbeat
// renews the claims this worker still holds, so a claim lives exactly
// as long as its owner keeps announcing.
type RedisCoordinator struct {
	l hclog.Logger
	c *redis.Client

	repo    types.RepositoryID
	self    types.Worker
	ttl     time.Duration
	timeout time.Duration

	mu   sync.Mutex
	held map[string]struct{}
}

// NewRedisCoordinator connects to the redis server at url.
func NewRedisCoordinator(l hclog.Logger, url string, repo types.RepositoryID, self types.Worker, ttl, timeout time.Duration) (*RedisCoordinator, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, types.ErrInvalidOption{Option: "workers.redis_url", Value: url}
	}
	c := &RedisCoordinator{
		l:       l.Named("redis"),
		c:       redis.NewClient(opt),
		repo:    repo,
		self:    self,
		ttl:     ttl,
		timeout: timeout,
		held:    make(map[string]struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.c.Ping(ctx).Err(); err != nil {
		c.c.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return c, nil
}

func (c *RedisCoordinator) claimKey(base string) string {
	return fmt.Sprintf("nrepo:%s:claim:%s", c.repo, base)
}

func workerKey(id string) string {
	return "nrepo:workers:" + id
}

// Claimed looks up every base in one round trip.  A timeout is
// reported as ErrWorkerUnreachable.
func (c *RedisCoordinator) Claimed(ctx context.Context, bases []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(bases) == 0 {
		return out, nil
	}
	keys := make([]string, len(bases))
	for i, b := range bases {
		keys[i] = c.claimKey(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	vals, err := c.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, c.wrap(err)
	}
	for i, v := range vals {
		owner, ok := v.(string)
		if !ok || owner == c.self.Identifier {
			continue
		}
		out[bases[i]] = owner
	}
	return out, nil
}

// Claim sets the claim key if it is free or already ours.
func (c *RedisCoordinator) Claim(ctx context.Context, base string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	key := c.claimKey(base)
	ok, err := c.c.SetNX(ctx, key, c.self.Identifier, c.ttl).Result()
	if err != nil {
		return false, c.wrap(err)
	}
	if !ok {
		owner, err := c.c.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if ok, err = c.c.SetNX(ctx, key, c.self.Identifier, c.ttl).Result(); err != nil {
				return false, c.wrap(err)
			}
		case err != nil:
			return false, c.wrap(err)
		case owner == c.self.Identifier:
			if err := c.c.Expire(ctx, key, c.ttl).Err(); err != nil {
				return false, c.wrap(err)
			}
			ok = true
		}
	}
	if ok {
		c.mu.Lock()
		c.held[base] = struct{}{}
		c.mu.Unlock()
	}
	return ok, nil
}

// Release drops our claim on base.
func (c *RedisCoordinator) Release(ctx context.Context, base string) error {
	c.mu.Lock()
	delete(c.held, base)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := releaseScript.Run(ctx, c.c, []string{c.claimKey(base)}, c.self.Identifier).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return c.wrap(err)
	}
	return nil
}

// Announce publishes a heartbeat for this worker and renews every
// claim it holds.  The heartbeat interval has to stay below the ttl.
func (c *RedisCoordinator) Announce(ctx context.Context) error {
	b, err := json.Marshal(c.self)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.c.Set(ctx, workerKey(c.self.Identifier), b, c.ttl).Err(); err != nil {
		return c.wrap(err)
	}

	c.mu.Lock()
	keys := make([]string, 0, len(c.held))
	for base := range c.held {
		keys = append(keys, c.claimKey(base))
	}
	c.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}
	n, err := renewScript.Run(ctx, c.c, keys, c.self.Identifier, c.ttl.Milliseconds()).Int()
	if err != nil {
		return c.wrap(err)
	}
	if n < len(keys) {
		c.l.Warn("Some claims were lost before renewal", "held", len(keys), "renewed", n)
	}
	return nil
}

// Workers lists the workers whose heartbeat key has not expired.
func (c *RedisCoordinator) Workers(ctx context.Context) ([]types.Worker, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out []types.Worker
	iter := c.c.Scan(ctx, 0, workerKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		b, err := c.c.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, c.wrap(err)
		}
		var w types.Worker
		if err := json.Unmarshal(b, &w); err != nil {
			c.l.Warn("Bad worker record", "key", iter.Val(), "error", err)
			continue
		}
		out = append(out, w)
	}
	if err := iter.Err(); err != nil {
		return nil, c.wrap(err)
	}
	return out, nil
}

// Close disconnects from redis.
func (c *RedisCoordinator) Close() error {
	return c.c.Close()
}

func (c *RedisCoordinator) wrap(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return types.ErrWorkerUnreachable{Worker: c.self.Identifier, Err: err}
	}
	return err
}
