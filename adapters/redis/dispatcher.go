// Package redis keeps scheduled launches in Redis so they survive restarts
// and are fired by exactly one replica.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// Redis keys
const (
	keyLaunches = "scribe:launches"       // sorted set, member invite id, score fire time ms
	keyPayloads = "scribe:launch:payload" // hash, invite id -> launch JSON
)

const claimBatch = 100

// claimScript atomically pops due launches so concurrent replicas never fire
// the same one twice
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
	if redis.call('ZREM', KEYS[1], id) == 1 then
		local payload = redis.call('HGET', KEYS[2], id)
		redis.call('HDEL', KEYS[2], id)
		if payload then
			table.insert(out, payload)
		end
	end
end
return out
`)

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Dispatcher implements repositories.DeferredDispatcher on a Redis sorted set
type Dispatcher struct {
	client   *goredis.Client
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

var _ repositories.DeferredDispatcher = &Dispatcher{}

// NewDispatcher creates a dispatcher that polls for due launches every interval
func NewDispatcher(client *goredis.Client, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		client:   client,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Register implements repositories.DeferredDispatcher
func (d *Dispatcher) Register(ctx context.Context, launch entities.ScheduledLaunch) error {
	if launch.InviteID == "" {
		return errors.New("launch invite ID cannot be empty")
	}
	data, err := json.Marshal(launch)
	if err != nil {
		return fmt.Errorf("failed to marshal launch: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, keyPayloads, launch.InviteID, data)
	pipe.ZAdd(ctx, keyLaunches, goredis.Z{
		Score:  float64(launch.FireTime.UnixMilli()),
		Member: launch.InviteID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register launch: %w", err)
	}
	return nil
}

// Cancel implements repositories.DeferredDispatcher
func (d *Dispatcher) Cancel(ctx context.Context, inviteID string) error {
	pipe := d.client.TxPipeline()
	pipe.ZRem(ctx, keyLaunches, inviteID)
	pipe.HDel(ctx, keyPayloads, inviteID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel launch: %w", err)
	}
	return nil
}

// Pending returns the number of registered launches
func (d *Dispatcher) Pending(ctx context.Context) (int64, error) {
	return d.client.ZCard(ctx, keyLaunches).Result()
}

// Run implements repositories.DeferredDispatcher
func (d *Dispatcher) Run(ctx context.Context, fire repositories.FireFunc) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("Redis dispatcher started", zap.Duration("interval", d.interval))
	for {
		d.fireDue(ctx, fire)
		select {
		case <-ctx.Done():
			d.logger.Info("Redis dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// claimDue removes and returns up to claimBatch launches that are due
func (d *Dispatcher) claimDue(ctx context.Context) ([]entities.ScheduledLaunch, error) {
	until := strconv.FormatInt(d.now().UnixMilli(), 10)
	raw, err := claimScript.Run(ctx, d.client, []string{keyLaunches, keyPayloads}, until, claimBatch).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to claim due launches: %w", err)
	}

	launches := make([]entities.ScheduledLaunch, 0, len(raw))
	for _, item := range raw {
		var launch entities.ScheduledLaunch
		if err := json.Unmarshal([]byte(item), &launch); err != nil {
			d.logger.Error("Dropping undecodable launch", zap.Error(err))
			continue
		}
		launches = append(launches, launch)
	}
	return launches, nil
}

func (d *Dispatcher) fireDue(ctx context.Context, fire repositories.FireFunc) {
	launches, err := d.claimDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("Failed to poll scheduled launches", zap.Error(err))
		}
		return
	}
	for _, launch := range launches {
		if err := fire(ctx, launch); err != nil {
			d.logger.Error("Scheduled launch failed",
				zap.String("inviteID", launch.InviteID),
				zap.Error(err))
		}
	}
}
