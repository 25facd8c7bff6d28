package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
)

// Connect opens a Redis client from cfg and pings it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.DialTimeout = seconds(cfg.DialTimeout)
	opts.ReadTimeout = seconds(cfg.ReadTimeout)
	opts.WriteTimeout = seconds(cfg.WriteTimeout)
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, seconds(cfg.PingTimeout))
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Keys lays out presence data under a prefix:
//
//	{prefix}:online            set of connected accessory ids
//	{prefix}:accessory:{id}    hash of the descriptor plus online and last-seen
//	{prefix}:state:{id}        hash of "{service}/{characteristic}" to JSON value
type Keys struct {
	Prefix string
}

// Online is the set of connected accessory ids.
func (k Keys) Online() string { return k.Prefix + ":online" }

// Accessory is the descriptor hash of one accessory.
func (k Keys) Accessory(id uuid.UUID) string { return k.Prefix + ":accessory:" + id.String() }

// State is the last-value hash of one accessory.
func (k Keys) State(id uuid.UUID) string { return k.Prefix + ":state:" + id.String() }

// StateField names a characteristic within the State hash.
func StateField(service accessory.ServiceName, name accessory.CharacteristicName) string {
	return string(service) + "/" + string(name)
}

// RedisStore keeps presence in Redis.
type RedisStore struct {
	rdb  redis.UniversalClient
	keys Keys
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store writing under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, keys: Keys{Prefix: prefix}}
}

// Reset clears the online set. Called at startup, when nothing is connected yet.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.keys.Online()).Err()
}

// MarkOnline records the descriptor and adds the accessory to the online set.
func (s *RedisStore) MarkOnline(ctx context.Context, acc accessory.Accessory, at time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.keys.Online(), acc.ID.String())
		pipe.HSet(ctx, s.keys.Accessory(acc.ID),
			"name", acc.Name,
			"room-name", acc.RoomName,
			"manufacturer", string(acc.Manufacturer),
			"model", string(acc.Model),
			"online", "1",
			"last-seen", at.UnixMilli(),
		)
		return nil
	})
	return err
}

// MarkOffline removes the accessory from the online set. Its descriptor and
// last-known state are kept.
func (s *RedisStore) MarkOffline(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.keys.Online(), id.String())
		pipe.HSet(ctx, s.keys.Accessory(id), "online", "0", "last-seen", at.UnixMilli())
		return nil
	})
	return err
}

// SetState stores the latest value of a characteristic.
func (s *RedisStore) SetState(ctx context.Context, id uuid.UUID, service accessory.ServiceName, c accessory.Characteristic, at time.Time) error {
	value, err := accessory.MarshalCharacteristic(c)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.State(id), StateField(service, c.Name()), value)
		pipe.HSet(ctx, s.keys.Accessory(id), "last-seen", at.UnixMilli())
		return nil
	})
	return err
}

// OnlineAccessories lists the ids in the online set.
func (s *RedisStore) OnlineAccessories(ctx context.Context) ([]uuid.UUID, error) {
	members, err := s.rdb.SMembers(ctx, s.keys.Online()).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("online set member %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
