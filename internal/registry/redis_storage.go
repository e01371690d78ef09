package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// RedisStorage keeps the registry in Redis under a per-device namespace.
// A hash maps each trip key to its metadata and one set per trip holds
// the seat numbers.  Mutations run as Lua scripts so concurrent writers
// sharing the namespace never lose each other's seats.
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStorage returns a RedisStorage namespaced by clientID.
func NewRedisStorage(rdb *redis.Client, clientID string) *RedisStorage {
	return &RedisStorage{rdb: rdb, prefix: "seathold:registry:" + clientID}
}

func (r *RedisStorage) metaKey() string { return r.prefix + ":trips" }

func (r *RedisStorage) seatsKey(tripKey string) string { return r.prefix + ":seats:" + tripKey }

type tripMeta struct {
	BusID         string `json:"busId"`
	Date          string `json:"date"`
	DepartureTime string `json:"departureTime"`
}

var addScript = redis.NewScript(`
    local meta = KEYS[1]
    local seats = KEYS[2]
    redis.call('HSETNX', meta, ARGV[1], ARGV[2])
    for i = 3, #ARGV do
        redis.call('SADD', seats, ARGV[i])
    end
    return redis.call('SCARD', seats)
`)

var removeScript = redis.NewScript(`
    local meta = KEYS[1]
    local seats = KEYS[2]
    for i = 2, #ARGV do
        redis.call('SREM', seats, ARGV[i])
    end
    local left = redis.call('SCARD', seats)
    if left == 0 then
        redis.call('DEL', seats)
        redis.call('HDEL', meta, ARGV[1])
    end
    return left
`)

var clearScript = redis.NewScript(`
    local meta = KEYS[1]
    local trips = redis.call('HKEYS', meta)
    for _, trip in ipairs(trips) do
        redis.call('DEL', ARGV[1] .. trip)
    end
    redis.call('DEL', meta)
    return #trips
`)

func (r *RedisStorage) Add(ctx context.Context, entry model.RegistryEntry) error {
	meta, err := json.Marshal(tripMeta{BusID: entry.BusID, Date: entry.Date, DepartureTime: entry.DepartureTime})
	if err != nil {
		return err
	}
	args := make([]interface{}, 0, len(entry.Seats)+2)
	args = append(args, entry.TripKey, string(meta))
	for _, s := range entry.Seats {
		args = append(args, s)
	}
	if err := addScript.Run(ctx, r.rdb, []string{r.metaKey(), r.seatsKey(entry.TripKey)}, args...).Err(); err != nil {
		return fmt.Errorf("registry add: %w", err)
	}
	return nil
}

func (r *RedisStorage) Remove(ctx context.Context, tripKey string, seats []string) error {
	args := make([]interface{}, 0, len(seats)+1)
	args = append(args, tripKey)
	for _, s := range seats {
		args = append(args, s)
	}
	if err := removeScript.Run(ctx, r.rdb, []string{r.metaKey(), r.seatsKey(tripKey)}, args...).Err(); err != nil {
		return fmt.Errorf("registry remove: %w", err)
	}
	return nil
}

func (r *RedisStorage) List(ctx context.Context) ([]model.RegistryEntry, error) {
	metas, err := r.rdb.HGetAll(ctx, r.metaKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("registry list: %w", err)
	}
	if len(metas) == 0 {
		return []model.RegistryEntry{}, nil
	}

	keys := make([]string, 0, len(metas))
	cmds := make(map[string]*redis.StringSliceCmd, len(metas))
	pipe := r.rdb.Pipeline()
	for k := range metas {
		keys = append(keys, k)
		cmds[k] = pipe.SMembers(ctx, r.seatsKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("registry list seats: %w", err)
	}

	out := make([]model.RegistryEntry, 0, len(keys))
	for _, k := range keys {
		var m tripMeta
		if err := json.Unmarshal([]byte(metas[k]), &m); err != nil {
			return nil, fmt.Errorf("registry decode %s: %w", k, err)
		}
		seats := cmds[k].Val()
		if len(seats) == 0 {
			continue
		}
		out = append(out, model.RegistryEntry{
			TripKey:       k,
			BusID:         m.BusID,
			Date:          m.Date,
			DepartureTime: m.DepartureTime,
			Seats:         model.UniqueSeats(seats),
		})
	}
	sortEntries(out)
	return out, nil
}

func (r *RedisStorage) Clear(ctx context.Context) error {
	if err := clearScript.Run(ctx, r.rdb, []string{r.metaKey()}, r.prefix+":seats:").Err(); err != nil {
		return fmt.Errorf("registry clear: %w", err)
	}
	return nil
}
