package quarantine

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecentIndex shares the index between shards through Redis.
type RedisRecentIndex struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisRecentIndex(redisURL string, ttl time.Duration) (*RedisRecentIndex, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	return &RedisRecentIndex{Client: rdb, TTL: ttl}, nil
}

func redisRecentKey(communityID, principalID string) string {
	return "nukeguard/recent/" + communityID + "/" + principalID
}

func (r *RedisRecentIndex) Mark(ctx context.Context, communityID, principalID string, at time.Time) (bool, error) {
	return r.Client.SetNX(ctx, redisRecentKey(communityID, principalID), strconv.FormatInt(at.Unix(), 10), r.TTL).Result()
}

func (r *RedisRecentIndex) Contains(ctx context.Context, communityID, principalID string) (bool, error) {
	n, err := r.Client.Exists(ctx, redisRecentKey(communityID, principalID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRecentIndex) Remove(ctx context.Context, communityID, principalID string) error {
	return r.Client.Del(ctx, redisRecentKey(communityID, principalID)).Err()
}

func (r *RedisRecentIndex) Close() error {
	return r.Client.Close()
}

var _ RecentIndex = (*RedisRecentIndex)(nil)
