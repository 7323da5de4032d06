package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

// StatsCacheInterface はイベント統計キャッシュのインターフェース
type StatsCacheInterface interface {
	Get(ctx context.Context, eventID string) (*ticket.Stats, error)
	Set(ctx context.Context, eventID string, stats *ticket.Stats, ttl time.Duration) error
	Invalidate(ctx context.Context, eventID string) error
}

// StatsCache はイベント統計のキャッシュを管理する
type StatsCache struct {
	client *redis.Client
}

// NewStatsCache は新しいStatsCacheインスタンスを作成する
func NewStatsCache(client *redis.Client) *StatsCache {
	return &StatsCache{client: client}
}

// Get はイベント統計をキャッシュから取得する
func (c *StatsCache) Get(ctx context.Context, eventID string) (*ticket.Stats, error) {
	val, err := c.client.Get(ctx, c.statsKey(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}

	var stats ticket.Stats
	if err := json.Unmarshal(val, &stats); err != nil {
		// 壊れたキャッシュはミス扱いにして再計算させる
		return nil, ErrCacheMiss
	}
	return &stats, nil
}

// Set はイベント統計をキャッシュに保存する
func (c *StatsCache) Set(ctx context.Context, eventID string, stats *ticket.Stats, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("キャッシュのシリアライズに失敗: %w", err)
	}
	if err := c.client.Set(ctx, c.statsKey(eventID), data, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate はイベント統計のキャッシュを無効化する
func (c *StatsCache) Invalidate(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, c.statsKey(eventID)).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

func (c *StatsCache) statsKey(eventID string) string {
	return fmt.Sprintf("stats:event:%s", eventID)
}

var _ StatsCacheInterface = (*StatsCache)(nil)
