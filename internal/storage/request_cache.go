package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/models"
)

// RequestReader is the read surface the cache fronts.
type RequestReader interface {
	GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error)
	GetByCampaignID(ctx context.Context, campaignID int64) (*models.AirdropRequest, error)
}

// RequestCache is a short-TTL cache-aside layer in front of request point reads.
// The engine mutates request rows continuously, so the TTL is kept small and
// mutating operations invalidate eagerly. Cache failures degrade to the
// repository; they are logged, never propagated.
type RequestCache struct {
	cache *RedisCache
	repo  RequestReader
	ttl   time.Duration
}

// NewRequestCache creates a request read cache
func NewRequestCache(cache *RedisCache, repo RequestReader, ttl time.Duration) *RequestCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RequestCache{cache: cache, repo: repo, ttl: ttl}
}

func requestKey(id int64) string {
	return fmt.Sprintf("airdrop:request:%d", id)
}

func campaignKey(campaignID int64) string {
	return fmt.Sprintf("airdrop:campaign:%d", campaignID)
}

// GetByID returns the request by internal id, serving from cache when possible.
func (c *RequestCache) GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error) {
	if request, ok := c.lookup(ctx, requestKey(id)); ok {
		return request, nil
	}

	request, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, requestKey(id), request)
	return request, nil
}

// GetByCampaignID returns the request by external campaign id, serving from
// cache when possible.
func (c *RequestCache) GetByCampaignID(ctx context.Context, campaignID int64) (*models.AirdropRequest, error) {
	if request, ok := c.lookup(ctx, campaignKey(campaignID)); ok {
		return request, nil
	}

	request, err := c.repo.GetByCampaignID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, campaignKey(campaignID), request)
	return request, nil
}

// Invalidate drops the cached entries for a request after a mutation.
func (c *RequestCache) Invalidate(ctx context.Context, id, campaignID int64) {
	if err := c.cache.Del(ctx, requestKey(id), campaignKey(campaignID)); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("request cache invalidation failed")
	}
}

func (c *RequestCache) lookup(ctx context.Context, key string) (*models.AirdropRequest, bool) {
	payload, err := c.cache.Get(ctx, key)
	if err != nil {
		if err != redis.Nil {
			logging.FromContext(ctx).WithError(err).Warn("request cache read failed")
		}
		return nil, false
	}

	var request models.AirdropRequest
	if err := json.Unmarshal([]byte(payload), &request); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("request cache entry corrupt, dropping")
		_ = c.cache.Del(ctx, key)
		return nil, false
	}
	return &request, true
}

func (c *RequestCache) store(ctx context.Context, key string, request *models.AirdropRequest) {
	// Negative results are not cached: a campaign row usually appears right
	// after the miss.
	if request == nil {
		return
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, payload, c.ttl); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("request cache write failed")
	}
}
