package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/iamgideonidoko/pulse/internal/models"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to the Redis instance at url. A non-empty password or a
// non-zero db overrides the values carried by the URL.
func NewCache(url, password string, db int, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{
		client: client,
		ttl:    ttl,
	}, nil
}

func analyticsKey(timeRange string) string { return "analytics:" + timeRange }
func geoKey(ip string) string { return "geo:" + ip }
func sessionsKey(day time.Time) string { return "sessions:" + day.UTC().Format("20060102") }

// GetAnalytics returns a cached analytics response for timeRange, or nil on a miss.
func (c *Cache) GetAnalytics(ctx context.Context, timeRange string) (*models.AnalyticsResponse, error) {
	var a models.AnalyticsResponse
	ok, err := c.getJSON(ctx, analyticsKey(timeRange), &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

func (c *Cache) SetAnalytics(ctx context.Context, timeRange string, a *models.AnalyticsResponse, ttl time.Duration) error {
	return c.setJSON(ctx, analyticsKey(timeRange), a, ttl)
}

// GetGeolocation returns a cached lookup for ip, or nil on a miss.
func (c *Cache) GetGeolocation(ctx context.Context, ip string) (*models.Geolocation, error) {
	var g models.Geolocation
	ok, err := c.getJSON(ctx, geoKey(ip), &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

func (c *Cache) SetGeolocation(ctx context.Context, ip string, g *models.Geolocation) error {
	return c.setJSON(ctx, geoKey(ip), g, c.ttl)
}

// MarkSession adds sessionID to the day's HyperLogLog of sessions.
func (c *Cache) MarkSession(ctx context.Context, sessionID string, at time.Time) error {
	key := sessionsKey(at)
	pipe := c.client.Pipeline()
	pipe.PFAdd(ctx, key, sessionID)
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache session mark error: %w", err)
	}
	return nil
}

// CountSessions estimates distinct sessions seen on the day of at.
func (c *Cache) CountSessions(ctx context.Context, at time.Time) (int64, error) {
	n, err := c.client.PFCount(ctx, sessionsKey(at)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache session count error: %w", err)
	}
	return n, nil
}

// CheckRateLimit implements fixed window rate limiting.
func (c *Cache) CheckRateLimit(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("rl:%s", identifier)

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check error: %w", err)
	}

	return incr.Val() <= int64(limit), nil
}

// IncrementMetric increments a counter metric.
func (c *Cache) IncrementMetric(ctx context.Context, metric string) error {
	return c.client.Incr(ctx, "metric:"+metric).Err()
}

// GetMetric retrieves a metric value.
func (c *Cache) GetMetric(ctx context.Context, metric string) (int64, error) {
	val, err := c.client.Get(ctx, "metric:"+metric).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil // Cache miss
	}
	if err != nil {
		return false, fmt.Errorf("cache get error: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache decode error: %w", err)
	}
	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode error: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}
