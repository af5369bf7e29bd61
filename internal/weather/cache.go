package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"notiapp/internal/geo"
)

// CachedProvider keeps readings in Redis keyed by coordinates rounded to ~1km.
// Redis failures degrade to uncached lookups.
type CachedProvider struct {
	next Provider
	rdb  redis.UniversalClient
	ttl  time.Duration
}

func NewCachedProvider(next Provider, rdb redis.UniversalClient, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(p geo.Point) string {
	return fmt.Sprintf("weather:%.2f:%.2f", p.Lat, p.Lon)
}

func (c *CachedProvider) Current(ctx context.Context, p geo.Point) (Reading, error) {
	key := cacheKey(p)
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var r Reading
		if err := json.Unmarshal(b, &r); err == nil {
			return r, nil
		}
		log.Warn().Str("key", key).Msg("discarding corrupt weather cache entry")
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Msg("weather cache read failed")
	}

	r, err := c.next.Current(ctx, p)
	if err != nil {
		return Reading{}, err
	}
	if r.IsMock {
		return r, nil
	}
	if b, err := json.Marshal(r); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("weather cache write failed")
		}
	}
	return r, nil
}
