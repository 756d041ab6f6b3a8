package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-coordinator/internal/models"
)

// RedisGeo mirrors driver positions into a Redis GEO set, with a metadata hash
// per driver. The consumer writes it; the server reads it once on startup.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, rec models.LocationRecord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: rec.Loc.Lon, Latitude: rec.Loc.Lat, Name: rec.ActorID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", rec.ActorID, err)
	}
	cell := rec.Geohash
	if cell == "" {
		cell = Cell(rec.Loc)
	}
	meta := map[string]interface{}{
		"updated": rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"geohash": cell,
	}
	if err := r.client.HSet(ctx, metaKey(rec.ActorID), meta).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", rec.ActorID, err)
	}
	return nil
}

// Snapshot reads every mirrored driver position. Members whose position has
// vanished between the range and the lookup are skipped.
func (r *RedisGeo) Snapshot(ctx context.Context) ([]models.LocationRecord, error) {
	names, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", r.key, err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	pos, err := r.client.GeoPos(ctx, r.key, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("geopos %s: %w", r.key, err)
	}

	pipe := r.client.Pipeline()
	metas := make([]*redis.MapStringStringCmd, len(names))
	for i, n := range names {
		metas[i] = pipe.HGetAll(ctx, metaKey(n))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load driver metadata: %w", err)
	}

	out := make([]models.LocationRecord, 0, len(names))
	for i, n := range names {
		if i >= len(pos) || pos[i] == nil {
			continue
		}
		rec := models.LocationRecord{
			ActorID: n,
			Role:    models.RoleDriver,
			Loc:     models.Coord{Lat: pos[i].Latitude, Lon: pos[i].Longitude},
		}
		if m, err := metas[i].Result(); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, m["updated"]); err == nil {
				rec.UpdatedAt = ts
			}
			rec.Geohash = m["geohash"]
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
