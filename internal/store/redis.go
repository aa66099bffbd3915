// Package store persists device state (last position and geofence
// membership) in Redis so a restart resumes geofence diffs where it left.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"track-svr/internal/model"
	"track-svr/internal/observability"
)

type Redis struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedis conecta y verifica con PING.
func NewRedis(ctx context.Context, addr string, db int, logger *slog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("redis connected", "addr", addr, "db", db)
	return &Redis{rdb: rdb, logger: logger.With("component", "store")}, nil
}

func (s *Redis) Close() error { return s.rdb.Close() }

func lastKey(deviceID int64) string      { return fmt.Sprintf("dev:%d:last", deviceID) }
func geofencesKey(deviceID int64) string { return fmt.Sprintf("dev:%d:geofences", deviceID) }

// SaveState writes both keys in one MULTI.
func (s *Redis) SaveState(ctx context.Context, deviceID int64, last *model.Position, geofenceIDs []int64) error {
	lastJSON, geoJSON, err := encodeState(last, geofenceIDs)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if lastJSON != nil {
			pipe.Set(ctx, lastKey(deviceID), lastJSON, 0)
		}
		pipe.Set(ctx, geofencesKey(deviceID), geoJSON, 0)
		return nil
	})
	if err != nil {
		observability.StateErrors.Inc()
		return fmt.Errorf("redis save device %d: %w", deviceID, err)
	}
	return nil
}

func (s *Redis) LoadState(ctx context.Context, deviceID int64) (*model.Position, []int64, error) {
	vals, err := s.rdb.MGet(ctx, lastKey(deviceID), geofencesKey(deviceID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("redis load device %d: %w", deviceID, err)
	}
	var lastRaw, geoRaw string
	if len(vals) == 2 {
		lastRaw, _ = vals[0].(string)
		geoRaw, _ = vals[1].(string)
	}
	return decodeState(lastRaw, geoRaw)
}

func encodeState(last *model.Position, geofenceIDs []int64) ([]byte, []byte, error) {
	var lastJSON []byte
	if last != nil {
		b, err := json.Marshal(last)
		if err != nil {
			return nil, nil, fmt.Errorf("encode last position: %w", err)
		}
		lastJSON = b
	}
	if geofenceIDs == nil {
		geofenceIDs = []int64{}
	}
	geoJSON, err := json.Marshal(geofenceIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode geofences: %w", err)
	}
	return lastJSON, geoJSON, nil
}

func decodeState(lastRaw, geoRaw string) (*model.Position, []int64, error) {
	var last *model.Position
	if lastRaw != "" {
		last = &model.Position{}
		if err := json.Unmarshal([]byte(lastRaw), last); err != nil {
			return nil, nil, fmt.Errorf("decode last position: %w", err)
		}
		last.Attributes = normalize(last.Attributes)
	}
	var ids []int64
	if geoRaw != "" {
		if err := json.Unmarshal([]byte(geoRaw), &ids); err != nil {
			return nil, nil, fmt.Errorf("decode geofences: %w", err)
		}
	}
	if len(ids) == 0 {
		ids = nil
	}
	return last, ids, nil
}

// normalize turns JSON numbers back into int64 where they are whole, so
// attribute comparisons against fresh positions keep working.
func normalize(in model.Attributes) model.Attributes {
	out := model.Attributes{}
	for k, v := range in {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			out.Set(k, int64(f))
			continue
		}
		out.Set(k, v)
	}
	return out
}
