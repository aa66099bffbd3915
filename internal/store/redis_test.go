package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/model"
)

func samplePosition() *model.Position {
	p := model.NewPosition("teltonika")
	p.ID = 12
	p.DeviceID = 3
	p.SetTime(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	p.Valid = true
	p.Latitude, p.Longitude = 28.6139, 77.209
	p.Set(model.KeyIgnition, true)
	p.Set(model.KeySatellites, 9)
	p.Set(model.KeyTotalDistance, 1234.56)
	return p
}

func TestStateRoundTrip(t *testing.T) {
	p := samplePosition()
	lastJSON, geoJSON, err := encodeState(p, []int64{4, 9})
	require.NoError(t, err)

	last, ids, err := decodeState(string(lastJSON), string(geoJSON))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)
	assert.Equal(t, p.ID, last.ID)
	assert.True(t, p.FixTime.Equal(last.FixTime))
	assert.Equal(t, int64(9), last.Attributes["sat"], "whole numbers come back as int64")
	assert.Equal(t, 1234.56, last.Attributes.Float(model.KeyTotalDistance))
	assert.Equal(t, true, last.Attributes[model.KeyIgnition])
}

func TestStateEmpty(t *testing.T) {
	lastJSON, geoJSON, err := encodeState(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, lastJSON)
	assert.Equal(t, "[]", string(geoJSON))

	last, ids, err := decodeState("", "")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Nil(t, ids)

	_, _, err = decodeState("{bad", "")
	assert.Error(t, err)
}

func TestRedisIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedis(ctx, addr, 15, nil)
	require.NoError(t, err)
	defer s.Close()

	p := samplePosition()
	require.NoError(t, s.SaveState(ctx, p.DeviceID, p, []int64{7}))
	last, ids, err := s.LoadState(ctx, p.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, last.ID)
	assert.Equal(t, []int64{7}, ids)

	last, ids, err = s.LoadState(ctx, 987654)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Nil(t, ids)
}
