package mongosink

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"track-svr/internal/model"
)

func testPosition() *model.Position {
	p := model.NewPosition("transsync")
	p.ID = 31
	p.DeviceID = 2
	p.SetTime(time.Date(2026, 8, 9, 10, 11, 12, 0, time.UTC))
	p.Valid = true
	p.Latitude, p.Longitude = 12.97, 77.59
	p.Set(model.KeyIgnition, false)
	return p
}

func TestDocuments(t *testing.T) {
	p := testPosition()
	doc := PositionDocument(p)
	assert.Equal(t, int64(31), doc["_id"])
	assert.Equal(t, int64(2), doc["deviceId"])
	assert.Equal(t, 12.97, doc["latitude"])
	assert.Equal(t, p.FixTime, doc["fixTime"])
	assert.Equal(t, false, doc["attributes"].(bson.M)[model.KeyIgnition])

	e := model.NewGeofenceEvent(model.EventGeofenceEnter, p, 9)
	ev := EventDocument(e)
	assert.Equal(t, e.ID, ev["eventId"])
	assert.Equal(t, "geofenceEnter", ev["type"])
	assert.Equal(t, int64(31), ev["positionId"])
	assert.Equal(t, int64(9), ev["geofenceId"])
}

func TestMongoIntegration(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, uri, "track_svr_test", nil)
	require.NoError(t, err)
	defer db.Client().Disconnect(ctx)
	require.NoError(t, db.Drop(ctx))

	s := New(db)
	require.NoError(t, s.EnsureIndexes(ctx))
	p := testPosition()
	require.NoError(t, s.StorePosition(ctx, p))
	require.NoError(t, s.StorePosition(ctx, p), "redelivery upserts")

	e := model.NewGeofenceEvent(model.EventGeofenceExit, p, 1)
	require.NoError(t, s.StoreEvent(ctx, e))
	require.NoError(t, s.StoreEvent(ctx, e), "duplicate event ignored")

	n, err := db.Collection(PositionsCollection).CountDocuments(ctx, bson.M{"deviceId": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
