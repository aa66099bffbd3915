// Package mongosink stores accepted positions and geofence events in
// MongoDB collections "positions" and "events".
package mongosink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"track-svr/internal/model"
)

const (
	PositionsCollection = "positions"
	EventsCollection    = "events"
	writeTimeout        = 5 * time.Second
)

type Sink struct {
	positions *mongo.Collection
	events    *mongo.Collection
}

// Connect opens the client and pings it.
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*mongo.Database, error) {
	if uri == "" {
		return nil, fmt.Errorf("MongoDB URI not provided")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	if logger != nil {
		logger.Info("mongodb connected", "database", database)
	}
	return client.Database(database), nil
}

func New(db *mongo.Database) *Sink {
	return &Sink{
		positions: db.Collection(PositionsCollection),
		events:    db.Collection(EventsCollection),
	}
}

// EnsureIndexes creates the lookup indexes used by readers.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	_, err := s.positions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "deviceId", Value: 1}, {Key: "fixTime", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("positions index: %w", err)
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "eventId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("events index: %w", err)
	}
	return nil
}

func PositionDocument(p *model.Position) bson.M {
	attrs := bson.M{}
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	return bson.M{
		"_id":        p.ID,
		"deviceId":   p.DeviceID,
		"protocol":   p.Protocol,
		"serverTime": p.ServerTime,
		"deviceTime": p.DeviceTime,
		"fixTime":    p.FixTime,
		"outdated":   p.Outdated,
		"valid":      p.Valid,
		"latitude":   p.Latitude,
		"longitude":  p.Longitude,
		"altitude":   p.Altitude,
		"speed":      p.Speed,
		"course":     p.Course,
		"accuracy":   p.Accuracy,
		"attributes": attrs,
	}
}

func EventDocument(e model.Event) bson.M {
	return bson.M{
		"eventId":    e.ID,
		"type":       string(e.Type),
		"deviceId":   e.DeviceID,
		"positionId": e.PositionID,
		"geofenceId": e.GeofenceID,
		"eventTime":  e.EventTime,
	}
}

// StorePosition upserts by position id so a redelivery overwrites.
func (s *Sink) StorePosition(ctx context.Context, p *model.Position) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.positions.ReplaceOne(ctx, bson.M{"_id": p.ID}, PositionDocument(p), options.Replace().SetUpsert(true))
	return err
}

func (s *Sink) StoreEvent(ctx context.Context, e model.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.events.InsertOne(ctx, EventDocument(e))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}
