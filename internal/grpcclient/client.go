// Package grpcclient forwards accepted positions and geofence events to a
// downstream forwarder service. Messages travel as google.protobuf.Struct.
package grpcclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"track-svr/internal/model"
	"track-svr/internal/pipeline"
)

const (
	ServiceName         = "track.Forwarder"
	StorePositionMethod = "/" + ServiceName + "/StorePosition"
	StoreEventMethod    = "/" + ServiceName + "/StoreEvent"
	defaultTimeout      = 5 * time.Second
)

// UniqueIDs resolves device ids to IMEIs for the payloads.
type UniqueIDs interface {
	UniqueID(deviceID int64) string
}

type GRPCClient struct {
	conn    *grpc.ClientConn
	devices UniqueIDs
	timeout time.Duration
	logger  *slog.Logger
}

func NewGRPCClient(addr string, devices UniqueIDs, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCClient{
		conn:    conn,
		devices: devices,
		timeout: defaultTimeout,
		logger:  logger.With("component", "grpcclient"),
	}, nil
}

func (g *GRPCClient) Close() error {
	return g.conn.Close()
}

func (g *GRPCClient) uniqueID(deviceID int64) string {
	if g.devices == nil {
		return ""
	}
	return g.devices.UniqueID(deviceID)
}

func (g *GRPCClient) invoke(ctx context.Context, method string, req *structpb.Struct) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.conn.Invoke(ctx, method, req, &emptypb.Empty{})
}

func (g *GRPCClient) StorePosition(ctx context.Context, p *model.Position) error {
	req, err := PositionStruct(pipeline.BuildTracking(g.uniqueID(p.DeviceID), p))
	if err != nil {
		return err
	}
	return g.invoke(ctx, StorePositionMethod, req)
}

func (g *GRPCClient) StoreEvent(ctx context.Context, e model.Event) error {
	req, err := EventStruct(e, g.uniqueID(e.DeviceID))
	if err != nil {
		return err
	}
	return g.invoke(ctx, StoreEventMethod, req)
}

// PositionStruct converts a tracking object into a Struct. Attribute
// values are bool, int64, float64 or string, all of which structpb
// accepts.
func PositionStruct(tr *pipeline.TrackingObject) (*structpb.Struct, error) {
	attrs := make(map[string]any, len(tr.Attributes))
	for k, v := range tr.Attributes {
		attrs[k] = v
	}
	s, err := structpb.NewStruct(map[string]any{
		"imei":        tr.IMEI,
		"protocol":    tr.Protocol,
		"device_id":   tr.DeviceID,
		"position_id": tr.PositionID,
		"dt":          tr.Datetime,
		"server_dt":   tr.ServerTime,
		"lat":         tr.Lat,
		"lon":         tr.Lon,
		"alt":         tr.Alt,
		"spd":         tr.Spd,
		"crs":         tr.Crs,
		"sats":        tr.Sats,
		"msg_type":    tr.MsgType,
		"fix":         tr.Fix,
		"outdated":    tr.Outdated,
		"attributes":  attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("position struct: %w", err)
	}
	return s, nil
}

func EventStruct(e model.Event, imei string) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"id":          e.ID,
		"type":        string(e.Type),
		"imei":        imei,
		"device_id":   e.DeviceID,
		"position_id": e.PositionID,
		"geofence_id": e.GeofenceID,
		"dt":          e.EventTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("event struct: %w", err)
	}
	return s, nil
}
