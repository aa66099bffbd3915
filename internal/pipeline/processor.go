// Package pipeline runs decoded positions through distance, filtering,
// storage, last position tracking and geofencing for one device at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"track-svr/internal/filter"
	"track-svr/internal/geofence"
	"track-svr/internal/model"
	"track-svr/internal/observability"
	"track-svr/internal/registry"
)

var ErrNoDevice = errors.New("position without device id")

// Outcome reports what happened to one position.
type Outcome struct {
	Result filter.Result
	Events []model.Event
}

type Processor struct {
	registry  *registry.Registry
	filter    *filter.Engine
	geofences *geofence.Engine
	sink      Sink
	logger    *slog.Logger
}

func NewProcessor(reg *registry.Registry, f *filter.Engine, g *geofence.Engine, sink Sink, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = NewMulti(logger)
	}
	return &Processor{
		registry:  reg,
		filter:    f,
		geofences: g,
		sink:      sink,
		logger:    logger.With("component", "pipeline"),
	}
}

// Process handles one position as the single writer of its device state:
// distance, filter, id, storage, last position, geofences, events.
func (pr *Processor) Process(ctx context.Context, position *model.Position) (Outcome, error) {
	if position == nil || position.DeviceID == 0 {
		return Outcome{}, ErrNoDevice
	}
	defer observability.ObservePipelineLatency(time.Now())

	var out Outcome
	err := pr.registry.Update(ctx, position.DeviceID, func(tx *registry.Tx) error {
		last := tx.Last()
		ApplyDistance(position, last)

		out.Result = pr.filter.Filter(position, last)
		if !out.Result.Accepted() {
			for _, r := range out.Result.Reasons {
				observability.PositionsFiltered.WithLabelValues(string(r)).Inc()
			}
			return nil
		}
		accepted := out.Result.Position
		accepted.ID = pr.registry.NextPositionID()
		observability.PositionsAccepted.Inc()

		if err := pr.sink.StorePosition(ctx, accepted); err != nil {
			pr.sinkFailed("position", accepted.ID, err)
		}

		// an older fix is stored but never replaces the newer last position
		if last == nil || !accepted.FixTime.Before(last.FixTime) {
			tx.SetLast(accepted)
		}

		if pr.geofences != nil {
			out.Events = pr.geofences.Analyze(accepted, tx)
		}
		for _, e := range out.Events {
			observability.Events.WithLabelValues(string(e.Type)).Inc()
			if err := pr.sink.StoreEvent(ctx, e); err != nil {
				pr.sinkFailed("event", accepted.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("process device %d: %w", position.DeviceID, err)
	}
	return out, nil
}

// sinkFailed records a delivery failure; the position is still tracked.
func (pr *Processor) sinkFailed(kind string, positionID int64, err error) {
	observability.SinkErrors.WithLabelValues("pipeline").Inc()
	pr.logger.Warn("sink failed", "kind", kind, "positionId", positionID, "err", err)
}

// ProcessAll keeps batch order. A failing position is logged and the rest
// continue.
func (pr *Processor) ProcessAll(ctx context.Context, positions []*model.Position) {
	for _, p := range positions {
		if _, err := pr.Process(ctx, p); err != nil {
			pr.logger.Warn("position dropped", "err", err)
		}
	}
}
