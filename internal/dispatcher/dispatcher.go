// Package dispatcher hands every cut frame to its protocol decoder and the
// resulting positions, in order, to the pipeline.
package dispatcher

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"track-svr/internal/model"
	"track-svr/internal/observability"
	"track-svr/internal/protocol"
	"track-svr/internal/utilities"
)

// Handler consumes decoded positions. *pipeline.Processor implements it.
type Handler interface {
	ProcessAll(ctx context.Context, positions []*model.Position)
}

type Options struct {
	// RawLogDir enables hex capture of every frame when set.
	RawLogDir string
}

type Dispatcher struct {
	protocol protocol.Protocol
	handler  Handler
	rawDir   string
	logger   *slog.Logger
}

func New(p protocol.Protocol, h Handler, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		protocol: p,
		handler:  h,
		rawDir:   opts.RawLogDir,
		logger:   logger.With("component", "dispatcher", "protocol", p.Name),
	}
}

func (d *Dispatcher) Protocol() protocol.Protocol { return d.protocol }

// Dispatch decodes one frame and processes its positions before returning,
// so frames of a connection are handled strictly in arrival order. It
// returns the number of positions handed to the pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *protocol.Conn, frame []byte) int {
	observability.FramesRecv.WithLabelValues(d.protocol.Name).Inc()
	d.captureRaw(frame)

	start := time.Now()
	positions, err := d.protocol.Decoder.Decode(ctx, conn, frame)
	observability.ObserveDecodeLatency(start)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownDevice) {
			conn.Logger().Debug("frame from unknown device dropped")
		} else {
			observability.DecodeErrors.WithLabelValues(d.protocol.Name).Inc()
			conn.Logger().Warn("decode failed", "err", err, "len", len(frame))
		}
	}

	kept := positions[:0]
	for _, p := range positions {
		if p != nil && p.DeviceID != 0 {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return 0
	}
	observability.PositionsDecoded.WithLabelValues(d.protocol.Name).Add(float64(len(kept)))
	if d.handler != nil {
		d.handler.ProcessAll(ctx, kept)
	}
	return len(kept)
}

func (d *Dispatcher) captureRaw(frame []byte) {
	if d.rawDir == "" {
		return
	}
	if err := utilities.CreateLog(d.rawDir, strings.ToUpper(d.protocol.Name), hex.EncodeToString(frame)); err != nil {
		d.logger.Warn("raw log failed", "err", err)
	}
}
