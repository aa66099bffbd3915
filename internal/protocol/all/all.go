// Package all registers every built-in device protocol.
package all

import (
	"track-svr/internal/protocol"
	"track-svr/internal/protocol/cdacais2"
	"track-svr/internal/protocol/dimts"
	"track-svr/internal/protocol/teltonika"
	"track-svr/internal/protocol/transsync"
)

type Options struct {
	TranssyncDistanceFilter float64
}

func Registry(opts Options) (*protocol.Registry, error) {
	r := protocol.NewRegistry()
	for _, p := range []protocol.Protocol{
		teltonika.Protocol(),
		transsync.Protocol(transsync.Options{DistanceFilter: opts.TranssyncDistanceFilter}),
		dimts.Protocol(),
		cdacais2.Protocol(cdacais2.Options{}),
	} {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}
