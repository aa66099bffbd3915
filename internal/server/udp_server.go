package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"track-svr/internal/dispatcher"
	"track-svr/internal/observability"
	"track-svr/internal/protocol"
)

const maxDatagram = 65535

// UDPServer decodes each datagram as one frame. Identity is resolved per
// datagram since there is no connection to hold a session.
type UDPServer struct {
	addr       string
	dispatcher *dispatcher.Dispatcher
	env        protocol.Env
	logger     *slog.Logger

	mu sync.Mutex
	pc net.PacketConn
}

func NewUDP(addr string, d *dispatcher.Dispatcher, env protocol.Env, logger *slog.Logger) *UDPServer {
	if logger == nil {
		logger = slog.Default()
	}
	// no session observer: a datagram does not open a connection
	env.Sessions = nil
	return &UDPServer{
		addr:       addr,
		dispatcher: d,
		env:        env,
		logger:     logger.With("component", "udp", "protocol", d.Protocol().Name, "addr", addr),
	}
}

func (s *UDPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc != nil {
		return nil
	}
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("error starting UDP server: %w", err)
	}
	s.pc = pc
	return nil
}

func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

func (s *UDPServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	pc := s.pc
	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	p := s.dispatcher.Protocol()
	s.logger.Info("UDP server listening")

	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("UDP server stopped")
				return nil
			}
			s.logger.Warn("read error", "err", err)
			continue
		}
		observability.Datagrams.WithLabelValues(p.Name).Inc()

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handleDatagram(ctx, pc, remote, datagram)
	}
}

func (s *UDPServer) handleDatagram(ctx context.Context, pc net.PacketConn, remote net.Addr, datagram []byte) {
	p := s.dispatcher.Protocol()
	reply := func(b []byte) error {
		_, err := pc.WriteTo(b, remote)
		return err
	}
	conn := protocol.NewConn(p.Name, protocol.UDP, remote, s.env, reply)

	s.dispatcher.Dispatch(ctx, conn, datagram)
}
