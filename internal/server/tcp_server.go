package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"track-svr/internal/dispatcher"
	"track-svr/internal/observability"
	"track-svr/internal/protocol"
)

const (
	DefaultIdleTimeout = 10 * time.Minute
	DefaultMaxBuffer   = 64 * 1024
	readChunk          = 4096
	writeTimeout       = 10 * time.Second
)

type Options struct {
	IdleTimeout time.Duration
	MaxBuffer   int
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = DefaultMaxBuffer
	}
	return o
}

// TCPServer acepta conexiones de un protocolo y corre una goroutine por
// conexion.
type TCPServer struct {
	addr       string
	dispatcher *dispatcher.Dispatcher
	env        protocol.Env
	opts       Options
	logger     *slog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewTCP(addr string, d *dispatcher.Dispatcher, env protocol.Env, opts Options, logger *slog.Logger) *TCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		addr:       addr,
		dispatcher: d,
		env:        env,
		opts:       opts.withDefaults(),
		logger:     logger.With("component", "tcp", "protocol", d.Protocol().Name, "addr", addr),
	}
}

// Listen binds the socket. Serve calls it when it was not called before.
func (s *TCPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("error starting TCP server: %w", err)
	}
	s.ln = ln
	return nil
}

func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts until ctx is cancelled, then closes every connection and
// waits for their handlers.
func (s *TCPServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.ln
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("TCP server listening")
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("TCP server stopped")
				return nil
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.HandleConnection(ctx, c)
		}(conn)
	}
}

// HandleConnection reads until EOF, idle timeout or ctx cancel. Frames are
// dispatched in arrival order on this goroutine.
func (s *TCPServer) HandleConnection(ctx context.Context, c net.Conn) {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	p := s.dispatcher.Protocol()
	observability.Connections.WithLabelValues(p.Name).Inc()

	if tcpConn, ok := c.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	var writeMu sync.Mutex
	reply := func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := c.Write(b)
		return err
	}
	conn := protocol.NewConn(p.Name, protocol.TCP, c.RemoteAddr(), s.env, reply)
	defer conn.Close()

	var frames protocol.FrameDecoder
	if p.NewFrameDecoder != nil {
		frames = p.NewFrameDecoder()
	}

	log := conn.Logger()
	log.Debug("connection opened")

	buf := make([]byte, 0, readChunk)
	chunk := make([]byte, readChunk)
	for {
		_ = c.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		n, err := c.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = s.drain(ctx, conn, frames, buf)
			if len(buf) > s.opts.MaxBuffer {
				observability.BufferOverflows.WithLabelValues(p.Name).Inc()
				log.Warn("buffer overflow, discarding", "len", len(buf))
				buf = buf[:0]
			}
		}
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil, errors.Is(err, net.ErrClosed):
				log.Debug("connection closed")
			case errors.As(err, &ne) && ne.Timeout():
				log.Info("idle timeout")
			default:
				log.Warn("read error", "err", err)
			}
			return
		}
	}
}

// drain dispatches every complete frame and moves the unconsumed tail to
// the front of buf.
func (s *TCPServer) drain(ctx context.Context, conn *protocol.Conn, frames protocol.FrameDecoder, buf []byte) []byte {
	if frames == nil {
		s.dispatcher.Dispatch(ctx, conn, buf)
		return buf[:0]
	}
	off := 0
	for off < len(buf) {
		frame, n := frames.DecodeFrame(buf[off:])
		if n == 0 {
			break
		}
		off += n
		s.dispatcher.Dispatch(ctx, conn, frame)
	}
	if off == 0 {
		return buf
	}
	rest := copy(buf, buf[off:])
	return buf[:rest]
}
