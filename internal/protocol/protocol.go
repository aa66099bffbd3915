// Package protocol defines what every device protocol implements: a frame
// decoder that cuts the byte stream into messages and a decoder that turns
// one message into positions.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"track-svr/internal/model"
)

const (
	TCP = "tcp"
	UDP = "udp"
)

var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrDuplicate       = errors.New("protocol already registered")
	// ErrUnknownDevice is returned by decoders when no wire id in the frame
	// resolves to a registered device. It is not a decode failure.
	ErrUnknownDevice = errors.New("unknown device")
)

// FrameDecoder cuts one frame from the head of buf. It returns the frame
// and the number of bytes consumed, which may exceed len(frame) when
// delimiters are stripped. n == 0 means more data is needed; the decoder
// never consumes bytes it did not account for.
type FrameDecoder interface {
	DecodeFrame(buf []byte) (frame []byte, n int)
}

// FrameDecoderFunc adapts a function to FrameDecoder.
type FrameDecoderFunc func(buf []byte) ([]byte, int)

func (f FrameDecoderFunc) DecodeFrame(buf []byte) ([]byte, int) { return f(buf) }

// Decoder turns one frame into zero or more positions. Positions must carry
// a resolved device id. Errors are reported for logging only; the
// connection stays open.
type Decoder interface {
	Decode(ctx context.Context, conn *Conn, frame []byte) ([]*model.Position, error)
}

type DecoderFunc func(ctx context.Context, conn *Conn, frame []byte) ([]*model.Position, error)

func (f DecoderFunc) Decode(ctx context.Context, conn *Conn, frame []byte) ([]*model.Position, error) {
	return f(ctx, conn, frame)
}

type Protocol struct {
	Name       string
	Transports []string
	// NewFrameDecoder returns a fresh decoder per connection. Nil means
	// every read (or datagram) is one frame.
	NewFrameDecoder func() FrameDecoder
	Decoder         Decoder
}

func (p Protocol) Supports(transport string) bool {
	for _, t := range p.Transports {
		if t == transport {
			return true
		}
	}
	return false
}

// Registry maps protocol names to implementations.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]Protocol
}

func NewRegistry() *Registry {
	return &Registry{protocols: make(map[string]Protocol)}
}

func (r *Registry) Register(p Protocol) error {
	if p.Name == "" || p.Decoder == nil {
		return fmt.Errorf("register protocol %q: name and decoder are required", p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.protocols[p.Name]; ok {
		return fmt.Errorf("register %s: %w", p.Name, ErrDuplicate)
	}
	r.protocols[p.Name] = p
	return nil
}

func (r *Registry) Lookup(name string) (Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[name]
	if !ok {
		return Protocol{}, fmt.Errorf("%s: %w", name, ErrUnknownProtocol)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.protocols))
	for name := range r.protocols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
