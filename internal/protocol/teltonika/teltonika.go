// Package teltonika decodes FMxxx devices: IMEI login, Codec 8 and
// Codec 8 Extended AVL packets over TCP and UDP.
package teltonika

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"track-svr/internal/model"
	"track-svr/internal/protocol"
)

const (
	Name = "teltonika"

	maxIMEILength = 64
	maxAVLLength  = 64 * 1024
	ping          = 0xFF
)

var ErrCRC = errors.New("crc mismatch")

// Protocol returns the registry entry for Teltonika.
func Protocol() protocol.Protocol {
	return protocol.Protocol{
		Name:            Name,
		Transports:      []string{protocol.TCP, protocol.UDP},
		NewFrameDecoder: func() protocol.FrameDecoder { return protocol.FrameDecoderFunc(DecodeFrame) },
		Decoder:         protocol.DecoderFunc(Decode),
	}
}

// DecodeFrame cuts TCP frames: the 0xFF keep alive, the IMEI login
// (2 byte length + ASCII) and AVL packets (zero preamble, 4 byte data
// length, data, 4 byte CRC).
func DecodeFrame(buf []byte) ([]byte, int) {
	if len(buf) == 0 {
		return nil, 0
	}
	if buf[0] == ping {
		return buf[:1], 1
	}
	if len(buf) < 2 {
		return nil, 0
	}
	if n := int(binary.BigEndian.Uint16(buf)); n > 0 {
		if n > maxIMEILength || len(buf) < 2+n {
			return nil, 0
		}
		return buf[:2+n], 2 + n
	}
	if len(buf) < 8 || binary.BigEndian.Uint32(buf) != 0 {
		return nil, 0
	}
	dataLen := int(binary.BigEndian.Uint32(buf[4:8]))
	total := 8 + dataLen + 4
	if dataLen == 0 || dataLen > maxAVLLength || len(buf) < total {
		return nil, 0
	}
	return buf[:total], total
}

// Decode handles one frame. TCP frames come from DecodeFrame; UDP
// datagrams carry their own header with the IMEI.
func Decode(_ context.Context, conn *protocol.Conn, frame []byte) ([]*model.Position, error) {
	if conn.Transport == protocol.UDP {
		return decodeUDP(conn, frame)
	}
	switch {
	case len(frame) == 1 && frame[0] == ping:
		return nil, nil
	case len(frame) >= 2 && binary.BigEndian.Uint16(frame) != 0:
		return nil, decodeLogin(conn, frame)
	default:
		return decodeTCP(conn, frame)
	}
}

func decodeLogin(conn *protocol.Conn, frame []byte) error {
	imei := string(frame[2:])
	if conn.Resolve(imei) == nil {
		conn.Reply([]byte{0x00})
		return fmt.Errorf("login %s: %w", imei, protocol.ErrUnknownDevice)
	}
	conn.Logger().Info("login", "uniqueId", imei)
	conn.Reply([]byte{0x01})
	return nil
}

func decodeTCP(conn *protocol.Conn, frame []byte) ([]*model.Position, error) {
	if conn.Session() == nil {
		return nil, fmt.Errorf("avl before login: %w", protocol.ErrUnknownDevice)
	}
	if len(frame) < 12 {
		return nil, fmt.Errorf("packet too short: %d", len(frame))
	}
	dataLen := int(binary.BigEndian.Uint32(frame[4:8]))
	if 8+dataLen+4 != len(frame) {
		return nil, fmt.Errorf("data length %d does not match frame %d", dataLen, len(frame))
	}
	data := frame[8 : 8+dataLen]
	// no ack on a bad checksum so the device retransmits
	if got, want := crc16IBM(data), binary.BigEndian.Uint32(frame[8+dataLen:]); uint32(got) != want {
		return nil, fmt.Errorf("%w: computed %04x, frame %08x", ErrCRC, got, want)
	}
	_, records, err := parseAVLData(data)
	if err != nil {
		return nil, err
	}
	positions := toPositions(conn, records)

	ack := make([]byte, 4)
	binary.BigEndian.PutUint32(ack, uint32(len(records)))
	conn.Reply(ack)
	return positions, nil
}

// decodeUDP reads the UDP channel header: length(2) packet id(2) 0x01
// avl packet id(1) imei length(2) imei, followed by the AVL data field
// without preamble or CRC.
func decodeUDP(conn *protocol.Conn, frame []byte) ([]*model.Position, error) {
	r := &reader{data: frame}
	r.u16()
	packetID := r.u16()
	r.u8()
	avlPacketID := r.u8()
	imei := string(r.read(int(r.u16())))
	if r.err != nil {
		return nil, fmt.Errorf("udp header: %w", r.err)
	}
	if conn.Resolve(imei) == nil {
		return nil, fmt.Errorf("udp %s: %w", imei, protocol.ErrUnknownDevice)
	}
	_, records, err := parseAVLData(frame[r.off:])
	if err != nil {
		return nil, err
	}
	positions := toPositions(conn, records)

	ack := make([]byte, 7)
	binary.BigEndian.PutUint16(ack[0:], 5)
	binary.BigEndian.PutUint16(ack[2:], packetID)
	ack[4] = 0x01
	ack[5] = avlPacketID
	ack[6] = byte(len(records))
	conn.Reply(ack)
	return positions, nil
}

func toPositions(conn *protocol.Conn, records []avlRecord) []*model.Position {
	positions := make([]*model.Position, 0, len(records))
	for _, rec := range records {
		p := conn.NewPosition()
		if p == nil {
			return nil
		}
		rec.toPosition(p)
		positions = append(positions, p)
	}
	return positions
}
