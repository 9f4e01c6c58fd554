package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet kinds
const (
	KindData    uint8 = 0x01
	KindAck     uint8 = 0x02
	KindControl uint8 = 0x03
)

// Header flags
const (
	FlagAckRequested uint8 = 0x01
)

const (
	HeaderSize     = 16
	MaxFrameSize   = 255 // bytes – LoRa airtime limit
	MaxPayloadSize = MaxFrameSize - HeaderSize

	GatewayAddr   uint32 = 0x00000000 // reserved; also the "toward-gateway" destination
	BroadcastAddr uint32 = 0xFFFFFFFF // everyone hears

	AckBodySize = 8
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrMalformedFrame  = errors.New("malformed frame")
)

// Header is the fixed routing prefix of every frame. All multi-byte fields
// are little-endian on the wire.
//
// Layout: Dest(4) | Origin(4) | Seq(4) | Kind(1) | Flags(1) | HopLimit(1) | PayloadLen(1)
type Header struct {
	Dest     uint32 // final destination, GatewayAddr or BroadcastAddr
	Origin   uint32 // node that created the packet, echoed unchanged by relays
	Seq      uint32 // per-origin sequence number, echoed unchanged by relays
	Kind     uint8
	Flags    uint8
	HopLimit uint8 // remaining relay budget, decremented on every relay
}

// Key identifies one packet instance for its entire relay lifetime.
type Key struct {
	Origin uint32
	Seq    uint32
}

type Packet struct {
	Header
	Payload []byte
}

func (p Packet) Key() Key {
	return Key{Origin: p.Origin, Seq: p.Seq}
}

// Encode serialises a header and payload into a wire frame.
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d B payload, max %d B", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], h.Dest)
	binary.LittleEndian.PutUint32(buf[4:8], h.Origin)
	binary.LittleEndian.PutUint32(buf[8:12], h.Seq)
	buf[12] = h.Kind
	buf[13] = h.Flags
	buf[14] = h.HopLimit
	buf[15] = uint8(len(payload))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses a wire frame. The payload is copied out of buf so callers
// may reuse their receive buffers.
func Decode(buf []byte) (Packet, error) {
	var p Packet
	if len(buf) < HeaderSize {
		return p, fmt.Errorf("%w: %d B, need at least %d B", ErrMalformedFrame, len(buf), HeaderSize)
	}
	declared := int(buf[15])
	if len(buf)-HeaderSize != declared {
		return p, fmt.Errorf("%w: header declares %d B payload, frame carries %d B",
			ErrMalformedFrame, declared, len(buf)-HeaderSize)
	}
	p.Dest = binary.LittleEndian.Uint32(buf[0:4])
	p.Origin = binary.LittleEndian.Uint32(buf[4:8])
	p.Seq = binary.LittleEndian.Uint32(buf[8:12])
	p.Kind = buf[12]
	p.Flags = buf[13]
	p.HopLimit = buf[14]
	if declared > 0 {
		p.Payload = make([]byte, declared)
		copy(p.Payload, buf[HeaderSize:])
	}
	return p, nil
}

// EncodeAckBody serialises the key of the acknowledged packet. An ack frame
// carries its own (origin, seq) identity in the header so network-wide
// duplicate suppression never collides with the data packet it confirms.
func EncodeAckBody(acked Key) []byte {
	buf := make([]byte, AckBodySize)
	binary.LittleEndian.PutUint32(buf[0:4], acked.Origin)
	binary.LittleEndian.PutUint32(buf[4:8], acked.Seq)
	return buf
}

// DecodeAckBody parses the acked key out of an ack payload.
func DecodeAckBody(buf []byte) (Key, error) {
	if len(buf) < AckBodySize {
		return Key{}, fmt.Errorf("%w: %d B ack body, need %d B", ErrMalformedFrame, len(buf), AckBodySize)
	}
	return Key{
		Origin: binary.LittleEndian.Uint32(buf[0:4]),
		Seq:    binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}
