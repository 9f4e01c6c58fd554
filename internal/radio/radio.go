package radio

import "errors"

// Send failure modes a transport may report. Callers must treat a nil error
// as best-effort only: radios are unreliable and a returned nil never
// guarantees delivery.
var (
	ErrChannelBusy     = errors.New("radio: channel busy")
	ErrTransmitFailure = errors.New("radio: transmit failure")
)

// Radio is the capability a concrete transport (LoRa, BLE, UDP bench rig,
// in-process medium) must provide to the mesh core. It is deliberately
// minimal: half-duplex, no ordering guarantee, no delivery confirmation.
type Radio interface {
	// OwnAddress returns this node's address, stable for its lifetime.
	OwnAddress() uint32

	// Send transmits one frame, at most once. May fail with ErrChannelBusy
	// or ErrTransmitFailure.
	Send(frame []byte) error

	// TryReceive polls for one raw frame. Non-blocking; the second return
	// is false when nothing has arrived since the last poll.
	TryReceive() ([]byte, bool)
}
