// Package sensor defines the example application payload carried by the
// mesh. The core never inspects payload bytes; this schema exists for the
// node binary and the simulator, and deployments are free to replace it.
package sensor

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Reading is one sensor sample.
type Reading struct {
	DeviceID      uint8   `msgpack:"device_id"`
	Temperature   float32 `msgpack:"temperature"`
	Voltage       float32 `msgpack:"voltage"`
	AccelerationX float32 `msgpack:"acceleration_x"`
}

// Marshal encodes the reading for transmission.
func (r Reading) Marshal() ([]byte, error) {
	return msgpack.Marshal(r)
}

// Unmarshal decodes a reading received from the mesh.
func Unmarshal(buf []byte) (Reading, error) {
	var r Reading
	err := msgpack.Unmarshal(buf, &r)
	return r, err
}
