// Package uplink bridges payloads accepted by a gateway out of the mesh.
package uplink

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/apex/log"
)

// Forwarder receives every (originator, payload) pair a gateway accepts.
type Forwarder interface {
	Forward(origin uint32, payload []byte) error
}

// Envelope is the uplink message format.
type Envelope struct {
	Gateway  string    `msgpack:"gateway"`
	Origin   uint32    `msgpack:"origin"`
	Payload  []byte    `msgpack:"payload"`
	Received time.Time `msgpack:"received"`
}

// MQTT publishes envelopes to a broker topic.
type MQTT struct {
	client    mqtt.Client
	topic     string
	qos       byte
	gatewayID string
	log       *log.Entry
}

func NewMQTT(broker, topic string, qos byte) (*MQTT, error) {
	gatewayID := "must-gw-" + uuid.NewString()[:8]
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(gatewayID)

	u := &MQTT{
		topic:     topic,
		qos:       qos,
		gatewayID: gatewayID,
		log:       log.WithField("uplink", "mqtt").WithField("broker", broker),
	}
	u.client = mqtt.NewClient(opts)
	if token := u.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("uplink: connect %s: %w", broker, token.Error())
	}
	u.log.Info("connected")
	return u, nil
}

func (u *MQTT) Forward(origin uint32, payload []byte) error {
	env := Envelope{
		Gateway:  u.gatewayID,
		Origin:   origin,
		Payload:  payload,
		Received: time.Now(),
	}
	buf, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("uplink: encode envelope: %w", err)
	}
	token := u.client.Publish(u.topic, u.qos, false, buf)
	token.Wait()
	return token.Error()
}

// Close performs a clean disconnect from the broker.
func (u *MQTT) Close() {
	u.client.Disconnect(250)
}
