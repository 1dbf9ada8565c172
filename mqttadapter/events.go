// Package mqttadapter defines the normalized event types, payload structs,
// and outbound operation contract an MQTT back-end (Mosquitto, Paho, or —
// in this module — redisbridge) must expose to feed a pipeline, per
// spec.md §4.4. It also implements the adapter's own intrinsic state
// machine (Idle/Connecting/Connected/Disconnecting/Fatal).
package mqttadapter

import "github.com/nodalcore/mqttpipe/hfsm"

// Event kinds in the MQTT facility, ordinals private to this package.
var (
	ConnAck         = hfsm.MakeKind(hfsm.FacilityMQTT, 1)
	DisconnectEvent = hfsm.MakeKind(hfsm.FacilityMQTT, 2)
	PubAck          = hfsm.MakeKind(hfsm.FacilityMQTT, 3)
	SubAck          = hfsm.MakeKind(hfsm.FacilityMQTT, 4)
	Recv            = hfsm.MakeKind(hfsm.FacilityMQTT, 5)
)

// QoS is an MQTT quality-of-service level.
type QoS int

const (
	QoS0 QoS = iota
	QoS1
	QoS2
)

// ConnAckPayload is the Payload of a ConnAck event.
type ConnAckPayload struct {
	ReasonCode   int
	TLSAuthError bool
}

// DisconnectPayload is the Payload of a DisconnectEvent event.
type DisconnectPayload struct {
	Requested    bool // set when the local side initiated the disconnect
	TLSAuthError bool
}

// PubAckPayload is the Payload of a PubAck event.
type PubAckPayload struct {
	PacketID uint16
}

// SubAckPayload is the Payload of a SubAck event.
type SubAckPayload struct {
	PacketID uint16
}

// RecvPayload is the Payload of a Recv event: an inbound application
// message delivered by the broker.
type RecvPayload struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	PacketID uint16
}
