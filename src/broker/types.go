package broker

// PublishMessage is a downlink publish request routed from the DownlinkAPI
// to a BrokerSession's publish pump over a bounded channel (SPEC_FULL §3,
// §4.5).
type PublishMessage struct {
	Topic   string
	Message []byte
	QoS     byte
	Retain  bool
}

// BusCapacity is the bounded channel capacity for a relay's PublishBus.
const BusCapacity = 32
