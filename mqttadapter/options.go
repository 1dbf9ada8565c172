package mqttadapter

// Options bundles the back-end options recognized by spec.md §4.4. The
// field names follow the spec's enumerated option list directly so a
// reader can cross-reference them one to one.
type Options struct {
	// CATrustedRoots is an opaque PEM/DER blob; empty means "use the OS
	// trust store".
	CATrustedRoots []byte

	// OpenSSLEngine optionally names an OpenSSL engine identifier for
	// hardware-backed key material. Most back-ends ignore this.
	OpenSSLEngine string

	// DisableTLS, when false and CATrustedRoots is empty, falls back to
	// the OS certificate store. Some back-ends require a non-empty
	// placeholder trust path in that case; CertPath carries it.
	DisableTLS bool

	// CertPath is the internally-supplied placeholder path used when a
	// back-end insists on a filesystem path even though the trust store
	// is the OS default (spec §4.4 "a non-empty placeholder path MAY be
	// required by the back-end and is supplied internally").
	CertPath string

	// ProtocolVersion is pinned to 5 by this revision of the contract.
	ProtocolVersion int
}

// DefaultOptions returns Options with MQTT 5 pinned and TLS enabled using
// the OS trust store.
func DefaultOptions() Options {
	return Options{
		ProtocolVersion: 5,
	}
}

// ConnectRequest is the input to Policy.Connect.
type ConnectRequest struct {
	Host            string
	Port            int
	ClientID        string // empty -> adapter generates one (see NewClientID)
	Username        string
	Password        string
	ClientCertPEM   []byte
	ClientKeyPEM    []byte
	KeepAliveSecs   int
}

// SubscribeRequest is the input to Policy.Subscribe.
type SubscribeRequest struct {
	TopicFilter string
	QoS         QoS
}

// PublishRequest is the input to Policy.Publish.
type PublishRequest struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// Backend is the interface an MQTT back-end implements for the adapter
// policy, which drives it from its own Connect/Subscribe/Publish/Disconnect
// methods (the outbound surface higher policies compile against, see
// outbound.go). Completion of connect/sub/pub
// is always reported asynchronously via the corresponding inbound event
// posted through Injector, never through these methods' return values,
// which indicate only submission success (spec §7).
type Backend interface {
	// Connect initiates a connection; the returned error reports only
	// whether the request was submitted to the back-end.
	Connect(req ConnectRequest) error

	// Subscribe submits a subscription and returns the packet id the
	// back-end assigned to it.
	Subscribe(req SubscribeRequest) (packetID uint16, err error)

	// Publish submits a publish and returns the packet id (meaningful
	// only for QoS > 0).
	Publish(req PublishRequest) (packetID uint16, err error)

	// Disconnect requests a clean disconnect.
	Disconnect() error

	// Close releases any back-end resources. The adapter policy calls it
	// on entering Fatal; a clean Disconnect leaves the back-end open and a
	// later Connect reuses it.
	Close() error
}

// Injector is how a Backend posts inbound events into the pipeline it is
// bound to. mqttadapter.Policy implements this and is handed to the
// Backend at construction time, breaking the dependency cycle described in
// spec §3 ("back-reference to the hosting policy").
type Injector interface {
	InjectConnAck(ConnAckPayload)
	InjectDisconnect(DisconnectPayload)
	InjectPubAck(PubAckPayload)
	InjectSubAck(SubAckPayload)
	InjectRecv(RecvPayload)
	// InjectUnsubscribe reports a programming error: this contract does
	// not support unsubscribe in this revision (spec §4.4). It always
	// drives the adapter to Fatal; see spec §9 Open Question.
	InjectUnsubscribe()
	// InjectCriticalError reports a back-end condition severe enough
	// that the adapter policy must move to Fatal (spec §4.4 "Any ->
	// critical back-end error -> Fatal").
	InjectCriticalError(err error)
}
