package mqttadapter

// These four methods are the outbound surface higher policies compile
// against (spec §4.4 table). They are plain method calls, not pipeline
// events: the adapter's state is advanced directly, and completion is
// always reported later as an inbound event via Injector. Callers must
// invoke them either from the host driver before any event has been
// posted, or from within a handler already executing under the owning
// Pipeline's dispatch lock (e.g. a reconnect policy's Timeout handler) —
// never concurrently with an in-flight dispatch on the same pipeline,
// per spec §5's single-dispatch-per-pipeline guarantee.

// Connect initiates a connection (spec: outbound_connect). Constructs the
// back-end client on first use if the factory hasn't produced one yet.
func (p *Policy) Connect(req ConnectRequest) error {
	m := p.Machine()
	if !sameFunc(m.Current(), p.stateIdle) {
		return errNotIdle
	}
	if req.ClientID == "" {
		req.ClientID = NewClientID()
	}

	backend, err := p.ensureBackend()
	if err != nil {
		return err
	}
	if err := m.Transition(p.stateIdle, p.stateConnecting); err != nil {
		return err
	}
	if err := backend.Connect(req); err != nil {
		// Submission itself failed synchronously; fall back to Idle
		// and let the caller observe the error directly (spec §7:
		// return values from outbound operations indicate only
		// submission success).
		_ = m.Transition(p.stateConnecting, p.stateIdle)
		return err
	}
	return nil
}

// Subscribe submits a subscription (spec: outbound_sub). Requires Connected.
func (p *Policy) Subscribe(req SubscribeRequest) (uint16, error) {
	if !sameFunc(p.Machine().Current(), p.stateConnected) {
		return 0, errNotConnected
	}
	backend := p.currentBackend()
	if backend == nil {
		return 0, errNotConnected
	}
	return backend.Subscribe(req)
}

// Publish submits a publish (spec: outbound_pub). Requires Connected.
func (p *Policy) Publish(req PublishRequest) (uint16, error) {
	if !sameFunc(p.Machine().Current(), p.stateConnected) {
		return 0, errNotConnected
	}
	backend := p.currentBackend()
	if backend == nil {
		return 0, errNotConnected
	}
	return backend.Publish(req)
}

// Disconnect requests a clean disconnect (spec: outbound_disconnect).
// Requires Connected.
func (p *Policy) Disconnect() error {
	m := p.Machine()
	if !sameFunc(m.Current(), p.stateConnected) {
		return errNotConnected
	}
	backend := p.currentBackend()
	if backend == nil {
		return errNotConnected
	}
	if err := m.Transition(p.stateConnected, p.stateDisconnecting); err != nil {
		return err
	}
	return backend.Disconnect()
}

// State reports the adapter's current leaf state name, for diagnostics and
// tests.
func (p *Policy) State() string {
	cur := p.Machine().Current()
	switch {
	case sameFunc(cur, p.stateIdle):
		return "Idle"
	case sameFunc(cur, p.stateConnecting):
		return "Connecting"
	case sameFunc(cur, p.stateConnected):
		return "Connected"
	case sameFunc(cur, p.stateDisconnecting):
		return "Disconnecting"
	case sameFunc(cur, p.stateFatal):
		return "Fatal"
	default:
		return "unknown"
	}
}

func (p *Policy) ensureBackend() (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend != nil {
		return p.backend, nil
	}
	backend, err := p.factory(p, p.opts)
	if err != nil {
		return nil, err
	}
	p.backend = backend
	return backend, nil
}

func (p *Policy) currentBackend() Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend
}
