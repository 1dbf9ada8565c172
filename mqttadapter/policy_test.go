package mqttadapter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodalcore/mqttpipe/mqttadapter"
	"github.com/nodalcore/mqttpipe/pipeline"
)

// fakeBackend is a test double satisfying mqttadapter.Backend; it records
// calls so tests can assert on them directly.
type fakeBackend struct {
	connectCalls    int
	subscribeCalls  int
	publishCalls    int
	disconnectCalls int
	closeCalls      int
}

func newFakeBackendFactory(out **fakeBackend) mqttadapter.BackendFactory {
	return func(mqttadapter.Injector, mqttadapter.Options) (mqttadapter.Backend, error) {
		b := &fakeBackend{}
		*out = b
		return b, nil
	}
}

func (f *fakeBackend) Connect(mqttadapter.ConnectRequest) error {
	f.connectCalls++
	return nil
}

func (f *fakeBackend) Subscribe(mqttadapter.SubscribeRequest) (uint16, error) {
	f.subscribeCalls++
	return uint16(f.subscribeCalls), nil
}

func (f *fakeBackend) Publish(mqttadapter.PublishRequest) (uint16, error) {
	f.publishCalls++
	return uint16(f.publishCalls), nil
}

func (f *fakeBackend) Disconnect() error {
	f.disconnectCalls++
	return nil
}

func (f *fakeBackend) Close() error {
	f.closeCalls++
	return nil
}

// newTestPolicy builds a policy, wires a single-policy pipeline
// around it, issues Connect, and returns it still in Connecting — tests
// that need Connected call InjectConnAck themselves.
func newTestPolicy(t *testing.T, onFatal pipeline.CriticalErrorHook) (*mqttadapter.Policy, *fakeBackend) {
	t.Helper()
	var backend *fakeBackend
	p := mqttadapter.New("adapter", newFakeBackendFactory(&backend), mqttadapter.DefaultOptions(), nil)
	pipeline.New(onFatal, p.Policy)
	require.Equal(t, "Idle", p.State())
	require.NoError(t, p.Connect(mqttadapter.ConnectRequest{Host: "localhost", Port: 1883}))
	return p, backend
}

func TestConnectTransitionsIdleToConnecting(t *testing.T) {
	p, backend := newTestPolicy(t, nil)
	require.Equal(t, "Connecting", p.State())
	require.Equal(t, 1, backend.connectCalls)
}

func TestConnAckSuccessMovesToConnected(t *testing.T) {
	p, _ := newTestPolicy(t, nil)
	p.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 0})
	require.Equal(t, "Connected", p.State())
}

func TestConnAckFailureReturnsToIdle(t *testing.T) {
	p, _ := newTestPolicy(t, nil)
	p.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 0x87})
	require.Equal(t, "Idle", p.State())
}

func TestSubscribeAndPublishRequireConnected(t *testing.T) {
	p, backend := newTestPolicy(t, nil)

	_, err := p.Subscribe(mqttadapter.SubscribeRequest{TopicFilter: "a/b"})
	require.Error(t, err)

	p.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 0})
	require.Equal(t, "Connected", p.State())

	id, err := p.Subscribe(mqttadapter.SubscribeRequest{TopicFilter: "a/b"})
	require.NoError(t, err)
	require.Equal(t, uint16(1), id)
	require.Equal(t, 1, backend.subscribeCalls)

	_, err = p.Publish(mqttadapter.PublishRequest{Topic: "a/b", Payload: []byte("hi")})
	require.NoError(t, err)
	require.Equal(t, 1, backend.publishCalls)
}

func TestDisconnectFlow(t *testing.T) {
	p, backend := newTestPolicy(t, nil)
	p.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 0})
	require.Equal(t, "Connected", p.State())

	require.NoError(t, p.Disconnect())
	require.Equal(t, "Disconnecting", p.State())
	require.Equal(t, 1, backend.disconnectCalls)

	p.InjectDisconnect(mqttadapter.DisconnectPayload{Requested: true})
	require.Equal(t, "Idle", p.State())
}

func TestUnsubscribeIsAlwaysFatal(t *testing.T) {
	var fatalErr error
	p, backend := newTestPolicy(t, func(_ *pipeline.Pipeline, err error) { fatalErr = err })
	p.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 0})
	require.Equal(t, "Connected", p.State())

	p.InjectUnsubscribe()
	require.Error(t, fatalErr)
	require.Equal(t, "Fatal", p.State())
	require.Equal(t, 1, backend.closeCalls)
}

type errBackendCollapsed struct{}

func (errBackendCollapsed) Error() string { return "back-end collapsed" }

func TestInjectCriticalErrorMovesToFatalViaBaseFallback(t *testing.T) {
	var fatalErr error
	p, backend := newTestPolicy(t, func(_ *pipeline.Pipeline, err error) { fatalErr = err })
	p.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 0})
	require.Equal(t, "Connected", p.State())

	p.InjectCriticalError(errBackendCollapsed{})
	require.Error(t, fatalErr)
	require.Equal(t, "Fatal", p.State())
	require.Equal(t, 1, backend.closeCalls)
}
