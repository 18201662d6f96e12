package channel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	state     State
	connected bool
	closed    bool
	stateSubs []func(State)
}

func (s *stubTransport) Connect(ctx context.Context) error {
	s.connected = true
	s.setState(StateConnected)
	return nil
}

func (s *stubTransport) Close() error {
	s.closed = true
	s.setState(StateDisconnected)
	return nil
}

func (s *stubTransport) Emit(ctx context.Context, event string, payload interface{}) error {
	return nil
}

func (s *stubTransport) EmitWithAck(ctx context.Context, event string, payload interface{}, ack AckFunc) error {
	ack(json.RawMessage(`{}`))
	return nil
}

func (s *stubTransport) On(event string, handler EventHandler) func() {
	return func() {}
}

func (s *stubTransport) State() State { return s.state }

func (s *stubTransport) OnStateChange(fn func(State)) func() {
	s.stateSubs = append(s.stateSubs, fn)
	return func() {}
}

func (s *stubTransport) setState(state State) {
	s.state = state
	for _, fn := range s.stateSubs {
		fn(state)
	}
}

func newTestManager() (*Manager, *stubTransport) {
	transport := &stubTransport{state: StateDisconnected}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	identity := StaticIdentity{ID: "traveler-1", Type: "traveler"}
	return NewManager(transport, identity, logger), transport
}

func TestManagerConnectedTracksTransportState(t *testing.T) {
	manager, transport := newTestManager()

	assert.False(t, manager.Connected())
	assert.Equal(t, StateDisconnected, manager.State())

	require.NoError(t, manager.Connect(context.Background()))
	assert.True(t, transport.connected)
	assert.True(t, manager.Connected())
	assert.Equal(t, StateConnected, manager.State())

	require.NoError(t, manager.Disconnect())
	assert.True(t, transport.closed)
	assert.False(t, manager.Connected())
}

func TestManagerOnStateChangeFansOut(t *testing.T) {
	manager, transport := newTestManager()

	var seen []State
	manager.OnStateChange(func(state State) {
		seen = append(seen, state)
	})

	transport.setState(StateConnecting)
	transport.setState(StateConnected)

	assert.Equal(t, []State{StateConnecting, StateConnected}, seen)
}

func TestManagerExposesCollaborators(t *testing.T) {
	manager, transport := newTestManager()

	assert.Equal(t, Transport(transport), manager.Transport())
	assert.Equal(t, "traveler-1", manager.Identity().UserID())
	assert.Equal(t, "traveler", manager.Identity().UserType())
}

func TestStaticIdentity(t *testing.T) {
	id := StaticIdentity{ID: "agent-7", Type: "agent"}

	assert.Equal(t, "agent-7", id.UserID())
	assert.Equal(t, "agent", id.UserType())
}
