package channel

import (
	"context"

	"tripchat/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Manager owns the single logical channel for the current identity and fans
// out connection state changes to engine components.
type Manager struct {
	transport Transport
	identity  Identity
	logger    *logrus.Logger
}

func NewManager(transport Transport, identity Identity, logger *logrus.Logger) *Manager {
	m := &Manager{
		transport: transport,
		identity:  identity,
		logger:    logger,
	}

	transport.OnStateChange(func(state State) {
		m.logger.WithFields(logrus.Fields{
			"state":   state,
			"user_id": identity.UserID(),
		}).Info("Channel state changed")

		gauge := 0.0
		if state == StateConnected {
			gauge = 1.0
		}
		metrics.SetGauge("channel_connected", gauge, nil, "Whether the channel is connected")
	})

	return m
}

func (m *Manager) Connect(ctx context.Context) error {
	return m.transport.Connect(ctx)
}

func (m *Manager) Disconnect() error {
	return m.transport.Close()
}

// Connected reports whether sends can currently be attempted.
func (m *Manager) Connected() bool {
	return m.transport.State() == StateConnected
}

func (m *Manager) State() State {
	return m.transport.State()
}

// OnStateChange subscribes to state transitions; returns a disposer.
func (m *Manager) OnStateChange(fn func(State)) func() {
	return m.transport.OnStateChange(fn)
}

func (m *Manager) Transport() Transport {
	return m.transport
}

func (m *Manager) Identity() Identity {
	return m.identity
}
