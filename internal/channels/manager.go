package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/valet/internal/bus"
)

// Manager owns the enabled channel set: it starts and stops adapters and
// pumps the outbound queue to them.
type Manager struct {
	bus    *bus.MessageBus
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]Channel
	started  []Channel
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		bus:      msgBus,
		logger:   slog.Default().With("component", "channels"),
		channels: make(map[string]Channel),
	}
}

// Register makes a channel available; only enabled names are started.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Start brings up the enabled adapters and the outbound dispatch loop.
func (m *Manager) Start(ctx context.Context, enabled []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range enabled {
		ch, ok := m.channels[name]
		if !ok {
			return fmt.Errorf("unknown channel %q", name)
		}
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		m.logger.Info("channel started", "channel", name)
		m.started = append(m.started, ch)
	}

	go m.dispatch(ctx)
	return nil
}

// dispatch delivers outbound messages to their channel.
func (m *Manager) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.bus.Outbound():
			if strings.TrimSpace(msg.Content) == "" || strings.TrimSpace(msg.Content) == NoReply {
				continue
			}
			m.mu.Lock()
			ch, ok := m.channels[msg.Channel]
			m.mu.Unlock()
			if !ok {
				m.logger.Warn("outbound for unknown channel", "channel", msg.Channel)
				continue
			}
			if err := ch.Send(ctx, msg); err != nil {
				m.logger.Error("channel send failed", "channel", msg.Channel, "error", err)
			}
		}
	}
}

// Stop shuts down every started adapter.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	for _, ch := range started {
		if err := ch.Stop(ctx); err != nil {
			m.logger.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}
