package channels

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/bus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Status is the state of one channel as reported by Manager.Status.
type Status struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
}

// Manager owns the enabled channels, subscribes them on the bus and runs them together
// with the outbound dispatcher.
type Manager struct {
	bus    *bus.MessageBus
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager constructs an empty manager.
func NewManager(mb *bus.MessageBus) *Manager {
	return &Manager{
		bus:      mb,
		logger:   log.With().Str("component", "channels").Logger(),
		channels: make(map[string]Channel),
	}
}

// NewManagerFromConfig builds every enabled channel. When out is non-nil a cli channel
// writing to out is registered too.
func NewManagerFromConfig(cfg *config.Config, mb *bus.MessageBus, out io.Writer) (*Manager, error) {
	m := NewManager(mb)
	ch := cfg.Channels

	if out != nil {
		if err := m.Register(NewDirectChannel(mb, out)); err != nil {
			return nil, err
		}
	}
	if ch.Telegram.Enabled {
		tg, err := NewTelegramChannel(ch.Telegram, mb, cfg.MediaDir())
		if err != nil {
			return nil, err
		}
		if err := m.Register(tg); err != nil {
			return nil, err
		}
	}
	if ch.WhatsApp.Enabled {
		if err := m.Register(NewWhatsAppChannel(ch.WhatsApp, mb)); err != nil {
			return nil, err
		}
	}
	if ch.WebSocket.Enabled {
		if err := m.Register(NewWebSocketChannel(ch.WebSocket, mb)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds a channel and subscribes its Send for outbound messages.
func (m *Manager) Register(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is required")
	}

	name := strings.TrimSpace(ch.Name())
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	m.mu.Lock()
	if _, exists := m.channels[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	m.channels[name] = ch
	m.mu.Unlock()

	m.bus.Subscribe(name, ch.Send)
	m.logger.Info().Str("channel", name).Msg("Channel registered")
	return nil
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[strings.TrimSpace(name)]
	return ch, ok
}

// WebSocket returns the websocket channel, or nil when it is not enabled.
func (m *Manager) WebSocket() *WebSocketChannel {
	ch, ok := m.Get("websocket")
	if !ok {
		return nil
	}
	ws, _ := ch.(*WebSocketChannel)
	return ws
}

// Names returns sorted registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts every channel and the outbound dispatcher and blocks until ctx is done.
// A channel that fails to start is logged; the others keep running.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, name := range m.Names() {
		ch, _ := m.Get(name)
		g.Go(func() error {
			m.logger.Info().Str("channel", name).Msg("Starting channel")
			if err := ch.Start(gctx); err != nil {
				m.logger.Error().Err(err).Str("channel", name).Msg("Channel stopped with error")
			}
			return nil
		})
	}

	g.Go(func() error {
		m.bus.DispatchOutbound(gctx)
		return nil
	})

	<-gctx.Done()
	m.StopAll()
	return g.Wait()
}

// StopAll stops every channel in reverse name order.
func (m *Manager) StopAll() {
	names := m.Names()
	for i := len(names) - 1; i >= 0; i-- {
		if ch, ok := m.Get(names[i]); ok {
			ch.Stop()
		}
	}
}

// Status reports every registered channel.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.channels))
	for name, ch := range m.channels {
		out[name] = Status{Enabled: true, Running: ch.IsRunning()}
	}
	return out
}
