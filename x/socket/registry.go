// Package socket keeps the live notification channels of each identity
package socket

import (
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"golang.org/x/exp/maps"

	"github.com/totegamma/postbox/core"
)

var tracer = otel.Tracer("socket")

type registry struct {
	mu             sync.RWMutex
	channels       map[string]map[string]core.Channel
	total          int
	lifetime       uint64
	maxConnections int
	metrics        *Metrics
}

// NewRegistry creates an empty connection registry
func NewRegistry(config core.Config, metrics *Metrics) core.ConnectionRegistry {
	return &registry{
		channels:       make(map[string]map[string]core.Channel),
		maxConnections: config.MaxConnections,
		metrics:        metrics,
	}
}

// Register adds channel to the set of identity
func (r *registry) Register(identity string, channel core.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[identity]
	if ok {
		if _, dup := set[channel.ID()]; dup {
			return nil
		}
	}

	if r.maxConnections > 0 && r.total >= r.maxConnections {
		return core.NewErrorTooManyConnections()
	}

	if !ok {
		set = make(map[string]core.Channel)
		r.channels[identity] = set
	}
	set[channel.ID()] = channel
	r.total++
	r.lifetime++
	r.metrics.Opened()

	return nil
}

// Unregister removes channel from the set of identity. unknown channels are ignored
func (r *registry) Unregister(identity string, channel core.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[identity]
	if !ok {
		return
	}
	if _, ok := set[channel.ID()]; !ok {
		return
	}
	delete(set, channel.ID())
	r.total--
	if len(set) == 0 {
		delete(r.channels, identity)
	}
}

// ChannelsFor returns a copy of the channels of identity
func (r *registry) ChannelsFor(identity string) []core.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Values(r.channels[identity])
}

// ForEachChannel applies fn to every channel of identity outside the lock.
// channels for which fn fails are unregistered and closed.
// returns the number of channels fn succeeded on
func (r *registry) ForEachChannel(identity string, fn func(core.Channel) error) int {
	channels := r.ChannelsFor(identity)

	succeeded := 0
	for _, ch := range channels {
		if err := fn(ch); err != nil {
			slog.Debug(
				"channel dropped",
				slog.String("identity", identity),
				slog.String("channel", ch.ID()),
				slog.String("error", err.Error()),
				slog.String("module", "socket"),
			)
			r.Unregister(identity, ch)
			ch.Close()
			continue
		}
		succeeded++
	}
	return succeeded
}

// All returns a snapshot of every registered channel
func (r *registry) All() []core.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]core.Channel, 0, r.total)
	for _, set := range r.channels {
		channels = append(channels, maps.Values(set)...)
	}
	return channels
}

func (r *registry) Stats() core.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perUser := make(map[string]int, len(r.channels))
	for identity, set := range r.channels {
		perUser[identity] = len(set)
	}

	return core.RegistryStats{
		TotalConnections:    r.total,
		UsersConnected:      len(r.channels),
		ConnectionsPerUser:  perUser,
		LifetimeConnections: r.lifetime,
	}
}

// CloseAll empties the registry and closes every channel
func (r *registry) CloseAll() {
	r.mu.Lock()
	channels := make([]core.Channel, 0, r.total)
	for _, set := range r.channels {
		channels = append(channels, maps.Values(set)...)
	}
	r.channels = make(map[string]map[string]core.Channel)
	r.total = 0
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}
