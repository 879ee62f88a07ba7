package socket

import (
	"context"
	"log/slog"
	"time"

	"github.com/totegamma/postbox/core"
)

// Heartbeat pings silent channels and reclaims dead ones
type Heartbeat struct {
	registry core.ConnectionRegistry
	interval time.Duration
	metrics  *Metrics

	// channel id -> time of the ping sent in the current silence.
	// only touched by the sweeping goroutine
	pingedAt map[string]time.Time
}

// NewHeartbeat creates a heartbeat over registry
func NewHeartbeat(registry core.ConnectionRegistry, config core.Config, metrics *Metrics) *Heartbeat {
	return &Heartbeat{
		registry: registry,
		interval: config.HeartbeatInterval,
		metrics:  metrics,
		pingedAt: make(map[string]time.Time),
	}
}

// Run sweeps every interval until ctx is done
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}

// Sweep checks every channel once against now.
// one silent interval earns a ping, two make the channel dead
func (h *Heartbeat) Sweep(now time.Time) {
	_, span := tracer.Start(context.Background(), "Socket.Heartbeat.Sweep")
	defer span.End()

	live := make(map[string]bool)
	ping := core.NewTypeFrame(core.FrameTypePing)

	for _, ch := range h.registry.All() {
		id := ch.ID()
		lastSeen := ch.LastSeen()
		silence := now.Sub(lastSeen)

		if silence >= 2*h.interval {
			h.registry.Unregister(ch.Owner(), ch)
			ch.Close()
			h.metrics.Reaped()
			delete(h.pingedAt, id)
			slog.Info(
				"channel reaped",
				slog.String("identity", ch.Owner()),
				slog.String("channel", id),
				slog.String("module", "socket"),
				slog.String("group", "heartbeat"),
			)
			continue
		}

		live[id] = true

		if silence < h.interval {
			delete(h.pingedAt, id)
			continue
		}

		pinged, ok := h.pingedAt[id]
		if ok && !pinged.Before(lastSeen) {
			continue
		}
		if err := ch.Enqueue(ping); err != nil {
			continue
		}
		h.pingedAt[id] = now
	}

	for id := range h.pingedAt {
		if !live[id] {
			delete(h.pingedAt, id)
		}
	}
}
