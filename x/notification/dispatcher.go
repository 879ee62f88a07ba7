// Package notification fans live events out to the channels of their recipient
package notification

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/postbox/core"
)

var tracer = otel.Tracer("notification")

type dispatcher struct {
	registry      core.ConnectionRegistry
	intake        chan core.NotificationEvent
	intakeDropped prometheus.Counter
	delivered     *prometheus.CounterVec
}

// NewDispatcher creates a dispatcher with a bounded intake.
// counters are registered to reg
func NewDispatcher(registry core.ConnectionRegistry, config core.Config, reg prometheus.Registerer) core.NotificationDispatcher {
	size := config.DispatchIntake
	if size <= 0 {
		size = 1
	}
	d := &dispatcher{
		registry: registry,
		intake:   make(chan core.NotificationEvent, size),
		intakeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pb_notification_intake_dropped_total",
			Help: "events dropped because the dispatcher intake was full",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pb_notification_delivered_total",
			Help: "frames handed to channels by event type",
		}, []string{"type"}),
	}
	reg.MustRegister(d.intakeDropped, d.delivered)
	return d
}

// Dispatch hands event to the consumer without blocking
func (d *dispatcher) Dispatch(ctx context.Context, event core.NotificationEvent) error {
	_, span := tracer.Start(ctx, "Notification.Dispatcher.Dispatch")
	defer span.End()

	span.SetAttributes(
		attribute.String("type", event.Type.String()),
		attribute.String("recipient", event.Recipient),
	)

	select {
	case d.intake <- event:
		return nil
	default:
		d.intakeDropped.Inc()
		err := core.NewErrorBacklogOverflow()
		span.RecordError(err)
		return err
	}
}

// Run delivers events in intake order until ctx is done
func (d *dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.intake:
			d.deliver(ctx, event)
		}
	}
}

func (d *dispatcher) deliver(ctx context.Context, event core.NotificationEvent) {
	_, span := tracer.Start(ctx, "Notification.Dispatcher.deliver")
	defer span.End()

	frame, err := core.NewEventFrame(event)
	if err != nil {
		span.RecordError(err)
		slog.Error(
			"failed to frame event",
			slog.String("error", err.Error()),
			slog.String("type", event.Type.String()),
			slog.String("module", "notification"),
		)
		return
	}

	n := d.registry.ForEachChannel(event.Recipient, func(ch core.Channel) error {
		return ch.Enqueue(frame)
	})
	d.delivered.WithLabelValues(event.Type.String()).Add(float64(n))

	span.SetAttributes(attribute.Int("channels", n))
}
