// Package agent runs the background workers and some scheduled tasks
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/x/socket"
)

var tracer = otel.Tracer("agent")

var (
	metricsInterval = 15 * time.Second
	purgeInterval   = time.Hour
)

type agent struct {
	registry   core.ConnectionRegistry
	heartbeat  *socket.Heartbeat
	dispatcher core.NotificationDispatcher
	mail       core.MailService
	account    core.AccountService
	config     core.Config

	connections   prometheus.Gauge
	identities    prometheus.Gauge
	resourceCount *prometheus.GaugeVec
}

// NewAgent creates a new agent. gauges are registered to reg
func NewAgent(
	registry core.ConnectionRegistry,
	heartbeat *socket.Heartbeat,
	dispatcher core.NotificationDispatcher,
	mail core.MailService,
	account core.AccountService,
	config core.Config,
	reg prometheus.Registerer,
) core.AgentService {
	a := &agent{
		registry:   registry,
		heartbeat:  heartbeat,
		dispatcher: dispatcher,
		mail:       mail,
		account:    account,
		config:     config,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pb_socket_connections",
			Help: "socket connections",
		}),
		identities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pb_socket_identities",
			Help: "identities with at least one socket connection",
		}),
		resourceCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pb_resources_count",
			Help: "resources count",
		}, []string{"type"}),
	}
	reg.MustRegister(a.connections, a.identities, a.resourceCount)
	return a
}

// Boot starts the workers. they stop when ctx is done
func (a *agent) Boot(ctx context.Context) {
	slog.Info("agent start!")

	go a.dispatcher.Run(ctx)
	go a.heartbeat.Run(ctx)

	go a.every(ctx, metricsInterval, "Agent.Boot.RefreshMetrics", a.refreshMetrics)
	go a.every(ctx, purgeInterval, "Agent.Boot.Purge", a.purge)
}

func (a *agent) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			spanCtx, span := tracer.Start(ctx, name)
			fn(spanCtx)
			span.End()
		}
	}
}

func (a *agent) refreshMetrics(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats := a.registry.Stats()
	a.connections.Set(float64(stats.TotalConnections))
	a.identities.Set(float64(stats.UsersConnected))

	count, err := a.mail.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count messages", slog.String("error", err.Error()), slog.String("module", "agent"))
	} else {
		a.resourceCount.WithLabelValues("message").Set(float64(count))
	}

	count, err = a.account.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count users", slog.String("error", err.Error()), slog.String("module", "agent"))
	} else {
		a.resourceCount.WithLabelValues("user").Set(float64(count))
	}
}
