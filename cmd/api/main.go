package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/totegamma/postbox"
	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/x/account"
	"github.com/totegamma/postbox/x/auth"
	"github.com/totegamma/postbox/x/mail"
	"github.com/totegamma/postbox/x/notification"
	"github.com/totegamma/postbox/x/socket"
	"github.com/totegamma/postbox/x/util"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/plugin/opentelemetry/tracing"
)

const postboxBanner = `
                 _   _
 _ __   ___  ___| |_| |__   _____  __
| '_ \ / _ \/ __| __| '_ \ / _ \ \/ /
| |_) | (_) \__ \ |_| |_) | (_) >  <
| .__/ \___/|___/\__|_.__/ \___/_/\_\
|_|
`

type CustomHandler struct {
	slog.Handler
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {

	r.AddAttrs(slog.String("type", "app"))

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(slog.String("traceID", span.SpanContext().TraceID().String()))
		r.AddAttrs(slog.String("spanID", span.SpanContext().SpanID().String()))
	}

	return h.Handler.Handle(ctx, r)
}

func main() {

	fmt.Fprint(os.Stderr, postboxBanner)

	handler := &CustomHandler{Handler: slog.NewJSONHandler(os.Stdout, nil)}
	slogger := slog.New(handler)
	slog.SetDefault(slogger)

	version := util.GetFullVersion()
	slog.Info(fmt.Sprintf("Postbox %s starting...", version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	config := Config{}
	configPath := os.Getenv("POSTBOX_CONFIG")
	if configPath == "" {
		configPath = "/etc/postbox/config.yaml"
	}

	err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
	}

	conconf := core.SetupConfig(config.Postbox)

	slog.Info("Config loaded!", slog.String("storage", config.Storage.Driver))

	if config.Server.EnableTrace {
		cleanup, err := setupTraceProvider(config.Server.TraceEndpoint, "postbox", version)
		if err != nil {
			panic(err)
		}
		defer cleanup()

		skipper := otelecho.WithSkipper(
			func(c echo.Context) bool {
				return c.Path() == "/metrics" || c.Path() == "/health" || c.Path() == "/ws/notifications"
			},
		)
		e.Use(otelecho.Middleware("api", skipper))
	}

	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace: "postbox",
		LabelFuncs: map[string]echoprometheus.LabelValueFunc{
			"url": func(c echo.Context, err error) string {
				return "REDACTED"
			},
		},
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
	}))

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", (conconf.MaxFileSize>>20)*int64(conconf.MaxAttachments)+1)))

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             300 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,            // Log level
			IgnoreRecordNotFoundError: true,                   // Ignore ErrRecordNotFound error for logger
			Colorful:                  true,                   // Enable color
		},
	)

	db, err := gorm.Open(postgres.Open(config.Server.Dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		panic("failed to connect database")
	}
	sqlDB, err := db.DB() // for pinging
	if err != nil {
		panic("failed to connect database")
	}
	defer sqlDB.Close()

	err = db.Use(tracing.NewPlugin(
		tracing.WithDBName("postgres"),
	))
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	// Migrate the schema
	slog.Info("start migrate")
	err = db.AutoMigrate(
		&core.User{},
		&core.Message{},
		&core.Attachment{},
	)
	if err != nil {
		panic("failed to migrate schema")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Server.RedisAddr,
		Password: "", // no password set
		DB:       config.Server.RedisDB,
	})
	err = redisotel.InstrumentTracing(
		rdb,
		redisotel.WithAttributes(
			attribute.KeyValue{
				Key:   "db.name",
				Value: attribute.StringValue("redis"),
			},
		),
	)
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	mc := memcache.New(config.Server.MemcachedAddr)
	defer mc.Close()

	blobs, err := setupBlobStore(ctx, config.Storage)
	if err != nil {
		panic(err)
	}

	reg := prometheus.DefaultRegisterer

	socketMetrics := socket.NewMetrics(reg)
	registry := socket.NewRegistry(conconf, socketMetrics)
	heartbeat := socket.NewHeartbeat(registry, conconf, socketMetrics)
	dispatcher := notification.NewDispatcher(registry, conconf, reg)

	agent := postbox.SetupAgent(db, rdb, mc, registry, heartbeat, dispatcher, blobs, conconf, reg)

	accountService := postbox.SetupAccountService(db, rdb, mc, conconf)
	accountHandler := account.NewHandler(accountService)

	authService := postbox.SetupAuthService(db, rdb, mc, conconf)
	authHandler := auth.NewHandler(accountService)

	mailService := postbox.SetupMailService(db, rdb, mc, dispatcher, blobs, conconf)
	mailHandler := mail.NewHandler(mailService)

	socketHandler := postbox.SetupSocketHandler(db, rdb, mc, registry, socketMetrics, conconf)

	// websocket routes authorize on their own
	e.GET("/ws/notifications", socketHandler.Connect)
	e.GET("/ws/connections", socketHandler.Connections)

	apiV1 := e.Group("", authService.IdentifyIdentity)

	// auth
	apiV1.POST("/auth/register", accountHandler.Register)
	apiV1.POST("/auth/login", accountHandler.Login)
	apiV1.GET("/auth/profile", accountHandler.GetProfile, auth.Restrict(auth.ISKNOWN))
	apiV1.PUT("/auth/profile", accountHandler.UpdateProfile, auth.Restrict(auth.ISKNOWN))
	apiV1.POST("/auth/change-password", accountHandler.ChangePassword, auth.Restrict(auth.ISKNOWN))
	apiV1.GET("/auth/validate-token", authHandler.ValidateToken, auth.Restrict(auth.ISKNOWN))

	// mail
	apiV1.POST("/mail/send", mailHandler.Send, auth.Restrict(auth.ISKNOWN))
	apiV1.GET("/mail/inbox", mailHandler.Inbox, auth.Restrict(auth.ISKNOWN))
	apiV1.GET("/mail/outbox", mailHandler.Outbox, auth.Restrict(auth.ISKNOWN))
	apiV1.GET("/mail/stats", mailHandler.Stats, auth.Restrict(auth.ISKNOWN))
	apiV1.GET("/mail/message/:id", mailHandler.Get, auth.Restrict(auth.ISKNOWN))
	apiV1.DELETE("/mail/message/:id", mailHandler.Delete, auth.Restrict(auth.ISKNOWN))
	apiV1.PUT("/mail/message/:id/read", mailHandler.MarkRead, auth.Restrict(auth.ISKNOWN))
	apiV1.GET("/mail/attachment/:id", mailHandler.Download, auth.Restrict(auth.ISKNOWN))

	// misc
	e.GET("/health", func(c echo.Context) (err error) {
		ctx := c.Request().Context()

		err = sqlDB.Ping()
		if err != nil {
			return c.String(http.StatusInternalServerError, "db error")
		}

		err = rdb.Ping(ctx).Err()
		if err != nil {
			return c.String(http.StatusInternalServerError, "redis error")
		}

		return c.JSON(http.StatusOK, echo.Map{
			"status":      "ok",
			"connections": registry.Stats().TotalConnections,
			"buildInfo":   util.GetBuildInfo(),
		})
	})

	e.GET("/metrics", echoprometheus.NewHandler())

	agent.Boot(ctx)

	go func() {
		err := e.Start(config.Server.ListenAddr)
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
}

func setupTraceProvider(endpoint string, serviceName string, serviceVersion string) (func(), error) {

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)

	if err != nil {
		return nil, err
	}

	resource := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource),
	)
	otel.SetTracerProvider(tracerProvider)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	cleanup := func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error(fmt.Sprintf("Failed to shutdown tracer provider: %v", err))
		}
	}
	return cleanup, nil
}
