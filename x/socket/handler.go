package socket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/x/auth"
)

const authWait = 10 * time.Second

// Handler is the interface for handling websocket requests
type Handler interface {
	Connect(c echo.Context) error
	Connections(c echo.Context) error
}

type handler struct {
	auth     core.AuthService
	registry core.ConnectionRegistry
	config   core.Config
	metrics  *Metrics
}

// NewHandler creates a new handler
func NewHandler(auth core.AuthService, registry core.ConnectionRegistry, config core.Config, metrics *Metrics) Handler {
	return &handler{auth, registry, config, metrics}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func rejectReason(err error) string {
	var rejected core.ErrorAuthRejected
	if errors.As(err, &rejected) {
		return rejected.Reason.String()
	}
	return "Unknown"
}

// Connect upgrades the request into a notification channel.
// a token given on the upgrade request is checked before upgrading,
// otherwise the first frame must carry it
func (h *handler) Connect(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Socket.Handler.Connect")
	defer span.End()

	var identity core.Identity

	token := auth.ExtractUpgradeToken(c)
	if token != "" {
		var err error
		identity, err = h.auth.Authorize(ctx, token)
		if err != nil {
			span.RecordError(err)
			h.metrics.Rejected(rejectReason(err))
			return c.JSON(http.StatusUnauthorized, echo.Map{
				"error":  "invalid token",
				"detail": rejectReason(err),
			})
		}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(
			ctx, "failed to upgrade websocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return nil
	}

	if token == "" {
		identity, err = h.authorizeFirstFrame(c, ws)
		if err != nil {
			span.RecordError(err)
			ws.Close()
			return nil
		}
	}

	// the welcome frame goes first, before any dispatch can reach the channel
	ch := NewChannel(identity.ID, ws, h.config.SendQueueSize, h.metrics)
	ch.Enqueue(welcomeFrame(identity.ID))
	err = h.registry.Register(identity.ID, ch)
	if err != nil {
		span.RecordError(err)
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.TextMessage, core.NewErrorFrame(errTooManyConns))
		ws.Close()
		return nil
	}

	slog.InfoContext(
		ctx, "channel opened",
		slog.String("identity", identity.ID),
		slog.String("channel", ch.ID()),
		slog.String("module", "socket"),
	)

	teardown := func() {
		h.registry.Unregister(identity.ID, ch)
		ch.Close()
	}
	defer func() {
		teardown()
		slog.Info(
			"channel closed",
			slog.String("identity", identity.ID),
			slog.String("channel", ch.ID()),
			slog.String("module", "socket"),
		)
	}()

	go ch.Pump(teardown)

	h.readLoop(ws, ch, identity)
	return nil
}

func (h *handler) authorizeFirstFrame(c echo.Context, ws *websocket.Conn) (core.Identity, error) {
	ctx := c.Request().Context()

	reject := func(message string, err error) (core.Identity, error) {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.TextMessage, core.NewErrorFrame(message))
		return core.Identity{}, err
	}

	ws.SetReadDeadline(time.Now().Add(authWait))
	_, message, err := ws.ReadMessage()
	if err != nil {
		h.metrics.Rejected(core.AuthRejectMissing.String())
		return core.Identity{}, err
	}
	ws.SetReadDeadline(time.Time{})

	var frame core.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		h.metrics.Rejected(core.AuthRejectMalformed.String())
		return reject(errInvalidAuthFrame, err)
	}
	if frame.Token == "" {
		h.metrics.Rejected(core.AuthRejectMissing.String())
		return reject(errTokenRequired, core.NewErrorAuthRejected(core.AuthRejectMissing))
	}

	identity, err := h.auth.Authorize(ctx, frame.Token)
	if err != nil {
		h.metrics.Rejected(rejectReason(err))
		return reject("Authentication failed: "+rejectReason(err), err)
	}

	return identity, nil
}

func (h *handler) inboundLimiter() *rate.Limiter {
	perSec := h.config.InboundFramesPerSec
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(math.Ceil(perSec * 2))
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

func (h *handler) readLoop(ws *websocket.Conn, ch *Channel, identity core.Identity) {
	limiter := h.inboundLimiter()

	ws.SetPongHandler(func(string) error {
		ch.Touch(time.Now())
		return nil
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ch.Touch(time.Now())

		if !limiter.Allow() {
			h.metrics.InboundLimited()
			ch.Enqueue(core.NewErrorFrame(errRateLimited))
			continue
		}

		var frame core.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			ch.Enqueue(core.NewErrorFrame(errInvalidJSON))
			continue
		}

		switch frame.Type {
		case core.FrameTypePing:
			ch.Enqueue(core.NewTypeFrame(core.FrameTypePong))
		case core.FrameTypePong:
		case core.FrameTypeGetStats:
			stats := h.registry.Stats()
			ch.Enqueue(statsFrame(core.ChannelStats{
				ActiveConnections: stats.ConnectionsPerUser[identity.ID],
				TotalConnections:  stats.TotalConnections,
			}))
		}
	}
}

// Connections reports registry statistics
func (h *handler) Connections(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "Socket.Handler.Connections")
	defer span.End()

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": h.registry.Stats()})
}
