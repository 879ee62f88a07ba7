// Package client talks to a postbox server over http and websocket
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/postbox/core"
)

const (
	defaultTimeout = 10 * time.Second
)

var tracer = otel.Tracer("client")

type Client interface {
	Register(ctx context.Context, input core.RegisterInput) (core.AuthContent, error)
	Login(ctx context.Context, email, password string) (core.AuthContent, error)
	Send(ctx context.Context, token string, input core.SendInput) (core.Message, error)
	Inbox(ctx context.Context, token string, page, perPage int) ([]core.Message, *core.Pagination, error)
	GetMessage(ctx context.Context, token, id string) (core.Message, error)
	Dial(ctx context.Context, token string) (*websocket.Conn, error)
}

type client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at base, e.g. "http://localhost:8000"
func NewClient(base string) Client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func do[T any](ctx context.Context, c *client, method, path, token string, body any) (core.ResponseBase[T], error) {
	var response core.ResponseBase[T]

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return response, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return response, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response, err
	}

	err = json.Unmarshal(raw, &response)
	if err != nil {
		return response, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, string(raw))
	}

	if resp.StatusCode >= 300 || response.Status != "ok" {
		return response, fmt.Errorf("request failed (%d): %s", resp.StatusCode, response.Error)
	}

	return response, nil
}

func (c *client) Register(ctx context.Context, input core.RegisterInput) (core.AuthContent, error) {
	ctx, span := tracer.Start(ctx, "Client.Register")
	defer span.End()

	response, err := do[core.AuthContent](ctx, c, http.MethodPost, "/auth/register", "", input)
	if err != nil {
		span.RecordError(err)
		return core.AuthContent{}, err
	}
	return response.Content, nil
}

func (c *client) Login(ctx context.Context, email, password string) (core.AuthContent, error) {
	ctx, span := tracer.Start(ctx, "Client.Login")
	defer span.End()

	response, err := do[core.AuthContent](ctx, c, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		span.RecordError(err)
		return core.AuthContent{}, err
	}
	return response.Content, nil
}

// Send posts a message without attachments
func (c *client) Send(ctx context.Context, token string, input core.SendInput) (core.Message, error) {
	ctx, span := tracer.Start(ctx, "Client.Send")
	defer span.End()

	response, err := do[core.Message](ctx, c, http.MethodPost, "/mail/send", token, input)
	if err != nil {
		span.RecordError(err)
		return core.Message{}, err
	}
	return response.Content, nil
}

func (c *client) Inbox(ctx context.Context, token string, page, perPage int) ([]core.Message, *core.Pagination, error) {
	ctx, span := tracer.Start(ctx, "Client.Inbox")
	defer span.End()

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	response, err := do[[]core.Message](ctx, c, http.MethodGet, "/mail/inbox?"+query.Encode(), token, nil)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return response.Content, response.Pagination, nil
}

func (c *client) GetMessage(ctx context.Context, token, id string) (core.Message, error) {
	ctx, span := tracer.Start(ctx, "Client.GetMessage")
	defer span.End()

	response, err := do[core.Message](ctx, c, http.MethodGet, "/mail/message/"+url.PathEscape(id), token, nil)
	if err != nil {
		span.RecordError(err)
		return core.Message{}, err
	}
	return response.Content, nil
}

// Dial opens a notification channel authorized by token
func (c *client) Dial(ctx context.Context, token string) (*websocket.Conn, error) {
	ctx, span := tracer.Start(ctx, "Client.Dial")
	defer span.End()

	endpoint := c.base
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	endpoint += "/ws/notifications?" + core.TokenQueryParam + "=" + url.QueryEscape(token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		if resp != nil {
			return nil, fmt.Errorf("dial failed (%d): %w", resp.StatusCode, err)
		}
		return nil, err
	}

	return conn, nil
}
