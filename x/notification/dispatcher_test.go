package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/x/socket"
)

const (
	User1ID = "cmbn2l8kq1vk3h4pbb10"
	User2ID = "cmbn2l8kq1vk3h4pbb20"
)

type recordingChannel struct {
	id     string
	owner  string
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (c *recordingChannel) ID() string    { return c.id }
func (c *recordingChannel) Owner() string { return c.owner }

func (c *recordingChannel) Enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("gone")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingChannel) LastSeen() time.Time { return time.Now() }

func (c *recordingChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingChannel) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]core.Frame, len(c.frames))
	for i, f := range c.frames {
		json.Unmarshal(f, &frames[i])
	}
	return frames
}

func summary(id string) core.MessageSummary {
	return core.MessageSummary{MessageID: id, SenderID: User2ID, Subject: "hello " + id}
}

func TestDispatchFansOut(t *testing.T) {
	registry := socket.NewRegistry(core.Config{}, nil)
	d := NewDispatcher(registry, core.Config{DispatchIntake: 16}, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	laptop := &recordingChannel{id: "laptop", owner: User1ID}
	phone := &recordingChannel{id: "phone", owner: User1ID}
	other := &recordingChannel{id: "other", owner: User2ID}
	assert.NoError(t, registry.Register(User1ID, laptop))
	assert.NoError(t, registry.Register(User1ID, phone))
	assert.NoError(t, registry.Register(User2ID, other))

	for i := 0; i < 10; i++ {
		event := core.NewNotificationEvent(core.EventNewMessage, User1ID, summary(fmt.Sprintf("m%d", i)))
		assert.NoError(t, d.Dispatch(ctx, event))
	}

	assert.Eventually(t, func() bool {
		return len(laptop.Frames()) == 10 && len(phone.Frames()) == 10
	}, time.Second, 5*time.Millisecond)

	for _, ch := range []*recordingChannel{laptop, phone} {
		for i, frame := range ch.Frames() {
			assert.Equal(t, core.FrameTypeNewMessage, frame.Type)
			data := frame.Data.(map[string]any)
			assert.Equal(t, fmt.Sprintf("m%d", i), data["message_id"])
		}
	}
	assert.Empty(t, other.Frames())
}

func TestDispatchWithoutChannels(t *testing.T) {
	registry := socket.NewRegistry(core.Config{}, nil)
	d := NewDispatcher(registry, core.Config{DispatchIntake: 4}, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	err := d.Dispatch(ctx, core.NewNotificationEvent(core.EventMessageRead, User1ID, core.ReadReceipt{MessageID: "m1"}))
	assert.NoError(t, err)
}

func TestDispatchDropsFailedChannel(t *testing.T) {
	registry := socket.NewRegistry(core.Config{}, nil)
	d := NewDispatcher(registry, core.Config{DispatchIntake: 4}, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	good := &recordingChannel{id: "good", owner: User1ID}
	bad := &recordingChannel{id: "bad", owner: User1ID, fail: true}
	assert.NoError(t, registry.Register(User1ID, good))
	assert.NoError(t, registry.Register(User1ID, bad))

	assert.NoError(t, d.Dispatch(ctx, core.NewNotificationEvent(core.EventNewMessage, User1ID, summary("m1"))))

	assert.Eventually(t, func() bool {
		return len(good.Frames()) == 1 && bad.IsClosed()
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, registry.ChannelsFor(User1ID), 1)
}

func TestDispatchIntakeOverflow(t *testing.T) {
	registry := socket.NewRegistry(core.Config{}, nil)
	reg := prometheus.NewRegistry()
	d := NewDispatcher(registry, core.Config{DispatchIntake: 2}, reg).(*dispatcher)

	// no consumer running
	ctx := context.Background()
	assert.NoError(t, d.Dispatch(ctx, core.NewNotificationEvent(core.EventNewMessage, User1ID, summary("m1"))))
	assert.NoError(t, d.Dispatch(ctx, core.NewNotificationEvent(core.EventNewMessage, User1ID, summary("m2"))))

	err := d.Dispatch(ctx, core.NewNotificationEvent(core.EventNewMessage, User1ID, summary("m3")))
	assert.ErrorIs(t, err, core.NewErrorBacklogOverflow())
	assert.Equal(t, float64(1), testutil.ToFloat64(d.intakeDropped))
}

func TestMessageReadFrame(t *testing.T) {
	registry := socket.NewRegistry(core.Config{}, nil)
	d := NewDispatcher(registry, core.Config{DispatchIntake: 4}, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	sender := &recordingChannel{id: "sender", owner: User2ID}
	assert.NoError(t, registry.Register(User2ID, sender))

	readAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	receipt := core.ReadReceipt{MessageID: "m1", ReaderID: User1ID, ReaderEmail: "a@x.com", ReadAt: readAt}
	assert.NoError(t, d.Dispatch(ctx, core.NewNotificationEvent(core.EventMessageRead, User2ID, receipt)))

	assert.Eventually(t, func() bool {
		return len(sender.Frames()) == 1
	}, time.Second, 5*time.Millisecond)

	frame := sender.Frames()[0]
	assert.Equal(t, core.FrameTypeMessageRead, frame.Type)
	assert.Equal(t, map[string]any{
		"message_id":   "m1",
		"reader_id":    User1ID,
		"reader_email": "a@x.com",
		"read_at":      "2024-01-02T03:04:05Z",
	}, frame.Data)
}

func TestRunStopsWithContext(t *testing.T) {
	d := NewDispatcher(socket.NewRegistry(core.Config{}, nil), core.Config{}, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

type wireConn struct {
	mu      sync.Mutex
	written [][]byte
	stall   chan struct{}
}

func (c *wireConn) WriteMessage(messageType int, data []byte) error {
	if c.stall != nil {
		<-c.stall
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *wireConn) SetWriteDeadline(t time.Time) error { return nil }
func (c *wireConn) Close() error                       { return nil }

func (c *wireConn) Last() (core.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var frame core.Frame
	if len(c.written) == 0 {
		return frame, false
	}
	json.Unmarshal(c.written[len(c.written)-1], &frame)
	return frame, true
}

func TestDispatchStalledChannelDoesNotHoldBackOthers(t *testing.T) {
	registry := socket.NewRegistry(core.Config{}, nil)
	d := NewDispatcher(registry, core.Config{DispatchIntake: 1024}, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	stalledConn := &wireConn{stall: make(chan struct{})}
	defer close(stalledConn.stall)
	stalled := socket.NewChannel(User1ID, stalledConn, 8, nil)
	go stalled.Pump(func() {})
	defer stalled.Close()

	healthyConn := &wireConn{}
	healthy := socket.NewChannel(User1ID, healthyConn, 8, nil)
	go healthy.Pump(func() {})
	defer healthy.Close()

	assert.NoError(t, registry.Register(User1ID, stalled))
	assert.NoError(t, registry.Register(User1ID, healthy))

	start := time.Now()
	for i := 0; i < 500; i++ {
		event := core.NewNotificationEvent(core.EventNewMessage, User1ID, summary(fmt.Sprintf("m%d", i)))
		assert.NoError(t, d.Dispatch(ctx, event))
	}
	assert.Less(t, time.Since(start), time.Second)

	assert.Eventually(t, func() bool {
		frame, ok := healthyConn.Last()
		if !ok {
			return false
		}
		data, _ := frame.Data.(map[string]any)
		return data["message_id"] == "m499"
	}, 2*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, stalled.Pending(), 8)
	assert.Len(t, registry.ChannelsFor(User1ID), 2)
}
