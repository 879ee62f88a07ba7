package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/totegamma/postbox/core"
)

const writeWait = 10 * time.Second

// Conn is the write half of a websocket connection
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Channel is one live websocket of an identity.
// frames are queued and written by the channel's own Pump
type Channel struct {
	id       string
	owner    string
	conn     Conn
	capacity int
	metrics  *Metrics

	mu     sync.Mutex
	queue  [][]byte
	closed bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64
}

// NewChannel wraps conn. capacity bounds the send queue
func NewChannel(owner string, conn Conn, capacity int, metrics *Metrics) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	ch := &Channel{
		id:       xid.New().String(),
		owner:    owner,
		conn:     conn,
		capacity: capacity,
		metrics:  metrics,
		queue:    make([][]byte, 0, capacity),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	ch.Touch(time.Now())
	return ch
}

func (ch *Channel) ID() string {
	return ch.id
}

func (ch *Channel) Owner() string {
	return ch.owner
}

// Enqueue queues frame without blocking.
// when the queue is full the oldest frame is dropped
func (ch *Channel) Enqueue(frame []byte) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return core.NewErrorChannelClosed()
	}
	if len(ch.queue) >= ch.capacity {
		ch.queue[0] = nil
		ch.queue = ch.queue[1:]
		ch.metrics.BacklogDropped()
	}
	ch.queue = append(ch.queue, frame)
	ch.mu.Unlock()

	select {
	case ch.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued frames
func (ch *Channel) Pending() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.queue)
}

func (ch *Channel) take() [][]byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	frames := ch.queue
	ch.queue = make([][]byte, 0, ch.capacity)
	return frames
}

// Pump writes queued frames until the channel is closed.
// onFailure is called once when a write fails
func (ch *Channel) Pump(onFailure func()) {
	for {
		select {
		case <-ch.done:
			return
		case <-ch.signal:
			for _, frame := range ch.take() {
				select {
				case <-ch.done:
					return
				default:
				}
				ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ch.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					onFailure()
					return
				}
			}
		}
	}
}

// Touch records inbound activity
func (ch *Channel) Touch(now time.Time) {
	ch.lastSeen.Store(now.UnixNano())
}

func (ch *Channel) LastSeen() time.Time {
	return time.Unix(0, ch.lastSeen.Load())
}

// Done is closed when the channel is closed
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// Close releases queued frames and closes the connection. safe to call more than once
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		ch.mu.Lock()
		ch.closed = true
		ch.queue = nil
		ch.mu.Unlock()
		close(ch.done)
		err = ch.conn.Close()
	})
	return err
}
