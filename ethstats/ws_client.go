package ethstats

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"go.uber.org/atomic"
)

const (
	defaultReconnectDelay = 5 * time.Second
	outboundQueueSize     = 128
)

// connWrapper serialises the writes on the websocket. Gorilla websocket
// supports one concurrent writer only and both the write loop and the
// heartbeat replies write.
type connWrapper struct {
	conn  *websocket.Conn
	wlock sync.Mutex
}

func newConnectionWrapper(conn *websocket.Conn) *connWrapper {
	return &connWrapper{conn: conn}
}

func (w *connWrapper) WriteMessage(messageType int, data []byte) error {
	w.wlock.Lock()
	defer w.wlock.Unlock()

	return w.conn.WriteMessage(messageType, data)
}

// Close can be called concurrently with the writes
func (w *connWrapper) Close() error {
	return w.conn.Close()
}

// wsClient is the Transport to the collector. It keeps reconnecting until it
// is closed and drops events while the connection is down.
type wsClient struct {
	logger hclog.Logger

	// addr is the websocket address of the collector
	addr string

	dialer         websocket.Dialer
	reconnectDelay time.Duration

	// open is set as soon as the connection is up, connected once the open
	// handlers ran. Sends are accepted while open so hello goes first.
	open      *atomic.Bool
	connected *atomic.Bool
	started   *atomic.Bool

	lock    sync.Mutex
	openFns []func()

	// close channel to stop the client
	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    chan struct{}

	// outbound messages
	msgCh chan []byte
}

func newWsClient(logger hclog.Logger, addr string) *wsClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &wsClient{
		logger:         logger,
		addr:           addr,
		dialer:         websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		reconnectDelay: defaultReconnectDelay,
		open:           atomic.NewBool(false),
		connected:      atomic.NewBool(false),
		started:        atomic.NewBool(false),
		closeCh:        make(chan struct{}),
		doneCh:         make(chan struct{}),
		msgCh:          make(chan []byte, outboundQueueSize),
	}
}

func (c *wsClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *wsClient) OnOpen(fn func()) {
	c.lock.Lock()
	c.openFns = append(c.openFns, fn)
	connected := c.connected.Load()
	c.lock.Unlock()

	if connected {
		fn()
	}
}

func (c *wsClient) Send(typ string, payload interface{}) bool {
	if !c.open.Load() {
		c.logger.Debug("not connected, event dropped", "typ", typ)
		return false
	}
	msg, err := NewMsg(typ, payload)
	if err != nil {
		c.logger.Error("failed to encode event", "typ", typ, "err", err)
		return false
	}
	data, err := msg.Marshal()
	if err != nil {
		c.logger.Error("failed to encode event", "typ", typ, "err", err)
		return false
	}

	// we do not want to block the agent if the collector is slow,
	// the next update supersedes this one anyway.
	select {
	case c.msgCh <- data:
		return true
	default:
		c.logger.Warn("outbound queue full, event dropped", "typ", typ)
		return false
	}
}

func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	if c.started.Load() {
		<-c.doneCh
	}
	return nil
}

func (c *wsClient) start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run()
}

func (c *wsClient) connect() (*connWrapper, chan struct{}) {
	header := make(http.Header)
	header.Set("origin", "http://localhost")

	var conn *websocket.Conn
	for {
		var err error
		conn, _, err = c.dialer.Dial(c.addr, header)
		if err == nil {
			break
		}
		c.logger.Warn("collector unreachable, scheduling a reconnect", "addr", c.addr, "delay", c.reconnectDelay, "err", err)

		select {
		case <-time.After(c.reconnectDelay):
		case <-c.closeCh:
			return nil, nil
		}
	}

	wrapper := newConnectionWrapper(conn)
	connCloseCh := make(chan struct{})
	go c.readLoop(wrapper, connCloseCh)

	c.logger.Info("collector connection opened", "addr", c.addr)
	return wrapper, connCloseCh
}

func (c *wsClient) run() {
	defer close(c.doneCh)

CONNECT:
	conn, connCloseCh := c.connect()
	if conn == nil {
		return
	}

	// whatever was queued for the previous connection is stale
	c.drain()
	c.open.Store(true)
	c.runOpenFns()

	for {
		select {
		case msg := <-c.msgCh:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Error("failed to write message", "err", err)
				c.disconnect(conn)
				goto CONNECT
			}

		case <-connCloseCh:
			c.logger.Info("collector connection closed")
			c.disconnect(conn)
			goto CONNECT

		case <-c.closeCh:
			c.disconnect(conn)
			return
		}
	}
}

// runOpenFns runs the open handlers, including the ones registered
// meanwhile, and then marks the client as connected.
func (c *wsClient) runOpenFns() {
	done := 0
	for {
		c.lock.Lock()
		if done == len(c.openFns) {
			c.connected.Store(true)
			c.lock.Unlock()
			return
		}
		fns := append([]func(){}, c.openFns[done:]...)
		c.lock.Unlock()

		for _, fn := range fns {
			fn()
		}
		done += len(fns)
	}
}

func (c *wsClient) disconnect(conn *connWrapper) {
	c.connected.Store(false)
	c.open.Store(false)
	if err := conn.Close(); err != nil {
		c.logger.Debug("failed to close connection", "err", err)
	}
}

func (c *wsClient) drain() {
	for {
		select {
		case <-c.msgCh:
		default:
			return
		}
	}
}

const (
	primusPingPrefix = "primus::ping::"
	primusPongPrefix = "primus::pong::"
)

// readLoop answers the collector heartbeats and logs anything else it sends.
func (c *wsClient) readLoop(conn *connWrapper, closeCh chan struct{}) {
	defer close(closeCh)

	for {
		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("failed to read msg", "err", err)
			return
		}

		// the heartbeat is a plain json string
		var ping string
		if err := json.Unmarshal(message, &ping); err == nil {
			if strings.HasPrefix(ping, primusPingPrefix) {
				pong, _ := json.Marshal(primusPongPrefix + strings.TrimPrefix(ping, primusPingPrefix))
				if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
					c.logger.Warn("failed to respond to heartbeat", "err", err)
					return
				}
			}
			continue
		}

		msg, err := DecodeMsg(message)
		if err != nil {
			c.logger.Debug("failed to decode msg", "err", err)
			continue
		}
		switch msg.msgType() {
		case "ready":
			c.logger.Debug("collector accepted the node")
		case "node-pong":
			// we do not track latency
		default:
			c.logger.Debug("received some data", "typ", msg.msgType())
		}
	}
}
