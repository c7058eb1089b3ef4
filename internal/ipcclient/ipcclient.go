// Package ipcclient implements the UI-side IPC client: a single
// reconnecting connection to the IPC server, a framed receive loop that
// dispatches decoded messages to registered callbacks through a thread
// pool, and send/send-delayed APIs. A lost connection is retried every
// ReconnectEvery; the receive loop resumes transparently on success.
package ipcclient

import (
	"context"
	"errors"
	"log"
	"net"
	"os/exec"
	"sync"
	"time"

	"octopus/internal/ipcproto"
	"octopus/internal/threadpool"
)

// ErrUnavailable is returned by Send when the client has no live
// connection and is not willing to wait for one.
var ErrUnavailable = errors.New("ipcclient: server unavailable")

const callbackFailureThreshold = 3

type callbackEntry struct {
	name     string
	fn       Callback
	failures int
}

// Callback handles one received message. A callback that panics has its
// failure counter incremented by the dispatch wrapper; after
// callbackFailureThreshold consecutive failures it is removed.
type Callback func(ipcproto.Message)

// Client maintains one connection to the IPC server with automatic
// reconnection.
type Client struct {
	SocketPath     string
	Logger         *log.Logger
	Pool           *threadpool.Pool
	ReconnectEvery time.Duration

	// ServerExec, when non-empty, is the server executable the client
	// spawns if a connect attempt finds no one listening on SocketPath.
	// Spawning happens at most once per disconnected period; a successful
	// connect re-arms it.
	ServerExec string

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	buf       []byte
	spawned   bool

	cbMu      sync.Mutex
	callbacks []*callbackEntry

	stopCh chan struct{}
	done   chan struct{}
}

// New creates a client bound to socketPath. pool is used to dispatch
// received-message callbacks off the receive-loop goroutine.
func New(socketPath string, pool *threadpool.Pool, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		SocketPath:     socketPath,
		Logger:         logger,
		Pool:           pool,
		ReconnectEvery: 2 * time.Second,
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Register appends callback under name to the dispatch list.
func (c *Client) Register(name string, callback Callback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks = append(c.callbacks, &callbackEntry{name: name, fn: callback})
}

// Unregister removes every entry registered under name.
func (c *Client) Unregister(name string) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	kept := c.callbacks[:0]
	for _, e := range c.callbacks {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	c.callbacks = kept
}

// Run connects and drives the receive/reconnect loop until ctx is canceled
// or Stop is called. It blocks; callers typically run it in its own
// goroutine.
func (c *Client) Run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		conn, err := net.Dial("unix", c.SocketPath)
		if err != nil {
			c.Logger.Printf("ipcclient: connect %s: %v", c.SocketPath, err)
			c.maybeSpawnServer()
			if !c.sleep(ctx, c.ReconnectEvery) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.spawned = false
		c.mu.Unlock()

		c.receiveLoop(ctx, conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.buf = nil
		c.mu.Unlock()
		conn.Close()

		if !c.sleep(ctx, c.ReconnectEvery) {
			return
		}
	}
}

// maybeSpawnServer starts ServerExec in the background when a connect
// attempt found no server. Reaping happens in a goroutine; the spawned
// server outlives the client and is not torn down by Stop.
func (c *Client) maybeSpawnServer() {
	if c.ServerExec == "" {
		return
	}
	c.mu.Lock()
	already := c.spawned
	c.spawned = true
	c.mu.Unlock()
	if already {
		return
	}

	cmd := exec.Command(c.ServerExec)
	if err := cmd.Start(); err != nil {
		c.Logger.Printf("ipcclient: spawn server %s: %v", c.ServerExec, err)
		return
	}
	c.Logger.Printf("ipcclient: spawned server %s (pid %d)", c.ServerExec, cmd.Process.Pid)
	go cmd.Wait()
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	}
}

func (c *Client) receiveLoop(ctx context.Context, conn net.Conn) {
	readBuf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := conn.Read(readBuf)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, readBuf[:n]...)
			msgs, rest := ipcproto.Scan(c.buf)
			c.buf = append(c.buf[:0], rest...)
			c.mu.Unlock()

			for _, m := range msgs {
				c.dispatch(m)
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
	}
}

func (c *Client) dispatch(msg ipcproto.Message) {
	c.cbMu.Lock()
	entries := append([]*callbackEntry(nil), c.callbacks...)
	c.cbMu.Unlock()

	for _, e := range entries {
		e := e
		c.Pool.Submit(func() { c.invoke(e, msg) })
	}
}

func (c *Client) invoke(e *callbackEntry, msg ipcproto.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Printf("ipcclient: callback %q panicked: %v", e.name, r)
			c.recordFailure(e)
		}
	}()
	e.fn(msg)
	c.cbMu.Lock()
	e.failures = 0
	c.cbMu.Unlock()
}

func (c *Client) recordFailure(e *callbackEntry) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	e.failures++
	if e.failures < callbackFailureThreshold {
		return
	}
	kept := c.callbacks[:0]
	for _, cur := range c.callbacks {
		if cur != e {
			kept = append(kept, cur)
		}
	}
	c.callbacks = kept
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send transmits msg immediately if connected, or returns ErrUnavailable.
func (c *Client) Send(msg ipcproto.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return ErrUnavailable
	}
	buf, err := ipcproto.Serialize(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}

// SendDelayed schedules msg for transmission after delay, waiting up to a
// bound of 10s total for a live connection before giving up and logging
// the drop.
func (c *Client) SendDelayed(msg ipcproto.Message, delay time.Duration) {
	c.Pool.SubmitDelayed(func() {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if err := c.Send(msg); err == nil {
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
		c.Logger.Printf("ipcclient: delayed send dropped, no connection within bound")
	}, delay)
}

// Stop requests the run loop to exit and blocks until it has.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.done
}
