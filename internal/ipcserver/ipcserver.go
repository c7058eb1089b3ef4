// Package ipcserver implements the display-facing IPC server: a Unix
// domain socket listener that multiplexes multiple UI-client subscribers
// and fans vehicle-model changes out to them. The socket directory is
// created on demand, a stale socket file is removed before bind, and the
// file mode is opened up to 0777 so any local UI process can attach.
package ipcserver

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"octopus/internal/ipcproto"
	"octopus/internal/vehicle"
)

// DiagProvider supplies the latest diagnostics bridge snapshot, already
// encoded for the wire. diagnostics.Bridge satisfies it directly, so
// ipcserver never imports the diagnostics package (it stays optional and
// ipcserver has no idea whether one is attached).
type DiagProvider interface {
	LatestDiagnostics() (data []byte, ok bool)
}

// Handler answers a GROUP/MSG_ID request and may mutate server-visible
// client configuration (subscription, push interval, identity).
type Handler func(c *Client, msg ipcproto.Message) (reply *ipcproto.Message, err error)

// Client is one connected UI subscriber.
type Client struct {
	conn       net.Conn
	Identity   string
	Subscribed bool
	Verbose    bool
	PushMs     int

	mu  sync.Mutex // guards writes to conn
	buf []byte
}

func (c *Client) writeMessage(msg ipcproto.Message) error {
	buf, err := ipcproto.Serialize(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(buf)
	return err
}

// Server listens on a Unix domain socket and dispatches framed IPC
// messages by group, fanning out model-change notifications to subscribed
// clients.
type Server struct {
	SocketPath  string
	Logger      *log.Logger
	Model       *vehicle.Model
	ReadTimeout time.Duration

	// Diag is optional; nil unless a diagnostics bridge is attached via
	// SetDiagProvider. GROUP=DIAG requests get a GROUP=DIAG reply with an
	// empty payload when it is nil.
	Diag DiagProvider

	mu      sync.Mutex
	clients map[*Client]bool

	listener net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a server bound to socketPath (not yet listening).
func New(socketPath string, model *vehicle.Model, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		SocketPath:  socketPath,
		Logger:      logger,
		Model:       model,
		ReadTimeout: 2 * time.Second,
		clients:     make(map[*Client]bool),
		stopCh:      make(chan struct{}),
	}
}

// SetDiagProvider attaches the source for GROUP=DIAG requests and
// fan-outs. Call before Start; nil disables the group.
func (s *Server) SetDiagProvider(p DiagProvider) {
	s.Diag = p
}

// Start prepares the socket directory, removes any stale socket file,
// binds with 0777 permissions, and begins accepting connections in a new
// goroutine. It returns once the listener is ready.
func (s *Server) Start() error {
	dir := filepath.Dir(s.SocketPath)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("ipcserver: create socket dir %s: %w", dir, err)
	}
	_ = os.Remove(s.SocketPath) // stale socket from a prior crashed run

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("ipcserver: listen %s: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0777); err != nil {
		s.Logger.Printf("ipcserver: chmod socket: %v", err)
	}
	s.listener = ln

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.Logger.Printf("ipcserver: accept: %v", err)
				continue
			}
		}
		c := &Client{conn: conn}
		s.mu.Lock()
		s.clients[c] = true
		s.mu.Unlock()

		go s.serveClient(c)
	}
}

func (s *Server) serveClient(c *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.conn.Close()
	}()

	readBuf := make([]byte, 4096)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if dl, ok := c.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = dl.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}

		n, err := c.conn.Read(readBuf)
		if n > 0 {
			c.buf = append(c.buf, readBuf[:n]...)
			msgs, rest := ipcproto.Scan(c.buf)
			c.buf = append(c.buf[:0], rest...)
			for _, m := range msgs {
				s.handle(c, m)
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			return // EPIPE/ECONNRESET/EOF: drop and clean up the client
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (s *Server) handle(c *Client, msg ipcproto.Message) {
	s.mu.Lock()
	verbose := c.Verbose
	s.mu.Unlock()
	if verbose {
		s.Logger.Printf("ipcserver: client %s group=%d msg=%d len=%d", c.Identity, msg.Group, msg.MsgID, len(msg.Data))
	}

	switch msg.Group {
	case ipcproto.GroupHelp:
		s.handleHelp(c, msg)
	case ipcproto.GroupSet:
		s.handleSet(c, msg)
	case ipcproto.GroupCar:
		s.handleCar(c, msg)
	case ipcproto.GroupDiag:
		s.handleDiag(c, msg)
	default:
		s.handleHelp(c, msg)
	}
}

func (s *Server) handleHelp(c *Client, msg ipcproto.Message) {
	if len(msg.Data) > 0 {
		s.mu.Lock()
		c.Verbose = msg.Data[0] != 0
		s.mu.Unlock()
	}
	_ = c.writeMessage(ipcproto.Message{Group: ipcproto.GroupHelp, MsgID: ipcproto.MsgHelpStatus, Data: []byte("ok")})
}

func (s *Server) handleSet(c *Client, msg ipcproto.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.MsgID {
	case ipcproto.MsgSetSubscription:
		c.Subscribed = len(msg.Data) > 1 && msg.Data[1] != 0
	case ipcproto.MsgSetPushInterval:
		if len(msg.Data) >= 2 {
			c.PushMs = int(msg.Data[0])<<8 | int(msg.Data[1])
		}
	case ipcproto.MsgSetIdentity:
		c.Identity = string(msg.Data)
	}
	_ = c.writeMessage(ipcproto.Message{Group: ipcproto.GroupSet, MsgID: msg.MsgID})
}

func (s *Server) handleCar(c *Client, msg ipcproto.Message) {
	var reply ipcproto.Message
	switch msg.MsgID {
	case ipcproto.MsgCarMeter:
		reply = ipcproto.Message{Group: ipcproto.GroupCar, MsgID: ipcproto.MsgCarMeter, Data: vehicle.EncodeMeter(s.Model.Meter())}
	case ipcproto.MsgCarIndicator:
		reply = ipcproto.Message{Group: ipcproto.GroupCar, MsgID: ipcproto.MsgCarIndicator, Data: vehicle.EncodeIndicator(s.Model.Indicator())}
	case ipcproto.MsgCarDrivetrain:
		reply = ipcproto.Message{Group: ipcproto.GroupCar, MsgID: ipcproto.MsgCarDrivetrain, Data: vehicle.EncodeDrivetrain(s.Model.Drivetrain())}
	default:
		return
	}
	_ = c.writeMessage(reply)
}

func (s *Server) handleDiag(c *Client, msg ipcproto.Message) {
	if msg.MsgID != ipcproto.MsgDiagSnapshot {
		return
	}
	if s.Diag == nil {
		_ = c.writeMessage(ipcproto.Message{Group: ipcproto.GroupDiag, MsgID: ipcproto.MsgDiagSnapshot})
		return
	}
	data, ok := s.Diag.LatestDiagnostics()
	if !ok {
		_ = c.writeMessage(ipcproto.Message{Group: ipcproto.GroupDiag, MsgID: ipcproto.MsgDiagSnapshot})
		return
	}
	_ = c.writeMessage(ipcproto.Message{Group: ipcproto.GroupDiag, MsgID: ipcproto.MsgDiagSnapshot, Data: data})
}

// NotifyDiagnostics fans the current diagnostics snapshot out to every
// subscribed client, mirroring NotifyChange's CAR-group fan-out. The
// runtime calls this whenever the diagnostics bridge publishes a fresh
// snapshot on the bus.
func (s *Server) NotifyDiagnostics() {
	if s.Diag == nil {
		return
	}
	data, ok := s.Diag.LatestDiagnostics()
	if !ok {
		return
	}

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		if c.Subscribed {
			clients = append(clients, c)
		}
	}
	s.mu.Unlock()

	msg := ipcproto.Message{Group: ipcproto.GroupDiag, MsgID: ipcproto.MsgDiagSnapshot, Data: data}
	for _, c := range clients {
		if err := c.writeMessage(msg); err != nil {
			s.Logger.Printf("ipcserver: write diagnostics to client %s failed, dropping: %v", c.Identity, err)
			c.conn.Close()
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
		}
	}
}

// NotifyChange is called by the CarInfo task whenever the model changes. It
// fans the corresponding snapshot out to every subscribed client.
func (s *Server) NotifyChange(msgID uint8) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		if c.Subscribed {
			clients = append(clients, c)
		}
	}
	s.mu.Unlock()

	var msg ipcproto.Message
	switch msgID {
	case ipcproto.MsgCarMeter:
		msg = ipcproto.Message{Group: ipcproto.GroupCar, MsgID: msgID, Data: vehicle.EncodeMeter(s.Model.Meter())}
	case ipcproto.MsgCarIndicator:
		msg = ipcproto.Message{Group: ipcproto.GroupCar, MsgID: msgID, Data: vehicle.EncodeIndicator(s.Model.Indicator())}
	case ipcproto.MsgCarDrivetrain:
		msg = ipcproto.Message{Group: ipcproto.GroupCar, MsgID: msgID, Data: vehicle.EncodeDrivetrain(s.Model.Drivetrain())}
	default:
		return
	}

	for _, c := range clients {
		if err := c.writeMessage(msg); err != nil {
			s.Logger.Printf("ipcserver: write to client %s failed, dropping: %v", c.Identity, err)
			c.conn.Close()
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stop closes the listener and every client connection. It is idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.clients {
			c.conn.Close()
		}
		s.clients = make(map[*Client]bool)
		s.mu.Unlock()
	})
}
