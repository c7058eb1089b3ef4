// Package serialport implements the byte-oriented full-duplex link to the
// MCU: open/configure, write with short-write retry, and an async receive
// goroutine handing chunks to a callback.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// ErrClosed is returned by Write once Close has run.
var ErrClosed = errors.New("serialport: closed")

// Config describes how to open the MCU link.
type Config struct {
	Name        string        // e.g. "/dev/ttyUSB0"
	Baud        int           // e.g. 115200
	ReadTimeout time.Duration // 0 uses the driver default
}

// Link is a full-duplex byte stream to the MCU.
type Link interface {
	io.ReadWriteCloser
}

// Port wraps a tarm/serial.Port as a Link and adds a background read loop
// that hands bytes to a callback instead of requiring callers to poll Read.
type Port struct {
	port   *serial.Port
	logger *log.Logger

	mu        sync.Mutex
	closed    bool
	receiving bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens the MCU serial link with the given configuration.
func Open(cfg Config, logger *log.Logger) (*Port, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("serialport: config.Name is required")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	if logger == nil {
		logger = log.Default()
	}

	sc := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", cfg.Name, err)
	}

	return &Port{
		port:   p,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Read satisfies io.Reader by delegating to the underlying port. Most
// callers should prefer StartReceiving instead of polling Read directly.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Write sends buf to the MCU, retrying on short writes the way a raw serial
// descriptor can produce them.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	total := 0
	for total < len(buf) {
		n, err := p.port.Write(buf[total:])
		if err != nil {
			return total, fmt.Errorf("serialport: write: %w", err)
		}
		if n == 0 {
			return total, fmt.Errorf("serialport: write: no progress")
		}
		total += n
	}
	return total, nil
}

// Close stops the receive loop, if running, and closes the underlying port.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	receiving := p.receiving
	p.mu.Unlock()

	close(p.stopCh)
	err := p.port.Close()
	if receiving {
		<-p.doneCh
	}
	return err
}

// StartReceiving launches a goroutine that reads bytes as they arrive and
// hands each chunk to onData. onData is called from the reader goroutine
// and must not block; PTL's frame parser is meant to be fed this way,
// buffering and resynchronizing on its own.
func (p *Port) StartReceiving(onData func([]byte)) {
	p.mu.Lock()
	p.receiving = true
	p.mu.Unlock()

	go func() {
		defer close(p.doneCh)
		buf := make([]byte, 256)
		for {
			select {
			case <-p.stopCh:
				return
			default:
			}

			n, err := p.port.Read(buf)
			if err != nil {
				select {
				case <-p.stopCh:
					return
				default:
				}
				if err == io.EOF {
					continue
				}
				p.logger.Printf("serialport: read error: %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				onData(chunk)
			}
		}
	}()
}
