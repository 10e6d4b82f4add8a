package seriallink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/sourcerouted/overlay/internal/link"
	"github.com/sourcerouted/overlay/internal/wire"
)

// DefaultBaudRate matches the teacher's hardware-bridge default.
const DefaultBaudRate = 115200

const readBufSize = 1024

// Config configures a serial bridge to a physical radio/bridge board.
type Config struct {
	Port     string
	BaudRate int
	Logger   *slog.Logger
}

// Link implements link.Link over a serial port using the RS232 framing in
// frame.go.
type Link struct {
	cfg    Config
	port   serial.Port
	log    *slog.Logger
	in     chan *wire.Packet
	mu     sync.Mutex
	closed bool
}

var _ link.Link = (*Link)(nil)

// Open opens the serial port and starts the background read loop.
func Open(cfg Config) (*Link, error) {
	if cfg.Port == "" {
		return nil, errors.New("seriallink: port is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("seriallink: opening port: %w", err)
	}

	l := &Link{
		cfg:  cfg,
		port: port,
		log:  cfg.Logger.WithGroup("seriallink"),
		in:   make(chan *wire.Packet, 64),
	}

	go l.readLoop()

	return l, nil
}

func (l *Link) readLoop() {
	buf := make([]byte, readBufSize)
	var assembly []byte

	for {
		n, err := l.port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			l.log.Error("serial read error", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		assembly = append(assembly, buf[:n]...)
		assembly = l.processFrames(assembly)
	}
}

func (l *Link) processFrames(data []byte) []byte {
	for len(data) >= MinFrameSize {
		payload, remaining, err := DecodeFrame(data)
		if err != nil {
			if errors.Is(err, ErrIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}
		data = remaining

		var p wire.Packet
		if err := p.ReadFrom(payload); err != nil {
			l.log.Debug("failed to parse packet from frame", "error", err)
			continue
		}

		select {
		case l.in <- &p:
		default:
			l.log.Warn("inbound buffer full, dropping packet")
		}
	}
	return data
}

func findMagic(data []byte) int {
	hi, lo := byte(FrameMagic>>8), byte(FrameMagic&0xFF)
	for i := 0; i+1 < len(data); i++ {
		if data[i] == hi && data[i+1] == lo {
			return i
		}
	}
	return -1
}

// Send frames and writes p to the serial port.
func (l *Link) Send(p *wire.Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("seriallink: closed")
	}

	frame, err := EncodeFrame(p.WriteTo())
	if err != nil {
		return fmt.Errorf("seriallink: encoding frame: %w", err)
	}
	_, err = l.port.Write(frame)
	return err
}

// Inbound exposes packets decoded from the serial stream.
func (l *Link) Inbound() <-chan *wire.Packet { return l.in }

// Close closes the underlying serial port.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.port.Close()
}
