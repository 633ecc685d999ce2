package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

// ErrReadTimeout is returned when the port delivered nothing within the read timeout
var ErrReadTimeout = errors.New("serial read timeout")

// maxReadTimeout is the longest inter-character timeout termios can express (VTIME)
const maxReadTimeout = 25500 * time.Millisecond

// PortConfig holds the settings the adapter is opened with
type PortConfig struct {
	Name        string
	BaudRate    uint
	ReadTimeout time.Duration
}

// Port is an open serial connection whose reads time out instead of blocking forever
type Port struct {
	name   string
	port   io.ReadWriteCloser
	logger *zap.Logger
}

// Open opens the RAVEn adapter port
func Open(cfg PortConfig, logger *zap.Logger) (*Port, error) {
	timeout := cfg.ReadTimeout
	if timeout > maxReadTimeout {
		logger.Warn("read timeout exceeds what the port supports, clamping",
			zap.Duration("requested", timeout),
			zap.Duration("used", maxReadTimeout))
		timeout = maxReadTimeout
	}

	options := serial.OpenOptions{
		PortName:              cfg.Name,
		BaudRate:              cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(timeout / time.Millisecond),
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	logger.Info("connected to raven port",
		zap.String("port", cfg.Name),
		zap.Uint("baudrate", cfg.BaudRate))

	return &Port{name: cfg.Name, port: port, logger: logger}, nil
}

// Read maps the empty read the driver returns on timeout to ErrReadTimeout
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		return 0, ErrReadTimeout
	}
	return n, err
}

// Close closes the port
func (p *Port) Close() error {
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	p.logger.Info("disconnected from raven port", zap.String("port", p.name))
	return nil
}
