package transport

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hootrhino/gomodbus-backends/internal/packager"
)

// deadliner is implemented by net.Conn; serial ports enforce their timeout
// inside Read instead.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// RTUTransporter exchanges RTU frames over a serial port or, for RTU over
// TCP, over a network connection.
type RTUTransporter struct {
	port     io.ReadWriteCloser
	timeout  time.Duration
	packager *packager.RTUPackager
	logger   *log.Logger
	mu       sync.Mutex
	closed   bool
}

// NewRTUTransporter wraps port. timeout bounds each exchange when port
// supports deadlines.
func NewRTUTransporter(port io.ReadWriteCloser, timeout time.Duration, logger io.Writer) *RTUTransporter {
	tag := "modbus rtu:"
	if _, ok := port.(net.Conn); ok {
		tag = "modbus rtu over tcp:"
	}
	return &RTUTransporter{
		port:     port,
		timeout:  timeout,
		packager: packager.NewRTUPackager(),
		logger:   newDebugLogger(logger, tag),
	}
}

func (t *RTUTransporter) log(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

// Exchange sends pdu to slaveID and returns the response PDU.
func (t *RTUTransporter) Exchange(slaveID uint8, pdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transporter is closed")
	}
	if d, ok := t.port.(deadliner); ok && t.timeout > 0 {
		if err := d.SetDeadline(time.Now().Add(t.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
		defer d.SetDeadline(time.Time{})
	}

	frame, err := t.packager.Pack(slaveID, pdu)
	if err != nil {
		return nil, fmt.Errorf("failed to pack frame: %w", err)
	}
	t.log("sending SlaveID=%d frame=% X", slaveID, frame)
	if _, err := t.port.Write(frame); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	respSlaveID, respPDU, err := t.receive()
	if err != nil {
		return nil, err
	}
	if respSlaveID != slaveID {
		return nil, fmt.Errorf("slave ID mismatch: expected %d, got %d", slaveID, respSlaveID)
	}
	return respPDU, nil
}

// receive reads one response frame, sizing it from its header.
func (t *RTUTransporter) receive() (uint8, []byte, error) {
	header := make([]byte, 3)
	if _, err := io.ReadFull(t.port, header); err != nil {
		return 0, nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	length := packager.ResponseLength(header)
	if length == 0 {
		return 0, nil, fmt.Errorf("unsupported function code 0x%02X in response", header[1])
	}
	if length > packager.MaxRTUFrameLength {
		return 0, nil, fmt.Errorf("frame too long: %d bytes", length)
	}
	frame := make([]byte, length)
	copy(frame, header)
	if _, err := io.ReadFull(t.port, frame[len(header):]); err != nil {
		return 0, nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	t.log("received frame=% X", frame)
	return t.packager.Unpack(frame)
}

// RemoteAddr returns the peer address for network ports and "" for serial ones.
func (t *RTUTransporter) RemoteAddr() string {
	if c, ok := t.port.(net.Conn); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return ""
}

// Close closes the underlying port. It is safe to call more than once.
func (t *RTUTransporter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
