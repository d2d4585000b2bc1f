package transport

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hootrhino/gomodbus-backends/internal/packager"
)

const maxMismatchedResponses = 3

// TCPTransporter handles Modbus TCP communication over a net.Conn.
type TCPTransporter struct {
	conn          net.Conn
	timeout       time.Duration
	packager      *packager.TCPPackager
	logger        *log.Logger
	transactionID uint32 // atomic
	mu            sync.Mutex
	closed        bool
}

// NewTCPTransporter creates a new TCPTransporter with the given connection and timeout.
func NewTCPTransporter(conn net.Conn, timeout time.Duration, logger io.Writer) *TCPTransporter {
	return &TCPTransporter{
		conn:     conn,
		timeout:  timeout,
		packager: packager.NewTCPPackager(),
		logger:   newDebugLogger(logger, "modbus tcp:"),
	}
}

func (t *TCPTransporter) log(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

// NextTransactionID returns the next transaction ID, wrapping at 65535.
func (t *TCPTransporter) NextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&t.transactionID, 1) & 0xFFFF)
}

func (t *TCPTransporter) setDeadline() error {
	if t.timeout > 0 {
		return t.conn.SetDeadline(time.Now().Add(t.timeout))
	}
	return nil
}

func (t *TCPTransporter) clearDeadline() {
	_ = t.conn.SetDeadline(time.Time{})
}

// Exchange sends pdu to unitID and waits for the response carrying the same
// transaction ID. Responses for other transactions are discarded.
func (t *TCPTransporter) Exchange(unitID uint8, pdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transporter is closed")
	}
	if err := t.setDeadline(); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	defer t.clearDeadline()

	txID := t.NextTransactionID()
	frame, err := t.packager.Pack(txID, unitID, pdu)
	if err != nil {
		return nil, fmt.Errorf("failed to pack PDU: %w", err)
	}
	t.log("sending TxID=0x%04X UnitID=%d PDU=% X", txID, unitID, pdu)
	if _, err := t.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	for i := 0; i < maxMismatchedResponses; i++ {
		respTxID, respUnitID, respPDU, err := t.receive()
		if err != nil {
			return nil, err
		}
		if respTxID != txID {
			t.log("transaction ID mismatch: sent=0x%04X, received=0x%04X, ignoring", txID, respTxID)
			continue
		}
		if respUnitID != unitID {
			t.log("unit ID mismatch: sent=%d, received=%d, ignoring", unitID, respUnitID)
			continue
		}
		t.log("received TxID=0x%04X PDU=% X", respTxID, respPDU)
		return respPDU, nil
	}
	return nil, fmt.Errorf("no matching response received after %d frames", maxMismatchedResponses)
}

// receive reads exactly one MBAP frame.
func (t *TCPTransporter) receive() (uint16, uint8, []byte, error) {
	header := make([]byte, packager.TCPHeaderLength)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read MBAP header: %w", err)
	}
	if err := t.packager.ValidateHeader(header); err != nil {
		return 0, 0, nil, err
	}
	frame := make([]byte, packager.TCPHeaderLength+t.packager.PDULength(header))
	copy(frame, header)
	if _, err := io.ReadFull(t.conn, frame[packager.TCPHeaderLength:]); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read PDU: %w", err)
	}
	return t.packager.Unpack(frame)
}

// RemoteAddr returns the peer address.
func (t *TCPTransporter) RemoteAddr() string {
	if t.conn == nil || t.conn.RemoteAddr() == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

// Close closes the underlying connection. It is safe to call more than once.
func (t *TCPTransporter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
