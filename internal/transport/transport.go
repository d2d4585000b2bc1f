// Package transport moves framed Modbus requests over a byte stream and
// returns the matching response PDU.
package transport

import (
	"io"
	"log"
)

// Transporter performs one request/response exchange at a time.
type Transporter interface {
	Exchange(slaveID uint8, pdu []byte) ([]byte, error)
	RemoteAddr() string
	Close() error
}

func newDebugLogger(w io.Writer, tag string) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[DEBUG] "+tag+" ", 0)
}
