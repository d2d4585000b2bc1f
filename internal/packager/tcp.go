// Package packager frames Modbus PDUs for the TCP (MBAP) and RTU encodings.
package packager

import (
	"encoding/binary"
	"fmt"
)

// Modbus TCP Protocol Constants
const (
	ProtocolIdentifierTCP = 0x0000                         // always zero for Modbus
	TCPHeaderLength       = 7                              // MBAP header length in bytes
	MaxPDULength          = 253                            // Maximum PDU length in the Modbus application protocol
	MaxTCPFrameLength     = TCPHeaderLength + MaxPDULength // Maximum complete frame length
)

// TCPPackager handles Modbus TCP packet packing and unpacking.
type TCPPackager struct{}

// NewTCPPackager creates a new TCPPackager.
func NewTCPPackager() *TCPPackager {
	return &TCPPackager{}
}

// Pack prepends the MBAP header to pdu.
// MBAP: Transaction Identifier (2) + Protocol Identifier (2) + Length (2) + Unit Identifier (1).
func (p *TCPPackager) Pack(transactionID uint16, unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU length %d exceeds maximum %d bytes", len(pdu), MaxPDULength)
	}

	frame := make([]byte, TCPHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], transactionID)
	binary.BigEndian.PutUint16(frame[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1)) // unit id + PDU
	frame[6] = unitID
	copy(frame[7:], pdu)

	return frame, nil
}

// Unpack splits a complete MBAP frame into its transaction id, unit id and PDU.
func (p *TCPPackager) Unpack(frame []byte) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if err = p.ValidateHeader(frame); err != nil {
		return
	}
	if len(frame) > MaxTCPFrameLength {
		err = fmt.Errorf("TCP frame length %d exceeds maximum %d bytes", len(frame), MaxTCPFrameLength)
		return
	}

	transactionID = binary.BigEndian.Uint16(frame[0:2])
	length := binary.BigEndian.Uint16(frame[4:6])
	unitID = frame[6]
	pdu = frame[7:]

	if length != uint16(len(pdu)+1) {
		err = fmt.Errorf("length field mismatch: header indicates %d, actual frame has %d", length, len(pdu)+1)
		return
	}
	return
}

// ValidateHeader checks the fixed part of an MBAP header.
func (p *TCPPackager) ValidateHeader(header []byte) error {
	if len(header) < TCPHeaderLength {
		return fmt.Errorf("invalid TCP frame length: %d bytes, minimum required: %d bytes", len(header), TCPHeaderLength)
	}
	if protocolID := binary.BigEndian.Uint16(header[2:4]); protocolID != ProtocolIdentifierTCP {
		return fmt.Errorf("invalid protocol identifier: 0x%04X, expected 0x%04X", protocolID, ProtocolIdentifierTCP)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	if length == 0 {
		return fmt.Errorf("invalid length field: cannot be zero")
	}
	if length > MaxPDULength+1 {
		return fmt.Errorf("length field too large: %d, maximum: %d", length, MaxPDULength+1)
	}
	return nil
}

// PDULength returns the number of PDU bytes that follow a validated header.
func (p *TCPPackager) PDULength(header []byte) int {
	return int(binary.BigEndian.Uint16(header[4:6])) - 1
}
