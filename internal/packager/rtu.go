// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package packager

import (
	"fmt"
)

const (
	MaxRTUFrameLength = 256
	MinRTUFrameLength = 4 // SlaveID + FuncCode + CRC
)

// crcTable is the CRC-16/MODBUS lookup table (reversed polynomial 0xA001).
var crcTable = func() (table [256]uint16) {
	const polynomial = 0xA001
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ polynomial
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return
}()

// CRC16 returns the Modbus CRC of data. On the wire the low byte goes first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[uint8(crc)^b]
	}
	return crc
}

// RTUPackager handles RTU frame packing/unpacking with CRC validation
type RTUPackager struct{}

// NewRTUPackager creates a new RTU packager.
func NewRTUPackager() *RTUPackager {
	return &RTUPackager{}
}

// Pack creates an RTU frame: slave ID, PDU, CRC (little-endian).
func (p *RTUPackager) Pack(slaveID uint8, pdu []byte) ([]byte, error) {
	if slaveID == 0 || slaveID > 247 {
		return nil, fmt.Errorf("invalid slave ID: %d (must be 1-247)", slaveID)
	}
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU too long: %d bytes (max %d)", len(pdu), MaxPDULength)
	}

	frameLen := 1 + len(pdu) + 2
	frame := make([]byte, frameLen)
	frame[0] = slaveID
	copy(frame[1:], pdu)

	crc := CRC16(frame[:frameLen-2])
	frame[frameLen-2] = byte(crc)
	frame[frameLen-1] = byte(crc >> 8)

	return frame, nil
}

// Unpack extracts slave ID and PDU from an RTU frame after checking its CRC.
func (p *RTUPackager) Unpack(frame []byte) (uint8, []byte, error) {
	if len(frame) < MinRTUFrameLength {
		return 0, nil, fmt.Errorf("frame too short: %d bytes (minimum %d)", len(frame), MinRTUFrameLength)
	}
	if !p.VerifyCRC(frame) {
		return 0, nil, fmt.Errorf("CRC verification failed")
	}

	pdu := make([]byte, len(frame)-3)
	copy(pdu, frame[1:len(frame)-2])

	return frame[0], pdu, nil
}

// VerifyCRC verifies the CRC of an RTU frame
func (p *RTUPackager) VerifyCRC(frame []byte) bool {
	if len(frame) < MinRTUFrameLength {
		return false
	}
	dataLen := len(frame) - 2
	received := uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
	return CRC16(frame[:dataLen]) == received
}

// ResponseLength predicts the full length of a response frame from its first
// three bytes (slave ID, function code, first data byte). It returns 0 when
// the length cannot be told from the header.
func ResponseLength(header []byte) int {
	if len(header) < 3 {
		return 0
	}
	functionCode := header[1]
	if functionCode&0x80 != 0 {
		return 5 // SlaveID + FuncCode + ExceptionCode + CRC
	}
	switch functionCode {
	case 0x01, 0x02, 0x03, 0x04:
		return 3 + int(header[2]) + 2 // SlaveID + FuncCode + ByteCount + Data + CRC
	case 0x05, 0x06, 0x0F, 0x10:
		return 8 // SlaveID + FuncCode + Address + Value/Quantity + CRC
	case 0x07:
		return 5 // SlaveID + FuncCode + Status + CRC
	}
	return 0
}
