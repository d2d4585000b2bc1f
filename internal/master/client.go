// Package master implements the Modbus master role on top of a transporter.
package master

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	modbus "github.com/hootrhino/gomodbus-backends"
	"github.com/hootrhino/gomodbus-backends/internal/transport"
)

// Response PDU lengths, function code included.
const (
	respPDULenWriteSingleCoil        = 1 + 2 + 2
	respPDULenWriteSingleRegister    = 1 + 2 + 2
	respPDULenWriteMultipleCoils     = 1 + 2 + 2
	respPDULenWriteMultipleRegisters = 1 + 2 + 2
)

// DialFunc opens a transporter for the given settings.
type DialFunc func(ctx context.Context, settings modbus.Settings, logger io.Writer) (transport.Transporter, error)

// Client implements modbus.Master.
type Client struct {
	mode   string
	dial   DialFunc
	logger io.Writer

	mu              sync.Mutex
	transporter     transport.Transporter
	lastModbusError *modbus.ModbusError
}

var _ modbus.Master = (*Client)(nil)

// NewClient returns an unconnected master that opens its transport with dial.
func NewClient(mode string, dial DialFunc, logger io.Writer) *Client {
	return &Client{mode: mode, dial: dial, logger: logger}
}

// Mode implements modbus.Master.
func (c *Client) Mode() string { return c.mode }

// Connect opens the transport. A second Connect replaces the first connection.
func (c *Client) Connect(ctx context.Context, settings modbus.Settings) error {
	tr, err := c.dial(ctx, settings, c.logger)
	if err != nil {
		return fmt.Errorf("modbus: %s connect to %q failed: %w", c.mode, settings.Address, err)
	}
	c.mu.Lock()
	old := c.transporter
	c.transporter = tr
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close closes the transport, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	tr := c.transporter
	c.transporter = nil
	c.mu.Unlock()
	if tr == nil {
		return nil
	}
	return tr.Close()
}

// LastModbusError returns the last exception response received.
func (c *Client) LastModbusError() *modbus.ModbusError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastModbusError
}

func (c *Client) setLastModbusError(err *modbus.ModbusError) {
	c.mu.Lock()
	c.lastModbusError = err
	c.mu.Unlock()
	if c.logger != nil {
		fmt.Fprintf(c.logger, "[WARNING] modbus: cached ModbusError: %v\n", err)
	}
}

// sendAndReceive runs one exchange and turns exception responses into
// *modbus.ModbusError.
func (c *Client) sendAndReceive(slaveID uint16, funcCode uint8, data []byte) ([]byte, error) {
	c.mu.Lock()
	tr := c.transporter
	c.mu.Unlock()
	if tr == nil {
		return nil, fmt.Errorf("modbus: %s master is not connected", c.mode)
	}
	if slaveID > 0xFF {
		return nil, fmt.Errorf("modbus: slave id %d out of range", slaveID)
	}

	reqPDU := make([]byte, 1+len(data))
	reqPDU[0] = funcCode
	copy(reqPDU[1:], data)

	respPDU, err := tr.Exchange(uint8(slaveID), reqPDU)
	if err != nil {
		return nil, fmt.Errorf("modbus: send/receive failed for func %02X (slave %d): %w", funcCode, slaveID, err)
	}
	if len(respPDU) == 0 {
		return nil, fmt.Errorf("modbus: empty response for func %02X (slave %d)", funcCode, slaveID)
	}
	if respPDU[0] == funcCode|0x80 {
		if len(respPDU) < 2 {
			return nil, fmt.Errorf("modbus: truncated exception response for func %02X (slave %d)", funcCode, slaveID)
		}
		mbErr := &modbus.ModbusError{FunctionCode: funcCode, ExceptionCode: respPDU[1]}
		c.setLastModbusError(mbErr)
		return nil, mbErr
	}
	if respPDU[0] != funcCode {
		return nil, fmt.Errorf("modbus: unexpected function code in response for func %02X (slave %d): got %02X", funcCode, slaveID, respPDU[0])
	}
	return respPDU, nil
}

// readModbusData sends an address+quantity read and returns the payload
// after the byte count.
func (c *Client) readModbusData(funcCode uint8, slaveID uint16, startAddress, quantity uint16) ([]byte, error) {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)

	respPDU, err := c.sendAndReceive(slaveID, funcCode, pduData)
	if err != nil {
		return nil, err
	}
	if len(respPDU) < 2 {
		return nil, fmt.Errorf("modbus: invalid response length for func %02X (slave %d): expected at least 2 bytes, got %d", funcCode, slaveID, len(respPDU))
	}
	byteCount := int(respPDU[1])
	if len(respPDU) != 2+byteCount {
		return nil, fmt.Errorf("modbus: invalid response data length for func %02X (slave %d): expected %d bytes, got %d", funcCode, slaveID, byteCount, len(respPDU)-2)
	}
	return respPDU[2:], nil
}

// writeModbusData sends a write and checks the echoed response length.
func (c *Client) writeModbusData(funcCode uint8, slaveID uint16, pduData []byte, expectedRespPDULen int) ([]byte, error) {
	respPDU, err := c.sendAndReceive(slaveID, funcCode, pduData)
	if err != nil {
		return nil, err
	}
	if len(respPDU) != expectedRespPDULen {
		return nil, fmt.Errorf("modbus: invalid response length for func %02X (slave %d): expected %d bytes, got %d", funcCode, slaveID, expectedRespPDULen, len(respPDU))
	}
	return respPDU, nil
}

func (c *Client) readBits(funcCode uint8, slaveID uint16, startAddress, quantity uint16) ([]bool, error) {
	data, err := c.readModbusData(funcCode, slaveID, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	if len(data) < (int(quantity)+7)/8 {
		return nil, fmt.Errorf("modbus: short bit response for func %02X (slave %d): %d bytes for %d bits", funcCode, slaveID, len(data), quantity)
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return bits, nil
}

func (c *Client) readRegisters(funcCode uint8, slaveID uint16, startAddress, quantity uint16) ([]uint16, error) {
	data, err := c.readModbusData(funcCode, slaveID, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	if len(data) != 2*int(quantity) {
		return nil, fmt.Errorf("modbus: invalid register data length for func %02X (slave %d): expected %d bytes for %d registers, got %d", funcCode, slaveID, 2*int(quantity), quantity, len(data))
	}
	registers := make([]uint16, len(data)/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return registers, nil
}

// ReadCoils reads the specified number of coils starting from the given address.
func (c *Client) ReadCoils(slaveID uint16, startAddress, quantity uint16) ([]bool, error) {
	return c.readBits(modbus.FuncCodeReadCoils, slaveID, startAddress, quantity)
}

// ReadDiscreteInputs reads the specified number of discrete inputs starting from the given address.
func (c *Client) ReadDiscreteInputs(slaveID uint16, startAddress, quantity uint16) ([]bool, error) {
	return c.readBits(modbus.FuncCodeReadDiscreteInputs, slaveID, startAddress, quantity)
}

// ReadHoldingRegisters reads the specified number of holding registers starting from the given address.
func (c *Client) ReadHoldingRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error) {
	return c.readRegisters(modbus.FuncCodeReadHoldingRegisters, slaveID, startAddress, quantity)
}

// ReadInputRegisters reads the specified number of input registers starting from the given address.
func (c *Client) ReadInputRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error) {
	return c.readRegisters(modbus.FuncCodeReadInputRegisters, slaveID, startAddress, quantity)
}

// WriteSingleCoil writes a single coil to the Modbus device.
func (c *Client) WriteSingleCoil(slaveID uint16, address uint16, value bool) error {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], address)
	if value {
		binary.BigEndian.PutUint16(pduData[2:4], 0xFF00)
	}

	respPDU, err := c.writeModbusData(modbus.FuncCodeWriteSingleCoil, slaveID, pduData, respPDULenWriteSingleCoil)
	if err != nil {
		return fmt.Errorf("modbus: write single coil failed (slave %d, address %d, value %v): %w", slaveID, address, value, err)
	}
	return checkEcho(respPDU, pduData)
}

// WriteSingleRegister writes a single register to the Modbus device.
func (c *Client) WriteSingleRegister(slaveID uint16, address uint16, value uint16) error {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], address)
	binary.BigEndian.PutUint16(pduData[2:4], value)

	respPDU, err := c.writeModbusData(modbus.FuncCodeWriteSingleRegister, slaveID, pduData, respPDULenWriteSingleRegister)
	if err != nil {
		return fmt.Errorf("modbus: write single register failed (slave %d, address %d, value %d): %w", slaveID, address, value, err)
	}
	return checkEcho(respPDU, pduData)
}

// WriteMultipleCoils writes multiple coils to the Modbus device.
func (c *Client) WriteMultipleCoils(slaveID uint16, startAddress uint16, values []bool) error {
	if len(values) == 0 || len(values) > 1968 {
		return fmt.Errorf("modbus: invalid coil count %d", len(values))
	}
	quantity := uint16(len(values))
	byteCount := (len(values) + 7) / 8

	pduData := make([]byte, 5+byteCount)
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)
	pduData[4] = byte(byteCount)
	for i, v := range values {
		if v {
			pduData[5+i/8] |= 1 << (i % 8)
		}
	}

	respPDU, err := c.writeModbusData(modbus.FuncCodeWriteMultipleCoils, slaveID, pduData, respPDULenWriteMultipleCoils)
	if err != nil {
		return fmt.Errorf("modbus: write multiple coils failed (slave %d, address %d): %w", slaveID, startAddress, err)
	}
	return checkEcho(respPDU, pduData[:4])
}

// WriteMultipleRegisters writes multiple registers to the Modbus device.
func (c *Client) WriteMultipleRegisters(slaveID uint16, startAddress uint16, values []uint16) error {
	if len(values) == 0 || len(values) > 123 {
		return fmt.Errorf("modbus: invalid register count %d", len(values))
	}
	quantity := uint16(len(values))

	pduData := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)
	pduData[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(pduData[5+2*i:], v)
	}

	respPDU, err := c.writeModbusData(modbus.FuncCodeWriteMultipleRegisters, slaveID, pduData, respPDULenWriteMultipleRegisters)
	if err != nil {
		return fmt.Errorf("modbus: write multiple registers failed (slave %d, address %d): %w", slaveID, startAddress, err)
	}
	return checkEcho(respPDU, pduData[:4])
}

var errEchoMismatch = errors.New("modbus: response does not echo the request")

// checkEcho compares the address/value (or address/quantity) echoed after
// the function code.
func checkEcho(respPDU, want []byte) error {
	got := respPDU[1:5]
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%w: sent % X, got % X", errEchoMismatch, want, got)
		}
	}
	return nil
}
