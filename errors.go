package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPlugin is recorded when a lookup names an id that discovery never saw.
	ErrUnknownPlugin = errors.New("modbus: unknown plugin")
	// ErrNoFactory is recorded when a plugin loaded but produced no Factory.
	ErrNoFactory = errors.New("modbus: plugin does not provide a factory")
	// ErrSymbolType is returned by DirLoader when the exported symbol has the wrong type.
	ErrSymbolType = errors.New("modbus: plugin symbol is not a modbus.Factory constructor")
)

// ResolveError records why a plugin could not be turned into a Factory.
type ResolveError struct {
	ID  string
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("modbus: resolve plugin %q: %v", e.ID, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ModbusError is an exception response returned by a remote device.
type ModbusError struct {
	FunctionCode  uint8
	ExceptionCode uint8
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X (%s) for function 0x%02X",
		e.ExceptionCode, ExceptionMessage(e.ExceptionCode), e.FunctionCode)
}

// ExceptionMessage returns a human-readable message for a Modbus exception code.
func ExceptionMessage(exceptionCode uint8) string {
	switch exceptionCode {
	case 0x01:
		return "Illegal function"
	case 0x02:
		return "Illegal data address"
	case 0x03:
		return "Illegal data value"
	case 0x04:
		return "Slave device failure"
	case 0x05:
		return "Acknowledge"
	case 0x06:
		return "Slave device busy"
	case 0x08:
		return "Memory parity error"
	case 0x0A:
		return "Gateway path unavailable"
	case 0x0B:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}
