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

package modbus

import (
	"context"
	"io"
	"time"
)

// Standard Modbus function codes.
const (
	FuncCodeReadCoils              uint8 = 0x01
	FuncCodeReadDiscreteInputs     uint8 = 0x02
	FuncCodeReadHoldingRegisters   uint8 = 0x03
	FuncCodeReadInputRegisters     uint8 = 0x04
	FuncCodeWriteSingleCoil        uint8 = 0x05
	FuncCodeWriteSingleRegister    uint8 = 0x06
	FuncCodeReadExceptionStatus    uint8 = 0x07
	FuncCodeWriteMultipleCoils     uint8 = 0x0F
	FuncCodeWriteMultipleRegisters uint8 = 0x10
)

// Backend modes reported by Mode().
const (
	ModeTCP        = "TCP"
	ModeRTU        = "RTU"
	ModeRTUOverTCP = "RTU_OVER_TCP"
)

// Settings carries the connection parameters a role object needs before
// Connect. Serial fields are ignored by network backends.
type Settings struct {
	Address  string        // "host:port" for network backends, device path for serial ones
	BaudRate int           // serial only
	DataBits int           // serial only
	StopBits int           // serial only
	Parity   string        // "N", "E" or "O"; serial only
	Timeout  time.Duration // per request / per frame
	UnitID   uint8         // the unit identifier a Slave answers to
}

// DefaultSettings returns 9600 8N1 with a one second timeout and unit 1.
func DefaultSettings(address string) Settings {
	return Settings{
		Address:  address,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
		UnitID:   1,
	}
}

// Master initiates Modbus transactions.
type Master interface {
	Connect(ctx context.Context, settings Settings) error
	Close() error
	Mode() string
	LastModbusError() *ModbusError // last exception response seen, nil if none

	ReadCoils(slaveID uint16, startAddress, quantity uint16) ([]bool, error)
	ReadDiscreteInputs(slaveID uint16, startAddress, quantity uint16) ([]bool, error)
	ReadHoldingRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error)
	ReadInputRegisters(slaveID uint16, startAddress, quantity uint16) ([]uint16, error)
	WriteSingleCoil(slaveID uint16, address uint16, value bool) error
	WriteSingleRegister(slaveID uint16, address, value uint16) error
	WriteMultipleCoils(slaveID uint16, startAddress uint16, values []bool) error
	WriteMultipleRegisters(slaveID uint16, startAddress uint16, values []uint16) error
}

// Slave answers Modbus transactions. Connect starts serving.
type Slave interface {
	Connect(ctx context.Context, settings Settings) error
	Close() error
	Mode() string
	SetHoldingRegisters(values []uint16) error
}

// Factory is the capability a resolved backend plugin exposes. Either method
// may return nil when the backend does not support that role.
type Factory interface {
	CreateMaster() Master
	CreateSlave() Slave
}

// LoggerSetter is implemented by factories that log through the registry's
// writer. The registry calls SetLogger once, right after loading.
type LoggerSetter interface {
	SetLogger(w io.Writer)
}

// FactoryFuncs adapts plain constructors to Factory. A nil field means the
// role is unsupported.
type FactoryFuncs struct {
	Master func() Master
	Slave  func() Slave
}

func (f FactoryFuncs) CreateMaster() Master {
	if f.Master == nil {
		return nil
	}
	return f.Master()
}

func (f FactoryFuncs) CreateSlave() Slave {
	if f.Slave == nil {
		return nil
	}
	return f.Slave()
}
