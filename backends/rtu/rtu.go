// Package rtu is the Modbus RTU backend for serial lines. It provides the
// master role only. Importing it registers the "rtu" plugin.
package rtu

import (
	"context"
	"io"

	serial "github.com/hootrhino/goserial"

	modbus "github.com/hootrhino/gomodbus-backends"
	"github.com/hootrhino/gomodbus-backends/internal/master"
	"github.com/hootrhino/gomodbus-backends/internal/transport"
)

// Key identifies this backend in the registry.
const Key = "rtu"

// MetaData is what this backend declares to discovery.
func MetaData() modbus.MetaData {
	return modbus.MetaData{
		"Key":         Key,
		"Version":     "1.0",
		"Description": "Modbus RTU master over a serial line",
		"Roles":       []string{"master"},
	}
}

func init() {
	modbus.Register(MetaData(), NewFactory)
}

// NewFactory is the plugin entry point.
func NewFactory() (modbus.Factory, error) {
	return &Factory{open: openSerial}, nil
}

// Factory builds RTU masters. CreateSlave always returns nil. Logger, if
// set, is handed to every master; a registry sets it through SetLogger.
type Factory struct {
	Logger io.Writer
	open   func(settings modbus.Settings) (io.ReadWriteCloser, error)
}

var _ modbus.LoggerSetter = (*Factory)(nil)

// SetLogger implements modbus.LoggerSetter.
func (f *Factory) SetLogger(w io.Writer) { f.Logger = w }

// CreateMaster returns an unconnected master; Connect opens the serial port
// named by Settings.Address.
func (f *Factory) CreateMaster() modbus.Master {
	open := f.open
	if open == nil {
		open = openSerial
	}
	return master.NewClient(modbus.ModeRTU, func(ctx context.Context, settings modbus.Settings, logger io.Writer) (transport.Transporter, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		port, err := open(settings)
		if err != nil {
			return nil, err
		}
		return transport.NewRTUTransporter(port, settings.Timeout, logger), nil
	}, f.Logger)
}

func (f *Factory) CreateSlave() modbus.Slave {
	return nil
}

func openSerial(settings modbus.Settings) (io.ReadWriteCloser, error) {
	return serial.Open(&serial.Config{
		Address:  settings.Address,
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
		StopBits: settings.StopBits,
		Parity:   settings.Parity,
		Timeout:  settings.Timeout,
	})
}
