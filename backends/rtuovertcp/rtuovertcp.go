// Package rtuovertcp carries RTU frames (with CRC) over a TCP connection,
// the encoding serial-to-Ethernet gateways expect. Master role only.
package rtuovertcp

import (
	"context"
	"io"
	"net"

	modbus "github.com/hootrhino/gomodbus-backends"
	"github.com/hootrhino/gomodbus-backends/internal/master"
	"github.com/hootrhino/gomodbus-backends/internal/transport"
)

// Key identifies this backend in the registry.
const Key = "rtuovertcp"

// MetaData is what this backend declares to discovery.
func MetaData() modbus.MetaData {
	return modbus.MetaData{
		"Key":         Key,
		"Version":     "1.0",
		"Description": "Modbus RTU framing over TCP",
		"Roles":       []string{"master"},
	}
}

func init() {
	modbus.Register(MetaData(), NewFactory)
}

// NewFactory is the plugin entry point.
func NewFactory() (modbus.Factory, error) {
	return &Factory{}, nil
}

// Factory builds RTU-over-TCP masters. CreateSlave always returns nil.
// Logger, if set, is handed to every master; a registry sets it through
// SetLogger.
type Factory struct {
	Logger io.Writer
}

var _ modbus.LoggerSetter = (*Factory)(nil)

// SetLogger implements modbus.LoggerSetter.
func (f *Factory) SetLogger(w io.Writer) { f.Logger = w }

func (f *Factory) CreateMaster() modbus.Master {
	return master.NewClient(modbus.ModeRTUOverTCP, dial, f.Logger)
}

func (f *Factory) CreateSlave() modbus.Slave {
	return nil
}

func dial(ctx context.Context, settings modbus.Settings, logger io.Writer) (transport.Transporter, error) {
	var d net.Dialer
	if settings.Timeout > 0 {
		d.Timeout = settings.Timeout
	}
	conn, err := d.DialContext(ctx, "tcp", settings.Address)
	if err != nil {
		return nil, err
	}
	return transport.NewRTUTransporter(conn, settings.Timeout, logger), nil
}
