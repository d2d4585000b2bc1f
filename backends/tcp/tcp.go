// Package tcp is the Modbus TCP backend. Importing it registers the "tcp"
// plugin with the default registry.
package tcp

import (
	"context"
	"io"
	"net"

	modbus "github.com/hootrhino/gomodbus-backends"
	"github.com/hootrhino/gomodbus-backends/internal/master"
	"github.com/hootrhino/gomodbus-backends/internal/transport"
)

// Key identifies this backend in the registry.
const Key = "tcp"

// MetaData is what this backend declares to discovery.
func MetaData() modbus.MetaData {
	return modbus.MetaData{
		"Key":         Key,
		"Version":     "1.0",
		"Description": "Modbus TCP (MBAP) master and slave",
		"Roles":       []string{"master", "slave"},
	}
}

func init() {
	modbus.Register(MetaData(), NewFactory)
}

// NewFactory is the plugin entry point.
func NewFactory() (modbus.Factory, error) {
	return &Factory{}, nil
}

// Factory builds TCP masters and slaves. Logger, if set, is handed to every
// role object it creates. A registry sets it through SetLogger.
type Factory struct {
	Logger io.Writer
}

var _ modbus.LoggerSetter = (*Factory)(nil)

// SetLogger implements modbus.LoggerSetter.
func (f *Factory) SetLogger(w io.Writer) { f.Logger = w }

func (f *Factory) CreateMaster() modbus.Master {
	return master.NewClient(modbus.ModeTCP, dial, f.Logger)
}

func (f *Factory) CreateSlave() modbus.Slave {
	return NewSlave(f.Logger)
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
	return transport.NewTCPTransporter(conn, settings.Timeout, logger), nil
}
