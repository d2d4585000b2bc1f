package tcp

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	mbserver "github.com/hootrhino/mbserver"
	"github.com/hootrhino/mbserver/store"

	modbus "github.com/hootrhino/gomodbus-backends"
)

// Slave serves an in-memory register map over Modbus TCP. It answers unit 1;
// Settings.UnitID is not used.
type Slave struct {
	logger io.Writer

	mu      sync.Mutex
	server  *mbserver.Server
	holding []uint16
}

var _ modbus.Slave = (*Slave)(nil)

// NewSlave returns a slave that is not serving yet.
func NewSlave(logger io.Writer) *Slave {
	return &Slave{logger: logger}
}

// Mode implements modbus.Slave.
func (s *Slave) Mode() string { return modbus.ModeTCP }

// Connect starts listening on settings.Address.
func (s *Slave) Connect(ctx context.Context, settings modbus.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("modbus: tcp slave already serving")
	}

	server := mbserver.NewServer(store.NewInMemoryStore(), 1)
	server.SetErrorHandler(func(err error) {
		if s.logger != nil {
			fmt.Fprintf(s.logger, "[ERROR] modbus tcp slave: %v\n", err)
		}
	})
	if s.holding != nil {
		if err := server.SetHoldingRegisters(s.holding); err != nil {
			return fmt.Errorf("modbus: tcp slave: set holding registers: %w", err)
		}
	}
	if err := server.Start(settings.Address); err != nil {
		return fmt.Errorf("modbus: tcp slave: listen on %q: %w", settings.Address, err)
	}
	s.server = server
	return nil
}

// SetHoldingRegisters replaces the holding register table, starting at
// address 0. Values set before Connect are applied when serving starts.
func (s *Slave) SetHoldingRegisters(values []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = slices.Clone(values)
	if s.server == nil {
		return nil
	}
	return s.server.SetHoldingRegisters(s.holding)
}

// Close stops serving.
func (s *Slave) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	s.server.Stop()
	s.server = nil
	return nil
}
