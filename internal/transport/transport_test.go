package transport

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hootrhino/gomodbus-backends/internal/packager"
)

func TestTCPTransporter_Exchange(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var logs bytes.Buffer
	tr := NewTCPTransporter(client, time.Second, &logs)
	defer tr.Close()

	go func() {
		req := make([]byte, 12)
		if _, err := io.ReadFull(server, req); err != nil {
			return
		}
		p := packager.NewTCPPackager()
		txID, unitID, _, _ := p.Unpack(req)
		stale, _ := p.Pack(txID+100, unitID, []byte{0x03, 0x02, 0x00, 0x00})
		reply, _ := p.Pack(txID, unitID, []byte{0x03, 0x02, 0xAB, 0xCD})
		server.Write(stale)
		server.Write(reply)
	}()

	resp, err := tr.Exchange(1, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x02, 0xAB, 0xCD}, resp)
	assert.Contains(t, logs.String(), "transaction ID mismatch")
}

func TestTCPTransporter_Closed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewTCPTransporter(client, time.Second, nil)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Exchange(1, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	assert.Error(t, err)
}

func TestTCPTransporter_Timeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewTCPTransporter(client, 50*time.Millisecond, nil)
	defer tr.Close()

	go io.Copy(io.Discard, server)

	_, err := tr.Exchange(1, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	assert.Error(t, err)
}

func TestRTUTransporter_Exchange(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewRTUTransporter(client, time.Second, nil)
	defer tr.Close()

	go func() {
		req := make([]byte, 8)
		if _, err := io.ReadFull(server, req); err != nil {
			return
		}
		reply, _ := packager.NewRTUPackager().Pack(req[0], []byte{0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
		server.Write(reply)
	}()

	resp, err := tr.Exchange(1, []byte{0x03, 0x00, 0x00, 0x00, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x04, 0x00, 0x01, 0x00, 0x02}, resp)
	assert.Equal(t, "pipe", tr.RemoteAddr())
}

func TestRTUTransporter_SlaveMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewRTUTransporter(client, time.Second, nil)
	defer tr.Close()

	go func() {
		req := make([]byte, 8)
		if _, err := io.ReadFull(server, req); err != nil {
			return
		}
		reply, _ := packager.NewRTUPackager().Pack(9, []byte{0x06, 0x00, 0x01, 0x00, 0x03})
		server.Write(reply)
	}()

	_, err := tr.Exchange(1, []byte{0x06, 0x00, 0x01, 0x00, 0x03})
	assert.ErrorContains(t, err, "slave ID mismatch")
}
