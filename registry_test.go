package modbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMaster struct{ mode string }

func (m *stubMaster) Connect(context.Context, Settings) error { return nil }
func (m *stubMaster) Close() error { return nil }
func (m *stubMaster) Mode() string { return m.mode }
func (m *stubMaster) LastModbusError() *ModbusError { return nil }
func (m *stubMaster) ReadCoils(uint16, uint16, uint16) ([]bool, error) {
	return nil, nil
}
func (m *stubMaster) ReadDiscreteInputs(uint16, uint16, uint16) ([]bool, error) {
	return nil, nil
}
func (m *stubMaster) ReadHoldingRegisters(uint16, uint16, uint16) ([]uint16, error) {
	return nil, nil
}
func (m *stubMaster) ReadInputRegisters(uint16, uint16, uint16) ([]uint16, error) {
	return nil, nil
}
func (m *stubMaster) WriteSingleCoil(uint16, uint16, bool) error { return nil }
func (m *stubMaster) WriteSingleRegister(uint16, uint16, uint16) error { return nil }
func (m *stubMaster) WriteMultipleCoils(uint16, uint16, []bool) error { return nil }
func (m *stubMaster) WriteMultipleRegisters(uint16, uint16, []uint16) error { return nil }

type stubSlave struct{ mode string }

func (s *stubSlave) Connect(context.Context, Settings) error { return nil }
func (s *stubSlave) Close() error { return nil }
func (s *stubSlave) Mode() string { return s.mode }
func (s *stubSlave) SetHoldingRegisters([]uint16) error { return nil }

func masterSlaveFactory(mode string) Factory {
	return FactoryFuncs{
		Master: func() Master { return &stubMaster{mode: mode} },
		Slave:  func() Slave { return &stubSlave{mode: mode} },
	}
}

func masterOnlyFactory(mode string) Factory {
	return FactoryFuncs{
		Master: func() Master { return &stubMaster{mode: mode} },
	}
}

// newIsolated builds a registry whose counters live in a private Prometheus
// registry, so assertions do not depend on other tests.
func newIsolated(loader Loader, opts ...Option) *Registry {
	return New(loader, append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)...)
}

// countingLoad wraps load and counts how often it runs.
func countingLoad(calls *atomic.Int32, load LoadFunc) LoadFunc {
	return func() (Factory, error) {
		calls.Add(1)
		return load()
	}
}

func TestRegistry_CreateMasterAndSlave(t *testing.T) {
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-tcp"}, func() (Factory, error) { return masterSlaveFactory(ModeTCP), nil })
	loader.Add(MetaData{"Key": "reg-rtu"}, func() (Factory, error) { return masterOnlyFactory(ModeRTU), nil })

	r := newIsolated(loader)
	assert.Equal(t, []string{"reg-rtu", "reg-tcp"}, r.Plugins())

	m := r.CreateMaster("reg-tcp")
	require.NotNil(t, m)
	assert.Equal(t, ModeTCP, m.Mode())

	s := r.CreateSlave("reg-tcp")
	require.NotNil(t, s)
	assert.Equal(t, ModeTCP, s.Mode())

	require.NotNil(t, r.CreateMaster("reg-rtu"))
	assert.Nil(t, r.CreateSlave("reg-rtu"))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.creations.WithLabelValues("reg-rtu", "slave", "unsupported")))
}

func TestRegistry_UnknownPlugin(t *testing.T) {
	r := newIsolated(NewStaticLoader())

	assert.Empty(t, r.Plugins())
	assert.Nil(t, r.CreateMaster("reg-missing"))
	assert.Nil(t, r.CreateSlave("reg-missing"))
	assert.ErrorIs(t, r.LastError("reg-missing"), ErrUnknownPlugin)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.creations.WithLabelValues(UnknownPluginLabel, "master", "unknown")))

	_, ok := r.MetaData("reg-missing")
	assert.False(t, ok)
}

func TestRegistry_NilLoader(t *testing.T) {
	r := New(nil)
	assert.Empty(t, r.Plugins())
	assert.Nil(t, r.CreateMaster("anything"))
}

func TestRegistry_ResolvesOnce(t *testing.T) {
	var calls atomic.Int32
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-once"}, countingLoad(&calls, func() (Factory, error) {
		return masterSlaveFactory(ModeTCP), nil
	}))

	r := newIsolated(loader)
	assert.Equal(t, int32(0), calls.Load(), "discovery must not load factories")

	m1 := r.CreateMaster("reg-once")
	m2 := r.CreateMaster("reg-once")
	s1 := r.CreateSlave("reg-once")
	require.NotNil(t, m1)
	require.NotNil(t, m2)
	require.NotNil(t, s1)

	assert.NotSame(t, m1, m2, "every call hands out a fresh master")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.resolutions.WithLabelValues("reg-once", "ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.cacheHits.WithLabelValues("reg-once")))
	assert.NoError(t, r.LastError("reg-once"))
}

func TestRegistry_FailedLoadIsRemembered(t *testing.T) {
	var calls atomic.Int32
	loadErr := errors.New("library missing")
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-broken"}, countingLoad(&calls, func() (Factory, error) {
		return nil, loadErr
	}))

	var logs bytes.Buffer
	r := newIsolated(loader, WithLogger(&logs))

	assert.Nil(t, r.CreateMaster("reg-broken"))
	assert.Nil(t, r.CreateSlave("reg-broken"))
	assert.Equal(t, int32(1), calls.Load())

	err := r.LastError("reg-broken")
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "reg-broken", resolveErr.ID)
	assert.ErrorIs(t, err, loadErr)
	assert.Contains(t, logs.String(), "[WARNING]")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.resolutions.WithLabelValues("reg-broken", "error")))
}

func TestRegistry_RetryFailed(t *testing.T) {
	var calls atomic.Int32
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-retry"}, countingLoad(&calls, func() (Factory, error) {
		if calls.Load() == 1 {
			return nil, errors.New("transient")
		}
		return masterSlaveFactory(ModeTCP), nil
	}))

	r := New(loader, WithRetryFailed(true))

	assert.Nil(t, r.CreateMaster("reg-retry"))
	assert.Error(t, r.LastError("reg-retry"))

	assert.NotNil(t, r.CreateMaster("reg-retry"))
	assert.NoError(t, r.LastError("reg-retry"))
	assert.NotNil(t, r.CreateMaster("reg-retry"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRegistry_NilFactory(t *testing.T) {
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-nil-factory"}, func() (Factory, error) { return nil, nil })

	r := New(loader)
	assert.Nil(t, r.CreateMaster("reg-nil-factory"))
	assert.ErrorIs(t, r.LastError("reg-nil-factory"), ErrNoFactory)
}

func TestRegistry_ConcurrentCreate(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-concurrent"}, countingLoad(&calls, func() (Factory, error) {
		<-release
		return masterSlaveFactory(ModeTCP), nil
	}))
	r := New(loader)

	const workers = 32
	var wg sync.WaitGroup
	results := make([]Master, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.CreateMaster("reg-concurrent")
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i, m := range results {
		assert.NotNil(t, m, "worker %d", i)
	}
}

func TestRegistry_MetaData(t *testing.T) {
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-meta", "Version": "2.1", "Ports": 4}, func() (Factory, error) {
		return masterOnlyFactory(ModeTCP), nil
	})
	r := New(loader)

	meta, ok := r.MetaData("reg-meta")
	require.True(t, ok)
	assert.Equal(t, "2.1", meta["Version"])
	assert.Equal(t, 4, meta["Ports"])

	meta["Version"] = "changed"
	again, _ := r.MetaData("reg-meta")
	assert.Equal(t, "2.1", again["Version"])
}

func TestRegistry_IndependentInstances(t *testing.T) {
	var calls atomic.Int32
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-shared"}, countingLoad(&calls, func() (Factory, error) {
		return masterOnlyFactory(ModeTCP), nil
	}))

	a := New(loader)
	b := New(loader)
	require.NotNil(t, a.CreateMaster("reg-shared"))
	require.NotNil(t, b.CreateMaster("reg-shared"))
	assert.Equal(t, int32(2), calls.Load(), "each registry keeps its own cache")
}

func TestInstance_Singleton(t *testing.T) {
	assert.Same(t, Instance(), Instance())
}

func TestRegistry_TCPAndSlaveOnlyRTU(t *testing.T) {
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "tcp"}, func() (Factory, error) { return masterSlaveFactory(ModeTCP), nil })
	loader.Add(MetaData{"Key": "rtu"}, func() (Factory, error) {
		return FactoryFuncs{Slave: func() Slave { return &stubSlave{mode: ModeRTU} }}, nil
	})
	r := New(loader)

	assert.ElementsMatch(t, []string{"tcp", "rtu"}, r.Plugins())
	assert.NotNil(t, r.CreateSlave("tcp"))
	assert.Nil(t, r.CreateMaster("rtu"))
	assert.NotNil(t, r.CreateSlave("rtu"))
	assert.Nil(t, r.CreateMaster("missing"))
}

func TestRegistry_FailingTCPLoad(t *testing.T) {
	var calls atomic.Int32
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "tcp"}, countingLoad(&calls, func() (Factory, error) {
		return nil, errors.New("cannot open tcp backend")
	}))
	r := New(loader)

	assert.Nil(t, r.CreateMaster("tcp"))
	assert.Nil(t, r.CreateMaster("tcp"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry_UnknownIDsShareOneSeries(t *testing.T) {
	r := newIsolated(NewStaticLoader())

	for i := range 1000 {
		assert.Nil(t, r.CreateMaster(fmt.Sprintf("missing-%d", i)))
	}
	assert.Equal(t, 1, testutil.CollectAndCount(r.metrics.creations))
	assert.Equal(t, float64(1000), testutil.ToFloat64(r.metrics.creations.WithLabelValues(UnknownPluginLabel, "master", "unknown")))
}

func TestRegistry_DefaultMetrics(t *testing.T) {
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-default-metrics"}, func() (Factory, error) { return masterOnlyFactory(ModeTCP), nil })
	r := New(loader)

	before := testutil.ToFloat64(CreationsTotal.WithLabelValues("reg-default-metrics", "master", "ok"))
	require.NotNil(t, r.CreateMaster("reg-default-metrics"))
	assert.Equal(t, before+1, testutil.ToFloat64(CreationsTotal.WithLabelValues("reg-default-metrics", "master", "ok")))
}

func TestRegistry_LoaderGrowsAfterDiscovery(t *testing.T) {
	first := NewStaticLoader()
	first.Add(MetaData{"Key": "early"}, func() (Factory, error) { return masterOnlyFactory("EARLY"), nil })
	second := NewStaticLoader()
	second.Add(MetaData{"Key": "dir"}, func() (Factory, error) { return masterOnlyFactory("DIR"), nil })

	r := newIsolated(MultiLoader{first, MultiLoader{second}})
	first.Add(MetaData{"Key": "late"}, func() (Factory, error) { return masterOnlyFactory("LATE"), nil })

	m := r.CreateMaster("dir")
	require.NotNil(t, m)
	assert.Equal(t, "DIR", m.Mode())
	assert.Equal(t, "EARLY", r.CreateMaster("early").Mode())
	assert.Nil(t, r.CreateMaster("late"), "plugins added after discovery are not picked up")
}

type loggingFactory struct {
	FactoryFuncs
	logger io.Writer
	calls  int
}

func (f *loggingFactory) SetLogger(w io.Writer) {
	f.logger = w
	f.calls++
}

func TestRegistry_HandsLoggerToFactory(t *testing.T) {
	factory := &loggingFactory{FactoryFuncs: FactoryFuncs{Master: func() Master { return &stubMaster{mode: ModeTCP} }}}
	loader := NewStaticLoader()
	loader.Add(MetaData{"Key": "reg-logging"}, func() (Factory, error) { return factory, nil })

	var logs bytes.Buffer
	r := newIsolated(loader, WithLogger(&logs))
	require.NotNil(t, r.CreateMaster("reg-logging"))
	require.NotNil(t, r.CreateMaster("reg-logging"))

	assert.Same(t, &logs, factory.logger)
	assert.Equal(t, 1, factory.calls)
}
