package modbus

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// PluginPathEnv lists extra plugin directories for DefaultLoader, separated
// by the OS path list separator.
const PluginPathEnv = "MODBUS_PLUGIN_PATH"

// MetaData is the descriptive block a plugin declares. "Key" is required and
// holds the plugin identifier.
type MetaData map[string]any

// Key returns the declared identifier, or "" when absent or not a string.
func (m MetaData) Key() string {
	k, _ := m["Key"].(string)
	return k
}

// Loader is the module-loading collaborator. MetaData lists every candidate
// it found; the slice index is the load index passed to Instance. Entries may
// be nil or empty for candidates that carry no metadata.
type Loader interface {
	MetaData() []MetaData
	Instance(index int) (Factory, error)
}

// LoadFunc produces a plugin's Factory on demand.
type LoadFunc func() (Factory, error)

// StaticLoader serves plugins compiled into the binary.
type StaticLoader struct {
	mu      sync.RWMutex
	meta    []MetaData
	loaders []LoadFunc
}

// NewStaticLoader returns an empty StaticLoader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{}
}

// Add appends a candidate. Metadata is copied; validation is left to discovery.
func (l *StaticLoader) Add(meta MetaData, load LoadFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meta = append(l.meta, maps.Clone(meta))
	l.loaders = append(l.loaders, load)
}

func (l *StaticLoader) MetaData() []MetaData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]MetaData, len(l.meta))
	for i, m := range l.meta {
		out[i] = maps.Clone(m)
	}
	return out
}

func (l *StaticLoader) Instance(index int) (Factory, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.loaders) {
		return nil, fmt.Errorf("modbus: static plugin index %d out of range", index)
	}
	if l.loaders[index] == nil {
		return nil, ErrNoFactory
	}
	return l.loaders[index]()
}

// MultiLoader chains loaders; indexes run through each loader in order.
// Instance maps an index against the loaders' current sizes. A Registry pins
// the sizes seen at discovery, so loaders that grow later do not shift the
// indexes it recorded.
type MultiLoader []Loader

func (m MultiLoader) MetaData() []MetaData {
	var out []MetaData
	for _, l := range m {
		out = append(out, l.MetaData()...)
	}
	return out
}

func (m MultiLoader) Instance(index int) (Factory, error) {
	if index >= 0 {
		for _, l := range m {
			n := len(l.MetaData())
			if index < n {
				return l.Instance(index)
			}
			index -= n
		}
	}
	return nil, fmt.Errorf("modbus: plugin index out of range")
}

// pinner is implemented by loaders whose index layout can change after
// MetaData returns. pin lists the candidates and returns a Loader whose
// indexes keep matching that list.
type pinner interface {
	pin() ([]MetaData, Loader)
}

func (m MultiLoader) pin() ([]MetaData, Loader) {
	pinned := pinnedMultiLoader{
		loaders: make([]Loader, len(m)),
		offsets: make([]int, len(m)+1),
	}
	var out []MetaData
	for i, l := range m {
		meta, inner := pinLoader(l)
		pinned.loaders[i] = inner
		pinned.offsets[i] = len(out)
		out = append(out, meta...)
	}
	pinned.offsets[len(m)] = len(out)
	return out, pinned
}

// pinnedMultiLoader is a MultiLoader with per-loader offsets fixed at
// discovery time.
type pinnedMultiLoader struct {
	loaders []Loader
	offsets []int
}

func (p pinnedMultiLoader) MetaData() []MetaData {
	var out []MetaData
	for i, l := range p.loaders {
		meta := l.MetaData()
		out = append(out, meta[:min(len(meta), p.offsets[i+1]-p.offsets[i])]...)
	}
	return out
}

func (p pinnedMultiLoader) Instance(index int) (Factory, error) {
	for i, l := range p.loaders {
		if index >= p.offsets[i] && index < p.offsets[i+1] {
			return l.Instance(index - p.offsets[i])
		}
	}
	return nil, fmt.Errorf("modbus: plugin index %d out of range", index)
}

// pinLoader lists loader's candidates and returns the Loader that resolves
// their indexes from then on.
func pinLoader(loader Loader) ([]MetaData, Loader) {
	if p, ok := loader.(pinner); ok {
		return p.pin()
	}
	return loader.MetaData(), loader
}

var builtins = NewStaticLoader()

// Register adds a compiled-in backend to the set served by DefaultLoader.
// Backend packages call it from init.
func Register(meta MetaData, load LoadFunc) {
	builtins.Add(meta, load)
}

// DefaultLoader returns the compiled-in backends followed by the manifests
// found in the directories named by MODBUS_PLUGIN_PATH.
func DefaultLoader() Loader {
	loaders := MultiLoader{builtins}
	for _, dir := range filepath.SplitList(os.Getenv(PluginPathEnv)) {
		if dir == "" {
			continue
		}
		loaders = append(loaders, NewDirLoader(dir))
	}
	return loaders
}
