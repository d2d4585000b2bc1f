package modbus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"
)

// DefaultSymbol is the exported name DirLoader looks up when a manifest does
// not name one.
const DefaultSymbol = "NewFactory"

// manifest is the on-disk description of an external backend plugin.
//
//	MetaData:
//	  Key: tcp
//	  Version: "1.0"
//	Library: tcp.so
//	Symbol: NewFactory
type manifest struct {
	MetaData MetaData `json:"MetaData"`
	Library  string   `json:"Library"`
	Symbol   string   `json:"Symbol,omitempty"`
}

type dirEntry struct {
	meta    MetaData
	library string
	symbol  string
}

// symbolLookup is the part of *plugin.Plugin DirLoader needs.
type symbolLookup interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// DirLoader discovers plugin manifests (*.yaml, *.yml, *.json) below a
// directory and loads the shared objects they point to with the Go plugin
// package. The directory is scanned once, on the first MetaData call.
type DirLoader struct {
	dir  string
	open func(path string) (symbolLookup, error)

	once    sync.Once
	entries []dirEntry
}

// NewDirLoader returns a DirLoader rooted at dir.
func NewDirLoader(dir string) *DirLoader {
	return &DirLoader{dir: dir, open: openGoPlugin}
}

func openGoPlugin(path string) (symbolLookup, error) {
	return plugin.Open(path)
}

func (l *DirLoader) scan() {
	_ = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isManifest(path) {
			return nil
		}
		l.entries = append(l.entries, readManifest(path))
		return nil
	})
}

func isManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// readManifest never fails: an unreadable or undecodable manifest becomes an
// entry with no metadata, which discovery drops.
func readManifest(path string) dirEntry {
	raw, err := os.ReadFile(path)
	if err != nil {
		return dirEntry{}
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return dirEntry{}
	}
	library := m.Library
	if library != "" && !filepath.IsAbs(library) {
		library = filepath.Join(filepath.Dir(path), library)
	}
	symbol := m.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}
	return dirEntry{meta: m.MetaData, library: library, symbol: symbol}
}

func (l *DirLoader) MetaData() []MetaData {
	l.once.Do(l.scan)
	out := make([]MetaData, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.meta
	}
	return out
}

func (l *DirLoader) Instance(index int) (Factory, error) {
	l.once.Do(l.scan)
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("modbus: plugin index %d out of range for %s", index, l.dir)
	}
	e := l.entries[index]
	if e.library == "" {
		return nil, fmt.Errorf("modbus: plugin %q declares no library", e.meta.Key())
	}
	p, err := l.open(e.library)
	if err != nil {
		return nil, fmt.Errorf("modbus: open plugin library %s: %w", e.library, err)
	}
	sym, err := p.Lookup(e.symbol)
	if err != nil {
		return nil, fmt.Errorf("modbus: lookup %s in %s: %w", e.symbol, e.library, err)
	}
	// Exported functions come back as values, exported variables as pointers.
	switch fn := sym.(type) {
	case func() (Factory, error):
		return fn()
	case LoadFunc:
		return fn()
	case *LoadFunc:
		if *fn == nil {
			return nil, ErrNoFactory
		}
		return (*fn)()
	case func() Factory:
		return fn(), nil
	case *Factory:
		return *fn, nil
	default:
		return nil, fmt.Errorf("%w: %s has type %T", ErrSymbolType, e.symbol, sym)
	}
}
