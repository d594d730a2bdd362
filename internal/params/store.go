// Package params is the named parameter store shared by the control loop and
// the telemetry interface.
//
// The control loop reads parameters every cycle without locking: each Param
// keeps its current value in a single atomic word, and every write (from the
// web interface, from calibration, or from a loaded file) replaces that word
// in one store. Writing to disk is a separate, explicit Save so the loop
// never pays for file I/O.
package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/flybot/flybot/internal/debug"
)

var (
	ErrUnknownParam = errors.New("unknown parameter")
	ErrTypeMismatch = errors.New("parameter type mismatch")
	ErrParse        = errors.New("invalid parameter value")
)

// Param is one named, typed, tunable value.
type Param struct {
	name        string
	description string
	def         Value
	bits        atomic.Uint64
}

func (p *Param) Name() string        { return p.name }
func (p *Param) Description() string { return p.description }
func (p *Param) Kind() Kind          { return p.def.kind }
func (p *Param) Default() Value      { return p.def }

// Value returns the current value.
func (p *Param) Value() Value {
	return Value{kind: p.def.kind, bits: p.bits.Load()}
}

// Int returns the current value as an int. Reading a float parameter as
// an int is allowed but logged.
func (p *Param) Int() int32 {
	v := p.Value()
	if v.kind != KindInt {
		debug.Warn("param %s: Int() called on %v value", p.name, v.kind)
	}
	return v.Int()
}

// Float returns the current value as a float. Reading an int parameter
// as a float is allowed but logged.
func (p *Param) Float() float64 {
	v := p.Value()
	if v.kind != KindFloat {
		debug.Warn("param %s: Float() called on %v value", p.name, v.kind)
	}
	return v.Float()
}

func (p *Param) set(v Value) error {
	if v.kind != p.def.kind {
		return fmt.Errorf("%w: %s is %v, got %v", ErrTypeMismatch, p.name, p.def.kind, v.kind)
	}
	p.bits.Store(v.bits)
	return nil
}

// Store is a registry of parameters. Registration happens at startup;
// lookups and writes are safe from any goroutine.
type Store struct {
	mu     sync.RWMutex
	byName map[string]*Param
	order  []*Param
	dirty  atomic.Bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Param)}
}

// Register declares a parameter and returns it. Registering an existing
// name logs an error and returns the existing parameter unchanged.
func (s *Store) Register(name, description string, def Value) *Param {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byName[name]; ok {
		debug.Error(fmt.Errorf("duplicate parameter name: %s", name))
		return p
	}
	p := &Param{name: name, description: description, def: def}
	p.bits.Store(def.bits)
	s.byName[name] = p
	s.order = append(s.order, p)
	debug.Verbose("Registering param: %s = %s", name, def)
	return p
}

// Lookup returns the named parameter.
func (s *Store) Lookup(name string) (*Param, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byName[name]
	return p, ok
}

// Set replaces the value of a parameter. A value of the wrong kind is
// rejected and the current value is kept.
func (s *Store) Set(name string, v Value) error {
	p, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	if err := p.set(v); err != nil {
		debug.Warn("%v", err)
		return err
	}
	s.dirty.Store(true)
	return nil
}

// SetString parses str according to the parameter's kind and sets it.
func (s *Store) SetString(name, str string) error {
	p, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	v, err := Parse(p.Kind(), str)
	if err != nil {
		debug.Warn("param %s: %v", name, err)
		return err
	}
	return s.Set(name, v)
}

// Restore resets a parameter to its default.
func (s *Store) Restore(name string) error {
	p, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return s.Set(name, p.def)
}

// Each calls fn for every parameter in registration order.
func (s *Store) Each(fn func(p *Param)) {
	s.mu.RLock()
	params := make([]*Param, len(s.order))
	copy(params, s.order)
	s.mu.RUnlock()
	for _, p := range params {
		fn(p)
	}
}

// Values returns the current values keyed by name.
func (s *Store) Values() map[string]Value {
	out := make(map[string]Value)
	s.Each(func(p *Param) { out[p.name] = p.Value() })
	return out
}

// Dirty reports whether a value changed since the last Save or Load.
func (s *Store) Dirty() bool {
	return s.dirty.Load()
}

// Save writes every parameter to path as a YAML mapping, replacing the
// file atomically, and clears the dirty flag.
func (s *Store) Save(path string) error {
	// Cleared before reading so a Set racing with Save stays dirty.
	s.dirty.Store(false)
	doc := &yaml.Node{Kind: yaml.MappingNode}
	s.Each(func(p *Param) {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.Value().String()},
		)
	})
	data, err := yaml.Marshal(doc)
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("marshal params: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		s.dirty.Store(true)
		return err
	}
	debug.Verbose("Saved %d params to %s", len(doc.Content)/2, path)
	return nil
}

// Load reads values saved by Save. A missing file is not an error.
// Unknown names and badly typed values are logged and skipped.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		debug.Info("No saved params at %s, using defaults", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read params file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal params: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return fmt.Errorf("params file %s: expected a mapping", path)
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		name, value := m.Content[i].Value, m.Content[i+1].Value
		if err := s.SetString(name, value); err != nil {
			debug.Warn("params file %s: skipping %s: %v", path, name, err)
		}
	}
	s.dirty.Store(false)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create params dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".params-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp params file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write params: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close params: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename params file: %w", err)
	}
	return nil
}
