// Package config holds the process-wide tunables of kvsearch. Values are
// registered once at startup and read lock-free from hot loops; setters
// validate ranges and reject out-of-range values.
package config

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
)

// Number is an int64 option with an inclusive validity range.
type Number struct {
	name     string
	min, max int64
	value    atomic.Int64
}

// NewNumber registers a numeric option.
func NewNumber(name string, def, min, max int64) *Number {
	n := &Number{name: name, min: min, max: max}
	n.value.Store(def)
	register(name, n)
	return n
}

// Get returns the current value. Lock-free.
func (n *Number) Get() int64 { return n.value.Load() }

// Set validates the range and stores the value.
func (n *Number) Set(v int64) error {
	if v < n.min || v > n.max {
		return kverrors.InvalidArgument("%s must be between %d and %d", n.name, n.min, n.max)
	}
	n.value.Store(v)
	return nil
}

func (n *Number) setString(s string) error {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return kverrors.InvalidArgument("%s: not a number: %q", n.name, s)
	}
	return n.Set(v)
}

// Float is a float64 option with an inclusive validity range.
type Float struct {
	name     string
	min, max float64
	bits     atomic.Uint64
}

// NewFloat registers a float option.
func NewFloat(name string, def, min, max float64) *Float {
	f := &Float{name: name, min: min, max: max}
	f.bits.Store(math.Float64bits(def))
	register(name, f)
	return f
}

// Get returns the current value. Lock-free.
func (f *Float) Get() float64 { return math.Float64frombits(f.bits.Load()) }

// Set validates the range and stores the value.
func (f *Float) Set(v float64) error {
	if v < f.min || v > f.max || math.IsNaN(v) {
		return kverrors.InvalidArgument("%s must be between %g and %g", f.name, f.min, f.max)
	}
	f.bits.Store(math.Float64bits(v))
	return nil
}

func (f *Float) setString(s string) error {
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
		return kverrors.InvalidArgument("%s: not a number: %q", f.name, s)
	}
	return f.Set(v)
}

// Bool is a boolean option.
type Bool struct {
	name  string
	value atomic.Bool
}

// NewBool registers a boolean option.
func NewBool(name string, def bool) *Bool {
	b := &Bool{name: name}
	b.value.Store(def)
	register(name, b)
	return b
}

// Get returns the current value. Lock-free.
func (b *Bool) Get() bool { return b.value.Load() }

// Set stores the value.
func (b *Bool) Set(v bool) error {
	b.value.Store(v)
	return nil
}

func (b *Bool) setString(s string) error {
	switch s {
	case "yes", "true", "1", "on":
		return b.Set(true)
	case "no", "false", "0", "off":
		return b.Set(false)
	}
	return kverrors.InvalidArgument("%s: not a boolean: %q", b.name, s)
}

// Enum is a string option restricted to a fixed value set.
type Enum struct {
	name    string
	allowed []string
	mu      sync.RWMutex
	value   string
}

// NewEnum registers an enum option.
func NewEnum(name, def string, allowed ...string) *Enum {
	e := &Enum{name: name, allowed: allowed, value: def}
	register(name, e)
	return e
}

// Get returns the current value.
func (e *Enum) Get() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

// Set validates membership and stores the value.
func (e *Enum) Set(v string) error {
	for _, a := range e.allowed {
		if a == v {
			e.mu.Lock()
			e.value = v
			e.mu.Unlock()
			return nil
		}
	}
	return kverrors.InvalidArgument("%s must be one of %v", e.name, e.allowed)
}

func (e *Enum) setString(s string) error { return e.Set(s) }

type option interface {
	setString(string) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]option{}
)

func register(name string, o option) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = o
}

// SetByName updates an option from its string representation, the path used
// by the runtime CONFIG SET surface and by file loading.
func SetByName(name, value string) error {
	registryMu.RLock()
	o, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return kverrors.InvalidArgument("unknown config key %q", name)
	}
	return o.setString(value)
}

// LoadFile applies a flat YAML map of key: value pairs over the registered
// defaults. Unknown keys and out-of-range values fail the load.
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries map[string]string
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return kverrors.Wrap(kverrors.KindInvalidArgument, err, "parsing %s", path)
	}
	for k, v := range entries {
		if err := SetByName(k, v); err != nil {
			return err
		}
	}
	return nil
}
