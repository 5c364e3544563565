// Package registry shares virtual devices between clients. A device is
// created on the first Acquire of its type and destroyed when the last
// holder releases it.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/librepad/librepad/device"
)

var ErrUnknownDeviceType = errors.New("unknown device type")

// Entry is a snapshot of one live device.
type Entry struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Clients int    `json:"clients"`
}

type instance struct {
	dev     device.Device
	clients int
}

// Registry tracks live devices and their client counts.
type Registry struct {
	catalogue map[string]device.Constructor
	logger    *slog.Logger
	observer  func(typ string, clients int)

	// mu serialises every Acquire and Release across all types.
	mu sync.Mutex

	// instMu guards instances so Get never waits on a slow construction.
	instMu    sync.RWMutex
	instances map[string]*instance
}

type Option func(*Registry)

// WithObserver registers fn to be called with the new client count of a
// type after every Acquire and Release that changes it.
func WithObserver(fn func(typ string, clients int)) Option {
	return func(r *Registry) { r.observer = fn }
}

// New creates a Registry over the given constructors. Keys are matched
// case-insensitively.
func New(catalogue map[string]device.Constructor, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		catalogue: make(map[string]device.Constructor, len(catalogue)),
		logger:    logger,
		instances: make(map[string]*instance),
	}
	for k, v := range catalogue {
		r.catalogue[strings.ToLower(k)] = v
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Acquire returns the live device of type typ, creating it with displayName
// when none exists, and counts the caller as a holder. Construction errors
// leave no instance behind.
func (r *Registry) Acquire(typ, displayName string) (device.Device, error) {
	key := strings.ToLower(typ)
	ctor, ok := r.catalogue[key]
	if !ok {
		return nil, fmt.Errorf("%w %q, available: %s", ErrUnknownDeviceType, typ, strings.Join(r.Available(), ", "))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.instMu.RLock()
	inst, live := r.instances[key]
	r.instMu.RUnlock()

	if !live {
		if displayName == "" {
			displayName = key
		}
		r.logger.Info("Creating device", "type", key, "name", displayName)
		dev, err := ctor(displayName)
		if err != nil {
			return nil, fmt.Errorf("create %s device: %w", key, err)
		}
		inst = &instance{dev: dev}
		r.instMu.Lock()
		r.instances[key] = inst
		r.instMu.Unlock()
	}

	r.instMu.Lock()
	inst.clients++
	clients := inst.clients
	r.instMu.Unlock()

	if clients == 1 {
		r.logger.Info("Device activated", "type", key, "clients", clients)
	} else {
		r.logger.Debug("Device acquired", "type", key, "clients", clients)
	}
	r.notify(key, clients)
	return inst.dev, nil
}

// Release drops one holder of typ. The device is closed when the count
// reaches zero. Releasing a type with no live device is a no-op.
func (r *Registry) Release(typ string) {
	key := strings.ToLower(typ)
	if _, ok := r.Get(key); !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.instMu.Lock()
	inst, ok := r.instances[key]
	if !ok {
		r.instMu.Unlock()
		return
	}
	inst.clients = max(0, inst.clients-1)
	clients := inst.clients
	if clients == 0 {
		delete(r.instances, key)
	}
	r.instMu.Unlock()

	if clients > 0 {
		r.logger.Debug("Device released", "type", key, "clients", clients)
		r.notify(key, clients)
		return
	}
	r.logger.Info("Destroying device", "type", key)
	if err := inst.dev.Close(); err != nil {
		r.logger.Error("Failed to close device", "type", key, "error", err)
	}
	r.notify(key, 0)
}

func (r *Registry) notify(key string, clients int) {
	if r.observer != nil {
		r.observer(key, clients)
	}
}

// Get returns the live device of typ without taking a reference.
func (r *Registry) Get(typ string) (device.Device, bool) {
	r.instMu.RLock()
	defer r.instMu.RUnlock()
	inst, ok := r.instances[strings.ToLower(typ)]
	if !ok {
		return nil, false
	}
	return inst.dev, true
}

// Available lists the device types that can be acquired, sorted.
func (r *Registry) Available() []string {
	types := make([]string, 0, len(r.catalogue))
	for k := range r.catalogue {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// Clients returns the current holder count of typ.
func (r *Registry) Clients(typ string) int {
	r.instMu.RLock()
	defer r.instMu.RUnlock()
	if inst, ok := r.instances[strings.ToLower(typ)]; ok {
		return inst.clients
	}
	return 0
}

// Snapshot lists the live devices sorted by type.
func (r *Registry) Snapshot() []Entry {
	r.instMu.RLock()
	out := make([]Entry, 0, len(r.instances))
	for k, inst := range r.instances {
		out = append(out, Entry{Type: k, Name: inst.dev.Name(), Clients: inst.clients})
	}
	r.instMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
