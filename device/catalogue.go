package device

import (
	"sort"
	"strings"
	"sync"
)

var (
	catalogue   = make(map[string]Constructor)
	catalogueMu sync.RWMutex
)

// Register adds a device type to the catalogue. It is called from device
// package init functions. The name is case-insensitive and stored lowercased.
func Register(name string, c Constructor) {
	catalogueMu.Lock()
	defer catalogueMu.Unlock()
	catalogue[strings.ToLower(name)] = c
}

// Catalogue returns a copy of the registered constructors.
func Catalogue() map[string]Constructor {
	catalogueMu.RLock()
	defer catalogueMu.RUnlock()
	out := make(map[string]Constructor, len(catalogue))
	for k, v := range catalogue {
		out[k] = v
	}
	return out
}

// Types returns the registered device type names, sorted.
func Types() []string {
	catalogueMu.RLock()
	defer catalogueMu.RUnlock()
	types := make([]string, 0, len(catalogue))
	for name := range catalogue {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
