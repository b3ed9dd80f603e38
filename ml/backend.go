// backend.go - Backend-Interface und Registrierung fuer Tensor-Backends
// Dieses Modul definiert das Backend-Interface und die Backend-Factory-Funktionen.
package ml

import (
	"fmt"
	"slices"
	"strings"
)

// Backend represents a numerical execution backend (e.g., the CPU backend).
type Backend interface {
	// Close frees all memory associated with this backend
	Close()

	Device() Device
	NewContext() Context
}

// BackendParams controls how a backend executes graphs
type BackendParams struct {
	// NumThreads sets the number of threads to use if running on the CPU
	NumThreads int

	// Seed initializes backend side random number generation
	Seed int64
}

var backends = make(map[string]func(Device, BackendParams) (Backend, error))

// RegisterBackend registers a backend factory function for a device library.
func RegisterBackend(library string, f func(Device, BackendParams) (Backend, error)) {
	library = strings.ToLower(library)
	if _, ok := backends[library]; ok {
		panic("backend: backend already registered")
	}

	backends[library] = f
}

// Backends lists the libraries with a registered backend
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewBackend creates a new backend instance for the given execution context
// token, e.g. "cpu" or "cuda:1".
func NewBackend(token string, params BackendParams) (Backend, error) {
	device, err := ParseDevice(token)
	if err != nil {
		return nil, err
	}

	if backend, ok := backends[device.Library]; ok {
		return backend(device, params)
	}

	return nil, fmt.Errorf("unsupported backend %q (available: %s)", device.Library, strings.Join(Backends(), ", "))
}
