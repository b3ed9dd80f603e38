// backend.go - Backend-Struktur und Registrierung
// Enthält: Backend struct, init(), Close(), einfache Getter
//
// Das CPU-Backend rechnet eager mit float32-Slices im Row-Major-Layout und
// zeichnet fuer jede Operation die Eingaben fuer den Backward-Pass auf.

package cpu

import (
	"fmt"
	"log/slog"

	"github.com/archsearch/nas/ml"
)

func init() {
	ml.RegisterBackend("cpu", New)
}

// Backend ist das reine Go-Backend fuer die CPU
type Backend struct {
	device ml.Device
	params ml.BackendParams
}

// New erstellt ein CPU-Backend. Der Geraete-Index muss 0 sein.
func New(device ml.Device, params ml.BackendParams) (ml.Backend, error) {
	if device.Library != "cpu" {
		return nil, fmt.Errorf("cpu backend cannot serve device %s", device)
	}
	if device.ID != 0 {
		return nil, fmt.Errorf("cpu backend has no device %d", device.ID)
	}

	slog.Debug("cpu backend initialized", "threads", params.NumThreads)
	return &Backend{device: device, params: params}, nil
}

// Close gibt alle Ressourcen frei
func (b *Backend) Close() {}

// Device gibt das Geraet des Backends zurueck
func (b *Backend) Device() ml.Device {
	return b.device
}

// NewContext erstellt einen neuen Rechenkontext
func (b *Backend) NewContext() ml.Context {
	return &Context{b: b}
}
