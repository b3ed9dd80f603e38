// device_info.go
// Dieses Modul enthaelt die Device-Struktur fuer die Auswahl des
// Ausfuehrungskontexts. Das Token (z.B. "cpu", "cuda:1") wird nur zerlegt,
// nicht interpretiert.

package ml

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Device identifies where tensors live and graphs execute.
type Device struct {
	// Library is the backend library, e.g. "cpu" or "cuda"
	Library string `json:"library"`

	// ID is the device index within the library
	ID int `json:"id"`
}

// ParseDevice zerlegt ein Token der Form "library[:id]"
func ParseDevice(token string) (Device, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		token = "cpu"
	}

	library, id, ok := strings.Cut(token, ":")
	if library == "" {
		return Device{}, fmt.Errorf("invalid device %q", token)
	}

	d := Device{Library: library}
	if ok {
		n, err := strconv.Atoi(id)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index in %q", token)
		}
		d.ID = n
	}

	return d, nil
}

func (d Device) String() string {
	if d.ID == 0 && d.Library == "cpu" {
		return "cpu"
	}
	return d.Library + ":" + strconv.Itoa(d.ID)
}

// SystemInfo describes the host a backend runs on.
type SystemInfo struct {
	// ThreadCount is the optimal number of threads to use for compute
	ThreadCount int `json:"threads,omitempty"`

	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// GetSystemInfo gibt Informationen ueber das Host-System zurueck
func GetSystemInfo() SystemInfo {
	return SystemInfo{
		ThreadCount: runtime.NumCPU(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
	}
}
