// checkpoint.go - Speichern und Laden des Laufzustands
//
// Enthaelt:
// - CheckpointError: Fehlender oder beschaedigter Checkpoint
// - SaveCheckpoint: checkpoint.json, weights.gguf und Optimierer-Zustaende
// - LoadCheckpoint: Prueft alles vor dem Anwenden und gibt die naechste
//   Epoche zurueck

package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/archsearch/nas/fs/gguf"
	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/optim"
)

const (
	checkpointFile = "checkpoint.json"
	weightsFile    = "weights.gguf"
)

// CheckpointError meldet einen fehlenden oder beschaedigten Checkpoint.
// Der Aufrufer beginnt dann neu.
type CheckpointError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CheckpointError) Error() string {
	msg := "checkpoint " + e.Path
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

type optimizerInfo struct {
	StatesPath  string   `json:"states_path"`
	ParamsNames []string `json:"params_names"`
	Step        int      `json:"step"`
}

type checkpointInfo struct {
	Epoch      int                      `json:"epoch"`
	Optimizers map[string]optimizerInfo `json:"optimizers"`
	ParamsPath string                   `json:"params_path"`
}

// SaveCheckpoint schreibt den Zustand nach Epoche epoch nach dir. Pfade in
// checkpoint.json sind relativ zu dir.
func SaveCheckpoint(dir string, epoch int, params *graph.ParamSet, optimizers *orderedmap.OrderedMap[string, *optim.Optimizer], typ gguf.TensorType) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	info := checkpointInfo{Epoch: epoch, Optimizers: make(map[string]optimizerInfo), ParamsPath: weightsFile}

	ts := make([]*gguf.Tensor, 0, params.Len())
	params.Each(func(name string, p *graph.Parameter) {
		ts = append(ts, gguf.NewTensor(name, typ, p.Shape, p.Floats()))
	})
	if err := gguf.WriteFile(filepath.Join(dir, weightsFile), gguf.KV{"epoch": uint32(epoch)}, ts); err != nil {
		return err
	}

	for pair := optimizers.Oldest(); pair != nil; pair = pair.Next() {
		name, o := pair.Key, pair.Value
		states := o.StateTensors()
		ts := make([]*gguf.Tensor, 0, states.Len())
		for s := states.Oldest(); s != nil; s = s.Next() {
			ts = append(ts, gguf.NewTensor(s.Key, gguf.TensorTypeF32, []int{len(s.Value)}, s.Value))
		}

		file := name + ".gguf"
		kv := gguf.KV{"step": uint64(o.Step()), "optimizer": o.Kind()}
		if err := gguf.WriteFile(filepath.Join(dir, file), kv, ts); err != nil {
			return err
		}
		info.Optimizers[name] = optimizerInfo{StatesPath: file, ParamsNames: o.Parameters().Names(), Step: o.Step()}
	}

	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, checkpointFile+".tmp")
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, checkpointFile)); err != nil {
		return err
	}

	slog.Info("checkpoint saved", "path", dir, "epoch", epoch)
	return nil
}

// LoadCheckpoint stellt Parameter und Optimierer-Zustaende aus dir wieder
// her und gibt die naechste Epoche zurueck. Jeder Fehler ist ein
// *CheckpointError; dann wurde nichts veraendert.
func LoadCheckpoint(dir string, params *graph.ParamSet, optimizers *orderedmap.OrderedMap[string, *optim.Optimizer]) (int, error) {
	path := filepath.Join(dir, checkpointFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, &CheckpointError{Path: path, Err: err}
	}

	var info checkpointInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return 0, &CheckpointError{Path: path, Err: err}
	}
	if info.Epoch < 0 {
		return 0, &CheckpointError{Path: path, Reason: fmt.Sprintf("negative epoch %d", info.Epoch)}
	}

	weightsPath := filepath.Join(dir, info.ParamsPath)
	weights, err := gguf.ReadFile(weightsPath)
	if err != nil {
		return 0, &CheckpointError{Path: weightsPath, Err: err}
	}

	values := make(map[*graph.Parameter][]float32, params.Len())
	for _, name := range params.Names() {
		p, _ := params.Get(name)
		t, ok := weights.Tensor(name)
		if !ok {
			return 0, &CheckpointError{Path: weightsPath, Reason: "missing parameter " + name}
		}
		if !slices.Equal(t.Shape, p.Shape) || len(t.Data) != len(p.Floats()) {
			return 0, &CheckpointError{Path: weightsPath, Reason: fmt.Sprintf("parameter %s has shape %v, want %v", name, t.Shape, p.Shape)}
		}
		values[p] = t.Data
	}

	type restore struct {
		o      *optim.Optimizer
		step   int
		states map[string][]float32
	}
	var restores []restore
	for pair := optimizers.Oldest(); pair != nil; pair = pair.Next() {
		name, o := pair.Key, pair.Value
		oi, ok := info.Optimizers[name]
		if !ok {
			return 0, &CheckpointError{Path: path, Reason: "missing optimizer " + name}
		}
		for _, pn := range oi.ParamsNames {
			if _, ok := o.Parameters().Get(pn); !ok {
				return 0, &CheckpointError{Path: path, Reason: fmt.Sprintf("optimizer %s: unknown parameter %s", name, pn)}
			}
		}

		statesPath := filepath.Join(dir, oi.StatesPath)
		f, err := gguf.ReadFile(statesPath)
		if err != nil {
			return 0, &CheckpointError{Path: statesPath, Err: err}
		}
		states := make(map[string][]float32, len(f.Tensors))
		for _, t := range f.Tensors {
			states[t.Name] = t.Data
		}
		restores = append(restores, restore{o, int(f.KV.Uint("step", uint64(oi.Step))), states})
	}

	// zuerst alle Optimierer pruefen, dann anwenden
	for _, r := range restores {
		if err := r.o.CheckState(r.states); err != nil {
			return 0, &CheckpointError{Path: dir, Err: err}
		}
	}
	for _, r := range restores {
		if err := r.o.LoadState(r.step, r.states); err != nil {
			return 0, &CheckpointError{Path: dir, Err: err}
		}
	}
	for p, v := range values {
		p.SetFloats(v)
	}

	slog.Info("checkpoint loaded", "path", dir, "epoch", info.Epoch)
	return info.Epoch + 1, nil
}
