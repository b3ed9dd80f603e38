// runner.go - Gemeinsame Basis fuer Suche und Training
//
// Enthaelt:
// - Runner: Modell, Backend, Loader, Optimierer, Monitor und Epoche
// - forward: Minibatch-Schleife mit Gradientenakkumulation
// - update: Gradienten mitteln und Optimierer anwenden
// - writeConfig: Laufkonfiguration in das Ausgabeverzeichnis schreiben
// - resume/endEpoch: Checkpoint laden und schreiben

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/archsearch/nas/fs/gguf"
	"github.com/archsearch/nas/ml"
	"github.com/archsearch/nas/model"
	"github.com/archsearch/nas/optim"
)

// Runner haelt den Zustand eines Laufs. Searcher und Trainer bauen darauf auf.
type Runner struct {
	Config Config
	Model  *model.Model

	backend      ml.Backend
	ctx          ml.Context
	train, valid Loader
	comm         Comm
	monitor      *Monitor
	optimizers   *orderedmap.OrderedMap[string, *optim.Optimizer]
	dtype        gguf.TensorType
	steps        int

	// epoch ist die naechste auszufuehrende Epoche
	epoch int
}

func newRunner(cfg Config, m *model.Model, b ml.Backend, train, valid Loader, comm Comm) (*Runner, error) {
	if comm == nil {
		comm = Local{}
	}
	dtype, err := cfg.tensorType()
	if err != nil {
		return nil, err
	}

	steps := train.Len() / cfg.BatchSizeTrain
	if steps < 1 {
		return nil, fmt.Errorf("%w: %d training samples are less than one batch of %d", ErrInvalidConfig, train.Len(), cfg.BatchSizeTrain)
	}

	monitor, err := NewMonitor(cfg.Output, steps, comm.Rank() > 0)
	if err != nil {
		return nil, err
	}

	m.Smoothing = cfg.LabelSmoothing
	return &Runner{
		Config:     cfg,
		Model:      m,
		backend:    b,
		ctx:        b.NewContext(),
		train:      train,
		valid:      valid,
		comm:       comm,
		monitor:    monitor,
		optimizers: orderedmap.New[string, *optim.Optimizer](),
		dtype:      dtype,
		steps:      steps,
	}, nil
}

// Epoch gibt die naechste auszufuehrende Epoche zurueck
func (r *Runner) Epoch() int {
	return r.epoch
}

// Monitor gibt den Monitor des Laufs zurueck
func (r *Runner) Monitor() *Monitor {
	return r.monitor
}

// Close schliesst Monitor und Kontext
func (r *Runner) Close() error {
	r.ctx.Close()
	return r.monitor.Close()
}

func (r *Runner) checkpointDir() string {
	return filepath.Join(r.Config.Output, "checkpoint")
}

// addOptimizer erstellt einen Optimierer und registriert ihn fuer Checkpoints
func (r *Runner) addOptimizer(name string, cfg optim.Config) (*optim.Optimizer, error) {
	o, err := optim.New(cfg)
	if err != nil {
		return nil, err
	}
	r.optimizers.Set(name, o)
	return o, nil
}

// resume laedt einen vorhandenen Checkpoint. Ein fehlender oder
// beschaedigter Checkpoint wird gemeldet und der Lauf beginnt neu.
func (r *Runner) resume() error {
	epoch, err := LoadCheckpoint(r.checkpointDir(), r.Model.Graph.Parameters(false), r.optimizers)
	var cerr *CheckpointError
	switch {
	case err == nil:
		r.epoch = epoch
		r.Model.Graph.ResetValue()
		slog.Info("resuming", "epoch", epoch)
	case errors.As(err, &cerr):
		if r.comm.Rank() == 0 {
			slog.Warn("no usable checkpoint, starting fresh", "error", err)
		}
		r.epoch = 0
	default:
		return err
	}
	return nil
}

// forward fuehrt accum Minibatches aus loader aus und gibt mittleren Verlust
// und Fehler zurueck. Der Verlust jedes Minibatches wird durch accum geteilt;
// mit backward werden die Gradienten akkumuliert.
func (r *Runner) forward(loader Loader, accum int, backward bool) (loss, errRate float64, err error) {
	for range accum {
		b, err := loader.Next()
		if err != nil {
			return 0, 0, err
		}

		logits, err := r.Model.Forward(r.ctx, b.Images, b.Shape...)
		if err != nil {
			return 0, 0, err
		}
		l, err := r.Model.Loss(r.ctx, logits, b.Labels)
		if err != nil {
			return 0, 0, err
		}
		l = l.Scale(r.ctx, 1/float64(accum))
		if backward {
			l.Backward()
		}

		loss += float64(l.Floats()[0])
		errRate += model.Error(logits, b.Labels) / float64(accum)
	}
	return loss, errRate, nil
}

// update mittelt die Gradienten ueber alle Worker, wendet o an und verwirft
// die zwischengespeicherten Werte des Graphen
func (r *Runner) update(ctx context.Context, o *optim.Optimizer) error {
	if r.comm.Size() > 1 {
		grads := o.Gradients()
		if err := r.comm.AllReduce(ctx, grads); err != nil {
			return err
		}
		if err := o.SetGradients(grads); err != nil {
			return err
		}
	}

	if err := o.Update(); err != nil {
		return err
	}
	r.Model.Graph.ResetValue()
	return nil
}

// endEpoch schreibt Monitor, Architektur und Checkpoint der Epoche epoch
func (r *Runner) endEpoch(epoch int) error {
	if err := r.monitor.Write(epoch); err != nil {
		return err
	}
	r.epoch = epoch + 1
	if r.comm.Rank() > 0 {
		return nil
	}

	g := r.Model.Graph
	if len(g.ArchModules()) > 0 {
		if err := g.SaveArchitecture(filepath.Join(r.Config.Output, "arch.json")); err != nil {
			return err
		}
		slog.Debug("architecture", "summary", g.Summary())
	}
	return SaveCheckpoint(r.checkpointDir(), epoch, g.Parameters(false), r.optimizers, r.dtype)
}

// writeConfig legt die vollstaendige Laufkonfiguration neben die Ausgaben
func (r *Runner) writeConfig(name string) error {
	if r.comm.Rank() > 0 {
		return nil
	}
	b, err := json.MarshalIndent(r.Config, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.Config.Output, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.Config.Output, name), append(b, '\n'), 0o644)
}
