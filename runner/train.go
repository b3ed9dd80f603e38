// train.go - Training einer festen Architektur
//
// Enthaelt:
// - Trainer: Trainiert die Netzparameter des aktiven Teilgraphen neu

package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	"github.com/archsearch/nas/model"
	"github.com/archsearch/nas/optim"
)

// Trainer trainiert ein Modell mit fixierter Architektur. Alle Joins stehen
// im max-Modus; nur die Netzparameter werden optimiert.
type Trainer struct {
	*Runner

	modelOpt   *optim.Optimizer
	validSteps int
}

// NewTrainer erstellt einen Trainer. Ist cfg.Architecture gesetzt, werden
// die Joins gemaess dieser Beschreibung fixiert.
func NewTrainer(cfg Config, m *model.Model, b ml.Backend, train, valid Loader, comm Comm) (*Trainer, error) {
	g := m.Graph
	if cfg.Architecture != "" {
		if err := g.LoadArchitecture(cfg.Architecture); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := g.SetJoinMode(graph.ModeMax); err != nil {
		return nil, err
	}

	r, err := newRunner(cfg, m, b, train, valid, comm)
	if err != nil {
		return nil, err
	}

	t := &Trainer{Runner: r, validSteps: max(valid.Len()/cfg.BatchSizeValid, 1)}
	if t.modelOpt, err = r.addOptimizer("model", cfg.ModelOptimizer); err != nil {
		return nil, err
	}
	t.modelOpt.SetParameters(g.NetParameters(false))

	slog.Info("training architecture", "model", m.Name, "joins", len(g.ArchModules()),
		"params", t.modelOpt.Parameters().Len())
	return t, nil
}

// Run trainiert bis cfg.Epochs. Validiert wird nach jeder Epoche im
// Auswertungsmodus.
func (t *Trainer) Run(ctx context.Context) error {
	if err := t.writeConfig("train_config.json"); err != nil {
		return err
	}
	if err := t.resume(); err != nil {
		return err
	}

	g := t.Model.Graph
	trainAccum := t.Config.BatchSizeTrain / t.Config.MiniBatchTrain
	validAccum := t.Config.BatchSizeValid / t.Config.MiniBatchValid

	for epoch := t.epoch; epoch < t.Config.Epochs; epoch++ {
		t.monitor.Reset()

		g.SetTraining(true)
		for step := range t.steps {
			if err := ctx.Err(); err != nil {
				return err
			}

			t.modelOpt.ZeroGrad()
			loss, errRate, err := t.forward(t.train, trainAccum, true)
			if err != nil {
				return fmt.Errorf("epoch %d step %d: train: %w", epoch, step, err)
			}
			if err := t.update(ctx, t.modelOpt); err != nil {
				return err
			}
			t.monitor.Update("train_loss", loss)
			t.monitor.Update("train_err", errRate)

			if step%t.Config.PrintFrequency == 0 {
				t.monitor.Display(epoch, step)
			}
		}

		g.SetTraining(false)
		for step := range t.validSteps {
			if err := ctx.Err(); err != nil {
				return err
			}
			loss, errRate, err := t.forward(t.valid, validAccum, false)
			if err != nil {
				return fmt.Errorf("epoch %d step %d: valid: %w", epoch, step, err)
			}
			t.monitor.Update("valid_loss", loss)
			t.monitor.Update("valid_err", errRate)
		}

		if err := t.endEpoch(epoch); err != nil {
			return err
		}
	}
	return nil
}
