// search.go - Architektursuche
//
// Enthaelt:
// - Searcher: Abwechselnde Updates von Netz- und Architekturparametern
// - baseline: Control Variate fuer den Score-Function-Schaetzer

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

// baseline haelt den Wert b der Control Variate
type baseline struct {
	cv    ControlVariate
	value float64
}

func (b *baseline) update(loss float64) {
	if b.cv.Kind == BaselineEMA {
		b.value = b.cv.Decay*b.value + (1-b.cv.Decay)*loss
	}
}

// Searcher sucht eine Architektur. Pro Schritt werden die Netzparameter auf
// Trainingsdaten und danach die Architekturparameter auf Validierungsdaten
// aktualisiert.
type Searcher struct {
	*Runner

	modelOpt *optim.Optimizer
	archOpt  *optim.Optimizer
	baseline baseline
}

// NewSearcher erstellt einen Searcher. Das Modell muss Joins im full- oder
// sample-Modus enthalten.
func NewSearcher(cfg Config, m *model.Model, b ml.Backend, train, valid Loader, comm Comm) (*Searcher, error) {
	g := m.Graph
	if len(g.ArchModules()) == 0 {
		return nil, fmt.Errorf("%w: model %s has no architecture parameters to search", ErrInvalidConfig, m.Name)
	}
	if cfg.Network.Mode == graph.ModeMax {
		return nil, fmt.Errorf("%w: search needs full or sample mode, got %s", ErrInvalidConfig, cfg.Network.Mode)
	}

	r, err := newRunner(cfg, m, b, train, valid, comm)
	if err != nil {
		return nil, err
	}

	s := &Searcher{Runner: r, baseline: baseline{cv: cfg.ControlVariate, value: cfg.ControlVariate.Value}}
	if s.modelOpt, err = r.addOptimizer("model", cfg.ModelOptimizer); err != nil {
		return nil, err
	}
	if s.archOpt, err = r.addOptimizer("arch", cfg.ArchOptimizer); err != nil {
		return nil, err
	}
	s.modelOpt.SetParameters(g.NetParameters(false))
	s.archOpt.SetParameters(g.ArchParameters(false))

	if !g.NetParameters(false).Disjoint(g.ArchParameters(false)) {
		return nil, fmt.Errorf("%w: net and architecture parameters overlap", ErrInvalidConfig)
	}
	return s, nil
}

// Run fuehrt die Suche bis cfg.Epochs aus. Ein vorhandener Checkpoint wird
// fortgesetzt. Abbruch ueber ctx wird zwischen zwei Schritten geprueft.
func (s *Searcher) Run(ctx context.Context) error {
	if err := s.writeConfig("search_config.json"); err != nil {
		return err
	}
	if err := s.resume(); err != nil {
		return err
	}

	g := s.Model.Graph
	g.SetTraining(true)
	trainAccum := s.Config.BatchSizeTrain / s.Config.MiniBatchTrain
	validAccum := s.Config.BatchSizeValid / s.Config.MiniBatchValid

	for epoch := s.epoch; epoch < s.Config.Epochs; epoch++ {
		s.monitor.Reset()
		updateArch := epoch >= s.Config.Warmup

		for step := range s.steps {
			if err := ctx.Err(); err != nil {
				return err
			}

			if s.Config.Network.Mode == graph.ModeSample {
				g.SampleJoins(nil)
			}

			s.modelOpt.ZeroGrad()
			loss, errRate, err := s.forward(s.train, trainAccum, true)
			if err != nil {
				return fmt.Errorf("epoch %d step %d: train: %w", epoch, step, err)
			}
			if err := s.update(ctx, s.modelOpt); err != nil {
				return err
			}
			s.monitor.Update("train_loss", loss)
			s.monitor.Update("train_err", errRate)

			s.archOpt.ZeroGrad()
			backprop := updateArch && s.Config.ArchGradient == GradientBackprop
			loss, errRate, err = s.forward(s.valid, validAccum, backprop)
			if err != nil {
				return fmt.Errorf("epoch %d step %d: valid: %w", epoch, step, err)
			}
			if updateArch {
				if s.Config.ArchGradient == GradientReinforce {
					s.scoreGradient(loss)
				}
				if err := s.update(ctx, s.archOpt); err != nil {
					return err
				}
			}
			s.monitor.Update("valid_loss", loss)
			s.monitor.Update("valid_err", errRate)

			if step%s.Config.PrintFrequency == 0 {
				s.monitor.Display(epoch, step)
			}
		}

		if err := s.endEpoch(epoch); err != nil {
			return err
		}
	}
	return nil
}

// scoreGradient setzt die Architekturgradienten auf (loss - b) mal den
// Score der zuletzt gezogenen Auswahl und aktualisiert danach b
func (s *Searcher) scoreGradient(loss float64) {
	for _, m := range s.Model.Graph.ArchModules() {
		j, _ := m.AsJoin()
		score := j.ScoreGradient()
		if j.Pinned() || score == nil {
			continue
		}
		j.Alpha.Value(s.ctx)
		j.Alpha.SetGrad(score)
	}

	s.archOpt.ScaleGrad(float32(loss - s.baseline.value))
	slog.Debug("score gradient", "loss", loss, "baseline", s.baseline.value)
	s.baseline.update(loss)
}
