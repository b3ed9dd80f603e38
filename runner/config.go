// config.go - Laufkonfiguration fuer Suche und Training
//
// Enthaelt:
// - Config: Epochen, Warmup, Batchgroessen, Optimierer, Ausgabe
// - ControlVariate: Baseline fuer den Score-Function-Schaetzer
// - LoadConfig: Liest und validiert eine JSON-Konfiguration

package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/archsearch/nas/envconfig"
	"github.com/archsearch/nas/fs/gguf"
	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	"github.com/archsearch/nas/model"
	"github.com/archsearch/nas/optim"
)

// ErrInvalidConfig wird fuer ungueltige Laufkonfigurationen gemeldet
var ErrInvalidConfig = errors.New("invalid run config")

// Architekturgradienten
const (
	GradientBackprop  = "backprop"
	GradientReinforce = "reinforce"
)

// Control-Variate-Arten
const (
	BaselineConst = "const"
	BaselineEMA   = "ema"
)

// ControlVariate ist die Baseline b in (loss - b) * score
type ControlVariate struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
	Decay float64 `json:"decay,omitempty"`
}

// Config beschreibt einen Such- oder Trainingslauf
type Config struct {
	Model   string       `json:"model"`
	Network model.Config `json:"network"`

	// Architecture ist eine Architekturbeschreibung fuer das Training
	Architecture string `json:"architecture,omitempty"`

	Epochs         int            `json:"epochs"`
	Warmup         int            `json:"warmup"`
	ArchGradient   string         `json:"arch_gradient,omitempty"`
	ControlVariate ControlVariate `json:"control_variate"`

	BatchSizeTrain int `json:"batch_size_train"`
	MiniBatchTrain int `json:"mini_batch_train"`
	BatchSizeValid int `json:"batch_size_valid"`
	MiniBatchValid int `json:"mini_batch_valid"`

	ModelOptimizer optim.Config `json:"model_optimizer"`
	ArchOptimizer  optim.Config `json:"arch_optimizer"`

	LabelSmoothing float32 `json:"label_smoothing,omitempty"`
	PrintFrequency int     `json:"print_frequency"`

	Dataset          string  `json:"dataset,omitempty"`
	TrainPortion     float64 `json:"train_portion,omitempty"`
	SyntheticSamples int     `json:"synthetic_samples,omitempty"`

	Output string `json:"output"`
	Device string `json:"device"`
	Seed   uint64 `json:"seed"`

	// DType ist der Speichertyp der Gewichte in Checkpoints. Nur mit f32
	// ist die Fortsetzung bitgleich; f16 und bf16 runden die Gewichte beim
	// Speichern, die Optimierer-Zustaende bleiben f32.
	DType string `json:"dtype"`
}

// LoadConfig liest eine JSON-Konfiguration und validiert sie. Unbekannte
// Felder sind ein Fehler.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate prueft die Konfiguration und setzt Defaults
func (c *Config) Validate() error {
	if c.Model == "" {
		return invalid("model is required")
	}
	if c.Epochs < 1 {
		return invalid("epochs must be positive, got %d", c.Epochs)
	}
	if c.Warmup < 0 {
		return invalid("warmup must not be negative, got %d", c.Warmup)
	}

	if c.MiniBatchTrain == 0 {
		c.MiniBatchTrain = c.BatchSizeTrain
	}
	if c.BatchSizeTrain == 0 {
		c.BatchSizeTrain = c.MiniBatchTrain
	}
	if c.MiniBatchValid == 0 {
		c.MiniBatchValid = c.BatchSizeValid
	}
	if c.BatchSizeValid == 0 {
		c.BatchSizeValid = c.MiniBatchValid
	}
	for _, bs := range [][2]int{{c.BatchSizeTrain, c.MiniBatchTrain}, {c.BatchSizeValid, c.MiniBatchValid}} {
		if bs[1] < 1 || bs[0]%bs[1] != 0 {
			return invalid("batch size %d must be a positive multiple of mini batch %d", bs[0], bs[1])
		}
	}

	if c.Seed == 0 {
		c.Seed = uint64(envconfig.Seed())
	}
	if c.Network.Seed == 0 {
		c.Network.Seed = c.Seed
	}
	if len(c.Network.Input) == 4 {
		c.Network.Input[0] = c.MiniBatchTrain
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.ArchGradient {
	case "":
		c.ArchGradient = GradientBackprop
		if c.Network.Mode == graph.ModeSample {
			c.ArchGradient = GradientReinforce
		}
	case GradientBackprop, GradientReinforce:
	default:
		return invalid("arch_gradient must be backprop or reinforce, got %q", c.ArchGradient)
	}
	if c.ArchGradient == GradientReinforce && c.Network.Mode != graph.ModeSample {
		return invalid("reinforce needs sample mode, got %s", c.Network.Mode)
	}
	if c.ArchGradient == GradientBackprop && c.Network.Mode == graph.ModeSample {
		// ohne Straight-Through erhaelt alpha im sample-Modus keinen Gradienten
		if st, _ := strconv.ParseBool(c.Network.Options["straight_through"]); !st {
			return invalid("backprop in sample mode needs the straight_through option")
		}
	}

	switch c.ControlVariate.Kind {
	case "":
		c.ControlVariate.Kind = BaselineConst
	case BaselineConst:
	case BaselineEMA:
		if c.ControlVariate.Decay == 0 {
			c.ControlVariate.Decay = 0.9
		}
		if c.ControlVariate.Decay < 0 || c.ControlVariate.Decay >= 1 {
			return invalid("control variate decay must be in [0,1), got %g", c.ControlVariate.Decay)
		}
	default:
		return invalid("control variate must be const or ema, got %q", c.ControlVariate.Kind)
	}

	if c.ModelOptimizer.Kind == "" {
		c.ModelOptimizer = optim.DefaultConfig("momentum")
	}
	if c.ArchOptimizer.Kind == "" {
		c.ArchOptimizer = optim.DefaultConfig("adam")
		c.ArchOptimizer.Beta1 = 0.5
	}
	for _, oc := range []optim.Config{c.ModelOptimizer, c.ArchOptimizer} {
		if _, err := optim.New(oc); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if c.LabelSmoothing < 0 || c.LabelSmoothing >= 1 {
		return invalid("label_smoothing must be in [0,1), got %g", c.LabelSmoothing)
	}
	if c.PrintFrequency <= 0 {
		c.PrintFrequency = 10
	}
	if c.TrainPortion == 0 {
		c.TrainPortion = 0.8
	}
	if c.TrainPortion <= 0 || c.TrainPortion >= 1 {
		return invalid("train_portion must be in (0,1), got %g", c.TrainPortion)
	}
	if c.SyntheticSamples == 0 {
		c.SyntheticSamples = 4 * max(c.BatchSizeTrain, c.BatchSizeValid)
	}

	if c.Output == "" {
		c.Output = envconfig.Output()
	}
	if c.Device == "" {
		c.Device = envconfig.Device()
	}
	if c.DType == "" {
		c.DType = "f32"
	}
	if _, err := c.tensorType(); err != nil {
		return err
	}
	return nil
}

func (c *Config) tensorType() (gguf.TensorType, error) {
	d, err := ml.ParseDType(c.DType)
	if err != nil {
		return 0, invalid("dtype: %v", err)
	}
	t, err := gguf.TensorTypeFor(d)
	if err != nil {
		return 0, invalid("dtype: %v", err)
	}
	return t, nil
}
