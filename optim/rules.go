// rules.go - Update-Regeln
// Enthaelt: SGD, Momentum-SGD, Adam mit entkoppeltem Weight Decay
package optim

import "math"

type sgd struct{}

func (sgd) slots() []string { return nil }

func (sgd) apply(cfg Config, _ int, p, g []float32, _ [][]float32) {
	lr, wd := float32(cfg.LR), float32(cfg.WeightDecay)
	for i := range p {
		p[i] -= lr * (g[i] + wd*p[i])
	}
}

type momentum struct{}

func (momentum) slots() []string { return []string{"v"} }

func (momentum) apply(cfg Config, _ int, p, g []float32, state [][]float32) {
	lr, wd, mu := float32(cfg.LR), float32(cfg.WeightDecay), float32(cfg.Momentum)
	v := state[0]
	for i := range p {
		v[i] = mu*v[i] + g[i] + wd*p[i]
		p[i] -= lr * v[i]
	}
}

type adam struct{}

func (adam) slots() []string { return []string{"m", "v"} }

// apply folgt AdamW: der Weight Decay wirkt direkt auf die Gewichte und
// nicht ueber die Momente
func (adam) apply(cfg Config, step int, p, g []float32, state [][]float32) {
	lr, wd := float32(cfg.LR), float32(cfg.WeightDecay)
	b1, b2, eps := float32(cfg.Beta1), float32(cfg.Beta2), float32(cfg.Eps)
	c1 := 1 - float32(math.Pow(cfg.Beta1, float64(step)))
	c2 := 1 - float32(math.Pow(cfg.Beta2, float64(step)))

	m, v := state[0], state[1]
	for i := range p {
		m[i] = b1*m[i] + (1-b1)*g[i]
		v[i] = b2*v[i] + (1-b2)*g[i]*g[i]
		mHat := m[i] / c1
		vHat := v[i] / c2
		p[i] -= lr * (mHat/(float32(math.Sqrt(float64(vHat)))+eps) + wd*p[i])
	}
}
