// tensor_nn.go - Neuronale-Netz-Operationen
// Enthaelt: Conv2D, BatchNorm, MaxPool2D, AvgPool2D, GlobalAvgPool, Linear,
// RELU, Softmax, CrossEntropy

package cpu

import (
	"fmt"
	"math"
	"slices"

	"github.com/archsearch/nas/ml"
)

// nchw zerlegt eine 4D-Form. 2D-Formen (N, C) gelten als (N, C, 1, 1).
func nchw(shape []int) (n, c, h, w int) {
	switch len(shape) {
	case 4:
		return shape[0], shape[1], shape[2], shape[3]
	case 2:
		return shape[0], shape[1], 1, 1
	}
	panic(fmt.Errorf("cpu: expected 2D or 4D tensor, got %v", shape))
}

func window(w ml.Window2D) (kh, kw, sh, sw, ph, pw, dh, dw int) {
	return w.Kernel[0], w.Kernel[1],
		max(w.Stride[0], 1), max(w.Stride[1], 1),
		w.Pad[0], w.Pad[1],
		max(w.Dilation[0], 1), max(w.Dilation[1], 1)
}

// Conv2D faltet t (N, C, H, W) mit weight (O, C/groups, KH, KW)
func (t *Tensor) Conv2D(ctx ml.Context, weight, bias ml.Tensor, groups int, win ml.Window2D) ml.Tensor {
	wt, bt := cast(weight), cast(bias)
	groups = max(groups, 1)

	n, c, h, w := nchw(t.shape)
	o, cg := wt.shape[0], wt.shape[1]
	if cg*groups != c || o%groups != 0 {
		panic(fmt.Errorf("cpu: conv weight %v does not match input %v with %d groups", wt.shape, t.shape, groups))
	}

	win.Kernel = [2]int{wt.shape[2], wt.shape[3]}
	kh, kw, sh, sw, ph, pw, dh, dw := window(win)
	oh, ow := win.OutputSize(h, w)
	og := o / groups

	// each visits every (output, input, weight) index triple exactly once
	each := func(f func(oi, xi, wi int)) {
		for b := range n {
			for oc := range o {
				g := oc / og
				for y := range oh {
					for x := range ow {
						oi := ((b*o+oc)*oh+y)*ow + x
						for ic := range cg {
							cin := g*cg + ic
							for ky := range kh {
								iy := y*sh - ph + ky*dh
								if iy < 0 || iy >= h {
									continue
								}
								for kx := range kw {
									ix := x*sw - pw + kx*dw
									if ix < 0 || ix >= w {
										continue
									}
									f(oi, ((b*c+cin)*h+iy)*w+ix, ((oc*cg+ic)*kh+ky)*kw+kx)
								}
							}
						}
					}
				}
			}
		}
	}

	out := make([]float32, n*o*oh*ow)
	each(func(oi, xi, wi int) {
		out[oi] += t.data[xi] * wt.data[wi]
	})
	if bt != nil {
		for i := range out {
			out[i] += bt.data[(i/(oh*ow))%o]
		}
	}

	inputs := []*Tensor{t, wt}
	if bt != nil {
		inputs = append(inputs, bt)
	}

	return newResult("conv2d", []int{n, o, oh, ow}, out, inputs, func(g []float32) {
		var gx, gw []float32
		if t.requiresGrad {
			gx = make([]float32, len(t.data))
		}
		if wt.requiresGrad {
			gw = make([]float32, len(wt.data))
		}

		each(func(oi, xi, wi int) {
			if gx != nil {
				gx[xi] += g[oi] * wt.data[wi]
			}
			if gw != nil {
				gw[wi] += g[oi] * t.data[xi]
			}
		})

		t.accumulate(gx)
		wt.accumulate(gw)
		if bt != nil && bt.requiresGrad {
			gb := make([]float32, o)
			for i, gi := range g {
				gb[(i/(oh*ow))%o] += gi
			}
			bt.accumulate(gb)
		}
	})
}

// BatchNorm normalisiert pro Kanal. Im Training werden die Batch-Statistiken
// verwendet und mean/variance in place nachgefuehrt.
func (t *Tensor) BatchNorm(ctx ml.Context, gamma, beta, mean, variance ml.Tensor, momentum, eps float32, training bool) ml.Tensor {
	gt, bt := cast(gamma), cast(beta)
	rm, rv := cast(mean), cast(variance)

	n, c, h, w := nchw(t.shape)
	hw := h * w
	m := n * hw
	channel := func(i int) int { return (i / hw) % c }

	mu := make([]float32, c)
	vr := make([]float32, c)
	if training {
		for i, x := range t.data {
			mu[channel(i)] += x
		}
		for ch := range mu {
			mu[ch] /= float32(m)
		}
		for i, x := range t.data {
			d := x - mu[channel(i)]
			vr[channel(i)] += d * d
		}
		for ch := range vr {
			vr[ch] /= float32(m)
		}

		if rm != nil && rv != nil {
			unbias := float32(1)
			if m > 1 {
				unbias = float32(m) / float32(m-1)
			}
			for ch := range c {
				rm.data[ch] = momentum*rm.data[ch] + (1-momentum)*mu[ch]
				rv.data[ch] = momentum*rv.data[ch] + (1-momentum)*vr[ch]*unbias
			}
		}
	} else {
		copy(mu, rm.data)
		copy(vr, rv.data)
	}

	invstd := make([]float32, c)
	for ch := range c {
		invstd[ch] = 1 / float32(math.Sqrt(float64(vr[ch]+eps)))
	}

	xhat := make([]float32, len(t.data))
	out := make([]float32, len(t.data))
	for i, x := range t.data {
		ch := channel(i)
		xhat[i] = (x - mu[ch]) * invstd[ch]
		out[i] = xhat[i]
		if gt != nil {
			out[i] *= gt.data[ch]
		}
		if bt != nil {
			out[i] += bt.data[ch]
		}
	}

	inputs := []*Tensor{t}
	if gt != nil {
		inputs = append(inputs, gt)
	}
	if bt != nil {
		inputs = append(inputs, bt)
	}

	return newResult("batchnorm", slices.Clone(t.shape), out, inputs, func(g []float32) {
		if gt != nil && gt.requiresGrad {
			gg := make([]float32, c)
			for i, gi := range g {
				gg[channel(i)] += gi * xhat[i]
			}
			gt.accumulate(gg)
		}
		if bt != nil && bt.requiresGrad {
			gb := make([]float32, c)
			for i, gi := range g {
				gb[channel(i)] += gi
			}
			bt.accumulate(gb)
		}
		if !t.requiresGrad {
			return
		}

		dxhat := make([]float32, len(g))
		for i, gi := range g {
			dxhat[i] = gi
			if gt != nil {
				dxhat[i] *= gt.data[channel(i)]
			}
		}

		gx := make([]float32, len(g))
		if !training {
			for i := range gx {
				gx[i] = dxhat[i] * invstd[channel(i)]
			}
			t.accumulate(gx)
			return
		}

		sum := make([]float32, c)
		dot := make([]float32, c)
		for i, d := range dxhat {
			sum[channel(i)] += d
			dot[channel(i)] += d * xhat[i]
		}
		fm := float32(m)
		for i, d := range dxhat {
			ch := channel(i)
			gx[i] = invstd[ch] / fm * (fm*d - sum[ch] - xhat[i]*dot[ch])
		}
		t.accumulate(gx)
	})
}

// pool2d sammelt fuer jede Ausgabeposition die gueltigen Eingabeindizes
func pool2d(shape []int, win ml.Window2D, f func(oi int, xi []int)) (oh, ow int) {
	n, c, h, w := nchw(shape)
	kh, kw, sh, sw, ph, pw, dh, dw := window(win)
	oh, ow = win.OutputSize(h, w)

	idx := make([]int, 0, kh*kw)
	for p := range n * c {
		for y := range oh {
			for x := range ow {
				idx = idx[:0]
				for ky := range kh {
					iy := y*sh - ph + ky*dh
					if iy < 0 || iy >= h {
						continue
					}
					for kx := range kw {
						ix := x*sw - pw + kx*dw
						if ix < 0 || ix >= w {
							continue
						}
						idx = append(idx, (p*h+iy)*w+ix)
					}
				}
				f((p*oh+y)*ow+x, idx)
			}
		}
	}
	return oh, ow
}

// MaxPool2D waehlt das Maximum je Fenster, Padding zaehlt als -Inf
func (t *Tensor) MaxPool2D(ctx ml.Context, win ml.Window2D) ml.Tensor {
	n, c, h, w := nchw(t.shape)
	oh, ow := win.OutputSize(h, w)
	out := make([]float32, n*c*oh*ow)
	arg := make([]int, len(out))

	pool2d(t.shape, win, func(oi int, xi []int) {
		best, at := float32(math.Inf(-1)), -1
		for _, i := range xi {
			if t.data[i] > best || at < 0 {
				best, at = t.data[i], i
			}
		}
		out[oi], arg[oi] = best, at
	})

	return newResult("maxpool2d", []int{n, c, oh, ow}, out, []*Tensor{t}, func(g []float32) {
		gx := make([]float32, len(t.data))
		for oi, gi := range g {
			if arg[oi] >= 0 {
				gx[arg[oi]] += gi
			}
		}
		t.accumulate(gx)
	})
}

// AvgPool2D mittelt je Fenster, Padding wird nicht mitgezaehlt
func (t *Tensor) AvgPool2D(ctx ml.Context, win ml.Window2D) ml.Tensor {
	n, c, h, w := nchw(t.shape)
	oh, ow := win.OutputSize(h, w)
	out := make([]float32, n*c*oh*ow)

	pool2d(t.shape, win, func(oi int, xi []int) {
		if len(xi) == 0 {
			return
		}
		var sum float32
		for _, i := range xi {
			sum += t.data[i]
		}
		out[oi] = sum / float32(len(xi))
	})

	return newResult("avgpool2d", []int{n, c, oh, ow}, out, []*Tensor{t}, func(g []float32) {
		gx := make([]float32, len(t.data))
		pool2d(t.shape, win, func(oi int, xi []int) {
			for _, i := range xi {
				gx[i] += g[oi] / float32(len(xi))
			}
		})
		t.accumulate(gx)
	})
}

// GlobalAvgPool mittelt jeden Kanal ueber die gesamte Flaeche
func (t *Tensor) GlobalAvgPool(ctx ml.Context) ml.Tensor {
	n, c, h, w := nchw(t.shape)
	hw := h * w
	out := make([]float32, n*c)
	for i, x := range t.data {
		out[i/hw] += x
	}
	for i := range out {
		out[i] /= float32(hw)
	}

	return newResult("globalavgpool", []int{n, c, 1, 1}, out, []*Tensor{t}, func(g []float32) {
		gx := make([]float32, len(t.data))
		for i := range gx {
			gx[i] = g[i/hw] / float32(hw)
		}
		t.accumulate(gx)
	})
}

// Linear berechnet t @ weight^T + bias fuer t (N, in) und weight (out, in)
func (t *Tensor) Linear(ctx ml.Context, weight, bias ml.Tensor) ml.Tensor {
	wt, bt := cast(weight), cast(bias)
	n := t.shape[0]
	in := len(t.data) / max(n, 1)
	o := wt.shape[0]
	if wt.shape[1] != in {
		panic(fmt.Errorf("cpu: linear weight %v does not match input %v", wt.shape, t.shape))
	}

	out := make([]float32, n*o)
	for b := range n {
		for j := range o {
			var sum float32
			for k := range in {
				sum += t.data[b*in+k] * wt.data[j*in+k]
			}
			if bt != nil {
				sum += bt.data[j]
			}
			out[b*o+j] = sum
		}
	}

	inputs := []*Tensor{t, wt}
	if bt != nil {
		inputs = append(inputs, bt)
	}

	return newResult("linear", []int{n, o}, out, inputs, func(g []float32) {
		if t.requiresGrad {
			gx := make([]float32, len(t.data))
			for b := range n {
				for j := range o {
					for k := range in {
						gx[b*in+k] += g[b*o+j] * wt.data[j*in+k]
					}
				}
			}
			t.accumulate(gx)
		}
		if wt.requiresGrad {
			gw := make([]float32, len(wt.data))
			for b := range n {
				for j := range o {
					for k := range in {
						gw[j*in+k] += g[b*o+j] * t.data[b*in+k]
					}
				}
			}
			wt.accumulate(gw)
		}
		if bt != nil && bt.requiresGrad {
			gb := make([]float32, o)
			for i, gi := range g {
				gb[i%o] += gi
			}
			bt.accumulate(gb)
		}
	})
}

func (t *Tensor) RELU(ctx ml.Context) ml.Tensor {
	out := make([]float32, len(t.data))
	for i, x := range t.data {
		out[i] = max(x, 0)
	}

	return newResult("relu", slices.Clone(t.shape), out, []*Tensor{t}, func(g []float32) {
		gx := make([]float32, len(g))
		for i, gi := range g {
			if t.data[i] > 0 {
				gx[i] = gi
			}
		}
		t.accumulate(gx)
	})
}

// softmaxRows berechnet softmax ueber Zeilen der Laenge k
func softmaxRows(data []float32, k int) []float32 {
	out := make([]float32, len(data))
	for r := 0; r < len(data); r += k {
		row := data[r : r+k]
		mx := slices.Max(row)
		var sum float64
		for i, x := range row {
			e := math.Exp(float64(x - mx))
			out[r+i] = float32(e)
			sum += e
		}
		for i := range row {
			out[r+i] /= float32(sum)
		}
	}
	return out
}

// Softmax normalisiert ueber die letzte Dimension
func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	k := t.shape[len(t.shape)-1]
	out := softmaxRows(t.data, k)

	return newResult("softmax", slices.Clone(t.shape), out, []*Tensor{t}, func(g []float32) {
		gx := make([]float32, len(g))
		for r := 0; r < len(g); r += k {
			var dot float32
			for i := range k {
				dot += g[r+i] * out[r+i]
			}
			for i := range k {
				gx[r+i] = out[r+i] * (g[r+i] - dot)
			}
		}
		t.accumulate(gx)
	})
}

// CrossEntropy berechnet den mittleren Softmax-Kreuzentropieverlust
func (t *Tensor) CrossEntropy(ctx ml.Context, labels ml.Tensor, smoothing float32) ml.Tensor {
	lt := cast(labels)
	n := t.shape[0]
	k := len(t.data) / max(n, 1)
	target := lt.Ints()
	if len(target) != n {
		panic(fmt.Errorf("cpu: %d labels for %d rows", len(target), n))
	}

	p := softmaxRows(t.data, k)
	uniform := smoothing / float32(k)

	var loss float64
	for b := range n {
		for j := range k {
			q := uniform
			if int(target[b]) == j {
				q += 1 - smoothing
			}
			if q > 0 {
				loss -= float64(q) * math.Log(max(float64(p[b*k+j]), 1e-30))
			}
		}
	}
	loss /= float64(n)

	return newResult("crossentropy", []int{1}, []float32{float32(loss)}, []*Tensor{t}, func(g []float32) {
		gx := make([]float32, len(t.data))
		for b := range n {
			for j := range k {
				q := uniform
				if int(target[b]) == j {
					q += 1 - smoothing
				}
				gx[b*k+j] = g[0] * (p[b*k+j] - q) / float32(n)
			}
		}
		t.accumulate(gx)
	})
}
