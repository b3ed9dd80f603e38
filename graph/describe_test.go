// MODUL: describe_test
// ZWECK: Unit-Tests fuer Describe, Isolate und Signaturen
// INPUT: Keine
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: testify, go-cmp
// HINWEISE: Keine

package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeActiveOnly(t *testing.T) {
	g, _, join, _ := endToEnd(t)
	require.NoError(t, join.SetActive(1))

	desc, err := g.Describe(true)
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, desc.Inputs)
	assert.Equal(t, "collapse", desc.Output)

	var paths []string
	for _, n := range desc.Nodes {
		paths = append(paths, n.Path)
	}
	if diff := cmp.Diff([]string{"x", "conv32", "join", "gap", "collapse"}, paths); diff != "" {
		t.Errorf("aktive Knoten (-want +got):\n%s", diff)
	}

	for _, n := range desc.Nodes {
		if n.Kind == "join" {
			assert.Equal(t, []string{"conv32"}, n.Parents)
			assert.Equal(t, [][]int{{1, 32, 32, 32}}, n.InputShapes)
			assert.Equal(t, []int{1, 32, 32, 32}, n.Shape)
		}
	}

	full, err := g.Describe(false)
	require.NoError(t, err)
	assert.Len(t, full.Nodes, 6)
}

func TestDescribeResolvesGraphs(t *testing.T) {
	g := New("net")
	x := must(t)(g.Input("x", 1, 2))
	sub := must(t)(g.AppendGraph("block", x))
	must(t)(sub.ReLU("relu", x))
	must(t)(g.Identity("out", sub))

	desc, err := g.Describe(false)
	require.NoError(t, err)
	last := desc.Nodes[len(desc.Nodes)-1]
	assert.Equal(t, "out", last.Path)
	assert.Equal(t, []string{"block/relu"}, last.Parents)
}

func TestIsolate(t *testing.T) {
	g, _, _, _ := endToEnd(t)
	conv, ok := g.Lookup("conv16")
	require.True(t, ok)

	iso, err := Isolate(conv)
	require.NoError(t, err)
	require.Equal(t, 2, iso.Len())

	out, err := iso.At(-1)
	require.NoError(t, err)
	s, err := out.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 16, 32, 32}, s)
	assert.Same(t, conv.Op(), out.Op(), "Op und Parameter werden geteilt")

	want, err := conv.Signature()
	require.NoError(t, err)
	got, err := out.Signature()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Contains(t, want, "conv(in=3 out=16 k=3x3")
	assert.Contains(t, want, "[1 3 32 32]")

	x, _ := g.Lookup("x")
	_, err = Isolate(x)
	var se *StructureError
	assert.ErrorAs(t, err, &se)
	_, err = Isolate(g)
	assert.ErrorAs(t, err, &se)
}

func TestSignatureDistinguishesHyperparameters(t *testing.T) {
	g := New("net", WithSeed(1))
	x := must(t)(g.Input("x", 1, 4, 8, 8))
	a := must(t)(g.Conv("a", x, ConvConfig{Out: 8, Kernel: Pair(3), Pad: Pair(1)}))
	b := must(t)(g.Conv("b", x, ConvConfig{Out: 8, Kernel: Pair(3), Pad: Pair(1)}))
	c := must(t)(g.Conv("c", x, ConvConfig{Out: 8, Kernel: Pair(3), Pad: Pair(1), Stride: Pair(2)}))
	d := must(t)(g.Conv("d", x, ConvConfig{Out: 8, Kernel: Pair(3), Pad: Pair(1), Groups: 4}))

	sig := func(m *Module) string {
		s, err := m.Signature()
		require.NoError(t, err)
		return s
	}
	assert.Equal(t, sig(a), sig(b))
	assert.NotEqual(t, sig(a), sig(c))
	assert.NotEqual(t, sig(a), sig(d))
}

func TestDynamicConvWidth(t *testing.T) {
	ctx := newTestContext(t)
	g := New("net", WithSeed(4))
	x := must(t)(g.Input("x", 1, 2, 4, 4))
	dc := must(t)(g.DynamicConv("stem", x, ConvConfig{Out: 8, Kernel: Pair(3), Pad: Pair(1)}))
	require.NoError(t, x.SetValue(ctx.FromFloats(make([]float32, 32), 1, 2, 4, 4)))

	require.NoError(t, dc.SetWidth(4))
	v, err := dc.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 4, 4}, v.Shape())

	sig, err := dc.Signature()
	require.NoError(t, err)
	assert.Contains(t, sig, "width=4")

	var se *ShapeError
	assert.ErrorAs(t, dc.SetWidth(9), &se)
	var ste *StructureError
	assert.ErrorAs(t, x.SetWidth(1), &ste)
}
