// describe.go - Beschreibung eines Graphen fuer externe Exporter
//
// Dieses Modul enthaelt Describe: geordnete Modulliste mit Formen,
// Parametern und aufgeloesten Joins. Container werden dabei durch ihr
// Ausgabemodul ersetzt, so dass die Beschreibung flach ist.
package graph

// ParamInfo beschreibt einen Parameter eines Knotens
type ParamInfo struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	NeedGrad bool   `json:"need_grad"`
}

// NodeInfo beschreibt einen rechnenden Knoten
type NodeInfo struct {
	Path        string      `json:"path"`
	Kind        string      `json:"kind"`
	Attributes  string      `json:"attributes,omitempty"`
	Parents     []string    `json:"parents,omitempty"`
	InputShapes [][]int     `json:"input_shapes,omitempty"`
	Shape       []int       `json:"shape"`
	Active      bool        `json:"active"`
	Params      []ParamInfo `json:"params,omitempty"`
}

// Description ist die flache Sicht eines Graphen
type Description struct {
	Name   string     `json:"name"`
	Inputs []string   `json:"inputs"`
	Output string     `json:"output"`
	Nodes  []NodeInfo `json:"nodes"`
}

// resolveOutput ersetzt Graphen durch ihr (rekursiv aufgeloestes)
// Ausgabemodul
func resolveOutput(m *Module) (*Module, error) {
	for m.IsGraph() {
		out, err := m.Output()
		if err != nil {
			return nil, err
		}
		m = out
	}
	return m, nil
}

// Describe beschreibt alle Module unterhalb von g. Mit activeOnly enthaelt
// die Beschreibung nur den aktiven Teilgraphen und jeder Join hat genau
// einen Elternteil.
func (g *Module) Describe(activeOnly bool) (*Description, error) {
	out, err := resolveOutput(g)
	if err != nil {
		return nil, err
	}

	active := g.activeSet()
	desc := &Description{Name: g.name, Output: out.path}

	for _, m := range g.Modules(nil) {
		if m.IsGraph() || (activeOnly && !active[m.id]) {
			continue
		}

		shape, err := m.Shape()
		if err != nil {
			return nil, err
		}

		node := NodeInfo{
			Path:       m.path,
			Kind:       m.Kind(),
			Attributes: m.op.Signature(),
			Shape:      shape,
			Active:     active[m.id],
		}

		parents := m.Parents()
		if j, ok := m.AsJoin(); ok && activeOnly {
			parents = []*Module{m.Parent(j.Active())}
		}
		for _, p := range parents {
			r, err := resolveOutput(p)
			if err != nil {
				return nil, err
			}
			s, err := r.Shape()
			if err != nil {
				return nil, err
			}
			node.Parents = append(node.Parents, r.path)
			node.InputShapes = append(node.InputShapes, s)
		}

		for _, p := range m.op.Params() {
			node.Params = append(node.Params, ParamInfo{Name: p.Name, Shape: p.Shape, NeedGrad: p.NeedGrad})
		}

		if _, ok := m.op.(*Input); ok {
			desc.Inputs = append(desc.Inputs, m.path)
		}
		desc.Nodes = append(desc.Nodes, node)
	}

	return desc, nil
}
