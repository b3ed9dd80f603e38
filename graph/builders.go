// builders.go - Typisierte Hilfsfunktionen zum Anfuegen von Ops
// Dieses Modul enthaelt Input, Conv, BatchNorm, Pooling, Linear, Merge und
// Join als Methoden auf Graph-Modulen.
package graph

func channels(parent *Module) (int, error) {
	if parent == nil {
		return 0, &StructureError{Reason: "nil parent"}
	}
	s, err := parent.Shape()
	if err != nil {
		return 0, err
	}
	if len(s) < 2 {
		return 0, &ShapeError{Module: parent.path, Shapes: [][]int{s}, Reason: "expected a channel axis"}
	}
	return s[1], nil
}

// Input fuegt ein Eingabeterminal mit deklarierter Form an
func (g *Module) Input(name string, shape ...int) (*Module, error) {
	return g.Append(name, NewInput(shape...))
}

// Conv fuegt eine Faltung an; die Eingabekanaele kommen aus parent
func (g *Module) Conv(name string, parent *Module, cfg ConvConfig) (*Module, error) {
	in, err := channels(parent)
	if err != nil {
		return nil, err
	}
	op, err := NewConv(in, cfg, g.arena.rng)
	if err != nil {
		return nil, withModule(err, g.childPath(name))
	}
	return g.Append(name, op, parent)
}

// DynamicConv fuegt eine Faltung mit elastischer Breite an
func (g *Module) DynamicConv(name string, parent *Module, cfg ConvConfig) (*Module, error) {
	in, err := channels(parent)
	if err != nil {
		return nil, err
	}
	op, err := NewDynamicConv(in, cfg, g.arena.rng)
	if err != nil {
		return nil, withModule(err, g.childPath(name))
	}
	return g.Append(name, op, parent)
}

func (g *Module) BatchNorm(name string, parent *Module) (*Module, error) {
	c, err := channels(parent)
	if err != nil {
		return nil, err
	}
	return g.Append(name, NewBatchNorm(c, g.arena.rng), parent)
}

func (g *Module) ReLU(name string, parent *Module) (*Module, error) {
	return g.Append(name, ReLU{}, parent)
}

func (g *Module) Identity(name string, parent *Module) (*Module, error) {
	return g.Append(name, Identity{}, parent)
}

func (g *Module) Zero(name string, parent *Module) (*Module, error) {
	return g.Append(name, Zero{}, parent)
}

func (g *Module) MaxPool(name string, parent *Module, kernel, stride, pad int) (*Module, error) {
	return g.Append(name, NewPool(true, kernel, stride, pad), parent)
}

func (g *Module) AvgPool(name string, parent *Module, kernel, stride, pad int) (*Module, error) {
	return g.Append(name, NewPool(false, kernel, stride, pad), parent)
}

func (g *Module) GlobalAvgPool(name string, parent *Module) (*Module, error) {
	return g.Append(name, GlobalAvgPool{}, parent)
}

func (g *Module) Collapse(name string, parent *Module) (*Module, error) {
	return g.Append(name, Collapse{}, parent)
}

// Linear fuegt eine vollverbundene Schicht mit out Ausgaben an
func (g *Module) Linear(name string, parent *Module, out int) (*Module, error) {
	in, err := channels(parent)
	if err != nil {
		return nil, err
	}
	return g.Append(name, NewLinear(in, out, g.arena.rng), parent)
}

// Merge fuegt eine Addition oder Konkatenation der Eltern an
func (g *Module) Merge(name string, mode MergeMode, parents ...*Module) (*Module, error) {
	return g.Append(name, &Merge{Mode: mode}, parents...)
}

// Join fuegt einen Auswahlknoten ueber die Eltern an
func (g *Module) Join(name string, mode JoinMode, parents ...*Module) (*Module, error) {
	op, err := NewJoin(len(parents), mode, g.arena.rng)
	if err != nil {
		return nil, withModule(err, g.childPath(name))
	}
	return g.Append(name, op, parents...)
}
