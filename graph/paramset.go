// paramset.go - Geordnete Parametermenge mit Identitaets-Deduplizierung
// Dieses Modul enthaelt ParamSet auf Basis von go-ordered-map.
package graph

import (
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ParamSet bildet Pfadnamen in Einfuegereihenfolge auf Parameter ab. Jeder
// Parameter (nach ID) ist hoechstens einmal enthalten.
type ParamSet struct {
	byName *orderedmap.OrderedMap[string, *Parameter]
	ids    map[uuid.UUID]string
}

// NewParamSet erstellt eine leere Menge
func NewParamSet() *ParamSet {
	return &ParamSet{
		byName: orderedmap.New[string, *Parameter](),
		ids:    make(map[uuid.UUID]string),
	}
}

// Add fuegt p unter name ein. Ein bereits enthaltener Parameter behaelt
// seinen ersten Namen; Add meldet dann false.
func (s *ParamSet) Add(name string, p *Parameter) bool {
	if _, ok := s.ids[p.ID]; ok {
		return false
	}
	s.byName.Set(name, p)
	s.ids[p.ID] = name
	return true
}

// Get sucht einen Parameter nach Pfadnamen
func (s *ParamSet) Get(name string) (*Parameter, bool) {
	return s.byName.Get(name)
}

// Has meldet, ob ein Parameter mit dieser ID enthalten ist
func (s *ParamSet) Has(id uuid.UUID) bool {
	_, ok := s.ids[id]
	return ok
}

// NameOf gibt den Pfadnamen zu einer ID zurueck
func (s *ParamSet) NameOf(id uuid.UUID) (string, bool) {
	name, ok := s.ids[id]
	return name, ok
}

func (s *ParamSet) Len() int {
	return s.byName.Len()
}

// Names gibt die Pfadnamen in Einfuegereihenfolge zurueck
func (s *ParamSet) Names() []string {
	names := make([]string, 0, s.byName.Len())
	for pair := s.byName.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Params gibt die Parameter in Einfuegereihenfolge zurueck
func (s *ParamSet) Params() []*Parameter {
	params := make([]*Parameter, 0, s.byName.Len())
	for pair := s.byName.Oldest(); pair != nil; pair = pair.Next() {
		params = append(params, pair.Value)
	}
	return params
}

// IDs gibt die Parameter-IDs in Einfuegereihenfolge zurueck
func (s *ParamSet) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, s.byName.Len())
	for pair := s.byName.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Value.ID)
	}
	return ids
}

// Each ruft f fuer jedes Paar in Einfuegereihenfolge auf
func (s *ParamSet) Each(f func(name string, p *Parameter)) {
	for pair := s.byName.Oldest(); pair != nil; pair = pair.Next() {
		f(pair.Key, pair.Value)
	}
}

// Disjoint meldet, ob beide Mengen keinen Parameter gemeinsam haben
func (s *ParamSet) Disjoint(other *ParamSet) bool {
	for id := range s.ids {
		if other.Has(id) {
			return false
		}
	}
	return true
}
