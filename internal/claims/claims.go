// Package claims modela los claims (type, value) que viajan en un access token.
//
// Un mismo type puede aparecer varias veces con valores distintos (ej: varios
// "role"). La igualdad es estructural sobre el par completo, nunca solo por type.
package claims

import (
	"sort"
	"strings"
)

// Tipos de claim emitidos en el access token.
const (
	TypeJTI     = "jti"
	TypeSubject = "sub"
	TypeEmail   = "email"
	TypeName    = "name"
	TypeNameID  = "nameid"
	TypeAppID   = "appId"
	TypeRole    = "role"
)

// DefaultAppID es el scope de aplicación cuando el caller no envía uno.
const DefaultAppID = "Default"

// Claim es un par (type, value).
type Claim struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// New construye un Claim.
func New(typ, value string) Claim {
	return Claim{Type: typ, Value: value}
}

// Role es un atajo para un claim de tipo role.
func Role(name string) Claim {
	return Claim{Type: TypeRole, Value: name}
}

func (c Claim) String() string {
	return c.Type + "=" + c.Value
}

// Set es un conjunto ordenado de claims: conserva el orden de inserción y
// descarta pares (type, value) repetidos.
type Set struct {
	items []Claim
	index map[Claim]struct{}
}

// NewSet crea un Set a partir de los claims dados, deduplicando.
func NewSet(cs ...Claim) *Set {
	s := &Set{index: make(map[Claim]struct{}, len(cs))}
	s.Add(cs...)
	return s
}

// Add agrega los claims que todavía no están en el set.
// Devuelve la cantidad efectivamente agregada.
func (s *Set) Add(cs ...Claim) int {
	if s.index == nil {
		s.index = make(map[Claim]struct{}, len(cs))
	}
	n := 0
	for _, c := range cs {
		if _, ok := s.index[c]; ok {
			continue
		}
		s.index[c] = struct{}{}
		s.items = append(s.items, c)
		n++
	}
	return n
}

// Union agrega todos los claims de other.
func (s *Set) Union(other *Set) *Set {
	if other != nil {
		s.Add(other.items...)
	}
	return s
}

// Contains reporta si el par exacto está en el set.
func (s *Set) Contains(c Claim) bool {
	if s == nil || s.index == nil {
		return false
	}
	_, ok := s.index[c]
	return ok
}

// First devuelve el primer claim (en orden de inserción) con el type pedido.
func (s *Set) First(typ string) (Claim, bool) {
	if s == nil {
		return Claim{}, false
	}
	for _, c := range s.items {
		if c.Type == typ {
			return c, true
		}
	}
	return Claim{}, false
}

// Value devuelve el valor del primer claim con el type pedido, o "".
func (s *Set) Value(typ string) string {
	c, _ := s.First(typ)
	return c.Value
}

// Values devuelve todos los valores para un type, en orden de inserción.
func (s *Set) Values(typ string) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, c := range s.items {
		if c.Type == typ {
			out = append(out, c.Value)
		}
	}
	return out
}

// Len devuelve la cantidad de claims.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All devuelve una copia de los claims en orden.
func (s *Set) All() []Claim {
	if s == nil {
		return nil
	}
	out := make([]Claim, len(s.items))
	copy(out, s.items)
	return out
}

// Equal compara dos sets como conjuntos (ignora el orden).
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, c := range s.All() {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// Distinct deduplica una lista de claims conservando el primer orden de aparición.
func Distinct(cs []Claim) []Claim {
	return NewSet(cs...).All()
}

// DistinctStrings deduplica strings (case-insensitive), conservando la primera grafía.
func DistinctStrings(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, l := range lists {
		for _, v := range l {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			k := strings.ToUpper(v)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Sort ordena claims por (type, value). Es el desempate documentado para
// lecturas "first by type" cuando el origen no garantiza orden.
func Sort(cs []Claim) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Type != cs[j].Type {
			return cs[i].Type < cs[j].Type
		}
		return cs[i].Value < cs[j].Value
	})
}
