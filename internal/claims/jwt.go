package claims

import (
	"fmt"
	"sort"
)

// ToMap vuelca el set a un mapa JWT. Un type con un solo valor queda como
// string; con varios valores queda como array en orden de inserción.
func (s *Set) ToMap() map[string]any {
	out := make(map[string]any, s.Len())
	order := []string{}
	grouped := map[string][]string{}
	for _, c := range s.All() {
		if _, ok := grouped[c.Type]; !ok {
			order = append(order, c.Type)
		}
		grouped[c.Type] = append(grouped[c.Type], c.Value)
	}
	for _, t := range order {
		vals := grouped[t]
		if len(vals) == 1 {
			out[t] = vals[0]
			continue
		}
		arr := make([]any, len(vals))
		for i, v := range vals {
			arr[i] = v
		}
		out[t] = arr
	}
	return out
}

// FromMap reconstruye un set desde claims JWT decodificados. Los arrays
// producen un claim por elemento; números y booleanos se formatean con %v.
// Las keys reservadas (iss, aud, exp, nbf, iat) se omiten.
func FromMap(m map[string]any) *Set {
	s := NewSet()
	for _, k := range sortedKeys(m) {
		if reserved(k) {
			continue
		}
		switch v := m[k].(type) {
		case string:
			s.Add(New(k, v))
		case []any:
			for _, item := range v {
				s.Add(New(k, scalar(item)))
			}
		case []string:
			for _, item := range v {
				s.Add(New(k, item))
			}
		case nil:
		default:
			s.Add(New(k, scalar(v)))
		}
	}
	return s
}

func scalar(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}

func reserved(k string) bool {
	switch k {
	case "iss", "aud", "exp", "nbf", "iat":
		return true
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
