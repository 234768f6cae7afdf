// Package values normalizes the value names participants rank and choose
// between, so that "Public Safety", "public_safety" and " public  safety "
// compare equal.
package values

import (
	"strings"
)

// #region normalize

// Normalize lower-cases a label, maps '_' and '-' to spaces and collapses runs
// of whitespace.
func Normalize(label string) string {
	lower := strings.ToLower(label)
	lower = strings.NewReplacer("_", " ", "-", " ").Replace(lower)
	return strings.Join(strings.Fields(lower), " ")
}

// #endregion normalize

// #region list

// List is an ordered, de-duplicated set of normalized value names.
type List struct {
	order []string
	index map[string]struct{}
}

// NewList normalizes names, drops blanks and keeps the first occurrence of
// each duplicate.
func NewList(names []string) List {
	l := List{index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		norm := Normalize(n)
		if norm == "" {
			continue
		}
		if _, dup := l.index[norm]; dup {
			continue
		}
		l.index[norm] = struct{}{}
		l.order = append(l.order, norm)
	}
	return l
}

// Contains reports whether label, once normalized, is in the list.
func (l List) Contains(label string) bool {
	_, ok := l.index[Normalize(label)]
	return ok
}

// Len returns the number of distinct names.
func (l List) Len() int {
	return len(l.order)
}

// Names returns the normalized names in their original order.
func (l List) Names() []string {
	return append([]string(nil), l.order...)
}

// #endregion list

// Top returns the first n names of an ordering, or fewer if it is shorter.
func Top(order []string, n int) []string {
	if n <= 0 || len(order) == 0 {
		return nil
	}
	if len(order) < n {
		n = len(order)
	}
	return append([]string(nil), order[:n]...)
}
