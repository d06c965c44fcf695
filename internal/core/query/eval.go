package query

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Projection struct {
	Include []string
	Exclude []string
}

// Apply returns a copy of doc narrowed by the projection.
func (p Projection) Apply(doc map[string]any) map[string]any {
	if len(p.Include) > 0 {
		out := make(map[string]any, len(p.Include))
		for _, f := range p.Include {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
		return out
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, f := range p.Exclude {
		delete(out, f)
	}
	return out
}

// Matches reports whether doc satisfies the search and filter predicates.
func (q Query) Matches(doc map[string]any) bool {
	for _, c := range q.Filters {
		if c.Never {
			return false
		}
		v, ok := doc[c.Field]
		if !ok || compare(v, c.Value) != 0 {
			return false
		}
	}

	if q.Search == nil {
		return true
	}
	term := strings.ToLower(q.Search.Term)
	for _, f := range q.Search.Fields {
		s, ok := doc[f].(string)
		if ok && strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

func (q Query) less(a, b map[string]any) bool {
	for _, s := range q.Sort {
		c := compare(a[s.Field], b[s.Field])
		if c == 0 {
			continue
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

// Window returns the [lo, hi) slice bounds of the requested page over n
// sorted matches.
func (q Query) Window(n int) (int, int) {
	lo := min(max(q.Skip, 0), n)
	hi := n
	if q.Limit > 0 {
		hi = min(lo+q.Limit, n)
	}
	return lo, hi
}

// Apply evaluates q in process: filter, sort, then page.
func Apply[T any](q Query, items []T, doc func(T) map[string]any) []T {
	type entry struct {
		item T
		doc  map[string]any
	}

	matched := make([]entry, 0, len(items))
	for _, it := range items {
		d := doc(it)
		if q.Matches(d) {
			matched = append(matched, entry{item: it, doc: d})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return q.less(matched[i].doc, matched[j].doc)
	})

	lo, hi := q.Window(len(matched))
	out := make([]T, 0, hi-lo)
	for _, e := range matched[lo:hi] {
		out = append(out, e.item)
	}
	return out
}

// Count evaluates only the predicate part of q.
func Count[T any](q Query, items []T, doc func(T) map[string]any) int64 {
	var n int64
	for _, it := range items {
		if q.Matches(doc(it)) {
			n++
		}
	}
	return n
}

// compare orders two field values; nil sorts first and mismatched kinds
// fall back to their string forms.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
