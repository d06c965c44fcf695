// Package query turns raw listing parameters into a store-neutral Query and
// computes pagination metadata for it.
//
// Usage:
//
//	q := query.New(schema, params).
//		Search("title", "author").
//		Filter().
//		Sort().
//		Paginate().
//		Fields().
//		Query()
//
// The builder steps are independent and may be chained in any order.
package query

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	IDField      = "_id"
	VersionField = "version"

	DefaultPage = 1
	DefaultSize = 10
	DefaultSort = "-createdAt"

	// MaxSize and MaxPage bound paging so Skip stays far from overflow on
	// every store.
	MaxSize = 1000
	MaxPage = math.MaxInt32
)

const (
	paramSearch = "search"
	paramSort   = "sort"
	paramOrder  = "order"
	paramPage   = "page"
	paramSize   = "size"
	paramFields = "fields"
)

var reserved = map[string]struct{}{
	paramSearch: {},
	paramSort:   {},
	paramOrder:  {},
	paramPage:   {},
	paramSize:   {},
	paramFields: {},
}

type Kind int

const (
	String Kind = iota
	Int
	Bool
	Time
)

// Schema maps every queryable field name to its value kind.
type Schema map[string]Kind

func (s Schema) Has(field string) bool {
	_, ok := s[field]
	return ok
}

// Convert parses a raw parameter value as the kind of field.
func (s Schema) Convert(field, raw string) (any, bool) {
	kind, ok := s[field]
	if !ok {
		return nil, false
	}
	switch kind {
	case Int:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, false
		}
		return n, true
	case Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, false
		}
		return b, true
	case Time:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
		if err != nil {
			return nil, false
		}
		return t, true
	default:
		return raw, true
	}
}

type Search struct {
	Term   string
	Fields []string
}

// Condition is an exact-match predicate. Never marks a condition that cannot
// match anything (unknown field or unconvertible value).
type Condition struct {
	Field string
	Value any
	Never bool
}

type SortField struct {
	Field string
	Desc  bool
}

type Query struct {
	Search     *Search
	Filters    []Condition
	Sort       []SortField
	Page       int
	Size       int
	Skip       int
	Limit      int // 0 means unbounded
	Projection Projection
}

type Builder struct {
	schema Schema
	params map[string]string
	query  Query
}

func New(schema Schema, params map[string]string) *Builder {
	if params == nil {
		params = map[string]string{}
	}
	b := &Builder{schema: schema, params: params}
	b.query.Page = min(positiveOr(params[paramPage], DefaultPage), MaxPage)
	b.query.Size = min(positiveOr(params[paramSize], DefaultSize), MaxSize)
	return b
}

// FromValues builds from URL query values, keeping the first value per key.
func FromValues(schema Schema, values url.Values) *Builder {
	params := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	return New(schema, params)
}

// Search adds a case-insensitive substring match OR-combined across fields.
func (b *Builder) Search(fields ...string) *Builder {
	term := b.params[paramSearch]
	if term == "" || len(fields) == 0 {
		return b
	}
	b.query.Search = &Search{Term: term, Fields: append([]string(nil), fields...)}
	return b
}

// Filter turns every non-reserved parameter into an exact-match condition.
func (b *Builder) Filter() *Builder {
	keys := make([]string, 0, len(b.params))
	for key := range b.params {
		if _, skip := reserved[key]; !skip {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	filters := make([]Condition, 0, len(keys))
	for _, key := range keys {
		value, ok := b.schema.Convert(key, b.params[key])
		filters = append(filters, Condition{Field: key, Value: value, Never: !ok})
	}
	b.query.Filters = filters
	return b
}

// Sort reads a comma-separated field list where a leading '-' means
// descending. With a single field, an order=asc|desc parameter overrides the
// prefix. _id is appended as a final tie-breaker so paging is stable.
func (b *Builder) Sort() *Builder {
	raw := b.params[paramSort]
	if strings.TrimSpace(raw) == "" {
		raw = DefaultSort
	}

	var fields []SortField
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		name := strings.TrimLeft(part, "+-")
		if name == "" || !b.schema.Has(name) {
			continue
		}
		fields = append(fields, SortField{Field: name, Desc: desc})
	}

	if len(fields) == 1 {
		switch strings.ToLower(b.params[paramOrder]) {
		case "asc":
			fields[0].Desc = false
		case "desc":
			fields[0].Desc = true
		}
	}

	hasID := false
	for _, f := range fields {
		if f.Field == IDField {
			hasID = true
		}
	}
	if !hasID {
		fields = append(fields, SortField{Field: IDField})
	}

	b.query.Sort = fields
	return b
}

func (b *Builder) Paginate() *Builder {
	b.query.Skip = (b.query.Page - 1) * b.query.Size
	b.query.Limit = b.query.Size
	return b
}

// Fields selects the projection. Without a fields parameter only the internal
// version marker is hidden. A list made only of '-field' entries excludes
// those fields instead.
func (b *Builder) Fields() *Builder {
	raw := strings.TrimSpace(b.params[paramFields])
	if raw == "" {
		b.query.Projection = Projection{Exclude: []string{VersionField}}
		return b
	}

	var include, exclude []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		name := strings.TrimPrefix(part, "-")
		if name == "" || !b.schema.Has(name) {
			continue
		}
		if strings.HasPrefix(part, "-") {
			exclude = append(exclude, name)
		} else {
			include = append(include, name)
		}
	}

	switch {
	case len(include) > 0:
		b.query.Projection = Projection{Include: withID(include)}
	case len(exclude) > 0:
		b.query.Projection = Projection{Exclude: exclude}
	default:
		b.query.Projection = Projection{Exclude: []string{VersionField}}
	}
	return b
}

func (b *Builder) Query() Query {
	return b.query
}

func withID(fields []string) []string {
	for _, f := range fields {
		if f == IDField {
			return fields
		}
	}
	return append([]string{IDField}, fields...)
}

func positiveOr(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
