// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package query defines the immutable query tree accepted by the planner.
//
// A Query is assembled by the From/Sub constructors and the copy-on-extend
// builder methods. Once built it is never mutated: the planner returns
// prepared and normalized copies, and parameter placeholders keep abstract
// indices until the planner flattens them.
package query

import (
	"fmt"
	"reflect"
)

// Op identifies the kind of operation a query is being compiled for.
type Op int

const (
	// OpAll reads rows.
	OpAll Op = iota
	// OpUpdateAll mutates rows in bulk.
	OpUpdateAll
	// OpDeleteAll deletes rows in bulk.
	OpDeleteAll
)

func (o Op) String() string {
	switch o {
	case OpAll:
		return "all"
	case OpUpdateAll:
		return "update_all"
	case OpDeleteAll:
		return "delete_all"
	}
	return "unknown"
}

// IsBulk reports whether the operation mutates rows in bulk. Bulk
// operations must target a direct table source.
func (o Op) IsBulk() bool {
	return o == OpUpdateAll || o == OpDeleteAll
}

// A Source provides rows to a query: a named entity, a compiled subquery,
// or an association of an earlier source. Sealed interface.
type Source interface {
	String() string

	// source is a marker method.
	source()
}

// Table is a direct reference to a named entity.
type Table struct {
	Entity string
}

func (t *Table) String() string {
	return fmt.Sprintf("%q", t.Entity)
}

func (*Table) source() {}

// Subquery wraps a fully formed inner query used as a source of an outer
// query. The planner seals it during prepare: Select, Params and Offset are
// filled in exactly once per occurrence and field references against the
// subquery are then resolved from the cached Select without recompiling.
type Subquery struct {
	// Query is the inner query. After sealing it is the prepared form of
	// the inner query, with its own parameter indices relative to itself.
	Query *Query

	// Select is the compiled output shape of the inner query.
	Select *SelectInfo

	// Params are the inner parameters renumbered into the outer parameter
	// space, contiguous from Offset.
	Params []*Param

	// Offset is the count of parameters contributed by sources preceding
	// this subquery in the outer query.
	Offset int
}

func (s *Subquery) String() string {
	return "subquery(" + s.Query.String() + ")"
}

func (*Subquery) source() {}

// Sub wraps inner as a subquery source.
func Sub(inner *Query) *Subquery {
	return &Subquery{Query: inner}
}

// AssocSource joins the association Name declared by the source at index
// Of. The planner resolves it to the associated entity's table.
type AssocSource struct {
	Of   int
	Name string
}

func (a *AssocSource) String() string {
	return fmt.Sprintf("assoc(s%d, %s)", a.Of, a.Name)
}

func (*AssocSource) source() {}

// Qual is a join qualifier.
type Qual int

const (
	InnerJoin Qual = iota
	LeftJoin
	RightJoin
	FullJoin
	CrossJoin
)

func (q Qual) String() string {
	switch q {
	case InnerJoin:
		return "join"
	case LeftJoin:
		return "left_join"
	case RightJoin:
		return "right_join"
	case FullJoin:
		return "full_join"
	case CrossJoin:
		return "cross_join"
	}
	return "unknown_join"
}

// Join binds an additional source to the query. The joined source lives in
// the query's source list at SourceIdx; On is the join condition.
type Join struct {
	Qual      Qual
	SourceIdx int
	On        Expr
}

// Where is a filter clause.
type Where struct {
	Cond Expr
}

// Direction orders query results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Order is an ordering clause.
type Order struct {
	Expr Expr
	Dir  Direction
}

// ShapeKind discriminates the structural kind of a compiled select.
type ShapeKind int

const (
	// ShapeRow exposes the whole row of an entity.
	ShapeRow ShapeKind = iota + 1
	// ShapeMap exposes an ordered set of named fields.
	ShapeMap
	// ShapeStruct exposes an entity's full field set with some fields
	// overridden.
	ShapeStruct
	// ShapeValue is a single computed value. It is only legal for
	// top-level selects, never for subqueries.
	ShapeValue
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeRow:
		return "row"
	case ShapeMap:
		return "map"
	case ShapeStruct:
		return "struct"
	case ShapeValue:
		return "value"
	}
	return "unknown"
}

// SelectField is one field exposed by a compiled select.
type SelectField struct {
	Name string
	Type reflect.Type
}

// SelectInfo is the compiled form of a select expression: its structural
// kind, the entity backing it for row and struct shapes, and the ordered
// field list with inferred types.
type SelectInfo struct {
	Kind      ShapeKind
	Entity    string
	Fields    []SelectField
	Overrides []string
}

// Field returns the named field of the compiled select.
func (si *SelectInfo) Field(name string) (SelectField, bool) {
	for _, f := range si.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SelectField{}, false
}

// FieldNames returns the names of the compiled select's fields in order.
func (si *SelectInfo) FieldNames() []string {
	names := make([]string, len(si.Fields))
	for i, f := range si.Fields {
		names[i] = f.Name
	}
	return names
}

// Query is an immutable query tree. The zero value is not useful; build
// queries with From or FromSub and the builder methods, each of which
// returns an extended copy.
type Query struct {
	// Sources holds the from source at index 0 followed by joined sources
	// in declaration order. Field references index into this list.
	Sources []Source

	// SelectEx is the select expression, nil until given or defaulted.
	SelectEx Expr

	// SelectInfo is the compiled form of SelectEx, set by normalization.
	SelectInfo *SelectInfo

	Joins    []Join
	Wheres   []Where
	Orders   []Order
	Updates  []Assign
	Preloads []string

	// Params holds the parameter placeholders of this query's own clauses
	// in first-occurrence order. Placeholders inside subquery sources are
	// carried by the subqueries themselves.
	Params []*Param
}

// From starts a query reading the named entity.
func From(entity string) *Query {
	return &Query{Sources: []Source{&Table{Entity: entity}}}
}

// FromSub starts a query reading the given query as a subquery.
func FromSub(inner *Query) *Query {
	return &Query{Sources: []Source{Sub(inner)}}
}

// Clone returns a copy of q whose slices can be extended or repointed
// without affecting q. Expression nodes are shared: they are never mutated
// by the planner.
func (q *Query) Clone() *Query {
	c := *q
	c.Sources = append([]Source(nil), q.Sources...)
	c.Joins = append([]Join(nil), q.Joins...)
	c.Wheres = append([]Where(nil), q.Wheres...)
	c.Orders = append([]Order(nil), q.Orders...)
	c.Updates = append([]Assign(nil), q.Updates...)
	c.Preloads = append([]string(nil), q.Preloads...)
	c.Params = append([]*Param(nil), q.Params...)
	return &c
}

// collect appends the placeholders found in e to q.Params in left-to-right
// order.
func (q *Query) collect(e Expr) {
	Walk(e, func(x Expr) {
		if p, ok := x.(*Param); ok {
			q.Params = append(q.Params, p)
		}
	})
}

// Where adds a filter clause.
func (q *Query) Where(cond Expr) *Query {
	c := q.Clone()
	c.Wheres = append(c.Wheres, Where{Cond: cond})
	c.collect(cond)
	return c
}

// OrderBy adds an ordering clause.
func (q *Query) OrderBy(e Expr, dir Direction) *Query {
	c := q.Clone()
	c.Orders = append(c.Orders, Order{Expr: e, Dir: dir})
	c.collect(e)
	return c
}

// Select sets the select expression.
func (q *Query) Select(e Expr) *Query {
	c := q.Clone()
	c.SelectEx = e
	c.collect(e)
	return c
}

// Join adds src as a joined source with the given qualifier and condition.
func (q *Query) Join(qual Qual, src Source, on Expr) *Query {
	c := q.Clone()
	idx := len(c.Sources)
	c.Sources = append(c.Sources, src)
	c.Joins = append(c.Joins, Join{Qual: qual, SourceIdx: idx, On: on})
	c.collect(on)
	return c
}

// JoinAssoc joins the association named name of the source at index of.
func (q *Query) JoinAssoc(qual Qual, of int, name string, on Expr) *Query {
	return q.Join(qual, &AssocSource{Of: of, Name: name}, on)
}

// SetUpdate adds field assignments for a bulk update operation.
func (q *Query) SetUpdate(assigns ...Assign) *Query {
	c := q.Clone()
	c.Updates = append(c.Updates, assigns...)
	for _, a := range assigns {
		c.collect(a.Value)
	}
	return c
}

// Preload asks for the named associations to be loaded with the results.
func (q *Query) Preload(names ...string) *Query {
	c := q.Clone()
	c.Preloads = append(c.Preloads, names...)
	return c
}

// JoinFor returns the join clause binding the source at index idx, or nil
// if idx is the from source or out of range.
func (q *Query) JoinFor(idx int) *Join {
	for i := range q.Joins {
		if q.Joins[i].SourceIdx == idx {
			return &q.Joins[i]
		}
	}
	return nil
}
