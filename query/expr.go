// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package query

import (
	"fmt"
	"reflect"
	"strconv"
)

// An Expr is a node of a query expression tree. It is a sealed interface:
// only types in this package implement it, which keeps type switches over
// expressions exhaustive in the planner.
type Expr interface {
	// String returns a representation of the expression for rendering
	// queries in error messages and for debugging and testing purposes.
	String() string

	// expr is a marker method.
	expr()
}

// Field references a single field of one of the query's sources. The source
// is referenced by its position in the query's source list rather than by
// pointer, so expression trees stay acyclic.
type Field struct {
	Source int
	Name   string
}

func (f *Field) String() string {
	return "s" + strconv.Itoa(f.Source) + "." + f.Name
}

func (*Field) expr() {}

// F builds a reference to the named field of the source at index src.
func F(src int, name string) *Field {
	return &Field{Source: src, Name: name}
}

// SourceRef binds the whole row of the source at Index.
type SourceRef struct {
	Index int
}

func (s *SourceRef) String() string {
	return "s" + strconv.Itoa(s.Index)
}

func (*SourceRef) expr() {}

// Src builds a whole-row binding of the source at index i.
func Src(i int) *SourceRef {
	return &SourceRef{Index: i}
}

// Lit is a literal value embedded directly in the query.
type Lit struct {
	Value any
}

func (l *Lit) String() string {
	return fmt.Sprintf("%#v", l.Value)
}

func (*Lit) expr() {}

// V builds a literal expression holding value.
func V(value any) *Lit {
	return &Lit{Value: value}
}

// Param is a bound parameter placeholder. Its type is inferred from the
// context it is compared against during planning, and its flat index is
// assigned only when the parameter list of the whole tree is flattened.
// Until then Index is -1.
type Param struct {
	Value any
	Type  reflect.Type
	Index int
}

func (p *Param) String() string {
	if p.Index >= 0 {
		return "^" + strconv.Itoa(p.Index)
	}
	return "^?"
}

func (*Param) expr() {}

// Bind builds a parameter placeholder carrying value.
func Bind(value any) *Param {
	return &Param{Value: value, Index: -1}
}

// BinOp identifies a binary operator.
type BinOp string

const (
	OpEq    BinOp = "=="
	OpNotEq BinOp = "!="
	OpLt    BinOp = "<"
	OpLte   BinOp = "<="
	OpGt    BinOp = ">"
	OpGte   BinOp = ">="
	OpAnd   BinOp = "and"
	OpOr    BinOp = "or"
)

// Binary applies a binary operator to two operands.
type Binary struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (b *Binary) String() string {
	return b.Left.String() + " " + string(b.Op) + " " + b.Right.String()
}

func (*Binary) expr() {}

// Eq builds an equality comparison.
func Eq(left, right Expr) *Binary {
	return &Binary{Op: OpEq, Left: left, Right: right}
}

// Lt builds a less-than comparison.
func Lt(left, right Expr) *Binary {
	return &Binary{Op: OpLt, Left: left, Right: right}
}

// Gt builds a greater-than comparison.
func Gt(left, right Expr) *Binary {
	return &Binary{Op: OpGt, Left: left, Right: right}
}

// And builds a conjunction.
func And(left, right Expr) *Binary {
	return &Binary{Op: OpAnd, Left: left, Right: right}
}

// Atom is a constant map key. Map selects require their keys to be atoms so
// that the output shape of the map is statically known.
type Atom string

func (a Atom) String() string {
	return string(a)
}

func (Atom) expr() {}

// MapEntry is a single key-value pair of a map select.
type MapEntry struct {
	Key   Expr
	Value Expr
}

// MapExpr is a map literal select. Entries keep their declaration order.
type MapExpr struct {
	Entries []MapEntry
}

func (m *MapExpr) String() string {
	s := "%{"
	for i, e := range m.Entries {
		if i > 0 {
			s += ", "
		}
		if k, ok := e.Key.(Atom); ok {
			s += string(k) + ": " + e.Value.String()
		} else {
			s += e.Key.String() + " => " + e.Value.String()
		}
	}
	return s + "}"
}

func (*MapExpr) expr() {}

// Map builds a map literal select from the given entries.
func Map(entries ...MapEntry) *MapExpr {
	return &MapExpr{Entries: entries}
}

// KV builds a map entry with an atom key.
func KV(key string, value Expr) MapEntry {
	return MapEntry{Key: Atom(key), Value: value}
}

// Entry builds a map entry with an arbitrary key expression.
func Entry(key, value Expr) MapEntry {
	return MapEntry{Key: key, Value: value}
}

// Assign pairs a field name with the expression assigned to it. It is used
// by struct selects, struct updates and update clauses.
type Assign struct {
	Name  string
	Value Expr
}

func (a Assign) String() string {
	return a.Name + ": " + a.Value.String()
}

// Set builds an assignment of value to the named field.
func Set(name string, value Expr) Assign {
	return Assign{Name: name, Value: value}
}

// StructLit is a struct literal select naming an entity and a subset of its
// fields. The compiled shape always exposes the entity's full field set,
// with the named fields substituted.
type StructLit struct {
	Entity string
	Fields []Assign
}

func (s *StructLit) String() string {
	out := "%" + s.Entity + "{"
	for i, a := range s.Fields {
		if i > 0 {
			out += ", "
		}
		out += a.String()
	}
	return out + "}"
}

func (*StructLit) expr() {}

// Struct builds a struct literal select for the named entity.
func Struct(entity string, fields ...Assign) *StructLit {
	return &StructLit{Entity: entity, Fields: fields}
}

// StructUpdate is the override form of a select: the base row binding with
// some of its fields substituted.
type StructUpdate struct {
	Base      Expr
	Overrides []Assign
}

func (s *StructUpdate) String() string {
	out := "%{" + s.Base.String()
	for i, a := range s.Overrides {
		if i == 0 {
			out += " | "
		} else {
			out += ", "
		}
		out += a.String()
	}
	return out + "}"
}

func (*StructUpdate) expr() {}

// Update builds a struct update select of base with the given overrides.
func Update(base Expr, overrides ...Assign) *StructUpdate {
	return &StructUpdate{Base: base, Overrides: overrides}
}

// Merge combines two map or struct selects, the right side winning per key.
type Merge struct {
	Left  Expr
	Right Expr
}

func (m *Merge) String() string {
	return "merge(" + m.Left.String() + ", " + m.Right.String() + ")"
}

func (*Merge) expr() {}

// MergeOf builds a merge of the left and right selects.
func MergeOf(left, right Expr) *Merge {
	return &Merge{Left: left, Right: right}
}

// Walk visits e and its children in left-to-right syntactic order. It is
// the traversal the planner uses to collect parameter placeholders, so the
// visit order defines parameter occurrence order.
func Walk(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch v := e.(type) {
	case *Binary:
		Walk(v.Left, visit)
		Walk(v.Right, visit)
	case *MapExpr:
		for _, en := range v.Entries {
			Walk(en.Key, visit)
			Walk(en.Value, visit)
		}
	case *StructLit:
		for _, a := range v.Fields {
			Walk(a.Value, visit)
		}
	case *StructUpdate:
		Walk(v.Base, visit)
		for _, a := range v.Overrides {
			Walk(a.Value, visit)
		}
	case *Merge:
		Walk(v.Left, visit)
		Walk(v.Right, visit)
	}
}
