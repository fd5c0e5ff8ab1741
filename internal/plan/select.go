// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package plan compiles query trees into validated, parameter-indexed,
// field-resolved execution plans.
package plan

import (
	"fmt"
	"reflect"

	"github.com/canonical/queryplan/query"
	"github.com/canonical/queryplan/schema"
)

// resolveFields fetches entity's declared fields through the resolver,
// folding resolver misses into the compile error taxonomy.
func resolveFields(res schema.Resolver, entity string, src int) ([]schema.Field, error) {
	fields, err := res.Fields(entity)
	if err != nil {
		return nil, query.Errorf(query.UnknownEntity, src, "%s", err)
	}
	return fields, nil
}

// rowFields converts resolver fields into select fields, preserving the
// declaration order.
func rowFields(fields []schema.Field) []query.SelectField {
	out := make([]query.SelectField, len(fields))
	for i, f := range fields {
		out[i] = query.SelectField{Name: f.Name, Type: f.Type}
	}
	return out
}

// sourceInfo returns the output shape of the source at index src: the
// entity row for tables, the cached compiled shape for subqueries.
func sourceInfo(q *query.Query, src int, res schema.Resolver) (*query.SelectInfo, error) {
	if src < 0 || src >= len(q.Sources) {
		return nil, fmt.Errorf("internal error: source s%d out of range", src)
	}
	switch s := q.Sources[src].(type) {
	case *query.Table:
		fields, err := resolveFields(res, s.Entity, src)
		if err != nil {
			return nil, err
		}
		return &query.SelectInfo{Kind: query.ShapeRow, Entity: s.Entity, Fields: rowFields(fields)}, nil
	case *query.Subquery:
		if s.Select == nil {
			return nil, fmt.Errorf("internal error: subquery at source s%d is not compiled", src)
		}
		return s.Select, nil
	}
	return nil, fmt.Errorf("internal error: unresolved source s%d (%s)", src, q.Sources[src])
}

// fieldType resolves the type of the named field on the source at index
// src. For subquery sources the type comes from the subquery's compiled
// field list, never from re-running select compilation.
func fieldType(q *query.Query, src int, name string, res schema.Resolver) (reflect.Type, error) {
	if src < 0 || src >= len(q.Sources) {
		return nil, fmt.Errorf("internal error: source s%d out of range", src)
	}
	switch s := q.Sources[src].(type) {
	case *query.Table:
		fields, err := resolveFields(res, s.Entity, src)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if f.Name == name {
				return f.Type, nil
			}
		}
		return nil, query.Errorf(query.UnknownField, src, "field %q is not declared by %q", name, s.Entity)
	case *query.Subquery:
		if s.Select == nil {
			return nil, fmt.Errorf("internal error: subquery at source s%d is not compiled", src)
		}
		f, ok := s.Select.Field(name)
		if !ok {
			return nil, query.Errorf(query.UnknownFieldInSubquery, src, "field %q does not exist in subquery", name)
		}
		return f.Type, nil
	}
	return nil, fmt.Errorf("internal error: unresolved source s%d (%s)", src, q.Sources[src])
}

// valueType infers the type of a select map value or comparison operand.
func valueType(q *query.Query, e query.Expr, res schema.Resolver) (reflect.Type, error) {
	switch v := e.(type) {
	case *query.Field:
		return fieldType(q, v.Source, v.Name, res)
	case *query.Lit:
		return reflect.TypeOf(v.Value), nil
	case *query.Param:
		if v.Type != nil {
			return v.Type, nil
		}
		return reflect.TypeOf(v.Value), nil
	case *query.Binary:
		return reflect.TypeOf(false), nil
	}
	return nil, fmt.Errorf("cannot infer the type of %s", e)
}

// compileSelect compiles q's select expression into its output shape,
// defaulting a missing select to the whole row of the first source. sub
// reports whether q is being compiled as a subquery, which restricts the
// legal select shapes.
func compileSelect(q *query.Query, res schema.Resolver, sub bool) (*query.SelectInfo, error) {
	e := q.SelectEx
	if e == nil {
		e = query.Src(0)
	}
	return compileSelectExpr(q, e, res, sub)
}

func compileSelectExpr(q *query.Query, e query.Expr, res schema.Resolver, sub bool) (*query.SelectInfo, error) {
	switch v := e.(type) {
	case *query.SourceRef:
		return sourceInfo(q, v.Index, res)
	case *query.Field:
		t, err := fieldType(q, v.Source, v.Name, res)
		if err != nil {
			return nil, err
		}
		return &query.SelectInfo{Kind: query.ShapeMap, Fields: []query.SelectField{{Name: v.Name, Type: t}}}, nil
	case *query.MapExpr:
		return compileMapSelect(q, v, res)
	case *query.StructLit:
		return compileStructLit(q, v, res)
	case *query.StructUpdate:
		return compileStructUpdate(q, v, res)
	case *query.Merge:
		return compileMerge(q, v, res, sub)
	}
	if sub {
		return nil, query.Errorf(query.UnsupportedSubquerySelect, -1,
			"subquery must select a source, a single field, a map or a merge, got: %s", e)
	}
	// Arbitrary computed expressions are fine at the top level.
	t, err := valueType(q, e, res)
	if err != nil {
		return nil, err
	}
	return &query.SelectInfo{Kind: query.ShapeValue, Fields: []query.SelectField{{Type: t}}}, nil
}

// compileMapSelect compiles a map literal select. Keys must be atoms so
// the map's shape is statically known; entries keep declaration order.
func compileMapSelect(q *query.Query, m *query.MapExpr, res schema.Resolver) (*query.SelectInfo, error) {
	si := &query.SelectInfo{Kind: query.ShapeMap, Fields: []query.SelectField{}}
	for _, en := range m.Entries {
		key, ok := en.Key.(query.Atom)
		if !ok {
			return nil, query.Errorf(query.InvalidMapKey, -1, "map select keys must be atoms, got: %s", en.Key)
		}
		t, err := valueType(q, en.Value, res)
		if err != nil {
			return nil, err
		}
		si.Fields = append(si.Fields, query.SelectField{Name: string(key), Type: t})
	}
	return si, nil
}

// compileStructLit compiles a struct literal select. The shape exposes the
// entity's full declared field set with the named fields substituted.
func compileStructLit(q *query.Query, s *query.StructLit, res schema.Resolver) (*query.SelectInfo, error) {
	fields, err := resolveFields(res, s.Entity, -1)
	if err != nil {
		return nil, err
	}
	base := &query.SelectInfo{Kind: query.ShapeRow, Entity: s.Entity, Fields: rowFields(fields)}
	return applyOverrides(q, base, s.Fields, res, -1)
}

// compileStructUpdate compiles the override form of a select. The base
// must bind a whole source row.
func compileStructUpdate(q *query.Query, s *query.StructUpdate, res schema.Resolver) (*query.SelectInfo, error) {
	ref, ok := s.Base.(*query.SourceRef)
	if !ok {
		return nil, query.Errorf(query.IllegalMergeTarget, -1, "struct update base must be a source row binding, got: %s", s.Base)
	}
	base, err := sourceInfo(q, ref.Index, res)
	if err != nil {
		return nil, err
	}
	if base.Kind != query.ShapeRow && base.Kind != query.ShapeStruct {
		return nil, query.Errorf(query.IllegalMergeTarget, ref.Index, "cannot update fields of a %s select, expected a schema row", base.Kind)
	}
	return applyOverrides(q, base, s.Overrides, res, ref.Index)
}

// applyOverrides substitutes the given assignments into a row or struct
// shaped base. Every override must name a declared field.
func applyOverrides(q *query.Query, base *query.SelectInfo, overrides []query.Assign, res schema.Resolver, src int) (*query.SelectInfo, error) {
	fields := append([]query.SelectField(nil), base.Fields...)
	names := append([]string(nil), base.Overrides...)
	for _, a := range overrides {
		idx := -1
		for i, f := range fields {
			if f.Name == a.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, query.Errorf(query.InvalidMapKey, src, "%q is not a field of %q", a.Name, base.Entity)
		}
		t, err := valueType(q, a.Value, res)
		if err != nil {
			return nil, err
		}
		fields[idx].Type = t
		names = appendMissing(names, a.Name)
	}
	return &query.SelectInfo{Kind: query.ShapeStruct, Entity: base.Entity, Fields: fields, Overrides: names}, nil
}

func appendMissing(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

// compileMerge compiles a merge of two selects. Merging unions keys with
// the right side winning; merging a map into a row or struct substitutes
// the map's keys as field overrides. Every other combination is illegal.
func compileMerge(q *query.Query, m *query.Merge, res schema.Resolver, sub bool) (*query.SelectInfo, error) {
	left, err := compileSelectExpr(q, m.Left, res, sub)
	if err != nil {
		return nil, err
	}
	right, err := compileSelectExpr(q, m.Right, res, sub)
	if err != nil {
		return nil, err
	}

	switch {
	case left.Kind == query.ShapeMap && right.Kind == query.ShapeMap:
		fields := append([]query.SelectField(nil), left.Fields...)
		for _, rf := range right.Fields {
			replaced := false
			for i, lf := range fields {
				if lf.Name == rf.Name {
					fields[i] = rf
					replaced = true
					break
				}
			}
			if !replaced {
				fields = append(fields, rf)
			}
		}
		return &query.SelectInfo{Kind: query.ShapeMap, Fields: fields}, nil

	case (left.Kind == query.ShapeRow || left.Kind == query.ShapeStruct) && right.Kind == query.ShapeMap:
		fields := append([]query.SelectField(nil), left.Fields...)
		names := append([]string(nil), left.Overrides...)
		for _, rf := range right.Fields {
			idx := -1
			for i, lf := range fields {
				if lf.Name == rf.Name {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, query.Errorf(query.InvalidMapKey, -1, "%q is not a field of %q", rf.Name, left.Entity)
			}
			fields[idx].Type = rf.Type
			names = appendMissing(names, rf.Name)
		}
		return &query.SelectInfo{Kind: query.ShapeStruct, Entity: left.Entity, Fields: fields, Overrides: names}, nil

	case left.Kind == query.ShapeRow && right.Kind == query.ShapeStruct && left.Entity == right.Entity:
		// The right side already carries the full field set with its
		// overrides applied.
		return right, nil
	}

	return nil, query.Errorf(query.IllegalMergeTarget, -1, "cannot merge a %s select into a %s select", right.Kind, left.Kind)
}
