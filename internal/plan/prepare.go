package plan

import (
	"fmt"
	"reflect"

	"github.com/canonical/queryplan/query"
	"github.com/canonical/queryplan/schema"
)

// Prepare runs the one-shot planning pass over q: it resolves sources in
// declaration order, compiles subqueries depth-first, flattens and
// renumbers parameters, infers parameter types from the fields they are
// compared against, and computes the structural cache key.
//
// The input tree is never modified: Prepare returns a prepared copy whose
// subquery sources are freshly sealed. paramBase offsets every flattened
// index, letting a caller compose the result into a larger parameter
// space.
func Prepare(q *query.Query, op query.Op, res schema.Resolver, paramBase int) (prepared *query.Query, params []*query.Param, key string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot prepare query: %w", err)
		}
	}()

	if len(q.Sources) == 0 {
		return nil, nil, "", fmt.Errorf("query has no sources")
	}

	prepared = q.Clone()

	// Bulk mutations must target a direct table source.
	if op.IsBulk() {
		if _, ok := prepared.Sources[0].(*query.Subquery); ok {
			return nil, nil, "", query.Errorf(query.SubqueryNotAllowedInBulkFrom, 0,
				"cannot use a subquery as the source of a %s operation", op)
		}
	}

	// Flattening pass. Parameter offsets are assigned strictly in source
	// declaration order: a subquery's parameters form a contiguous block
	// at its source position, a join's on-clause parameters follow the
	// joined source, and the query's own clause parameters follow in
	// occurrence order.
	n := paramBase
	copies := map[*query.Param]*query.Param{}
	var clauseParams []*query.Param
	number := func(e query.Expr) {
		query.Walk(e, func(x query.Expr) {
			if p, ok := x.(*query.Param); ok {
				cp := &query.Param{Value: p.Value, Index: n}
				copies[p] = cp
				params = append(params, cp)
				clauseParams = append(clauseParams, cp)
				n++
			}
		})
	}

	for i := range prepared.Sources {
		switch s := prepared.Sources[i].(type) {
		case *query.Table:
			if _, err := resolveFields(res, s.Entity, i); err != nil {
				return nil, nil, "", err
			}
		case *query.Subquery:
			// Seal a fresh wrapper so the input tree stays reusable
			// across attachment points.
			sealed := query.Sub(s.Query)
			subParams, err := compileSubquery(sealed, res, n)
			if err != nil {
				return nil, nil, "", err
			}
			prepared.Sources[i] = sealed
			params = append(params, subParams...)
			n += len(subParams)
		case *query.AssocSource:
			table, err := resolveAssoc(prepared, i, s, res)
			if err != nil {
				return nil, nil, "", err
			}
			prepared.Sources[i] = table
		}
		if j := prepared.JoinFor(i); j != nil && j.On != nil {
			number(j.On)
		}
	}
	for _, a := range prepared.Updates {
		number(a.Value)
	}
	for _, w := range prepared.Wheres {
		number(w.Cond)
	}
	for _, o := range prepared.Orders {
		number(o.Expr)
	}
	if prepared.SelectEx != nil {
		number(prepared.SelectEx)
	}
	prepared.Params = clauseParams

	if err := typecheck(prepared, res, copies); err != nil {
		return nil, nil, "", err
	}

	return prepared, params, cacheKey(prepared, op, len(params)), nil
}

// resolveAssoc resolves an association source to the associated entity's
// table. The owning source must expose a whole entity row: a direct table,
// or a subquery whose compiled shape is a row.
func resolveAssoc(q *query.Query, src int, a *query.AssocSource, res schema.Resolver) (*query.Table, error) {
	if a.Of < 0 || a.Of >= len(q.Sources) || a.Of == src {
		return nil, fmt.Errorf("association %q references source s%d which does not exist", a.Name, a.Of)
	}
	var entity string
	switch owner := q.Sources[a.Of].(type) {
	case *query.Table:
		entity = owner.Entity
	case *query.Subquery:
		if owner.Select == nil {
			return nil, fmt.Errorf("association %q references source s%d before it is compiled", a.Name, a.Of)
		}
		if owner.Select.Kind != query.ShapeRow {
			return nil, query.Errorf(query.AssociationRequiresSourceSchema, a.Of,
				"cannot join association %q: subquery selects a %s, not a schema row", a.Name, owner.Select.Kind)
		}
		entity = owner.Select.Entity
	default:
		return nil, fmt.Errorf("association %q references an unresolved source s%d", a.Name, a.Of)
	}

	assoc, err := res.Association(entity, a.Name)
	if err != nil {
		return nil, query.Errorf(query.UnknownAssociation, src, "%s", err)
	}
	if assoc == nil {
		return nil, query.Errorf(query.UnknownAssociation, src, "association %q is not declared by %q", a.Name, entity)
	}
	return &query.Table{Entity: assoc.Target}, nil
}

func isComparison(op query.BinOp) bool {
	switch op {
	case query.OpEq, query.OpNotEq, query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		return true
	}
	return false
}

// typecheck walks every condition expression, validating field references
// and inferring parameter types from the fields they are compared against.
// Comparisons cast the opposing operand using the field's type; for
// subquery fields that is the subquery's inferred type, not an outer
// schema's.
func typecheck(q *query.Query, res schema.Resolver, copies map[*query.Param]*query.Param) error {
	var check func(e query.Expr) error
	check = func(e query.Expr) error {
		switch v := e.(type) {
		case *query.Field:
			_, err := fieldType(q, v.Source, v.Name, res)
			return err
		case *query.Binary:
			if isComparison(v.Op) {
				if f, ok := v.Left.(*query.Field); ok {
					if err := castOperand(q, f, v.Right, res, copies); err != nil {
						return err
					}
				}
				if f, ok := v.Right.(*query.Field); ok {
					if err := castOperand(q, f, v.Left, res, copies); err != nil {
						return err
					}
				}
			}
			if err := check(v.Left); err != nil {
				return err
			}
			return check(v.Right)
		}
		return nil
	}

	for _, j := range q.Joins {
		if j.On != nil {
			if err := check(j.On); err != nil {
				return err
			}
		}
	}
	for _, a := range q.Updates {
		if err := check(a.Value); err != nil {
			return err
		}
	}
	for _, w := range q.Wheres {
		if err := check(w.Cond); err != nil {
			return err
		}
	}
	for _, o := range q.Orders {
		if err := check(o.Expr); err != nil {
			return err
		}
	}
	return nil
}

// castOperand checks that the operand compared against field f can be
// coerced to f's statically inferred type, and records that type on the
// operand's flattened parameter copy.
func castOperand(q *query.Query, f *query.Field, operand query.Expr, res schema.Resolver, copies map[*query.Param]*query.Param) error {
	ft, err := fieldType(q, f.Source, f.Name, res)
	if err != nil {
		return err
	}
	switch o := operand.(type) {
	case *query.Lit:
		if !castsTo(reflect.TypeOf(o.Value), ft) {
			return query.Errorf(query.CastError, f.Source,
				"cannot cast %#v to type %s of field %q", o.Value, ft, f.Name)
		}
	case *query.Param:
		if o.Value != nil && !castsTo(reflect.TypeOf(o.Value), ft) {
			return query.Errorf(query.CastError, f.Source,
				"cannot cast parameter %#v to type %s of field %q", o.Value, ft, f.Name)
		}
		if cp, ok := copies[o]; ok {
			cp.Type = ft
		}
	}
	return nil
}

// castsTo reports whether a value of type vt can be coerced to ft.
// Numeric widths are interchangeable; numeric-to-string conversions are
// not coercions and are rejected.
func castsTo(vt, ft reflect.Type) bool {
	if vt == nil || ft == nil {
		return true
	}
	if vt == ft || vt.AssignableTo(ft) {
		return true
	}
	return isNumeric(vt) && isNumeric(ft)
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
