package plan

import (
	"github.com/canonical/queryplan/query"
	"github.com/canonical/queryplan/schema"
)

// compileSubquery prepares sq's inner query exactly as a top-level query
// (resolving its own nested subqueries first, depth-first), seals its
// output shape on the Subquery, and renumbers its parameters into the
// outer parameter space starting at offset.
//
// Failures arising strictly inside the inner compilation, select shape
// compilation included, are wrapped in a SubqueryError. The update
// and preload rejections are this, the outer, compilation's own checks and
// are raised unwrapped.
func compileSubquery(sq *query.Subquery, res schema.Resolver, offset int) ([]*query.Param, error) {
	inner := sq.Query

	prepared, innerParams, _, err := Prepare(inner, query.OpAll, res, 0)
	if err != nil {
		return nil, &query.SubqueryError{Err: err, Query: inner}
	}

	if len(prepared.Updates) > 0 {
		return nil, query.Errorf(query.IllegalUpdateInSubquery, -1, "cannot use update clauses in a subquery")
	}
	if len(prepared.Preloads) > 0 {
		return nil, query.Errorf(query.IllegalPreloadInSubquery, -1, "cannot preload associations in a subquery")
	}

	si, err := compileSelect(prepared, res, true)
	if err != nil {
		return nil, &query.SubqueryError{Err: err, Query: inner}
	}
	if prepared.SelectEx == nil {
		prepared.SelectEx = query.Src(0)
	}

	sq.Query = prepared
	sq.Select = si
	sq.Offset = offset
	sq.Params = renumber(innerParams, offset)
	return sq.Params, nil
}

// renumber returns copies of params shifted by offset, preserving the
// inferred types. The originals keep their indices relative to their own
// query, so a subquery can be attached at different outer positions.
func renumber(params []*query.Param, offset int) []*query.Param {
	out := make([]*query.Param, len(params))
	for i, p := range params {
		out[i] = &query.Param{Value: p.Value, Type: p.Type, Index: p.Index + offset}
	}
	return out
}
