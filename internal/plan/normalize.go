package plan

import (
	"fmt"

	"github.com/canonical/queryplan/query"
	"github.com/canonical/queryplan/schema"
)

// Normalize runs the final pass over a prepared query: it defaults a
// missing select, enforces the subquery subset rule, and expands the
// select into its compiled field list. Parameters are untouched, so
// normalizing an already normalized query neither reorders nor duplicates
// them.
func Normalize(q *query.Query, op query.Op, res schema.Resolver) (normalized *query.Query, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot normalize query: %w", err)
		}
	}()

	if len(q.Sources) == 0 {
		return nil, fmt.Errorf("query has no sources")
	}

	out := q.Clone()

	if op.IsBulk() {
		if _, ok := out.Sources[0].(*query.Subquery); ok {
			return nil, query.Errorf(query.SubqueryNotAllowedInBulkFrom, 0,
				"cannot use a subquery as the source of a %s operation", op)
		}
		if op == query.OpUpdateAll && len(out.Updates) == 0 {
			return nil, fmt.Errorf("update_all requires at least one field assignment")
		}
	} else if out.SelectEx == nil {
		out.SelectEx = query.Src(0)
	}

	if err := checkSubsetSelect(out); err != nil {
		return nil, err
	}

	if out.SelectEx != nil {
		si, err := compileSelect(out, res, false)
		if err != nil {
			return nil, err
		}
		out.SelectInfo = si
	}
	return out, nil
}

// checkSubsetSelect rejects selects taking a list subset of named fields
// from a map or struct shaped subquery binding. Such a binding is
// monolithic: either the whole bound value or a single named field may be
// selected, never an arbitrary subset.
func checkSubsetSelect(q *query.Query) error {
	m, ok := q.SelectEx.(*query.MapExpr)
	if !ok {
		return nil
	}
	refs := map[int]int{}
	for _, en := range m.Entries {
		if f, ok := en.Value.(*query.Field); ok {
			refs[f.Source]++
		}
	}
	for src, count := range refs {
		if count < 2 || src < 0 || src >= len(q.Sources) {
			continue
		}
		sq, ok := q.Sources[src].(*query.Subquery)
		if !ok || sq.Select == nil {
			continue
		}
		if (sq.Select.Kind == query.ShapeMap || sq.Select.Kind == query.ShapeStruct) && len(sq.Select.Fields) > 1 {
			return query.Errorf(query.CannotSubsetSubqueryStruct, src,
				"cannot select a subset of fields from a %s shaped subquery, select the whole binding or a single field", sq.Select.Kind)
		}
	}
	return nil
}
