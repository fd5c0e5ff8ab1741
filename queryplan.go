// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package queryplan

import (
	"github.com/canonical/queryplan/internal/plan"
	"github.com/canonical/queryplan/query"
	"github.com/canonical/queryplan/schema"
)

// Op identifies the kind of operation a query is compiled for.
type Op = query.Op

const (
	OpAll       = query.OpAll
	OpUpdateAll = query.OpUpdateAll
	OpDeleteAll = query.OpDeleteAll
)

// CacheKey is a structural fingerprint of a prepared query. Two queries
// share a key exactly when their compiled shapes are identical, so the key
// can be used to deduplicate plans without comparing full trees.
type CacheKey string

func (k CacheKey) String() string {
	return string(k)
}

// A Plan is a prepared query ready to be normalized and handed to a
// storage adapter. A Plan is immutable and safe for concurrent use.
type Plan struct {
	query  *query.Query
	params []*query.Param
	key    CacheKey
	op     Op
	res    schema.Resolver
}

// Prepare runs the one-shot planning pass over q for the given operation
// kind: schema resolution, depth-first subquery compilation, parameter
// flattening and type inference. paramBase offsets every parameter index,
// letting a caller compose the plan into a larger parameter space; pass 0
// for a standalone query.
//
// The input query is not modified.
func Prepare(q *query.Query, op Op, res schema.Resolver, paramBase int) (*Plan, error) {
	prepared, params, key, err := plan.Prepare(q, op, res, paramBase)
	if err != nil {
		return nil, err
	}
	return &Plan{query: prepared, params: params, key: CacheKey(key), op: op, res: res}, nil
}

// MustPrepare is the same as [Prepare] except that it panics on error.
func MustPrepare(q *query.Query, op Op, res schema.Resolver, paramBase int) *Plan {
	p, err := Prepare(q, op, res, paramBase)
	if err != nil {
		panic(err)
	}
	return p
}

// Query returns the prepared query tree.
func (p *Plan) Query() *query.Query {
	return p.query
}

// Params returns the flattened parameter list. Parameters appear in
// left-to-right syntactic occurrence order across the whole original
// tree, each subquery contributing a contiguous block at its source
// position.
func (p *Plan) Params() []*query.Param {
	return p.params
}

// Key returns the plan's structural cache key.
func (p *Plan) Key() CacheKey {
	return p.key
}

// Normalize runs the final pass over the prepared query and returns the
// execution-ready tree: the select is defaulted and expanded into its
// compiled field list, and the remaining structural rules are enforced.
func (p *Plan) Normalize() (*query.Query, error) {
	return plan.Normalize(p.query, p.op, p.res)
}

// Normalize runs the final normalization pass over an already prepared
// query. It is exposed for callers that hold prepared trees directly; most
// callers use [Plan.Normalize].
func Normalize(prepared *query.Query, op Op, res schema.Resolver) (*query.Query, error) {
	return plan.Normalize(prepared, op, res)
}
