package plan

import (
	"errors"

	. "gopkg.in/check.v1"

	"github.com/canonical/queryplan/query"
)

type PrepareSuite struct{}

var _ = Suite(&PrepareSuite{})

func paramValues(params []*query.Param) []any {
	vals := make([]any, len(params))
	for i, p := range params {
		vals[i] = p.Value
	}
	return vals
}

func paramIndices(params []*query.Param) []int {
	idx := make([]int, len(params))
	for i, p := range params {
		idx[i] = p.Index
	}
	return idx
}

func (s *PrepareSuite) TestSimpleQuery(c *C) {
	res := blogResolver(c)
	q := query.From("posts").Where(query.Eq(query.F(0, "title"), query.Bind("hello")))

	prepared, params, key, err := Prepare(q, query.OpAll, res, 0)
	c.Assert(err, IsNil)
	c.Assert(params, HasLen, 1)
	c.Assert(params[0].Index, Equals, 0)
	c.Assert(params[0].Value, Equals, "hello")
	c.Assert(params[0].Type, Equals, stringType)
	c.Assert(key, Equals, "all/1/posts")
	c.Assert(prepared.Params, DeepEquals, params)

	// The input tree is untouched.
	c.Assert(q.Params[0].Index, Equals, -1)
	c.Assert(q.Params[0].Type, IsNil)
}

func (s *PrepareSuite) TestNoSources(c *C) {
	res := blogResolver(c)
	_, _, _, err := Prepare(&query.Query{}, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches, "cannot prepare query: query has no sources")
}

func (s *PrepareSuite) TestSubqueryParamsPrecedeOuterParams(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Where(query.Eq(query.F(0, "title"), query.Bind("x")))
	outer := query.FromSub(inner).Where(query.Eq(query.F(0, "title"), query.Bind("y")))

	prepared, params, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, IsNil)
	c.Assert(paramValues(params), DeepEquals, []any{"x", "y"})
	c.Assert(paramIndices(params), DeepEquals, []int{0, 1})

	// The query's own clause parameters exclude the subquery block.
	c.Assert(paramValues(prepared.Params), DeepEquals, []any{"y"})

	sub := prepared.Sources[0].(*query.Subquery)
	c.Assert(sub.Offset, Equals, 0)
	c.Assert(paramIndices(sub.Params), DeepEquals, []int{0})
	// The sealed inner query keeps indices relative to itself.
	c.Assert(paramIndices(sub.Query.Params), DeepEquals, []int{0})
	c.Assert(sub.Select.Kind, Equals, query.ShapeRow)
	c.Assert(sub.Select.FieldNames(), DeepEquals, []string{"id", "title", "text"})

	// The input tree keeps its unsealed wrapper.
	orig := outer.Sources[0].(*query.Subquery)
	c.Assert(orig.Select, IsNil)
	c.Assert(orig.Params, IsNil)
}

func (s *PrepareSuite) TestParamOffsetsFollowSourceOrder(c *C) {
	res := blogResolver(c)
	inner1 := query.From("posts").Where(query.And(
		query.Eq(query.F(0, "title"), query.Bind("a")),
		query.Eq(query.F(0, "text"), query.Bind("b")),
	))
	inner2 := query.From("comments").Where(query.Eq(query.F(0, "text"), query.Bind("z")))

	outer := query.FromSub(inner1).
		Join(query.InnerJoin, query.Sub(inner2), query.And(
			query.Eq(query.F(1, "post_id"), query.F(0, "id")),
			query.Eq(query.F(1, "text"), query.Bind("j")),
		)).
		Where(query.Eq(query.F(0, "id"), query.Bind(7)))

	_, params, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, IsNil)
	c.Assert(paramValues(params), DeepEquals, []any{"a", "b", "z", "j", 7})
	c.Assert(paramIndices(params), DeepEquals, []int{0, 1, 2, 3, 4})

	// Types are inferred from the fields the parameters are compared
	// against, through subquery field lists included.
	c.Assert(params[3].Type, Equals, stringType)
	c.Assert(params[4].Type, Equals, intType)
}

func (s *PrepareSuite) TestParamBaseShiftsEveryIndex(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Where(query.Eq(query.F(0, "title"), query.Bind("x")))
	outer := query.FromSub(inner).Where(query.Eq(query.F(0, "title"), query.Bind("y")))

	prepared, params, _, err := Prepare(outer, query.OpAll, res, 5)
	c.Assert(err, IsNil)
	c.Assert(paramIndices(params), DeepEquals, []int{5, 6})
	c.Assert(prepared.Sources[0].(*query.Subquery).Offset, Equals, 5)
}

func (s *PrepareSuite) TestCastLiteralAgainstSchemaField(c *C) {
	res := blogResolver(c)
	q := query.From("posts").Where(query.Eq(query.F(0, "id"), query.V("x")))
	_, _, _, err := Prepare(q, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches, `cannot prepare query: cannot cast "x" to type int64 of field "id" \(source 0\)`)
	c.Assert(query.HasKind(err, query.CastError), Equals, true)
}

func (s *PrepareSuite) TestNumericWidthsAreInterchangeable(c *C) {
	res := blogResolver(c)
	q := query.From("posts").Where(query.Eq(query.F(0, "id"), query.V(12)))
	_, _, _, err := Prepare(q, query.OpAll, res, 0)
	c.Assert(err, IsNil)
}

func (s *PrepareSuite) TestCastAgainstSubqueryFieldType(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Select(query.Map(query.KV("title", query.F(0, "title"))))
	outer := query.FromSub(inner).Where(query.Eq(query.F(0, "title"), query.V(12)))

	_, _, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches, `cannot prepare query: cannot cast 12 to type string of field "title" \(source 0\)`)
	c.Assert(query.HasKind(err, query.CastError), Equals, true)
	var se *query.SubqueryError
	c.Assert(errors.As(err, &se), Equals, false)
}

func (s *PrepareSuite) TestUnknownFieldInSubquery(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Select(query.F(0, "title"))
	outer := query.FromSub(inner).Where(query.Eq(query.F(0, "nope"), query.V(1)))

	_, _, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches, `cannot prepare query: field "nope" does not exist in subquery \(source 0\)`)
	c.Assert(query.HasKind(err, query.UnknownFieldInSubquery), Equals, true)
}

func (s *PrepareSuite) TestSubqueryFailureIsWrapped(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Where(query.Eq(query.F(0, "id"), query.V("x")))
	outer := query.FromSub(inner)

	_, _, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches,
		`cannot prepare query: cannot prepare query: cannot cast "x" to type int64 of field "id" \(source 0\): `+
			`while compiling a subquery: from s0 in "posts", where: s0\.id == "x"`)

	// Cast failures stay inspectable through the subquery boundary.
	c.Assert(query.HasKind(err, query.CastError), Equals, true)
	var se *query.SubqueryError
	c.Assert(errors.As(err, &se), Equals, true)
	c.Assert(se.Query, Equals, inner)
}

func (s *PrepareSuite) TestSubqueryFailureIsOpaqueForOtherKinds(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Select(query.Map(
		query.Entry(query.F(0, "id"), query.F(0, "title")),
	))
	outer := query.FromSub(inner)

	_, _, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches,
		`cannot prepare query: map select keys must be atoms, got: s0\.id: `+
			`while compiling a subquery: from s0 in "posts", select: .*`)
	c.Assert(query.HasKind(err, query.InvalidMapKey), Equals, false)
	var se *query.SubqueryError
	c.Assert(errors.As(err, &se), Equals, true)
}

func (s *PrepareSuite) TestIllegalUpdateInSubquery(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").SetUpdate(query.Set("title", query.V("x")))
	outer := query.FromSub(inner)

	_, _, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches, "cannot prepare query: cannot use update clauses in a subquery")
	c.Assert(query.HasKind(err, query.IllegalUpdateInSubquery), Equals, true)
}

func (s *PrepareSuite) TestIllegalPreloadInSubquery(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Preload("comments")
	outer := query.FromSub(inner)

	_, _, _, err := Prepare(outer, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches, "cannot prepare query: cannot preload associations in a subquery")
	c.Assert(query.HasKind(err, query.IllegalPreloadInSubquery), Equals, true)
}

func (s *PrepareSuite) TestBulkFromSubquery(c *C) {
	res := blogResolver(c)
	outer := query.FromSub(query.From("posts"))

	for _, op := range []query.Op{query.OpUpdateAll, query.OpDeleteAll} {
		_, _, _, err := Prepare(outer, op, res, 0)
		c.Assert(err, ErrorMatches,
			"cannot prepare query: cannot use a subquery as the source of a "+op.String()+` operation \(source 0\)`)
		c.Assert(query.HasKind(err, query.SubqueryNotAllowedInBulkFrom), Equals, true)
	}
}

func (s *PrepareSuite) TestAssociationJoin(c *C) {
	res := blogResolver(c)
	q := query.From("posts").JoinAssoc(query.InnerJoin, 0, "comments",
		query.Eq(query.F(1, "post_id"), query.F(0, "id")))

	prepared, _, key, err := Prepare(q, query.OpAll, res, 0)
	c.Assert(err, IsNil)
	c.Assert(prepared.Sources[1], DeepEquals, &query.Table{Entity: "comments"})
	c.Assert(key, Equals, "all/0/posts/comments")

	// The input tree keeps the unresolved association source.
	c.Assert(q.Sources[1], FitsTypeOf, &query.AssocSource{})
}

func (s *PrepareSuite) TestAssociationJoinOffRowSubquery(c *C) {
	res := blogResolver(c)
	q := query.FromSub(query.From("posts")).JoinAssoc(query.InnerJoin, 0, "comments",
		query.Eq(query.F(1, "post_id"), query.F(0, "id")))

	prepared, _, _, err := Prepare(q, query.OpAll, res, 0)
	c.Assert(err, IsNil)
	c.Assert(prepared.Sources[1], DeepEquals, &query.Table{Entity: "comments"})
}

func (s *PrepareSuite) TestAssociationJoinNeedsRowShape(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Select(query.F(0, "title"))
	q := query.FromSub(inner).JoinAssoc(query.InnerJoin, 0, "comments", nil)

	_, _, _, err := Prepare(q, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches,
		`cannot prepare query: cannot join association "comments": subquery selects a map, not a schema row \(source 0\)`)
	c.Assert(query.HasKind(err, query.AssociationRequiresSourceSchema), Equals, true)
}

func (s *PrepareSuite) TestUnknownAssociation(c *C) {
	res := blogResolver(c)
	q := query.From("posts").JoinAssoc(query.InnerJoin, 0, "tags", nil)

	_, _, _, err := Prepare(q, query.OpAll, res, 0)
	c.Assert(err, ErrorMatches,
		`cannot prepare query: association "tags" is not declared by "posts" \(source 1\)`)
	c.Assert(query.HasKind(err, query.UnknownAssociation), Equals, true)
}

func (s *PrepareSuite) TestCacheKeyIsStructural(c *C) {
	res := blogResolver(c)

	build := func(title string) *query.Query {
		inner := query.From("posts").Where(query.Eq(query.F(0, "title"), query.Bind(title)))
		return query.FromSub(inner).Select(query.F(0, "id"))
	}

	_, _, key1, err := Prepare(build("a"), query.OpAll, res, 0)
	c.Assert(err, IsNil)
	_, _, key2, err := Prepare(build("b"), query.OpAll, res, 0)
	c.Assert(err, IsNil)
	// Parameter values never enter the key.
	c.Assert(key1, Equals, key2)

	_, _, key3, err := Prepare(query.FromSub(query.From("posts")), query.OpAll, res, 0)
	c.Assert(err, IsNil)
	c.Assert(key3, Not(Equals), key1)
	c.Assert(key3, Equals, "all/0/subquery(all/0/posts/select=s0)")

	_, _, key4, err := Prepare(query.From("posts"), query.OpAll, res, 0)
	c.Assert(err, IsNil)
	c.Assert(key4, Equals, "all/0/posts")
}
