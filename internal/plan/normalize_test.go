package plan

import (
	. "gopkg.in/check.v1"

	"github.com/canonical/queryplan/query"
)

type NormalizeSuite struct{}

var _ = Suite(&NormalizeSuite{})

func (s *NormalizeSuite) prepare(c *C, q *query.Query, op query.Op) *query.Query {
	res := blogResolver(c)
	prepared, _, _, err := Prepare(q, op, res, 0)
	c.Assert(err, IsNil)
	return prepared
}

func (s *NormalizeSuite) TestDefaultSelect(c *C) {
	res := blogResolver(c)
	prepared := s.prepare(c, query.From("posts"), query.OpAll)

	normalized, err := Normalize(prepared, query.OpAll, res)
	c.Assert(err, IsNil)
	c.Assert(normalized.SelectEx, DeepEquals, query.Src(0))
	c.Assert(normalized.SelectInfo.Kind, Equals, query.ShapeRow)
	c.Assert(normalized.SelectInfo.FieldNames(), DeepEquals, []string{"id", "title", "text"})

	// The prepared query is untouched.
	c.Assert(prepared.SelectEx, IsNil)
	c.Assert(prepared.SelectInfo, IsNil)
}

func (s *NormalizeSuite) TestIdempotent(c *C) {
	res := blogResolver(c)
	q := query.From("posts").Where(query.Eq(query.F(0, "title"), query.Bind("x")))
	prepared := s.prepare(c, q, query.OpAll)

	once, err := Normalize(prepared, query.OpAll, res)
	c.Assert(err, IsNil)
	twice, err := Normalize(once, query.OpAll, res)
	c.Assert(err, IsNil)

	c.Assert(twice.SelectInfo, DeepEquals, once.SelectInfo)
	c.Assert(twice.Params, DeepEquals, once.Params)
	c.Assert(twice.Params[0], Equals, once.Params[0])
}

func (s *NormalizeSuite) TestBulkKeepsSelectEmpty(c *C) {
	res := blogResolver(c)
	q := query.From("posts").SetUpdate(query.Set("title", query.V("t")))
	prepared := s.prepare(c, q, query.OpUpdateAll)

	normalized, err := Normalize(prepared, query.OpUpdateAll, res)
	c.Assert(err, IsNil)
	c.Assert(normalized.SelectEx, IsNil)
	c.Assert(normalized.SelectInfo, IsNil)
}

func (s *NormalizeSuite) TestUpdateAllNeedsAssignments(c *C) {
	res := blogResolver(c)
	prepared := s.prepare(c, query.From("posts"), query.OpAll)

	_, err := Normalize(prepared, query.OpUpdateAll, res)
	c.Assert(err, ErrorMatches, "cannot normalize query: update_all requires at least one field assignment")
}

func (s *NormalizeSuite) TestBulkFromSubquery(c *C) {
	res := blogResolver(c)
	prepared := s.prepare(c, query.FromSub(query.From("posts")), query.OpAll)

	_, err := Normalize(prepared, query.OpDeleteAll, res)
	c.Assert(err, ErrorMatches,
		`cannot normalize query: cannot use a subquery as the source of a delete_all operation \(source 0\)`)
	c.Assert(query.HasKind(err, query.SubqueryNotAllowedInBulkFrom), Equals, true)
}

func (s *NormalizeSuite) TestSubsetOfShapedSubqueryIsRejected(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Select(query.Map(
		query.KV("a", query.F(0, "id")),
		query.KV("b", query.F(0, "title")),
	))
	outer := query.FromSub(inner).Select(query.Map(
		query.KV("x", query.F(0, "a")),
		query.KV("y", query.F(0, "b")),
	))
	prepared := s.prepare(c, outer, query.OpAll)

	_, err := Normalize(prepared, query.OpAll, res)
	c.Assert(err, ErrorMatches,
		`cannot normalize query: cannot select a subset of fields from a map shaped subquery, `+
			`select the whole binding or a single field \(source 0\)`)
	c.Assert(query.HasKind(err, query.CannotSubsetSubqueryStruct), Equals, true)
}

func (s *NormalizeSuite) TestWholeBindingAndSingleFieldAreAllowed(c *C) {
	res := blogResolver(c)
	inner := query.From("posts").Select(query.Map(
		query.KV("a", query.F(0, "id")),
		query.KV("b", query.F(0, "title")),
	))

	whole := s.prepare(c, query.FromSub(inner).Select(query.Src(0)), query.OpAll)
	normalized, err := Normalize(whole, query.OpAll, res)
	c.Assert(err, IsNil)
	c.Assert(normalized.SelectInfo.Kind, Equals, query.ShapeMap)
	c.Assert(normalized.SelectInfo.FieldNames(), DeepEquals, []string{"a", "b"})

	single := s.prepare(c, query.FromSub(inner).Select(query.Map(
		query.KV("x", query.F(0, "a")),
	)), query.OpAll)
	normalized, err = Normalize(single, query.OpAll, res)
	c.Assert(err, IsNil)
	c.Assert(normalized.SelectInfo.FieldNames(), DeepEquals, []string{"x"})
}

func (s *NormalizeSuite) TestRowSubqueryMayBeSubset(c *C) {
	res := blogResolver(c)
	outer := query.FromSub(query.From("posts")).Select(query.Map(
		query.KV("id", query.F(0, "id")),
		query.KV("title", query.F(0, "title")),
	))
	prepared := s.prepare(c, outer, query.OpAll)

	normalized, err := Normalize(prepared, query.OpAll, res)
	c.Assert(err, IsNil)
	c.Assert(normalized.SelectInfo.Kind, Equals, query.ShapeMap)
	c.Assert(normalized.SelectInfo.FieldNames(), DeepEquals, []string{"id", "title"})
}
