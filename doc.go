/*
Package queryplan compiles declarative, composable query trees, including
nested subqueries, into validated, parameter-indexed, field-resolved
execution plans.

The package does not generate SQL and does not talk to a database. It sits
between a query-building surface and a storage adapter: the surface hands
it an immutable query tree, and the adapter receives a prepared tree, a
flat parameter list and a structural cache key.

# Basics

Queries are built with the constructors in the query subpackage. Given a
schema resolver that knows a "posts" entity:

	q := query.From("posts").
		Where(query.Eq(query.F(0, "title"), query.Bind("hello"))).
		Select(query.Src(0))

	p, err := queryplan.Prepare(q, queryplan.OpAll, resolver, 0)
	if err != nil {
		...
	}
	normalized, err := p.Normalize()

Prepare resolves every source, compiles subqueries depth-first, flattens
bound parameters into a single list in left-to-right occurrence order and
infers their types from the fields they are compared against. Normalize
defaults and expands the select and applies the final structural rules.

Plans carry a structural cache key that never includes parameter values.
Two plans share a key exactly when their compiled shapes are identical,
so callers can deduplicate downstream work without comparing full trees.

# Subqueries

A query can read another query as a source:

	inner := query.From("posts").Select(query.Map(
		query.KV("id", query.F(0, "id")),
		query.KV("title", query.F(0, "title")),
	))
	outer := query.FromSub(inner).
		Where(query.Eq(query.F(0, "title"), query.Bind("hello")))

The inner query is compiled exactly once per occurrence. Its select is
sealed into a fixed output shape (a whole entity row, an ordered map, or
a struct with overridden fields) and outer field references resolve
against that shape rather than against a table. The inner query's
parameters are renumbered into a contiguous block of the outer parameter
list, positioned by source declaration order.

Compilation failures inside a subquery are reported as a
query.SubqueryError that renders the offending subquery. Cast failures and
unknown subquery fields remain matchable through the wrapper with
errors.As; every other inner failure is reported through the wrapper's
message alone.

# Schema resolution

Entity metadata comes from a schema.Resolver. The schema subpackage ships
three: a reflection resolver over db-tagged Go structs, a YAML resolver
over a schema document, and a SQLite resolver that introspects a live
database.
*/
package queryplan
