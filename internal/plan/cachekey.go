package plan

import (
	"fmt"
	"strings"

	"github.com/canonical/queryplan/query"
)

// cacheKey fingerprints the structural shape of a prepared query: the
// operation kind, the flattened parameter count, a descriptor per source
// and the select form. Subquery descriptors embed their own recursively
// computed key, so two queries share a key only when their whole trees
// share a shape. The key never includes parameter values.
func cacheKey(q *query.Query, op query.Op, nparams int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%d", op, nparams)
	for _, src := range q.Sources {
		b.WriteByte('/')
		switch s := src.(type) {
		case *query.Table:
			b.WriteString(s.Entity)
		case *query.Subquery:
			fmt.Fprintf(&b, "subquery(%s)", cacheKey(s.Query, query.OpAll, len(s.Params)))
		default:
			b.WriteString(src.String())
		}
	}
	if q.SelectEx != nil {
		fmt.Fprintf(&b, "/select=%s", q.SelectEx)
	}
	return b.String()
}
