package query

import (
	"fmt"
	"strings"
)

// String renders the query in a compact clause-per-clause form. The
// rendering appears in subquery error messages, so it favours readability
// over round-tripping.
func (q *Query) String() string {
	var b strings.Builder
	if len(q.Sources) > 0 {
		fmt.Fprintf(&b, "from s0 in %s", q.Sources[0])
	}
	for _, j := range q.Joins {
		fmt.Fprintf(&b, ", %s: s%d in %s", j.Qual, j.SourceIdx, q.Sources[j.SourceIdx])
		if j.On != nil {
			fmt.Fprintf(&b, ", on: %s", j.On)
		}
	}
	for _, a := range q.Updates {
		fmt.Fprintf(&b, ", update: %s", a)
	}
	for _, w := range q.Wheres {
		fmt.Fprintf(&b, ", where: %s", w.Cond)
	}
	for _, o := range q.Orders {
		fmt.Fprintf(&b, ", order_by: %s %s", o.Expr, o.Dir)
	}
	for _, p := range q.Preloads {
		fmt.Fprintf(&b, ", preload: %s", p)
	}
	if q.SelectEx != nil {
		fmt.Fprintf(&b, ", select: %s", q.SelectEx)
	}
	return b.String()
}
