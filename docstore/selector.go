// Selector construction for Search and Find.
//
// Simple field→value criteria are translated into the backend's native
// (Mango-style) selector syntax. Fuzzy criteria become $regex clauses
// with the literal value quoted, so user input can never inject pattern
// metacharacters; case-insensitive matching prefixes the pattern with
// (?i), the same toggle Search uses elsewhere in this codebase. Field
// order is sorted so the same criteria always produce the same selector.
package docstore

import (
	"fmt"
	"regexp"
	"slices"
)

// Criterion is one field's match rule: exact equality or substring.
type Criterion struct {
	Value           any
	Exact           bool
	CaseInsensitive bool
}

// clause renders the Criterion as a selector fragment.
func (c Criterion) clause() any {
	if c.Exact {
		return c.Value
	}
	pattern := regexp.QuoteMeta(fmt.Sprint(c.Value))
	if c.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	return map[string]any{"$regex": pattern}
}

// buildSelector translates a criteria map into a native selector.
// MatchAll produces a flat conjunction (implicit AND); otherwise the
// result is an explicit $or of single-field sub-selectors. Fields with
// empty or zero values still produce clauses — excluding unwanted fields
// is the caller's job.
func buildSelector(criteria map[string]any, opts SearchOptions) map[string]any {
	fields := make([]string, 0, len(criteria))
	for f := range criteria {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	clause := func(f string) any {
		if c, ok := criteria[f].(Criterion); ok {
			return c.clause()
		}
		c := Criterion{Value: criteria[f], Exact: opts.Exact, CaseInsensitive: opts.IgnoreCase}
		return c.clause()
	}

	if opts.MatchAll {
		sel := make(map[string]any, len(fields))
		for _, f := range fields {
			sel[f] = clause(f)
		}
		return sel
	}

	or := make([]any, 0, len(fields))
	for _, f := range fields {
		or = append(or, map[string]any{f: clause(f)})
	}
	return map[string]any{"$or": or}
}
