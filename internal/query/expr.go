package query

import (
	"strings"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

// Expr is a parsed field expression: BASE[-AGG1[-AGG2]] (spec.md 4.E), where
// ABS(...) may wrap whichever of BASE/AGG1/AGG2 is last. Agg1/Agg2 are "" when
// absent.
type Expr struct {
	Raw  string
	Abs  bool
	Base string
	Agg1 string
	Agg2 string
}

var validAggs = map[string]bool{"AVG": true, "MAX": true, "MIN": true}

// Level returns the expression's aggregation level: 0 (raw), 1 (across
// IDs within a group), or 2 (across IDs then across LIDs).
func (e Expr) Level() int {
	switch {
	case e.Agg1 == "":
		return 0
	case e.Agg2 == "":
		return 1
	default:
		return 2
	}
}

// ParseExpr parses one field-expression token: BASE[-AGG1[-AGG2]], where
// ABS(...) wraps whichever segment is last (the base field itself at level
// 0, AGG1 at level 1, AGG2 at level 2) rather than the whole token. Grounded
// on original_source/loadit/database.py's is_abs, applied to field at level
// 0 and to field.split('-')[-1] at level >= 1.
func ParseExpr(tok string) (Expr, error) {
	e := Expr{Raw: tok}
	if tok == "" {
		return Expr{}, loaditerr.Newf(loaditerr.KindInvalidQuery, "empty field expression: %q", tok)
	}

	parts := strings.Split(tok, "-")
	if len(parts) > 3 {
		return Expr{}, loaditerr.Newf(loaditerr.KindInvalidQuery, "too many aggregation stages in %q", tok)
	}

	last := len(parts) - 1
	parts[last], e.Abs = stripAbs(parts[last])

	e.Base = parts[0]
	if e.Base == "" {
		return Expr{}, loaditerr.Newf(loaditerr.KindInvalidQuery, "missing base field in %q", tok)
	}

	switch len(parts) {
	case 1:
	case 2:
		e.Agg1 = parts[1]
	case 3:
		e.Agg1, e.Agg2 = parts[1], parts[2]
	}

	for _, agg := range []string{e.Agg1, e.Agg2} {
		if agg != "" && !validAggs[agg] {
			return Expr{}, loaditerr.Newf(loaditerr.KindInvalidQuery, "unknown aggregation %q in %q", agg, tok)
		}
	}
	if e.Agg2 == "AVG" {
		return Expr{}, loaditerr.Newf(loaditerr.KindInvalidQuery, "AVG is not meaningful across LIDs (level 2): %q", tok)
	}

	return e, nil
}

// stripAbs reports whether seg is wrapped as ABS(...) and returns its
// unwrapped contents.
func stripAbs(seg string) (string, bool) {
	if strings.HasPrefix(seg, "ABS(") && strings.HasSuffix(seg, ")") {
		return seg[len("ABS(") : len(seg)-1], true
	}
	return seg, false
}

// ParseExprs parses a list of field expressions and validates that they all
// share the same aggregation level (spec.md 4.E: "All fields in one query
// must share the same level").
func ParseExprs(toks []string) ([]Expr, error) {
	out := make([]Expr, len(toks))
	level := -1
	for i, tok := range toks {
		e, err := ParseExpr(tok)
		if err != nil {
			return nil, err
		}
		if level == -1 {
			level = e.Level()
		} else if e.Level() != level {
			return nil, loaditerr.Newf(loaditerr.KindInvalidQuery,
				"mixed aggregation levels: %q is level %d, expected level %d", tok, e.Level(), level)
		}
		out[i] = e
	}
	return out, nil
}
