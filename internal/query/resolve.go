package query

import "github.com/alvarosanz/loadit/internal/loaditerr"

// Context resolves a field name (stored, derived, or geometry) to its
// n_LIDs x n_IDs tile for one table, memoizing every resolved name so a
// field referenced by several derived functions (e.g. "sx" feeding both
// "sVonMises" and "sMaxPpal") is computed once.
//
// Resolution order: stored fields, then the derived registry (itself
// recursive — "sVonMises" resolves "sx", which resolves "NX" and
// "thickness"), then geometry vectors. spec.md 4.E states arguments
// resolve "first against stored fields, then against geometry vectors";
// the derived step is inserted between the two because the registry itself
// requires it (stress-normalized derived fields depend on other derived
// fields, not just stored ones or geometry).
type Context struct {
	Table        string
	NLIDs        int
	StoredFields map[string]bool
	ReadStored   func(field string) (Matrix, error)
	Geometry     map[string][]float64

	cache map[string]Matrix
}

// NewContext builds a resolution context for one table.
func NewContext(table string, nLIDs int, storedFields map[string]bool, readStored func(string) (Matrix, error), geometry map[string][]float64) *Context {
	return &Context{
		Table:        table,
		NLIDs:        nLIDs,
		StoredFields: storedFields,
		ReadStored:   readStored,
		Geometry:     geometry,
		cache:        make(map[string]Matrix),
	}
}

// Resolve returns name's value tile, computing and caching it on first use.
func (c *Context) Resolve(name string) (Matrix, error) {
	if m, ok := c.cache[name]; ok {
		return m, nil
	}

	if c.StoredFields[name] {
		m, err := c.ReadStored(name)
		if err != nil {
			return nil, err
		}
		c.cache[name] = m
		return m, nil
	}

	if args, fn, ok := LookupDerived(c.Table, name); ok {
		resolved := make([]Matrix, len(args))
		for i, argName := range args {
			m, err := c.Resolve(argName)
			if err != nil {
				return nil, err
			}
			resolved[i] = m
		}
		out := fn(resolved...)
		c.cache[name] = out
		return out, nil
	}

	if IsGeometryField(c.Table, name) {
		vec, ok := c.Geometry[name]
		if !ok {
			return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "missing geometry vector %q for table %q", name, c.Table)
		}
		m := broadcastRow(vec, c.NLIDs)
		c.cache[name] = m
		return m, nil
	}

	return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "unknown field %q for table %q", name, c.Table)
}

// ResolveExpr resolves an Expr's base field. It does not perform aggregation
// or apply ABS(.): those happen at whichever stage e.Abs actually wraps (the
// raw values themselves at level 0, or the aggregated result at level 1/2) —
// callers apply both, Level()-appropriate, afterward.
func (c *Context) ResolveExpr(e Expr) (Matrix, error) {
	return c.Resolve(e.Base)
}
