// Package queryexec is the per-batch execution loop of spec.md 4.E: it
// wires internal/store's on-disk tables and internal/field's dual-layout
// reader to internal/query's grammar, resolution, combination and
// aggregation kernels, applying the explicit memory cap and streaming a
// columnar Result back to the caller. Grounded on
// original_source/loadit/database.py's Database.query, which plays the same
// role over the Python source's memory-mapped field views.
package queryexec

import (
	"math"
	"sort"
	"strconv"

	"github.com/alvarosanz/loadit/internal/field"
	"github.com/alvarosanz/loadit/internal/ingest"
	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/query"
	"github.com/alvarosanz/loadit/internal/queryfile"
	"github.com/alvarosanz/loadit/internal/store"
)

// DefaultMaxMemory bounds a single query batch's level-0 working set when a
// request does not specify one explicitly.
const DefaultMaxMemory = 256 * 1024 * 1024

// Row is one output record. Which of ID/Group/Critical is populated depends
// on Result.Level and whether the query supplied groups (spec.md 4.E step 6).
type Row struct {
	LID      int64 // valid for level 0 and level 1
	ID       int64 // valid for level 0, and for level 1/2 without groups
	Group    string
	Values   []float64
	Critical int64 // valid only when Result.HasCritical
}

// Result is the columnar batch of spec.md 4.E step 6 ("stream the result as
// a columnar batch with metadata {index_names, index, sorted_by, header,
// query}"), flattened to rows for JSON transport over the wire protocol.
type Result struct {
	Table       string
	Fields      []string
	Level       int
	IndexNames  []string
	HasCritical bool
	SortByLID   bool
	Rows        []Row
}

// columnGroup is one output column (a user group, or a singleton group
// standing in for one requested ID when no groups were given) and the
// stored-table IDs it aggregates over.
type columnGroup struct {
	Name string // group name, or the ID's decimal string when ungrouped
	ID   int64  // valid only when this is a singleton ID-group
	IDs  []int64
}

// Run executes req against db, honoring the memory cap (spec.md 4.E:
// "Memory cap"). maxMemory <= 0 uses DefaultMaxMemory.
func Run(db *ingest.Database, req queryfile.QueryFile, maxMemory int64) (*Result, error) {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}

	table, err := db.OpenForQuery(req.Table)
	if err != nil {
		return nil, err
	}

	exprs, err := resolveFields(table, req.Fields)
	if err != nil {
		return nil, err
	}
	tokenLevel := exprs[0].Level()
	groupsGiven := req.Groups != nil

	if tokenLevel == 0 && groupsGiven {
		return nil, loaditerr.New(loaditerr.KindInvalidQuery,
			"groups require an aggregated field expression (spec.md 4.E: groups activate group-level aggregation)")
	}

	if tokenLevel == 1 && exprs[0].Agg1 == "AVG" && !groupsGiven {
		return nil, loaditerr.New(loaditerr.KindInvalidQuery,
			"AVG is not meaningful across LIDs: supply groups, or use MAX/MIN without groups")
	}
	if tokenLevel == 2 && !groupsGiven {
		return nil, loaditerr.New(loaditerr.KindInvalidQuery,
			"a two-stage aggregation (-AGG1-AGG2) requires groups: its first stage aggregates across IDs within each group")
	}

	groups, err := resolveColumnGroups(table, req)
	if err != nil {
		return nil, err
	}

	execLevel := tokenLevel
	if tokenLevel == 1 && !groupsGiven {
		execLevel = 2 // spec.md 4.E: "interpreted as level 2 across LIDs (per-ID critical)"
	}

	openCombos := len(req.LIDCombos) > 0
	var queriedLIDs []int64
	if openCombos {
		for _, c := range req.LIDCombos {
			queriedLIDs = append(queriedLIDs, c.LID)
		}
	} else {
		queriedLIDs = req.LIDs
		if queriedLIDs == nil {
			queriedLIDs = append([]int64(nil), table.LIDs...)
		}
	}

	totalCols := 0
	for _, g := range groups {
		totalCols += len(g.IDs)
	}
	dtypeBytes := 4
	if req.DoublePrecision {
		dtypeBytes = 8
	}
	sizePerLID := query.SizePerLID(len(exprs), totalCols, dtypeBytes)

	batches, err := query.LIDBatches(execLevel, len(queriedLIDs), sizePerLID, maxMemory)
	if err != nil {
		return nil, err
	}
	if openCombos && len(batches) > 1 {
		return nil, loaditerr.New(loaditerr.KindOutOfMemory,
			"LID combinations cannot be split across memory-cap batches")
	}

	res := &Result{Table: req.Table, Fields: exprNames(exprs), Level: execLevel, SortByLID: req.SortByLID}
	switch {
	case execLevel == 0:
		res.IndexNames = []string{"LID", "ID"}
	case groupsGiven && execLevel == 1:
		res.IndexNames = []string{"LID", "group"}
	case groupsGiven:
		res.IndexNames = []string{"group"}
		res.HasCritical = true
	case execLevel == 1:
		res.IndexNames = []string{"LID", "ID"}
	default:
		res.IndexNames = []string{"ID"}
		res.HasCritical = true
	}

	acc := newAccumulator(groups, len(exprs))

	for bi, b := range batches {
		lidBatch := queriedLIDs[b[0]:b[1]]
		matrices, err := computeFields(table, exprs, lidBatch, req, groups)
		if err != nil {
			return nil, err
		}

		switch execLevel {
		case 0:
			appendLevel0Rows(res, matrices, lidBatch, groups, exprs)
		case 1:
			appendLevel1Rows(res, matrices, lidBatch, groups, req, exprs)
		case 2:
			acc.absorb(matrices, lidBatch, bi > 0, exprs, req, groups, groupsGiven)
		}
	}

	if execLevel == 2 {
		acc.flush(res, groups, groupsGiven, exprs)
	}

	return res, nil
}

func exprNames(exprs []query.Expr) []string {
	out := make([]string, len(exprs))
	for i, e := range exprs {
		out[i] = e.Raw
	}
	return out
}

func resolveFields(table *store.Table, raw []string) ([]query.Expr, error) {
	if len(raw) == 0 {
		names := table.FieldNames()
		exprs := make([]query.Expr, len(names))
		for i, n := range names {
			exprs[i] = query.Expr{Raw: n, Base: n}
		}
		return exprs, nil
	}
	return query.ParseExprs(raw)
}

// resolveColumnGroups builds the ordered list of output columns: the
// query's groups (sorted by name) if given, else one singleton column per
// requested ID (or every stored ID if none was requested either).
func resolveColumnGroups(table *store.Table, req queryfile.QueryFile) ([]columnGroup, error) {
	if req.Groups != nil {
		names := make([]string, 0, len(req.Groups))
		for name := range req.Groups {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]columnGroup, len(names))
		for i, name := range names {
			for _, id := range req.Groups[name] {
				if _, ok := table.IDIndex(id); !ok {
					return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "group %q references unknown ID %d", name, id)
				}
			}
			out[i] = columnGroup{Name: name, IDs: req.Groups[name]}
		}
		return out, nil
	}

	ids := req.IDs
	if ids == nil {
		ids = table.IDs
	}
	out := make([]columnGroup, len(ids))
	for i, id := range ids {
		if _, ok := table.IDIndex(id); !ok {
			return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "unknown ID %d for table %q", id, table.Manifest.Name)
		}
		out[i] = columnGroup{Name: formatID(id), ID: id, IDs: []int64{id}}
	}
	return out, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// computeFields resolves every field expression over lidBatch x the
// queried columns (flattened in groups order), handling LID combination
// and ABS(.) (spec.md 4.E steps 1-4). Returns one Matrix per expression,
// shaped len(lidBatch) x totalColumns.
func computeFields(table *store.Table, exprs []query.Expr, lidBatch []int64, req queryfile.QueryFile, groups []columnGroup) ([]query.Matrix, error) {
	var ids []int64
	for _, g := range groups {
		ids = append(ids, g.IDs...)
	}
	idIdxs := make([]int, len(ids))
	for i, id := range ids {
		idx, ok := table.IDIndex(id)
		if !ok {
			return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "unknown ID %d for table %q", id, table.Manifest.Name)
		}
		idIdxs[i] = idx
	}

	geometry := make(map[string][]float64, len(req.Geometry))
	for name, byID := range req.Geometry {
		vec := make([]float64, len(ids))
		for i, id := range ids {
			v, ok := byID[id]
			if !ok {
				return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "geometry %q missing value for ID %d", name, id)
			}
			vec[i] = v
		}
		geometry[name] = vec
	}

	storedFields := make(map[string]bool, len(table.FieldNames()))
	for _, n := range table.FieldNames() {
		storedFields[n] = true
	}

	sourceLIDs := lidBatch
	if len(req.LIDCombos) > 0 {
		sourceLIDs = combinedSourceLIDs(req.LIDCombos)
	}
	sourceLIDIdxs := make([]int, len(sourceLIDs))
	for i, lid := range sourceLIDs {
		idx, ok := table.LIDIndex(lid)
		if !ok {
			return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "unknown LID %d for table %q", lid, table.Manifest.Name)
		}
		sourceLIDIdxs[i] = idx
	}

	out := make([]query.Matrix, len(exprs))
	for i, e := range exprs {
		ctx := query.NewContext(table.Manifest.Name, len(sourceLIDs), storedFields, func(name string) (query.Matrix, error) {
			return readStoredField(table, name, sourceLIDIdxs, idIdxs)
		}, geometry)

		m, err := ctx.ResolveExpr(e)
		if err != nil {
			return nil, err
		}

		if len(req.LIDCombos) > 0 {
			lidIndex := make(map[int64]int, len(sourceLIDs))
			for i, lid := range sourceLIDs {
				lidIndex[lid] = i
			}
			combos := make(map[int64][]query.Term, len(req.LIDCombos))
			order := make([]int64, len(req.LIDCombos))
			for ci, c := range req.LIDCombos {
				combos[c.LID] = c.Terms
				order[ci] = c.LID
			}
			m, err = query.ResolveCombinedLIDs(order, combos, func(lids []int64) (query.Matrix, error) {
				rows := make(query.Matrix, len(lids))
				for ri, lid := range lids {
					rows[ri] = m[lidIndex[lid]]
				}
				return rows, nil
			})
			if err != nil {
				return nil, err
			}
		}

		out[i] = m
	}
	return out, nil
}

func combinedSourceLIDs(combos []queryfile.LIDCombo) []int64 {
	isCombo := make(map[int64]bool, len(combos))
	for _, c := range combos {
		isCombo[c.LID] = true
	}
	set := map[int64]bool{}
	for _, c := range combos {
		for _, term := range c.Terms {
			if !isCombo[term.LID] {
				set[term.LID] = true
			}
		}
	}
	out := make([]int64, 0, len(set))
	for lid := range set {
		out = append(out, lid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func readStoredField(table *store.Table, name string, lidIdxs, idIdxs []int) (query.Matrix, error) {
	dtype, ok := table.ColumnDtype(name)
	if !ok {
		return nil, loaditerr.Newf(loaditerr.KindInvalidQuery, "unknown field %q for table %q", name, table.Manifest.Name)
	}
	f := field.Open(table.FieldFilePath(name), dtype, int64(table.NLIDs()), int64(table.NIDs()))
	defer f.Close()
	rows, err := f.Read(lidIdxs, idIdxs)
	if err != nil {
		return nil, err
	}
	return query.Matrix(rows), nil
}

func appendLevel0Rows(res *Result, matrices []query.Matrix, lidBatch []int64, groups []columnGroup, exprs []query.Expr) {
	col := 0
	for _, g := range groups {
		id := g.ID
		for li, lid := range lidBatch {
			values := make([]float64, len(matrices))
			for fi, m := range matrices {
				v := m[li][col]
				if exprs[fi].Abs {
					v = math.Abs(v)
				}
				values[fi] = v
			}
			res.Rows = append(res.Rows, Row{LID: lid, ID: id, Values: values})
		}
		col++
	}
}

func appendLevel1Rows(res *Result, matrices []query.Matrix, lidBatch []int64, groups []columnGroup, req queryfile.QueryFile, exprs []query.Expr) {
	offsets := groupColumnOffsets(groups)
	for li, lid := range lidBatch {
		for _, g := range groups {
			start, end := offsets[g.Name][0], offsets[g.Name][1]
			values := make([]float64, len(matrices))
			for fi, m := range matrices {
				row := m[li][start:end]
				weights := groupWeights(req, g.IDs)
				v := aggregate1(exprs[fi].Agg1, row, weights)
				if exprs[fi].Abs {
					v = math.Abs(v)
				}
				values[fi] = v
			}
			res.Rows = append(res.Rows, Row{LID: lid, ID: g.ID, Group: g.Name, Values: values})
		}
	}
}

func groupColumnOffsets(groups []columnGroup) map[string][2]int {
	out := make(map[string][2]int, len(groups))
	pos := 0
	for _, g := range groups {
		out[g.Name] = [2]int{pos, pos + len(g.IDs)}
		pos += len(g.IDs)
	}
	return out
}

func groupWeights(req queryfile.QueryFile, ids []int64) []float64 {
	byID, ok := req.Geometry["weights"]
	if !ok {
		return nil
	}
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

func aggregate1(agg string, row []float64, weights []float64) float64 {
	m := query.Matrix{row}
	switch agg {
	case "AVG":
		return query.AggregateGroupAvg(m, weights)[0]
	case "MAX":
		return query.AggregateGroupMax(m)[0]
	case "MIN":
		return query.AggregateGroupMin(m)[0]
	default:
		return row[0]
	}
}
