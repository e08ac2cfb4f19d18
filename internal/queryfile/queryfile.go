// Package queryfile parses the query-file format of spec.md §6: a JSON
// document whose LIDs/IDs/groups/geometry keys may each be given inline or
// as a path to a companion CSV.
package queryfile

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/query"
)

// LIDCombo is one row of a combinations-form LIDs.csv: a result LID defined
// as a linear combination of stored LIDs, `lid,c0,l0,c1,l1,...`.
type LIDCombo struct {
	LID   int64
	Terms []query.Term
}

// QueryFile is the decoded, CSV-resolved form of one query-file JSON
// document.
type QueryFile struct {
	Table           string              `json:"table"`
	Fields          []string            `json:"fields"`
	LIDs            []int64             `json:"-"`
	LIDCombos       []LIDCombo          `json:"-"`
	IDs             []int64             `json:"-"`
	Groups          map[string][]int64  `json:"-"`
	Geometry        map[string]map[int64]float64 `json:"-"`
	SortByLID       bool                `json:"sort_by_LID"`
	DoublePrecision bool                `json:"double_precision"`
	OutputFile      string              `json:"output_file"`
}

// rawQueryFile mirrors the JSON document before CSV-path keys are resolved:
// each of LIDs/IDs/groups/geometry is either an inline JSON value or a
// string path to a CSV file.
type rawQueryFile struct {
	Table           string          `json:"table"`
	Fields          []string        `json:"fields"`
	LIDs            json.RawMessage `json:"LIDs"`
	IDs             json.RawMessage `json:"IDs"`
	Groups          json.RawMessage `json:"groups"`
	Geometry        json.RawMessage `json:"geometry"`
	SortByLID       bool            `json:"sort_by_LID"`
	DoublePrecision bool            `json:"double_precision"`
	OutputFile      string          `json:"output_file"`
}

// Load reads and fully resolves a query file at path, following any
// CSV-path keys relative to path's directory.
func Load(path string) (QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return QueryFile{}, loaditerr.Wrap(loaditerr.KindIO, "read query file", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes a query-file JSON document whose CSV-path keys, if any, are
// resolved relative to baseDir.
func Parse(data []byte, baseDir string) (QueryFile, error) {
	var raw rawQueryFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return QueryFile{}, loaditerr.Wrap(loaditerr.KindInvalidQuery, "decode query file", err)
	}

	out := QueryFile{
		Table:           raw.Table,
		Fields:          raw.Fields,
		SortByLID:       raw.SortByLID,
		DoublePrecision: raw.DoublePrecision,
		OutputFile:      raw.OutputFile,
	}

	lids, combos, err := resolveLIDs(raw.LIDs, baseDir)
	if err != nil {
		return QueryFile{}, err
	}
	out.LIDs, out.LIDCombos = lids, combos

	ids, err := resolveIDs(raw.IDs, baseDir)
	if err != nil {
		return QueryFile{}, err
	}
	out.IDs = ids

	groups, err := resolveGroups(raw.Groups, baseDir)
	if err != nil {
		return QueryFile{}, err
	}
	out.Groups = groups

	geometry, err := resolveGeometry(raw.Geometry, baseDir)
	if err != nil {
		return QueryFile{}, err
	}
	out.Geometry = geometry

	return out, nil
}

// csvPathOrInline returns (path, true) if raw is a bare JSON string (a CSV
// path), or (false) if it is an inline structure (or absent).
func csvPathOrInline(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var path string
	if err := json.Unmarshal(raw, &path); err != nil {
		return "", false
	}
	return path, true
}

func readCSV(baseDir, relPath string) ([][]string, error) {
	path := relPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, relPath)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "open csv "+relPath, err)
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1 // combination and group rows vary in width
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse csv "+relPath, err)
	}
	return rows, nil
}

func resolveLIDs(raw json.RawMessage, baseDir string) ([]int64, []LIDCombo, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}
	if path, isPath := csvPathOrInline(raw); isPath {
		rows, err := readCSV(baseDir, path)
		if err != nil {
			return nil, nil, err
		}
		return parseLIDRows(rows)
	}
	var lids []int64
	if err := json.Unmarshal(raw, &lids); err != nil {
		return nil, nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "decode inline LIDs", err)
	}
	return lids, nil, nil
}

// parseLIDRows handles both LIDs.csv forms: a single-column plain list, or
// `lid,c0,l0,c1,l1,...` combination rows.
func parseLIDRows(rows [][]string) ([]int64, []LIDCombo, error) {
	var plain []int64
	var combos []LIDCombo
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if len(row) == 1 {
			lid, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return nil, nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse LIDs.csv row", err)
			}
			plain = append(plain, lid)
			continue
		}
		if (len(row)-1)%2 != 0 {
			return nil, nil, loaditerr.New(loaditerr.KindInvalidQuery, "LIDs.csv combination row must be lid,coeff,lid,coeff,...")
		}
		lid, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse LIDs.csv combination lid", err)
		}
		var terms []query.Term
		for i := 1; i < len(row); i += 2 {
			coeff, err := strconv.ParseFloat(row[i], 64)
			if err != nil {
				return nil, nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse LIDs.csv coefficient", err)
			}
			termLID, err := strconv.ParseInt(row[i+1], 10, 64)
			if err != nil {
				return nil, nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse LIDs.csv combination term lid", err)
			}
			terms = append(terms, query.Term{Coeff: coeff, LID: termLID})
		}
		combos = append(combos, LIDCombo{LID: lid, Terms: terms})
	}
	return plain, combos, nil
}

func resolveIDs(raw json.RawMessage, baseDir string) ([]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if path, isPath := csvPathOrInline(raw); isPath {
		rows, err := readCSV(baseDir, path)
		if err != nil {
			return nil, err
		}
		var ids []int64
		for _, row := range rows {
			if len(row) == 0 {
				continue
			}
			id, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse IDs.csv row", err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "decode inline IDs", err)
	}
	return ids, nil
}

func resolveGroups(raw json.RawMessage, baseDir string) (map[string][]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if path, isPath := csvPathOrInline(raw); isPath {
		rows, err := readCSV(baseDir, path)
		if err != nil {
			return nil, err
		}
		groups := make(map[string][]int64, len(rows))
		for _, row := range rows {
			if len(row) == 0 {
				continue
			}
			name := row[0]
			ids := make([]int64, 0, len(row)-1)
			for _, cell := range row[1:] {
				id, err := strconv.ParseInt(cell, 10, 64)
				if err != nil {
					return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse groups.csv row", err)
				}
				ids = append(ids, id)
			}
			groups[name] = ids
		}
		return groups, nil
	}
	var groups map[string][]int64
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "decode inline groups", err)
	}
	return groups, nil
}

// resolveGeometry parses the `geometry` key into param_name -> {ID: value}
// (spec.md 4.E: "geometry: mapping param_name → {ID: float}"), so a
// geometry vector (including the special "weights" entry) can be looked up
// by ID regardless of the order a query requests IDs in.
func resolveGeometry(raw json.RawMessage, baseDir string) (map[string]map[int64]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if path, isPath := csvPathOrInline(raw); isPath {
		rows, err := readCSV(baseDir, path)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		header := rows[0]
		params := header[1:]
		geometry := make(map[string]map[int64]float64, len(params))
		for _, p := range params {
			geometry[p] = make(map[int64]float64)
		}
		for _, row := range rows[1:] {
			id, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse geometry.csv id", err)
			}
			for i, p := range params {
				v, err := strconv.ParseFloat(row[i+1], 64)
				if err != nil {
					return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "parse geometry.csv value", err)
				}
				geometry[p][id] = v
			}
		}
		return geometry, nil
	}
	var geometry map[string]map[int64]float64
	if err := json.Unmarshal(raw, &geometry); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindInvalidQuery, "decode inline geometry", err)
	}
	return geometry, nil
}
