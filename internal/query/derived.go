package query

import "math"

// DerivedFunc computes one derived field from its resolved argument tiles,
// all shaped n_LIDs x n_IDs (geometry vectors arrive pre-broadcast).
type DerivedFunc func(args ...Matrix) Matrix

type derivedSpec struct {
	Args []string
	Fn   DerivedFunc
}

// derivedRegistry maps table name -> derived field name -> its spec,
// grounded on queries.py's query_functions/query_geometry for QUAD4/TRIA3
// (both table types share identical kernels and geometry).
var derivedRegistry = map[string]map[string]derivedSpec{
	"ELEMENT FORCES - QUAD4 (33)": shellDerivedFields(),
	"ELEMENT FORCES - TRIA3 (74)": shellDerivedFields(),
}

// geometryFields names the extra per-ID vectors a table's derived fields may
// consume from the query's `geometry` argument (queries.py's query_geometry).
var geometryFields = map[string]map[string]bool{
	"ELEMENT FORCES - QUAD4 (33)": {"thickness": true},
	"ELEMENT FORCES - TRIA3 (74)": {"thickness": true},
}

func shellDerivedFields() map[string]derivedSpec {
	return map[string]derivedSpec{
		"VonMises":  {[]string{"NX", "NY", "NXY"}, VonMises2D},
		"MaxPpal":   {[]string{"NX", "NY", "NXY"}, MaxPpal2D},
		"MinPpal":   {[]string{"NX", "NY", "NXY"}, MinPpal2D},
		"MaxShear":  {[]string{"NX", "NY", "NXY"}, MaxShear2D},
		"sx":        {[]string{"NX", "thickness"}, Stress2D},
		"sy":        {[]string{"NY", "thickness"}, Stress2D},
		"sxy":       {[]string{"NXY", "thickness"}, Stress2D},
		"sVonMises": {[]string{"sx", "sy", "sxy"}, VonMises2D},
		"sMaxPpal":  {[]string{"sx", "sy", "sxy"}, MaxPpal2D},
		"sMinPpal":  {[]string{"sx", "sy", "sxy"}, MinPpal2D},
		"sMaxShear": {[]string{"sx", "sy", "sxy"}, MaxShear2D},
	}
}

// LookupDerived returns the derived-field spec for (table, name), if any.
func LookupDerived(table, name string) (args []string, fn DerivedFunc, ok bool) {
	byName, ok := derivedRegistry[table]
	if !ok {
		return nil, nil, false
	}
	spec, ok := byName[name]
	if !ok {
		return nil, nil, false
	}
	return spec.Args, spec.Fn, true
}

// IsGeometryField reports whether name is a geometry vector consumable by
// table's derived fields (e.g. "thickness" for shell elements).
func IsGeometryField(table, name string) bool {
	return geometryFields[table][name]
}

// VonMises2D: sqrt(sxx^2 + syy^2 - sxx*syy + 3*sxy^2), grounded on
// queries.py's von_mises_2D.
func VonMises2D(args ...Matrix) Matrix {
	sxx, syy, sxy := args[0], args[1], args[2]
	out := newMatrix(len(sxx), cols(sxx))
	for i := range sxx {
		for j := range sxx[i] {
			x, y, xy := sxx[i][j], syy[i][j], sxy[i][j]
			out[i][j] = math.Sqrt(x*x + y*y - x*y + 3*xy*xy)
		}
	}
	return out
}

// MaxPpal2D: (sxx+syy)/2 + sqrt(((sxx-syy)/2)^2 + sxy^2).
func MaxPpal2D(args ...Matrix) Matrix {
	sxx, syy, sxy := args[0], args[1], args[2]
	out := newMatrix(len(sxx), cols(sxx))
	for i := range sxx {
		for j := range sxx[i] {
			x, y, xy := sxx[i][j], syy[i][j], sxy[i][j]
			half := (x - y) / 2
			out[i][j] = (x+y)/2 + math.Sqrt(half*half+xy*xy)
		}
	}
	return out
}

// MinPpal2D: (sxx+syy)/2 - sqrt(((sxx-syy)/2)^2 + sxy^2).
func MinPpal2D(args ...Matrix) Matrix {
	sxx, syy, sxy := args[0], args[1], args[2]
	out := newMatrix(len(sxx), cols(sxx))
	for i := range sxx {
		for j := range sxx[i] {
			x, y, xy := sxx[i][j], syy[i][j], sxy[i][j]
			half := (x - y) / 2
			out[i][j] = (x+y)/2 - math.Sqrt(half*half+xy*xy)
		}
	}
	return out
}

// MaxShear2D: sqrt(((sxx-syy)/2)^2 + sxy^2).
func MaxShear2D(args ...Matrix) Matrix {
	sxx, syy, sxy := args[0], args[1], args[2]
	out := newMatrix(len(sxx), cols(sxx))
	for i := range sxx {
		for j := range sxx[i] {
			half := (sxx[i][j] - syy[i][j]) / 2
			out[i][j] = math.Sqrt(half*half + sxy[i][j]*sxy[i][j])
		}
	}
	return out
}

// Stress2D: value / thickness, thickness broadcast across LIDs.
func Stress2D(args ...Matrix) Matrix {
	value, thickness := args[0], args[1]
	out := newMatrix(len(value), cols(value))
	for i := range value {
		for j := range value[i] {
			out[i][j] = value[i][j] / thickness[i][j]
		}
	}
	return out
}
