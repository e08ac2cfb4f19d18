package cluster

import (
	"github.com/alvarosanz/loadit/internal/queryexec"
	"github.com/alvarosanz/loadit/internal/queryfile"
	"github.com/alvarosanz/loadit/internal/store"
)

// QueryRequest is the wire form of a resolved query-file document (spec.md
// §6): CSV references are already resolved client-side by internal/queryfile
// before a request is built, so only the final values cross the wire.
type QueryRequest struct {
	Table           string                        `json:"table"`
	Fields          []string                      `json:"fields,omitempty"`
	LIDs            []int64                       `json:"lids,omitempty"`
	LIDCombos       []queryfile.LIDCombo          `json:"lid_combos,omitempty"`
	IDs             []int64                       `json:"ids,omitempty"`
	Groups          map[string][]int64            `json:"groups,omitempty"`
	Geometry        map[string]map[int64]float64  `json:"geometry,omitempty"`
	SortByLID       bool                          `json:"sort_by_lid,omitempty"`
	DoublePrecision bool                          `json:"double_precision,omitempty"`
}

// ToQueryFile adapts a wire QueryRequest to the queryfile.QueryFile shape
// internal/queryexec.Run expects.
func (r QueryRequest) ToQueryFile() queryfile.QueryFile {
	return queryfile.QueryFile{
		Table:           r.Table,
		Fields:          r.Fields,
		LIDs:            r.LIDs,
		LIDCombos:       r.LIDCombos,
		IDs:             r.IDs,
		Groups:          r.Groups,
		Geometry:        r.Geometry,
		SortByLID:       r.SortByLID,
		DoublePrecision: r.DoublePrecision,
	}
}

// FromQueryFile builds the wire form of an already-resolved query file, for
// the client side of the "query" command (spec.md §6).
func FromQueryFile(qf queryfile.QueryFile) QueryRequest {
	return QueryRequest{
		Table:           qf.Table,
		Fields:          qf.Fields,
		LIDs:            qf.LIDs,
		LIDCombos:       qf.LIDCombos,
		IDs:             qf.IDs,
		Groups:          qf.Groups,
		Geometry:        qf.Geometry,
		SortByLID:       qf.SortByLID,
		DoublePrecision: qf.DoublePrecision,
	}
}

// Request is one cluster-protocol request frame (spec.md §4.G): an
// operation name, the session token proving who is asking, the database it
// targets (empty for node-scoped ops), and op-specific arguments.
type Request struct {
	Op            string `json:"op"`
	Token         string `json:"token,omitempty"`
	Database      string `json:"database,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`

	Query     *QueryRequest `json:"query,omitempty"`
	BatchName string        `json:"batch_name,omitempty"`
	Comment   string        `json:"comment,omitempty"`
	Files     []string      `json:"files,omitempty"`
	Name      string        `json:"name,omitempty"` // attachment name, or node name for add_worker/remove_worker (worker address in Addr)
	Addr      string        `json:"addr,omitempty"`
	Backup    bool          `json:"backup,omitempty"`

	// Sessions admin op
	NewSession *Session `json:"new_session,omitempty"`
	TargetUser string   `json:"target_user,omitempty"`
	Remove     bool     `json:"remove,omitempty"`
}

// Response is one cluster-protocol response frame.
type Response struct {
	Error    string                   `json:"error,omitempty"`
	Result   *queryexec.Result        `json:"result,omitempty"`
	Manifest *store.DatabaseManifest  `json:"manifest,omitempty"`
	Names    []string                 `json:"names,omitempty"`
	Hashes   map[string]string        `json:"hashes,omitempty"` // attachment name -> hash; the corrupted-file list goes in Corrupted
	Corrupted []string                `json:"corrupted,omitempty"`
	Token    string                   `json:"token,omitempty"`
	Sessions []Session                `json:"sessions,omitempty"`
}
