// Package punch parses FEA solver punch (.pch) text output into a lazy
// sequence of typed Tables, per spec.md 4.A. The on-disk punch format is a
// sequence of blocks:
//
//	$SUBCASE ID =     <lid>
//	<table name exactly as registered in schema.Catalog>
//	<one or more physical data lines per logical row, per the table's line layout>
//	...
//	$SUBCASE ID =     <next lid>
//	...
//
// A logical row's first physical line begins with the element/node ID; any
// continuation lines (schema.TableSpec.Lines[1:]) carry no ID token and
// simply extend the same row with more fields.
package punch

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alvarosanz/loadit/internal/clog"
	"github.com/alvarosanz/loadit/internal/schema"
)

// Reader yields one Table per subcase/table-type block. It is restartable
// per file (call NewReader again on a fresh io.Reader) but not mid-file.
type Reader struct {
	scanner *bufio.Scanner
	lid     int64
	haveLID bool
	err     error

	// one-line lookahead buffer; bufio.Scanner has no native peek.
	pending      string
	pendingValid bool
}

// NewReader wraps r for sequential table extraction.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: s}
}

// Next returns the next decoded Table, or (nil, io.EOF) once the stream is
// exhausted. Tables for table names absent from schema.Catalog are skipped
// with a one-shot warning per name.
func (r *Reader) Next() (*Table, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		line, ok := r.nextLine()
		if !ok {
			return nil, io.EOF
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if lid, ok := parseSubcaseLine(trimmed); ok {
			r.lid = lid
			r.haveLID = true
			continue
		}

		spec, known := schema.Lookup(trimmed)
		if !known {
			clog.WarnOnce("punch:unknown:"+trimmed, "unsupported punch table skipped", "table", trimmed)
			continue
		}
		if !r.haveLID {
			return nil, fmt.Errorf("punch: table %q encountered before any $SUBCASE ID line", trimmed)
		}

		table, err := r.readTable(trimmed, spec)
		if err != nil {
			r.err = err
			return nil, err
		}
		return table, nil
	}
}

func (r *Reader) nextLine() (string, bool) {
	if r.pendingValid {
		line := r.pending
		r.pending = ""
		r.pendingValid = false
		return line, true
	}
	if !r.scanner.Scan() {
		return "", false
	}
	return r.scanner.Text(), true
}

func (r *Reader) peekLine() (string, bool) {
	if !r.pendingValid {
		line, ok := r.nextLine()
		r.pending = line
		r.pendingValid = ok
	}
	return r.pending, r.pendingValid
}

// parseSubcaseLine recognizes "$SUBCASE ID = <n>" (whitespace-tolerant).
func parseSubcaseLine(line string) (int64, bool) {
	if !strings.HasPrefix(line, "$SUBCASE") {
		return 0, false
	}
	idx := strings.LastIndex(line, "=")
	if idx < 0 {
		return 0, false
	}
	val := strings.TrimSpace(line[idx+1:])
	lid, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return lid, true
}

// readTable consumes physical lines until it hits a blank line, a new
// "$"-comment, or EOF, decoding len(spec.Lines)-line groups into rows.
func (r *Reader) readTable(name string, spec schema.TableSpec) (*Table, error) {
	table := &Table{Name: name, LID: r.lid, Data: make(map[string][]float64)}
	for _, col := range spec.Columns[2:] {
		table.Data[col] = nil
	}

	for {
		line, ok := r.peekLine()
		if !ok || strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "$") {
			break
		}

		row := make(map[string]float64, len(spec.Columns))
		var id int64
		for lineIdx, layout := range spec.Lines {
			l, ok := r.nextLine()
			if !ok {
				return nil, fmt.Errorf("punch: table %q: unexpected EOF mid-record", name)
			}
			tokens := strings.Fields(l)
			_ = lineIdx
			ti := 0
			for _, field := range layout {
				if field.Name == spec.Columns[0] {
					continue // LID already known from the $SUBCASE line; no token for it
				}
				if ti >= len(tokens) {
					break
				}
				tok := tokens[ti]
				ti++
				if field.Name == "" {
					continue
				}
				if field.Name == spec.Columns[1] {
					v, err := strconv.ParseInt(tok, 10, 64)
					if err != nil {
						return nil, fmt.Errorf("punch: table %q: bad ID %q: %w", name, tok, err)
					}
					id = v
					continue
				}
				v, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, fmt.Errorf("punch: table %q: bad value %q for field %s: %w", name, tok, field.Name, err)
				}
				row[field.Name] = v
			}
		}

		table.IDs = append(table.IDs, id)
		for _, col := range spec.Columns[2:] {
			table.Data[col] = append(table.Data[col], row[col])
		}
	}
	return table, nil
}
