package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/alvarosanz/loadit/internal/cluster"
	"github.com/alvarosanz/loadit/internal/ingest"
	"github.com/alvarosanz/loadit/internal/queryexec"
	"github.com/alvarosanz/loadit/internal/queryfile"
	"github.com/alvarosanz/loadit/internal/wire"
)

var (
	flagServer   string
	flagToken2   string
	flagDatabase string
	flagRoot     string
)

var queryCmd = &cobra.Command{
	Use:   "query <query.json...>",
	Short: "Run one or more query-file documents, locally or against a central coordinator",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&flagServer, "server", "", "central coordinator address; empty runs the query against --root directly")
	queryCmd.Flags().StringVar(&flagToken2, "token", os.Getenv("LOADIT_TOKEN"), "session token, required with --server")
	queryCmd.Flags().StringVar(&flagDatabase, "database", "", "database name (overrides the query file's table database, if ambiguous)")
	queryCmd.Flags().StringVar(&flagRoot, "root", ".", "database root directory, used without --server")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		qf, err := queryfile.Load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		var res *queryexec.Result
		if flagServer != "" {
			res, err = runQueryRemote(qf)
		} else {
			res, err = runQueryLocal(qf)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if err := writeResult(res, qf.OutputFile); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func runQueryLocal(qf queryfile.QueryFile) (*queryexec.Result, error) {
	db, err := ingest.Open(flagRoot)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return queryexec.Run(db, qf, queryexec.DefaultMaxMemory)
}

func runQueryRemote(qf queryfile.QueryFile) (*queryexec.Result, error) {
	if flagToken2 == "" {
		return nil, fmt.Errorf("--server requires --token (or LOADIT_TOKEN)")
	}
	conn, err := wire.Dial(flagServer, wire.ClientTLSConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", flagServer, err)
	}
	defer conn.Close()

	database := flagDatabase
	if database == "" {
		database = qf.Table
	}
	wireQuery := cluster.FromQueryFile(qf)
	req := cluster.Request{
		Op:            cluster.OpQuery,
		Token:         flagToken2,
		Database:      database,
		Query:         &wireQuery,
		ClientVersion: cluster.ProtocolVersion,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, err
	}
	var resp cluster.Response
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}

// writeResult renders res as a lipgloss-styled table to stdout, or writes it
// as CSV to outputFile when the query file named one (spec.md §6's
// output_file key).
func writeResult(res *queryexec.Result, outputFile string) error {
	if outputFile != "" {
		return writeResultCSV(res, outputFile)
	}
	printResultTable(res)
	return nil
}

func writeResultCSV(res *queryexec.Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file %q: %w", path, err)
	}
	defer f.Close()

	header := append(append([]string{}, res.IndexNames...), res.Fields...)
	if res.HasCritical {
		header = append(header, "critical_LID")
	}
	fmt.Fprintln(f, strings.Join(header, ","))

	for _, row := range res.Rows {
		fmt.Fprintln(f, strings.Join(resultRowCells(res, row), ","))
	}
	return nil
}

func resultRowCells(res *queryexec.Result, row queryexec.Row) []string {
	var cells []string
	for _, name := range res.IndexNames {
		switch name {
		case "LID":
			cells = append(cells, strconv.FormatInt(row.LID, 10))
		case "ID":
			cells = append(cells, strconv.FormatInt(row.ID, 10))
		case "group":
			cells = append(cells, row.Group)
		}
	}
	for _, v := range row.Values {
		cells = append(cells, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if res.HasCritical {
		cells = append(cells, strconv.FormatInt(row.Critical, 10))
	}
	return cells
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// supportsColor reports whether stdout is a color-capable terminal. Output
// redirected to a file or pipe (scripted runs, log capture) gets plain cells
// instead of ANSI escapes.
func supportsColor() bool {
	return termenv.ColorProfile() != termenv.Ascii
}

func printResultTable(res *queryexec.Result) {
	header := append(append([]string{}, res.IndexNames...), res.Fields...)
	if res.HasCritical {
		header = append(header, "critical_LID")
	}

	colorize := supportsColor()
	var b strings.Builder
	for _, h := range header {
		if colorize {
			b.WriteString(headerStyle.Render(h))
		} else {
			fmt.Fprintf(&b, "%-12s", h)
		}
	}
	fmt.Println(b.String())

	for _, row := range res.Rows {
		var line strings.Builder
		for _, cell := range resultRowCells(res, row) {
			if colorize {
				line.WriteString(cellStyle.Render(cell))
			} else {
				fmt.Fprintf(&line, "%-12s", cell)
			}
		}
		fmt.Println(line.String())
	}
}
