// Command mediastore inspects a media relationship database: it dumps
// the stored tuples or runs a simple equality query against an entry
// key.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/pflag"

	"github.com/trofi/mediastore/mediastore"
	"github.com/trofi/mediastore/mediastore/query"
	"github.com/trofi/mediastore/mediastore/store"
)

func main() {
	var (
		dbPath     string
		configPath string
		queryArg   string
		verbose    bool
	)

	pflag.StringVar(&dbPath, "db", "", "database path")
	pflag.StringVar(&configPath, "config", "", "YAML config file")
	pflag.StringVar(&queryArg, "query", "", "query entries matching key=value instead of dumping")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [database_path]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Dumps or queries a media relationship database.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if dbPath == "" && pflag.NArg() > 0 {
		dbPath = pflag.Arg(0)
	}
	if dbPath == "" {
		pflag.Usage()
		os.Exit(2)
	}

	cfg := &store.Config{}
	if configPath != "" {
		loaded, err := store.LoadConfig(configPath)
		if err != nil {
			fail(err)
		}
		cfg = loaded
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	db, err := store.Open(dbPath, cfg, store.OpenExists)
	if err != nil {
		fail(err)
	}
	defer db.Close()

	if queryArg == "" {
		dump(db)
		return
	}

	key, value, ok := strings.Cut(queryArg, "=")
	if !ok {
		fail(fmt.Errorf("bad query %q, want key=value", queryArg))
	}
	runQuery(db, key, value)
}

func dump(db *store.Database) {
	tuples := db.Tuples()

	table := newTable([]string{"key_a", "val_a", "key_b", "val_b", "source"})
	for _, t := range tuples {
		table.Append([]string{t.KeyA, t.ValA.String(), t.KeyB, t.ValB.String(), t.Src})
	}
	table.Render()
	fmt.Printf("%d tuples\n", len(tuples))
}

func runQuery(db *store.Database, key, value string) {
	tx, err := db.Begin(store.TxReadOnly)
	if err != nil {
		fail(err)
	}
	defer tx.Abort()

	cond, err := query.NewFilter(query.FilterEqual, key, mediastore.StringValue(value), nil, 0)
	if err != nil {
		fail(err)
	}
	spec := query.NewFetchSpec()
	spec.AddAll(nil, query.FetchData)

	rs, err := tx.Query(spec, cond)
	if err != nil {
		fail(err)
	}

	table := newTable([]string{"entry", "key", "value", "source"})
	for row := 0; row < rs.RowCount(); row++ {
		entryKey, entryVal, _ := rs.Entry(row)
		anchor := fmt.Sprintf("%s=%s", entryKey, entryVal)
		for rec := rs.Get(row, 0); rec != nil; rec = rec.Next() {
			table.Append([]string{anchor, rec.Key(), rec.Value().String(), rec.Source()})
		}
	}
	table.Render()
	fmt.Printf("%d entries\n", rs.RowCount())
}

func newTable(headers []string) *tablewriter.Table {
	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)
	return table
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("mediastore: %v", err))
	os.Exit(1)
}
