// Command inspect prints the conversations of a badger store as a table.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"trade-chat/internal"

	"github.com/dgraph-io/badger/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
	Prefix         string `envconfig:"INSPECT_PREFIX" default:"conv:"`
}

func main() {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		log.Fatalf("Config error: %v", err)
	}
	dbPath := flag.String("db", config.BadgerFilepath, "Path to badger DB")
	prefix := flag.String("prefix", config.Prefix, "Prefix to scan (conv:, msg:, pair:, part:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	rows, err := internal.ScanRows(db, *prefix, internal.ConversationMapper)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity ID", "Parties", "Detail", "Counters"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, row := range rows {
		table.Append([]string{row.Key, row.Type, row.Timestamp, row.EntityID, row.Parties, row.Detail, row.Counters})
	}
	table.Render()
	fmt.Printf("\n%d entries under %q\n", len(rows), *prefix)
}

// openDB opens the store read-only. A store left dirty by a crash needs one
// write open to truncate its value log first.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "Log truncate required") {
		return nil, err
	}
	repaired, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true))
	if err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	_ = repaired.Close()
	return badger.Open(opts)
}
