package main

import (
	"chat-relay/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	// "msg:" skips the idempotency and sequence keys
	prefix := flag.String("prefix", repositories.MessagePrefix, "Prefix to scan")
	limit := flag.Int("limit", 0, "Maximum number of records, 0 for all")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	records, err := repositories.ScanRecords(db, *prefix, *limit)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Created", "ID", "Sender", "Receiver", "Idempotency", "Body", "Size"})
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

	for _, record := range records {
		table.Append(row(record))
	}
	table.Render()
	fmt.Printf("\n%d record(s) under %q\n", len(records), *prefix)
}

func row(record repositories.Record) []string {
	if record.Err != "" {
		return []string{record.Key, "-", "-", "-", "-", "-", "undecodable: " + record.Err, strconv.Itoa(record.Size)}
	}
	message := record.Message
	if !strings.HasPrefix(record.Key, repositories.MessagePrefix) {
		return []string{record.Key, "-", "-", "-", "-", "-", "-", strconv.Itoa(record.Size)}
	}
	return []string{
		record.Key,
		message.CreatedAt.Format(time.DateTime),
		shorten(message.ID.String()),
		message.SenderID,
		message.ReceiverID,
		shorten(message.IdempotencyKey),
		message.Body,
		strconv.Itoa(record.Size),
	}
}

// shorten keeps the first 8 characters of an identifier for readability.
func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)
			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			_ = db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
