// The oru-log command prints a single task's complete oplog history, one
// entry per line, oldest first. It is a debugging aid grounded in the
// teacher's oplog-tail command, repurposed from tailing a live stream to
// dumping the bounded, already-durable history of one task.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tchayen/oru"
)

var dbPath = flag.String("db-path", os.Getenv("ORU_DB_PATH"), "Path to the oru SQLite database.")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Print("  <task id>\n")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	taskID := flag.Arg(0)

	ctx := context.Background()
	store, err := oru.Open(ctx, *dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	reader := oru.NewReader()
	entries, err := reader.ByTask(ctx, store.Reader(), taskID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "no oplog entries for task %s\n", taskID)
		os.Exit(1)
	}

	for _, e := range entries {
		ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
		field := "-"
		if e.Field != nil {
			field = *e.Field
		}
		value := "-"
		if e.Value != nil {
			value = *e.Value
		}
		fmt.Printf("%s %s #%s device=%s field=%s value=%s\n", ts, e.OpType, e.ID, e.DeviceID, field, value)
	}
}
