// The oru-sync command runs a single push-then-pull sync round against a
// configured remote and prints the resulting {pushed, pulled} counts. It
// does not need an orud daemon running; it opens the store itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/tchayen/oru"
	"github.com/tchayen/oru/fsremote"
)

var (
	debug      = flag.Bool("debug", false, "Show debug log messages.")
	dbPath     = flag.String("db-path", os.Getenv("ORU_DB_PATH"), "Path to the oru SQLite database.")
	remotePath = flag.String("remote-path", "", "Path to the fsremote SQLite database to sync against.")
)

func main() {
	flag.Parse()
	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	if *remotePath == "" {
		fmt.Fprintln(os.Stderr, "oru-sync: -remote-path is required")
		os.Exit(2)
	}

	ctx := context.Background()

	store, err := oru.Open(ctx, *dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	remote, err := fsremote.Open(ctx, *remotePath)
	if err != nil {
		log.Fatal(err)
	}
	defer remote.Close()

	device := oru.NewDeviceIdentity(store)
	stats := oru.NewStats("")
	engine := oru.NewSyncEngine(store, device, remote, stats)

	result, err := engine.Sync(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("pushed=%d pulled=%d\n", result.Pushed, result.Pulled)
}
