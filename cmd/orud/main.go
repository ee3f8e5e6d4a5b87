// The orud command is a thin daemon: it opens the local store, runs
// migrations, exposes operational counters over HTTP expvar, and runs a
// periodic sync loop against a configured remote.
//
// It is the one "external collaborator" this repository ships, purely to
// exercise the core end to end; the real CLI/HTTP/MCP/mobile surfaces are
// out of scope (see spec §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tchayen/oru"
	"github.com/tchayen/oru/fsremote"
)

var (
	debug        = flag.Bool("debug", false, "Show debug log messages.")
	version      = flag.Bool("version", false, "Show oru version.")
	listenAddr   = flag.String("listen", envOr("ORU_LISTEN_ADDR", ":8420"), "Address to expose /debug/vars on.")
	dbPath       = flag.String("db-path", os.Getenv("ORU_DB_PATH"), "Path to the oru SQLite database.")
	remotePath   = flag.String("remote-path", "", "Path to the fsremote SQLite database to sync against. If empty, the sync loop is disabled.")
	syncInterval = flag.Duration("sync-interval", envDurationOr("ORU_SYNC_INTERVAL", 30*time.Second), "How often to run a sync round.")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	flag.Parse()

	if *version {
		fmt.Println(oru.VERSION)
		return
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	log.Infof("Starting orud %s", oru.VERSION)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := oru.Open(ctx, *dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	stats := oru.NewStats("orud")
	device := oru.NewDeviceIdentity(store)
	deviceID, err := device.GetDeviceID(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("Device id: %s", deviceID)

	svc := oru.NewTaskService(store, device, stats)
	_ = svc // exercised by external collaborators; orud itself only syncs.

	if *remotePath != "" {
		remote, err := fsremote.Open(ctx, *remotePath)
		if err != nil {
			log.Fatal(err)
		}
		defer remote.Close()

		engine := oru.NewSyncEngine(store, device, remote, stats)
		go runSyncLoop(ctx, engine, *syncInterval)
	} else {
		log.Warn("No remote configured, sync loop disabled")
	}

	log.Infof("Listening on %s (HTTP /debug/vars)", *listenAddr)
	srv := &http.Server{Addr: *listenAddr}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func runSyncLoop(ctx context.Context, engine *oru.SyncEngine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := engine.Sync(ctx)
			if err != nil {
				log.WithError(err).Warn("orud: sync round failed")
				continue
			}
			log.WithFields(log.Fields{"pushed": result.Pushed, "pulled": result.Pulled}).Debug("orud: sync round complete")
		}
	}
}
