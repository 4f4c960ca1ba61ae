// Command agent runs on a packing-station device. It watches a spool
// directory for photos, parks them in a local draft database and replays
// them to the server whenever it is reachable, so packers can keep working
// through network drops.
package main

import (
	"context"
	"flag"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"packdoc/pkg/agent"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("PACKDOC_SERVER", "http://localhost:8081"), "server base URL")
	email := flag.String("email", os.Getenv("PACKDOC_EMAIL"), "login email")
	password := flag.String("password", os.Getenv("PACKDOC_PASSWORD"), "login password")
	dbPath := flag.String("db", "agent-drafts.db", "local draft database path")
	spool := flag.String("spool", "", "photo spool directory to watch (empty disables watching)")
	invoice := flag.String("invoice", "", "invoice number spooled photos belong to")
	syncEvery := flag.Duration("sync-every", 30*time.Second, "how often to retry syncing drafts")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("email and password are required (flags or PACKDOC_EMAIL/PACKDOC_PASSWORD)")
	}
	if *spool != "" && *invoice == "" {
		log.Fatal("-invoice is required when watching a spool directory")
	}

	client := agent.NewClient(*server)
	if err := client.Login(context.Background(), *email, *password); err != nil {
		log.Fatalf("login failed: %v", err)
	}

	drafts, err := agent.OpenDraftStore(*dbPath)
	if err != nil {
		log.Fatalf("open draft store: %v", err)
	}
	defer drafts.Close()

	syncer := agent.NewSyncer(client, drafts)
	syncer.Tracker.OnCompleted = func(u agent.Upload) {
		log.Printf("uploaded %s -> %s", u.FileName, u.RemoteURL)
	}
	syncer.Tracker.OnFailed = func(u agent.Upload) {
		log.Printf("upload failed %s: %s", u.FileName, u.Error)
	}
	defer syncer.Tracker.Stop()

	var watcher *agent.SpoolWatcher
	if *spool != "" {
		watcher, err = agent.WatchSpool(*spool, func(path string) {
			if err := spoolPhoto(drafts, *invoice, path); err != nil {
				log.Printf("spool %s: %v", path, err)
				return
			}
			log.Printf("spooled %s for invoice %s", filepath.Base(path), *invoice)
		})
		if err != nil {
			log.Fatalf("watch spool: %v", err)
		}
		defer watcher.Close()
		log.Printf("watching %s for invoice %s", *spool, *invoice)
	}

	// First pass immediately, then keep retrying so drafts drain as soon as
	// the server comes back.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(*syncEvery)
	defer ticker.Stop()
	for {
		if err := syncer.Replay(context.Background()); err != nil {
			log.Printf("sync pass failed: %v", err)
		}
		select {
		case <-sigs:
			log.Println("shutting down")
			return
		case <-ticker.C:
		}
	}
}

// envOr returns the value of the environment variable key, or def if unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// spoolPhoto files one photo from the spool into the invoice's draft. Files
// named after_* become AFTER photos, everything else BEFORE.
func spoolPhoto(drafts *agent.DraftStore, invoice, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	imageType := "BEFORE"
	if strings.HasPrefix(strings.ToLower(name), "after") {
		imageType = "AFTER"
	}
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	photo := agent.DraftPhoto{
		Type:     imageType,
		FileName: name,
		MimeType: mimeType,
		Data:     data,
	}
	_, err = drafts.AddPhoto(invoice, photo)
	return err
}
