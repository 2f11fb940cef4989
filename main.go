package main

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/slack-go/slack"
)

const usage = `usage: triagebot <command>

commands:
  run            start a fresh classification run (clears any stale checkpoint)
  resume         resume the current run, or start one if none exists
  analyze KEY... classify specific conversations immediately (no checkpoint)
  rollup         rebuild the rollup tables and report on demand
  check-columns  verify the source header resolves to key/text columns
  status         show checkpoint, lock, and last error diagnostics
  watch          keep running on the configured cron schedule
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg := LoadConfig()
	ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	switch command {
	case "run":
		requireSource(cfg)
		// A fresh run starts from a clean cursor; the output store still
		// guards against reclassifying finished keys.
		if err := ClearCheckpoint(db); err != nil {
			log.Fatalf("Failed to clear checkpoint: %v", err)
		}
		runBatch(cfg, db)
	case "resume":
		requireSource(cfg)
		runBatch(cfg, db)
	case "analyze":
		requireSource(cfg)
		keys := os.Args[2:]
		if len(keys) == 0 {
			log.Fatalf("analyze requires at least one conversation key")
		}
		count, err := AnalyzeKeys(cfg, db, keys)
		if errors.Is(err, ErrLockBusy) {
			log.Fatalf("Another run is active; try again later")
		}
		if err != nil {
			log.Fatalf("Analyze failed after %d conversations: %v", count, err)
		}
		log.Printf("Analyzed %d conversations", count)
	case "rollup":
		if err := RebuildRollups(cfg, db); err != nil {
			log.Fatalf("Rollup rebuild failed: %v", err)
		}
	case "check-columns":
		requireSource(cfg)
		checkColumns(cfg)
	case "status":
		printStatus(cfg, db)
	case "watch":
		requireSource(cfg)
		var api *slack.Client
		if cfg.SlackBotToken != "" {
			api = slack.New(cfg.SlackBotToken)
		}
		StartWatchScheduler(cfg, db, api)
		log.Println("Starting Conversation Triage Bot...")
		select {}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
}

func requireSource(cfg Config) {
	if cfg.SourcePath == "" {
		log.Fatalf("source_path is not set (via config.yaml or SOURCE_PATH)")
	}
}

func runBatch(cfg Config, db *sql.DB) {
	processed, err := RunToCompletion(cfg, db)
	if errors.Is(err, ErrLockBusy) {
		log.Fatalf("Another run is active; try again later")
	}
	if err != nil {
		log.Fatalf("Run aborted: %v", err)
	}
	log.Printf("Run finished: %d conversations processed", processed)
}

// checkColumns is the header-resolution dry run: it reports which columns
// the alias matching picked without classifying anything.
func checkColumns(cfg Config) {
	f, err := os.Open(cfg.SourcePath)
	if err != nil {
		log.Fatalf("Cannot open source: %v", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		log.Fatalf("Cannot read header row: %v", err)
	}
	keyCol, textCol, err := ResolveColumns(header)
	if err != nil {
		log.Fatalf("Header resolution failed: %v", err)
	}
	fmt.Printf("key column:  %d (%q)\n", keyCol, header[keyCol])
	fmt.Printf("text column: %d (%q)\n", textCol, header[textCol])

	records, err := LoadConversations(cfg.SourcePath, cfg.MaxTranscriptChars)
	if err != nil {
		log.Fatalf("Source check failed: %v", err)
	}
	fmt.Printf("conversations grouped: %d\n", len(records))
}

func printStatus(cfg Config, db *sql.DB) {
	cp, found, err := LoadCheckpoint(db)
	if err != nil {
		log.Fatalf("Failed to read checkpoint: %v", err)
	}
	if found {
		fmt.Printf("checkpoint: offset=%d total=%d processed=%d started=%s\n",
			cp.Offset, cp.Total, cp.Processed, cp.StartedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("checkpoint: none (idle)")
	}

	holder, expiresAt, held, err := CurrentRunLock(db)
	if err != nil {
		log.Fatalf("Failed to read run lock: %v", err)
	}
	if held {
		fmt.Printf("run lock: held by %s until %s\n", holder, expiresAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("run lock: free")
	}

	value, updatedAt, found, err := GetDiagnostic(db, diagLastError)
	if err != nil {
		log.Fatalf("Failed to read diagnostics: %v", err)
	}
	if found {
		fmt.Printf("last error (%s): %s\n", updatedAt.Format("2006-01-02 15:04:05"), value)
	} else {
		fmt.Println("last error: none")
	}

	keys, err := GetProcessedKeys(db)
	if err != nil {
		log.Fatalf("Failed to count outputs: %v", err)
	}
	fmt.Printf("output rows: %d\n", len(keys))

	if cfg.WatchSchedule != "" {
		fmt.Printf("watch schedule: %s\n", cfg.WatchSchedule)
	} else {
		fmt.Println("watch schedule: none")
	}
}
