package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrLockBusy means another invocation holds the run lock. Callers skip the
// invocation silently; the scheduler or a later manual resume tries again.
var ErrLockBusy = errors.New("run lock held by another invocation")

const runLockLease = 10 * time.Minute

func lockHolderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// RunChunk executes one bounded chunk of the current run: acquire the run
// lock, load and group the source, filter out keys that already have output
// rows, classify a slice of the remainder writing each row immediately,
// advance the checkpoint, and report whether more work remains. The caller
// registers the deferred re-invocation when Done is false.
//
// Infrastructure failures (unreadable source, unresolved columns, no usable
// rows) clear the checkpoint so a stale run cannot loop forever against
// unfixable input, record a diagnostic, and abort this invocation only.
func RunChunk(cfg Config, db *sql.DB) (ChunkResult, error) {
	holder := lockHolderID()
	acquired, err := AcquireRunLock(db, holder, time.Duration(cfg.LockWaitSeconds)*time.Second, runLockLease)
	if err != nil {
		return ChunkResult{}, err
	}
	if !acquired {
		return ChunkResult{}, ErrLockBusy
	}
	defer func() {
		if err := ReleaseRunLock(db, holder); err != nil {
			log.Printf("releasing run lock: %v", err)
		}
	}()

	result, err := runChunkLocked(cfg, db)
	if err != nil {
		if clearErr := ClearCheckpoint(db); clearErr != nil {
			log.Printf("clearing checkpoint after failure: %v", clearErr)
		}
		if diagErr := SetDiagnostic(db, diagLastError, err.Error()); diagErr != nil {
			log.Printf("recording diagnostic: %v", diagErr)
		}
	}
	return result, err
}

func runChunkLocked(cfg Config, db *sql.DB) (ChunkResult, error) {
	records, err := LoadConversations(cfg.SourcePath, cfg.MaxTranscriptChars)
	if err != nil {
		return ChunkResult{}, err
	}
	if len(records) == 0 {
		return ChunkResult{}, fmt.Errorf("no usable conversation rows in %s", cfg.SourcePath)
	}

	cp, found, err := LoadCheckpoint(db)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("loading checkpoint: %w", err)
	}
	if !found {
		cp = RunCheckpoint{Offset: 0, Total: -1, StartedAt: time.Now().UTC()}
	}
	if cp.Total < 0 {
		cp.Total = len(records)
	}

	processed, err := GetProcessedKeys(db)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("reading processed keys: %w", err)
	}

	// The output store, not the checkpoint, is authoritative for "done": a
	// key with an output row is never reprocessed, even after a full restart.
	var remaining []ConversationRecord
	for _, rec := range records {
		if !processed[rec.Key] {
			remaining = append(remaining, rec)
		}
	}

	if len(remaining) == 0 {
		if err := RebuildRollups(cfg, db); err != nil {
			return ChunkResult{}, err
		}
		if err := ClearCheckpoint(db); err != nil {
			return ChunkResult{}, err
		}
		log.Printf("run complete: total=%d processed=%d", cp.Total, cp.Processed)
		return ChunkResult{Done: true, Processed: cp.Processed}, nil
	}

	chunk := cfg.ChunkSize
	if chunk < 1 {
		chunk = 1
	}
	if chunk > len(remaining) {
		chunk = len(remaining)
	}
	slice := remaining[:chunk]

	limiter := rate.NewLimiter(rate.Every(time.Duration(cfg.PacingMillis)*time.Millisecond), 1)
	for _, rec := range slice {
		if err := limiter.Wait(context.Background()); err != nil {
			return ChunkResult{}, err
		}
		if err := classifyAndStore(cfg, db, rec); err != nil {
			return ChunkResult{}, err
		}
		cp.Processed++
	}

	cp.Offset += len(slice)
	if err := SaveCheckpoint(db, cp); err != nil {
		return ChunkResult{}, fmt.Errorf("saving checkpoint: %w", err)
	}

	left := len(remaining) - len(slice)
	if left == 0 {
		if err := RebuildRollups(cfg, db); err != nil {
			return ChunkResult{}, err
		}
		if err := ClearCheckpoint(db); err != nil {
			return ChunkResult{}, err
		}
		log.Printf("run complete: total=%d processed=%d", cp.Total, cp.Processed)
		return ChunkResult{Done: true, Processed: cp.Processed}, nil
	}

	log.Printf("chunk complete: processed=%d remaining=%d total=%d", cp.Processed, left, cp.Total)
	return ChunkResult{
		Done:        false,
		ResumeAfter: time.Duration(cfg.ResumeIntervalSeconds) * time.Second,
		Processed:   cp.Processed,
		Remaining:   left,
	}, nil
}

// classifyAndStore runs one key through classify, normalize, and the output
// store. A classification failure after all retries degrades to an empty
// result whose summary carries the failure note; it never aborts the batch.
func classifyAndStore(cfg Config, db *sql.DB, rec ConversationRecord) error {
	raw, errMsg := ClassifyWithRetry(cfg, rec.Key, rec.Transcript)
	norm := NormalizeClassification(raw, errMsg)
	if errMsg != "" {
		if err := SetDiagnostic(db, diagLastError, fmt.Sprintf("key %s: %s", rec.Key, errMsg)); err != nil {
			log.Printf("recording diagnostic: %v", err)
		}
	}

	row := OutputRow{
		Key:       rec.Key,
		Sentiment: displaySentiment(norm.Sentiment),
		Tags:      strings.Join(norm.Tags, ","),
		Summary:   norm.Summary,
	}
	if err := InsertOutputRow(db, row); err != nil {
		return fmt.Errorf("writing output row for key %s: %w", rec.Key, err)
	}
	log.Printf("classified key=%s sentiment=%s tags=%s", row.Key, norm.Sentiment, row.Tags)
	return nil
}

// RunToCompletion drives RunChunk until the run drains, sleeping the
// continuation's ResumeAfter between chunks. This is the shell-side stand-in
// for the deferred one-shot trigger: there is always exactly one pending
// continuation, never an accumulation of them.
func RunToCompletion(cfg Config, db *sql.DB) (int, error) {
	total := 0
	for {
		result, err := RunChunk(cfg, db)
		if err != nil {
			return total, err
		}
		total = result.Processed
		if result.Done {
			return total, nil
		}
		log.Printf("resuming in %s (%d keys remaining)", result.ResumeAfter, result.Remaining)
		time.Sleep(result.ResumeAfter)
	}
}

// AnalyzeKeys classifies an ad-hoc subset of conversations immediately, with
// no checkpoint involved. Already-classified keys are skipped: the first
// classification wins, here as everywhere.
func AnalyzeKeys(cfg Config, db *sql.DB, keys []string) (int, error) {
	holder := lockHolderID()
	acquired, err := AcquireRunLock(db, holder, time.Duration(cfg.LockWaitSeconds)*time.Second, runLockLease)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, ErrLockBusy
	}
	defer func() {
		if err := ReleaseRunLock(db, holder); err != nil {
			log.Printf("releasing run lock: %v", err)
		}
	}()

	records, err := LoadConversations(cfg.SourcePath, cfg.MaxTranscriptChars)
	if err != nil {
		return 0, err
	}
	byKey := make(map[string]ConversationRecord, len(records))
	for _, rec := range records {
		byKey[rec.Key] = rec
	}

	processed, err := GetProcessedKeys(db)
	if err != nil {
		return 0, err
	}

	limiter := rate.NewLimiter(rate.Every(time.Duration(cfg.PacingMillis)*time.Millisecond), 1)
	count := 0
	for _, key := range keys {
		rec, ok := byKey[key]
		if !ok {
			return count, fmt.Errorf("key %q not found in source %s", key, cfg.SourcePath)
		}
		if processed[key] {
			log.Printf("skipping key=%s: already classified", key)
			continue
		}
		if err := limiter.Wait(context.Background()); err != nil {
			return count, err
		}
		if err := classifyAndStore(cfg, db, rec); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
