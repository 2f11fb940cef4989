package main

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "triagebot-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOutputRowsAndProcessedKeys(t *testing.T) {
	db := newTestDB(t)

	rows := []OutputRow{
		{Key: "C1", Sentiment: "Positive", Tags: "query", Summary: "Asked a question (Solved: yes)"},
		{Key: "C2", Sentiment: "Negative", Tags: "complaint,billing_issue", Summary: "Unhappy (Solved: no)"},
	}
	for _, row := range rows {
		if err := InsertOutputRow(db, row); err != nil {
			t.Fatalf("InsertOutputRow failed: %v", err)
		}
	}

	keys, err := GetProcessedKeys(db)
	if err != nil {
		t.Fatalf("GetProcessedKeys failed: %v", err)
	}
	if len(keys) != 2 || !keys["C1"] || !keys["C2"] {
		t.Fatalf("unexpected processed keys: %v", keys)
	}

	got, err := GetOutputRows(db)
	if err != nil {
		t.Fatalf("GetOutputRows failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Key != "C1" || got[1].Key != "C2" {
		t.Fatalf("expected insertion order, got %q then %q", got[0].Key, got[1].Key)
	}
	if got[1].Tags != "complaint,billing_issue" {
		t.Fatalf("unexpected tags: %q", got[1].Tags)
	}
}

func TestInsertOutputRowRejectsDuplicateKey(t *testing.T) {
	db := newTestDB(t)

	row := OutputRow{Key: "C1", Sentiment: "Neutral", Tags: "other", Summary: "(Solved: unclear)"}
	if err := InsertOutputRow(db, row); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := InsertOutputRow(db, row); err == nil {
		t.Fatal("expected duplicate key insert to fail")
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	db := newTestDB(t)

	_, found, err := LoadCheckpoint(db)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if found {
		t.Fatal("expected no checkpoint in fresh db")
	}

	cp := RunCheckpoint{Offset: 10, Total: 42, Processed: 10, StartedAt: time.Now().UTC().Truncate(time.Second)}
	if err := SaveCheckpoint(db, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	got, found, err := LoadCheckpoint(db)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if !found {
		t.Fatal("expected checkpoint after save")
	}
	if got.Offset != 10 || got.Total != 42 || got.Processed != 10 {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}

	// Singleton: a second save updates in place.
	cp.Offset = 20
	if err := SaveCheckpoint(db, cp); err != nil {
		t.Fatalf("SaveCheckpoint update failed: %v", err)
	}
	got, _, _ = LoadCheckpoint(db)
	if got.Offset != 20 {
		t.Fatalf("expected updated offset 20, got %d", got.Offset)
	}

	if err := ClearCheckpoint(db); err != nil {
		t.Fatalf("ClearCheckpoint failed: %v", err)
	}
	_, found, _ = LoadCheckpoint(db)
	if found {
		t.Fatal("expected checkpoint cleared")
	}
}

func TestRunLockExclusionAndRelease(t *testing.T) {
	db := newTestDB(t)

	acquired, err := AcquireRunLock(db, "holder-a", 0, time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("expected first acquisition to succeed")
	}

	acquired, err = AcquireRunLock(db, "holder-b", 0, time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock (contended) failed: %v", err)
	}
	if acquired {
		t.Fatal("expected contended acquisition to fail within zero wait")
	}

	holder, _, held, err := CurrentRunLock(db)
	if err != nil {
		t.Fatalf("CurrentRunLock failed: %v", err)
	}
	if !held || holder != "holder-a" {
		t.Fatalf("expected holder-a to hold the lock, got held=%v holder=%q", held, holder)
	}

	if err := ReleaseRunLock(db, "holder-a"); err != nil {
		t.Fatalf("ReleaseRunLock failed: %v", err)
	}
	acquired, err = AcquireRunLock(db, "holder-b", 0, time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock after release failed: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquisition after release to succeed")
	}
}

func TestRunLockStealsExpiredLease(t *testing.T) {
	db := newTestDB(t)

	acquired, err := AcquireRunLock(db, "crashed-holder", 0, -time.Minute)
	if err != nil || !acquired {
		t.Fatalf("seeding expired lock failed: acquired=%v err=%v", acquired, err)
	}

	acquired, err = AcquireRunLock(db, "holder-b", 0, time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("expected expired lease to be stolen")
	}
}

func TestRunLockReacquireBySameHolder(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 2; i++ {
		acquired, err := AcquireRunLock(db, "holder-a", 0, time.Minute)
		if err != nil {
			t.Fatalf("AcquireRunLock attempt %d failed: %v", i, err)
		}
		if !acquired {
			t.Fatalf("expected holder to reacquire its own lock on attempt %d", i)
		}
	}
}

func TestDiagnostics(t *testing.T) {
	db := newTestDB(t)

	_, _, found, err := GetDiagnostic(db, diagLastError)
	if err != nil {
		t.Fatalf("GetDiagnostic failed: %v", err)
	}
	if found {
		t.Fatal("expected no diagnostic in fresh db")
	}

	if err := SetDiagnostic(db, diagLastError, "key C3: boom"); err != nil {
		t.Fatalf("SetDiagnostic failed: %v", err)
	}
	value, _, found, err := GetDiagnostic(db, diagLastError)
	if err != nil {
		t.Fatalf("GetDiagnostic failed: %v", err)
	}
	if !found || value != "key C3: boom" {
		t.Fatalf("unexpected diagnostic: found=%v value=%q", found, value)
	}

	if err := SetDiagnostic(db, diagLastError, "key C4: other boom"); err != nil {
		t.Fatalf("SetDiagnostic update failed: %v", err)
	}
	value, _, _, _ = GetDiagnostic(db, diagLastError)
	if value != "key C4: other boom" {
		t.Fatalf("expected updated diagnostic, got %q", value)
	}
}

func TestReplaceRollupTablesClearAndRewrite(t *testing.T) {
	db := newTestDB(t)

	first := []TagRollup{{Tag: "query", ChannelCount: 3, PositiveCount: 1, NeutralCount: 1, NegativeCount: 1}}
	if err := ReplaceTagRollups(db, first); err != nil {
		t.Fatalf("ReplaceTagRollups failed: %v", err)
	}
	second := []TagRollup{{Tag: "complaint", ChannelCount: 1, NegativeCount: 1}}
	if err := ReplaceTagRollups(db, second); err != nil {
		t.Fatalf("ReplaceTagRollups rewrite failed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tag_rollups`).Scan(&count); err != nil {
		t.Fatalf("count tag_rollups failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected clear-and-rewrite to leave 1 row, got %d", count)
	}

	subs := []QuerySubcategory{{Subcategory: "query:general", ChannelCount: 2, NeutralCount: 2}}
	if err := ReplaceQuerySubcategories(db, subs); err != nil {
		t.Fatalf("ReplaceQuerySubcategories failed: %v", err)
	}
	var sub string
	if err := db.QueryRow(`SELECT subcategory FROM query_subcategories`).Scan(&sub); err != nil {
		t.Fatalf("read query_subcategories failed: %v", err)
	}
	if sub != "query:general" {
		t.Fatalf("unexpected subcategory: %q", sub)
	}
}
