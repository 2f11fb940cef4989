package main

import (
	"encoding/json"
	"time"
)

// ConversationRecord is one grouped conversation: the stable key from the
// source sheet plus the joined transcript text. Rebuilt fresh from the
// source on every engine invocation, never persisted.
type ConversationRecord struct {
	Key        string
	Transcript string
}

// ClassificationResult is the raw, untrusted model output. Any field may be
// absent, wrong-typed, or out of vocabulary; the normalizer is the only
// consumer.
type ClassificationResult struct {
	Sentiment string          `json:"sentiment"`
	Tags      json.RawMessage `json:"tags"`
	Summary   string          `json:"summary"`
	Solved    string          `json:"solved"`
}

// NormalizedResult is the validated record written to the output store.
// Sentiment is one of positive/neutral/negative, Tags holds 1-6 approved
// taxonomy members, Solved is one of yes/no/unclear.
type NormalizedResult struct {
	Sentiment string
	Tags      []string
	Solved    string
	Summary   string
}

// OutputRow is the durable per-key record. The set of keys present in the
// output store is the resume/idempotence boundary.
type OutputRow struct {
	Key          string
	Sentiment    string // display-capitalized
	Tags         string // comma-joined
	Summary      string
	ClassifiedAt time.Time
}

// RunCheckpoint is the singleton durable cursor for the current run.
// Total is -1 until the first chunk counts the grouped keys.
type RunCheckpoint struct {
	Offset    int
	Total     int
	Processed int
	StartedAt time.Time
}

// ChunkResult is the continuation returned by one engine invocation. The
// calling shell is responsible for registering the deferred re-invocation
// when Done is false.
type ChunkResult struct {
	Done        bool
	ResumeAfter time.Duration
	Processed   int
	Remaining   int
}

// TagRollup aggregates one taxonomy tag across all output rows.
type TagRollup struct {
	Tag           string
	ChannelCount  int
	PositiveCount int
	NeutralCount  int
	NegativeCount int
}

// QuerySubcategory aggregates "query"-tagged rows per co-occurring topical
// tag (or the general bucket).
type QuerySubcategory struct {
	Subcategory   string // "query:" + topical tag or "general"
	ChannelCount  int
	PositiveCount int
	NeutralCount  int
	NegativeCount int
}
