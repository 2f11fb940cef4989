package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Header aliases for the two required columns. Matching is tried first as an
// exact case-insensitive comparison, then with punctuation and whitespace
// stripped, so "Conversation_ID" and "conversation id" both resolve.
var keyColumnAliases = []string{
	"conversation id", "conversation_id", "conversation", "channel id",
	"channel", "chat id", "ticket id", "key",
}

var textColumnAliases = []string{
	"message", "message body", "text", "body", "chat body", "transcript",
	"content",
}

const transcriptSeparator = "\n"

// ResolveColumns finds the key and text column indexes in a header row.
// Returns a user-facing error naming the missing column.
func ResolveColumns(header []string) (keyCol, textCol int, err error) {
	keyCol = resolveColumn(header, keyColumnAliases)
	if keyCol < 0 {
		return 0, 0, fmt.Errorf("could not find a conversation key column (looked for: %s)", strings.Join(keyColumnAliases, ", "))
	}
	textCol = resolveColumn(header, textColumnAliases)
	if textCol < 0 {
		return 0, 0, fmt.Errorf("could not find a message text column (looked for: %s)", strings.Join(textColumnAliases, ", "))
	}
	return keyCol, textCol, nil
}

func resolveColumn(header []string, aliases []string) int {
	for i, cell := range header {
		cell = strings.ToLower(strings.TrimSpace(cell))
		for _, alias := range aliases {
			if cell == alias {
				return i
			}
		}
	}
	for i, cell := range header {
		norm := normalizeHeaderToken(cell)
		for _, alias := range aliases {
			if norm == normalizeHeaderToken(alias) {
				return i
			}
		}
	}
	return -1
}

// normalizeHeaderToken lowercases and strips everything but letters and
// digits, collapsing "Chat Body", "chat_body", and "chat-body" to one form.
func normalizeHeaderToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LoadConversations reads the source CSV and groups message rows by
// conversation key in first-occurrence order. Rows with an empty key or
// empty text are skipped; multiple fragments for a key are joined in row
// order and the transcript is truncated to maxChars.
func LoadConversations(path string, maxChars int) ([]ConversationRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("source %s is empty (no header row)", path)
	}

	keyCol, textCol, err := ResolveColumns(rows[0])
	if err != nil {
		return nil, err
	}

	return groupConversations(rows[1:], keyCol, textCol, maxChars), nil
}

func groupConversations(rows [][]string, keyCol, textCol, maxChars int) []ConversationRecord {
	var order []string
	parts := make(map[string][]string)

	for _, row := range rows {
		if keyCol >= len(row) || textCol >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[keyCol])
		text := strings.TrimSpace(row[textCol])
		if key == "" || text == "" {
			continue
		}
		if _, ok := parts[key]; !ok {
			order = append(order, key)
		}
		parts[key] = append(parts[key], text)
	}

	records := make([]ConversationRecord, 0, len(order))
	for _, key := range order {
		transcript := strings.Join(parts[key], transcriptSeparator)
		if maxChars > 0 && len(transcript) > maxChars {
			transcript = transcript[:maxChars]
		}
		records = append(records, ConversationRecord{Key: key, Transcript: transcript})
	}
	return records
}
