package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const maxTagsPerConversation = 6

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeClassification turns a raw, possibly malformed model response
// into a validated NormalizedResult. It is total: any input, including the
// zero value, yields sentiment in {positive, neutral, negative}, 1-6
// approved tags, solved in {yes, no, unclear}, and a non-empty summary.
// errMsg carries the last classification error when all attempts failed.
func NormalizeClassification(raw ClassificationResult, errMsg string) NormalizedResult {
	result := NormalizedResult{
		Sentiment: normalizeSentiment(raw.Sentiment),
		Tags:      normalizeTags(raw.Tags),
		Solved:    normalizeSolved(raw.Solved),
	}

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" && errMsg != "" {
		summary = fmt.Sprintf("Classification failed: %s", errMsg)
	}
	if summary == "" {
		result.Summary = fmt.Sprintf("(Solved: %s)", result.Solved)
	} else {
		result.Summary = fmt.Sprintf("%s (Solved: %s)", summary, result.Solved)
	}
	return result
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	case "neutral":
		return "neutral"
	}
	return "neutral"
}

func normalizeSolved(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return "yes"
	case "no":
		return "no"
	case "unclear":
		return "unclear"
	}
	return "unclear"
}

// normalizeTags filters the raw tag payload against the taxonomy: each entry
// is stringified, trimmed, lowercased, and internal whitespace runs collapse
// to a single underscore. Unrecognized tags are dropped, not coerced.
// Duplicates (after normalization) are dropped, at most six tags are kept,
// and an empty survivor list falls back to [other].
func normalizeTags(raw json.RawMessage) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, entry := range parseTagEntries(raw) {
		tag := normalizeTagToken(entry)
		if tag == "" || !approvedTagSet[tag] || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTagsPerConversation {
			break
		}
	}
	if len(tags) == 0 {
		return []string{fallbackTag}
	}
	return tags
}

func normalizeTagToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRun.ReplaceAllString(s, "_")
}

// parseTagEntries tolerates the shapes models actually emit: ["a","b"],
// mixed arrays with numbers, a single bare string, or garbage.
func parseTagEntries(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var asStrings []string
	if err := json.Unmarshal(raw, &asStrings); err == nil {
		return asStrings
	}

	var asAny []any
	if err := json.Unmarshal(raw, &asAny); err == nil {
		var out []string
		for _, v := range asAny {
			switch x := v.(type) {
			case string:
				out = append(out, x)
			case float64:
				out = append(out, fmt.Sprintf("%g", x))
			}
		}
		return out
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []string{asString}
	}

	return nil
}

// displaySentiment capitalizes a normalized sentiment for the output store.
func displaySentiment(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
