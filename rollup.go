package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BuildTagRollups reduces the output rows to one record per taxonomy tag, in
// taxonomy order. Every tag is present even with zero occurrences so the
// report shape is stable.
func BuildTagRollups(rows []OutputRow) []TagRollup {
	byTag := make(map[string]*TagRollup, len(approvedTags))
	rollups := make([]TagRollup, len(approvedTags))
	for i, tag := range approvedTags {
		rollups[i] = TagRollup{Tag: tag}
		byTag[tag] = &rollups[i]
	}

	for _, row := range rows {
		sentiment := strings.ToLower(row.Sentiment)
		for _, tag := range splitTags(row.Tags) {
			r, ok := byTag[tag]
			if !ok {
				continue
			}
			r.ChannelCount++
			switch sentiment {
			case "positive":
				r.PositiveCount++
			case "negative":
				r.NegativeCount++
			default:
				r.NeutralCount++
			}
		}
	}
	return rollups
}

// BuildQuerySubcategories fans each "query"-tagged row out across its
// co-occurring topical tags, or into the general bucket when none is
// present. Rows sort alphabetically with "query:general" always last.
func BuildQuerySubcategories(rows []OutputRow) []QuerySubcategory {
	bySubcategory := make(map[string]*QuerySubcategory)

	for _, row := range rows {
		tags := splitTags(row.Tags)
		hasQuery := false
		for _, tag := range tags {
			if tag == queryTag {
				hasQuery = true
				break
			}
		}
		if !hasQuery {
			continue
		}

		var buckets []string
		for _, tag := range tags {
			if topicalTagSet[tag] {
				buckets = append(buckets, queryTag+":"+tag)
			}
		}
		if len(buckets) == 0 {
			buckets = []string{queryTag + ":" + generalSubcategory}
		}

		sentiment := strings.ToLower(row.Sentiment)
		for _, name := range buckets {
			s, ok := bySubcategory[name]
			if !ok {
				s = &QuerySubcategory{Subcategory: name}
				bySubcategory[name] = s
			}
			s.ChannelCount++
			switch sentiment {
			case "positive":
				s.PositiveCount++
			case "negative":
				s.NegativeCount++
			default:
				s.NeutralCount++
			}
		}
	}

	subs := make([]QuerySubcategory, 0, len(bySubcategory))
	for _, s := range bySubcategory {
		subs = append(subs, *s)
	}
	general := queryTag + ":" + generalSubcategory
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Subcategory == general {
			return false
		}
		if subs[j].Subcategory == general {
			return true
		}
		return subs[i].Subcategory < subs[j].Subcategory
	})
	return subs
}

func splitTags(joined string) []string {
	var tags []string
	for _, tag := range strings.Split(joined, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// RebuildRollups recomputes both rollup tables from scratch out of the full
// output store and replaces their contents. Also writes a markdown rollup
// report when an output directory is configured. Idempotent.
func RebuildRollups(cfg Config, db *sql.DB) error {
	rows, err := GetOutputRows(db)
	if err != nil {
		return fmt.Errorf("reading output rows: %w", err)
	}

	tagRollups := BuildTagRollups(rows)
	subcategories := BuildQuerySubcategories(rows)

	if err := ReplaceTagRollups(db, tagRollups); err != nil {
		return fmt.Errorf("writing tag rollups: %w", err)
	}
	if err := ReplaceQuerySubcategories(db, subcategories); err != nil {
		return fmt.Errorf("writing query subcategories: %w", err)
	}
	log.Printf("rollups rebuilt: rows=%d tags=%d subcategories=%d", len(rows), len(tagRollups), len(subcategories))

	if cfg.ReportOutputDir != "" {
		path, err := WriteRollupReportFile(cfg.ReportOutputDir, time.Now(), tagRollups, subcategories)
		if err != nil {
			return fmt.Errorf("writing rollup report: %w", err)
		}
		log.Printf("rollup report written to %s", path)
	}
	return nil
}

// WriteRollupReportFile renders both rollups as a markdown file named by
// date and returns the path.
func WriteRollupReportFile(outputDir string, reportDate time.Time, tagRollups []TagRollup, subcategories []QuerySubcategory) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("rollup_%s.md", reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(renderRollupMarkdown(reportDate, tagRollups, subcategories)), 0644)
}

func renderRollupMarkdown(reportDate time.Time, tagRollups []TagRollup, subcategories []QuerySubcategory) string {
	var out strings.Builder
	fmt.Fprintf(&out, "### Conversation Tag Rollup %s\n\n", reportDate.Format("20060102"))
	out.WriteString("| Tag | Channels | Positive | Neutral | Negative |\n")
	out.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, r := range tagRollups {
		fmt.Fprintf(&out, "| %s | %d | %d | %d | %d |\n",
			r.Tag, r.ChannelCount, r.PositiveCount, r.NeutralCount, r.NegativeCount)
	}

	out.WriteString("\n#### Query Subcategories\n\n")
	if len(subcategories) == 0 {
		out.WriteString("No query-tagged conversations.\n")
		return out.String()
	}
	out.WriteString("| Subcategory | Channels | Positive | Neutral | Negative |\n")
	out.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, s := range subcategories {
		fmt.Fprintf(&out, "| %s | %d | %d | %d | %d |\n",
			s.Subcategory, s.ChannelCount, s.PositiveCount, s.NeutralCount, s.NegativeCount)
	}
	return out.String()
}
