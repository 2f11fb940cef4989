package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"
)

// StartWatchScheduler runs the batch engine on a cron schedule, picking up
// conversations added to the source since the last run. The schedule is a
// standard 5-field cron expression (minute hour day-of-month month
// day-of-week). Examples: "0 2 * * *" (daily 2am), "0 */4 * * *" (every 4
// hours).
//
// Scheduled runs are unattended: failures are logged and recorded in the
// diagnostics slot, never raised interactively.
func StartWatchScheduler(cfg Config, db *sql.DB, api *slack.Client) {
	schedule := strings.TrimSpace(cfg.WatchSchedule)
	if schedule == "" {
		log.Println("Watch disabled (watch_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid watch_schedule '%s': %v. Watch disabled", schedule, err)
		return
	}

	log.Printf("Watch scheduled (cron: %s) over %s", schedule, cfg.SourcePath)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next scheduled run at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			processed, runErr := RunToCompletion(cfg, db)
			switch {
			case errors.Is(runErr, ErrLockBusy):
				log.Println("Scheduled run skipped: another invocation is active")
			case runErr != nil:
				log.Printf("Scheduled run error: %v", runErr)
				NotifyRunSummary(api, cfg, fmt.Sprintf("Scheduled classification run failed: %v", runErr))
			default:
				summary := fmt.Sprintf("Scheduled classification run complete: %d conversations processed", processed)
				log.Print(summary)
				NotifyRunSummary(api, cfg, summary)
			}
		}
	}()
}

// NotifyRunSummary posts a run summary to the configured report channel.
// No-op when Slack is not configured.
func NotifyRunSummary(api *slack.Client, cfg Config, summary string) {
	if api == nil || cfg.ReportChannelID == "" {
		return
	}
	_, _, err := api.PostMessage(cfg.ReportChannelID, slack.MsgOptionText(summary, false))
	if err != nil {
		log.Printf("Error posting run summary: %v", err)
	}
}
