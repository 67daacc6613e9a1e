package commands

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pricetracker-backend/internal/components/chrono"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/tracker"
)

func init() {
	rootCmd.AddCommand(runScrapeCmd)
	rootCmd.AddCommand(runScheduleCmd)
}

// maxIntervalHours keeps the schedule well inside time.Duration.
const maxIntervalHours = 24 * 365

func parseHours(raw string) (time.Duration, error) {
	hours, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(hours) || hours <= 0 || hours > maxIntervalHours {
		return 0, fmt.Errorf("%w: %q is not a number of hours between 0 and %d", tracker.ErrInvalidInterval, raw, maxIntervalHours)
	}
	interval := time.Duration(hours * float64(time.Hour))
	if interval < time.Minute {
		return 0, fmt.Errorf("%w: %q is shorter than a minute", tracker.ErrInvalidInterval, raw)
	}
	return interval, nil
}

func printBatch(result tracker.BatchResult) {
	for _, outcome := range result.Outcomes {
		switch {
		case !outcome.OK():
			fmt.Printf("  FAIL %s: %v\n", outcome.Url, outcome.Err)
		case outcome.Created:
			fmt.Printf("  NEW  %s: $%.2f\n", outcome.ItemCode, outcome.Price)
		case outcome.Changed:
			fmt.Printf("  CHG  %s: $%.2f -> $%.2f (%d alerts, %d sent)\n", outcome.ItemCode, outcome.OldPrice, outcome.Price, outcome.Triggered, outcome.Notified)
		default:
			fmt.Printf("  OK   %s: $%.2f\n", outcome.ItemCode, outcome.Price)
		}
	}
	fmt.Printf("run %s: %d succeeded, %d failed\n", result.RunId, result.Succeeded, result.Failed)
	if result.Cancelled {
		fmt.Println("run was interrupted before every url was scraped")
	}
}

var runScrapeCmd = &cobra.Command{
	Use:   "run-scrape",
	Short: "Scrapes every tracked product once.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := withTracker(cmd)
		if err != nil {
			return err
		}
		result, err := service.RunBatch(cmd.Context())
		if err != nil {
			return err
		}
		printBatch(result)
		return nil
	},
}

var runScheduleCmd = &cobra.Command{
	Use:   "run-schedule [hours]",
	Short: "Scrapes every tracked product now and then every <hours> hours until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval := current.config.DefaultInterval()
		if len(args) == 1 {
			parsed, err := parseHours(args[0])
			if err != nil {
				return err
			}
			interval = parsed
		}

		service, err := withTracker(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		telemetry.InstrumentPerfStats(ctx, current.tel)
		cron := chrono.NewStandardCron(current.tel, time.Local)

		fmt.Printf("scraping every %s, press Ctrl+C to stop\n", interval)
		return service.RunScheduled(ctx, cron, interval, func(run tracker.ScheduledRun) {
			fmt.Printf("run #%d finished at %s\n", run.Number, time.Now().Format(time.DateTime))
			if run.Err != nil {
				fmt.Printf("  failed: %v\n", run.Err)
			} else {
				printBatch(run.Result)
			}
			fmt.Printf("next run at %s\n", run.NextRun.Format(time.DateTime))
		})
	},
}
