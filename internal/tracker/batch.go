package tracker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mazen160/go-random"
	"pricetracker-backend/internal/components/chrono"
)

type BatchResult struct {
	RunId     string
	Succeeded int
	Failed    int
	// Cancelled is set when the context ended before every url was processed.
	Cancelled bool
	Outcomes  []URLOutcome
}

// RunBatch scrapes every active tracked url one after the other with a random
// pause between them. A failing url is counted and the batch moves on.
func (s Service) RunBatch(ctx context.Context) (BatchResult, error) {
	runId, err := random.String(8)
	if err != nil {
		runId = fmt.Sprint(s.clock.Now().UnixNano())
	}
	result := BatchResult{RunId: runId}

	urls, err := s.store.ListActiveTrackedURLs(ctx)
	if err != nil {
		return result, err
	}
	s.tel.ReportDebug("batch started", "run_id", runId, "urls", len(urls))

	for i, tracked := range urls {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		outcome := s.ScrapeURL(ctx, tracked.Url)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.OK() {
			result.Succeeded++
		} else {
			result.Failed++
		}

		if i == len(urls)-1 {
			break
		}
		err := s.opts.Sleep(ctx, s.randomDelay())
		if err != nil {
			result.Cancelled = true
			break
		}
	}

	s.tel.ReportCount(report_tracker_batch+".succeeded", int64(result.Succeeded))
	s.tel.ReportCount(report_tracker_batch+".failed", int64(result.Failed))
	s.tel.ReportDebug(
		"batch finished",
		"run_id", runId,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"cancelled", result.Cancelled,
	)
	return result, nil
}

// randomDelay is uniform in [MinDelay, MaxDelay].
func (s Service) randomDelay() time.Duration {
	spread := s.opts.MaxDelay - s.opts.MinDelay
	if spread <= 0 {
		return s.opts.MinDelay
	}
	return s.opts.MinDelay + time.Duration(s.opts.Rand.Int64N(int64(spread)+1))
}

// ScheduledRun is passed to the callback of RunScheduled after every batch.
type ScheduledRun struct {
	Number  int
	Result  BatchResult
	Err     error
	NextRun time.Time
}

// RunScheduled runs a batch right away and then once every interval until ctx
// is done. A tick that arrives while a batch is still running is skipped. It
// returns after the batch in progress, if any, has finished.
func (s Service) RunScheduled(ctx context.Context, cron chrono.CronAPI, interval time.Duration, onRun func(ScheduledRun)) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidInterval)
	}

	var runs atomic.Int64
	run := func() {
		if ctx.Err() != nil {
			return
		}
		result, err := s.RunBatch(ctx)
		if err != nil {
			s.tel.ReportBroken(report_tracker_batch, err)
		}
		if onRun != nil {
			onRun(ScheduledRun{
				Number:  int(runs.Add(1)),
				Result:  result,
				Err:     err,
				NextRun: s.clock.Now().Add(interval),
			})
		}
	}

	run()

	err := cron.Cron(chrono.EverySpec(interval), run)
	if err != nil {
		return err
	}

	<-ctx.Done()
	<-cron.Stop().Done()
	return nil
}
