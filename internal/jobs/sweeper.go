package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweep puts jobs whose worker died mid-flight back on the ready list.
func Sweep(ctx context.Context, queue Queue, now time.Time) {
	moved, err := queue.RequeueExpired(ctx, now)
	if err != nil {
		log.Printf("lease sweeper error: %v", err)
		return
	}
	if moved > 0 {
		log.Printf("lease sweeper requeued %d jobs", moved)
	}
}

// StartSweeper runs Sweep on a cron schedule until ctx is cancelled.
func StartSweeper(ctx context.Context, queue Queue, schedule string, timeout time.Duration) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		Sweep(tickCtx, queue, time.Now().UTC())
	}); err != nil {
		return err
	}
	c.Start()
	log.Printf("lease sweeper started schedule=%q", schedule)
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
