package ideproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher periodically lists the IDE's tools so discovery stays warm
// and tool-list changes are noticed without a client asking.
type Refresher struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

// NewRefresher creates a Refresher. Each run is bounded by timeout.
func NewRefresher(client *Client, interval, timeout time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{client: client, interval: interval, timeout: timeout, logger: logger}
}

// Start schedules the refresh job. Overlapping runs are skipped.
func (r *Refresher) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", r.interval)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronLog := rcron.PrintfLogger(zap.NewStdLog(r.logger))
	c := rcron.New(rcron.WithChain(rcron.Recover(cronLog), rcron.SkipIfStillRunning(cronLog)))

	schedule := fmt.Sprintf("@every %s", r.interval)
	if _, err := c.AddFunc(schedule, func() { r.runOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduling IDE refresh %q: %w", schedule, err)
	}

	r.mu.Lock()
	r.cron = c
	r.cancel = cancel
	r.mu.Unlock()

	c.Start()
	r.logger.Debug("IDE refresher started", zap.Duration("interval", r.interval))
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

func (r *Refresher) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	r.client.Refresh(rctx)
}
