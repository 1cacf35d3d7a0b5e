package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPollSchedule catches commands missed while the subscription was down
const DefaultPollSchedule = "@every 15m"

const pollTimeout = 30 * time.Second

// DeviceResolver returns the device to poll for; ok is false when no user
// is signed in
type DeviceResolver func(ctx context.Context) (deviceID string, ok bool)

// Poller runs Executor.ProcessPending on a cron schedule
type Poller struct {
	cron     *cron.Cron
	executor *Executor
	resolve  DeviceResolver
	logger   *slog.Logger
}

func NewPoller(schedule string, executor *Executor, resolve DeviceResolver, logger *slog.Logger) (*Poller, error) {
	if schedule == "" {
		schedule = DefaultPollSchedule
	}
	p := &Poller{
		cron:     cron.New(),
		executor: executor,
		resolve:  resolve,
		logger:   logger,
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.Poll(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid command poll schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins scheduled polling
func (p *Poller) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running poll to finish
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// Poll processes pending commands once
func (p *Poller) Poll(ctx context.Context) int {
	deviceID, ok := p.resolve(ctx)
	if !ok {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	n, err := p.executor.ProcessPending(ctx, deviceID)
	if err != nil {
		p.logger.WarnContext(ctx, "command poll failed", slog.Any("error", err))
		return 0
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "processed pending remote commands", slog.Int("count", n))
	}
	return n
}
