package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"

	"github.com/llmspell-go/kernel/internal/cluster"
)

// cronRunner is satisfied by hardloop's unexported *cronJob type
// (returned by hardloop.NewCron).
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// ScheduledScript is one daemon-mode entry: run Code on Spec's cron
// schedule, each firing producing an isolated session.
type ScheduledScript struct {
	Name string
	Spec string // cron spec, optionally "CRON_TZ=<tz> <spec>"
	Code string
	Args map[string]string
}

// RunFunc executes one scheduled script firing and returns when done.
// The kernel supplies this; it's normally bridge.Engine.Execute wrapped
// to allocate a fresh per-firing session.
type RunFunc func(ctx context.Context, s ScheduledScript) error

// Daemon runs a kernel's scheduled scripts on a hardloop cron runner,
// optionally coordinated across a cluster via a leader lock so only one
// instance fires a given schedule at a time.
//
// Grounded on internal/service/workflow/scheduler.go's Scheduler: same
// stop-and-recreate-the-cron-runner approach (hardloop's cronJob has no
// dynamic add/remove), same runLockLoop leader-election shape.
type Daemon struct {
	scripts []ScheduledScript
	run     RunFunc
	cluster *cluster.Cluster

	mu     sync.Mutex
	cron   cronRunner
	cancel context.CancelFunc
	ctx    context.Context
}

func NewDaemon(scripts []ScheduledScript, run RunFunc, cl *cluster.Cluster) *Daemon {
	return &Daemon{scripts: scripts, run: run, cluster: cl}
}

// Start loads the scheduled scripts and begins firing them. If a
// cluster is configured, the cron runner only starts once this instance
// wins the scheduler leader lock.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx = ctx

	if d.cluster != nil {
		go d.runLockLoop(ctx)
		return nil
	}
	return d.reload()
}

func (d *Daemon) runLockLoop(ctx context.Context) {
	logger := logi.Ctx(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		logger.Info("kernel daemon: attempting to acquire leader lock")
		if err := d.cluster.LockScheduler(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("kernel daemon: failed to acquire lock, retrying", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		logger.Info("kernel daemon: acquired leader lock, starting scheduled scripts")
		d.mu.Lock()
		if err := d.reload(); err != nil {
			logger.Error("kernel daemon: failed to start cron runner", "error", err)
		}
		d.mu.Unlock()

		<-ctx.Done()
		logger.Info("kernel daemon: releasing leader lock")
		d.Stop()
		_ = d.cluster.UnlockScheduler()
		return
	}
}

// Stop halts the cron runner. Safe to call multiple times.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Daemon) stopLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.cron != nil {
		d.cron.Stop()
		d.cron = nil
	}
}

// reload must be called with d.mu held.
func (d *Daemon) reload() error {
	d.stopLocked()
	if d.ctx == nil || len(d.scripts) == 0 {
		return nil
	}

	crons := make([]hardloop.Cron, 0, len(d.scripts))
	for _, s := range d.scripts {
		script := s
		crons = append(crons, hardloop.Cron{
			Name:  fmt.Sprintf("script-%s", script.Name),
			Specs: []string{script.Spec},
			Func: func(ctx context.Context) error {
				logi.Ctx(ctx).Info("kernel daemon: script fired", "name", script.Name)
				if err := d.run(ctx, script); err != nil {
					logi.Ctx(ctx).Error("kernel daemon: script failed", "name", script.Name, "error", err)
				}
				return nil // never stop the cron loop on a single firing's error
			},
		})
	}

	cronJob, err := hardloop.NewCron(crons...)
	if err != nil {
		return fmt.Errorf("kernel daemon: create cron runner: %w", err)
	}

	ctx, cancel := context.WithCancel(d.ctx)
	d.cancel = cancel
	d.cron = cronJob

	if err := cronJob.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("kernel daemon: start cron runner: %w", err)
	}
	logi.Ctx(d.ctx).Info("kernel daemon: started scheduled scripts", "count", len(crons))
	return nil
}
