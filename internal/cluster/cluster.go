// Package cluster provides leader election for the kernel's daemon-mode
// cron scheduler across multiple kernel instances, using the alan UDP
// peer discovery library. A kernel fleet running in daemon mode shares
// one set of scheduled scripts; Cluster's lock ensures only the elected
// leader fires them, so a schedule doesn't run once per instance.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/rakunlabs/alan"
)

// lockScheduler is the distributed lock name guarding the daemon cron
// loop's leader election.
const lockScheduler = "kernel-daemon-scheduler"

// Cluster wraps an alan instance with the one piece of distributed
// coordination the kernel daemon needs: a named lock.
type Cluster struct {
	alan *alan.Alan
}

// New creates a Cluster from the kernel's alan configuration.
// Returns nil, nil if cfg is nil (clustering disabled, daemon mode runs
// unconditionally on a single instance).
func New(cfg *alan.Config) (*Cluster, error) {
	if cfg == nil {
		return nil, nil
	}

	a, err := alan.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("create alan instance: %w", err)
	}

	return &Cluster{alan: a}, nil
}

// Start begins the alan peer discovery system in the background. Start
// blocks until the context is cancelled; run it in a goroutine.
func (c *Cluster) Start(ctx context.Context) error {
	c.alan.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("cluster peer joined", "addr", addr.String())
	})
	c.alan.OnPeerLeave(func(addr *net.UDPAddr) {
		slog.Info("cluster peer left", "addr", addr.String())
	})

	return c.alan.Start(ctx, func(_ context.Context, msg alan.Message) {
		slog.Debug("cluster: unsolicited message ignored", "from", msg.Addr)
	})
}

// Stop gracefully leaves the cluster.
func (c *Cluster) Stop() error {
	return c.alan.Stop()
}

// LockScheduler acquires the distributed lock for the daemon cron
// scheduler. Blocks until the lock is acquired or the context is
// cancelled.
func (c *Cluster) LockScheduler(ctx context.Context) error {
	return c.alan.Lock(ctx, lockScheduler)
}

// UnlockScheduler releases the distributed lock for the daemon cron
// scheduler.
func (c *Cluster) UnlockScheduler() error {
	return c.alan.Unlock(lockScheduler)
}

// Ready returns a channel that is closed when peer discovery has
// completed its initial round.
func (c *Cluster) Ready() <-chan struct{} {
	return c.alan.Ready()
}
