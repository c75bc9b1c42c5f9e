package worker

import (
	"context"
	"time"

	"cvrender/internal/pkg/logger"
)

// ArchivePruner removes failed tasks that outlived their retention.
// Satisfied by dispatch.QueueDispatcher.
type ArchivePruner interface {
	PruneArchived(ctx context.Context, olderThan time.Duration) (int, error)
}

// ArtifactCleaner removes stored artifacts past their age limit. Satisfied
// by blob.Local; the S3 backend handles expiry with bucket lifecycle rules
// and is not swept here.
type ArtifactCleaner interface {
	CleanupOldFiles(ctx context.Context, olderThan time.Duration) (int, error)
}

// SweepDeps configures the periodic maintenance sweep.
type SweepDeps struct {
	Queue       ArchivePruner
	Artifacts   ArtifactCleaner // nil disables the artifact sweep
	FailureTTL  time.Duration
	ArtifactTTL time.Duration // 0 disables the artifact sweep
	Interval    time.Duration
	Log         *logger.Logger
}

// RunSweeper prunes expired archived tasks and old local artifacts on an
// interval until ctx is canceled. One sweep runs immediately at start.
func RunSweeper(ctx context.Context, d SweepDeps) {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("sweeper")

	if d.Interval <= 0 {
		d.Interval = time.Hour
	}

	sweep(ctx, d, log)

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper stopping")
			return
		case <-ticker.C:
			sweep(ctx, d, log)
		}
	}
}

func sweep(ctx context.Context, d SweepDeps, log *logger.Logger) {
	if d.Queue != nil && d.FailureTTL > 0 {
		n, err := d.Queue.PruneArchived(ctx, d.FailureTTL)
		if err != nil {
			log.Warn("archived task sweep failed", "error", err.Error())
		} else if n > 0 {
			log.Info("pruned archived tasks", "count", n)
		}
	}

	if d.Artifacts != nil && d.ArtifactTTL > 0 {
		n, err := d.Artifacts.CleanupOldFiles(ctx, d.ArtifactTTL)
		if err != nil {
			log.Warn("artifact sweep failed", "error", err.Error())
		} else if n > 0 {
			log.Info("swept old artifacts", "count", n)
		}
	}
}
