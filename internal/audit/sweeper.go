package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper purges expired audit events on a fixed interval
type Sweeper struct {
	log           *Log
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger
}

// NewSweeper creates a Sweeper
func NewSweeper(log *Log, retentionDays int, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		log:           log,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.Named("sweeper"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.log.PurgeOlderThan(ctx, s.retentionDays)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("audit retention sweep failed", zap.Error(err))
		}
		return
	}
	s.logger.Info("audit retention sweep complete",
		zap.Int64("deleted", n),
		zap.Int("retention_days", s.retentionDays),
	)
}
