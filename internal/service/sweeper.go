package service

import (
	"context"
	"log"
	"time"
)

// Sweeper runs the bulk expiry pass on a fixed interval
type Sweeper struct {
	entitlements *EntitlementService
	interval     time.Duration
}

func NewSweeper(entitlements *EntitlementService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{entitlements: entitlements, interval: interval}
}

// Run sweeps once at start and then every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	log.Printf("[Sweep] Expiry sweeper started (interval: %s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweep] Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.entitlements.SweepExpired(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[Sweep] Sweep failed: %v", err)
	}
}
