package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Scheduler triggers Reconciler.Run on a cron schedule.
type Scheduler struct {
	rec  *Reconciler
	spec string
	// OnResult, if set, receives every scheduled pass's outcome.
	OnResult func(Result, error)

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

// NewScheduler validates spec (standard five-field cron or a descriptor
// such as "@every 15m") and returns an unstarted scheduler.
func NewScheduler(rec *Reconciler, spec string) (*Scheduler, error) {
	if _, err := rcron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return &Scheduler{rec: rec, spec: spec}, nil
}

// Start begins scheduled passes. They stop when ctx is canceled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := rcron.New()
	if _, err := c.AddFunc(s.spec, func() { s.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("register sync schedule: %w", err)
	}
	s.cron = c
	s.cancel = cancel
	c.Start()
	log.Printf("[sync] scheduled with %q", s.spec)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.rec.Run(ctx)
	if errors.Is(err, ErrSyncInProgress) {
		log.Printf("[sync] previous pass still running, skipping")
		return
	}
	if err != nil {
		log.Printf("[sync] scheduled pass failed: %v", err)
	}
	if s.OnResult != nil {
		s.OnResult(res, err)
	}
}

// Stop halts the schedule and waits briefly for a running pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[sync] stop timeout waiting for running pass")
	}
	log.Printf("[sync] stopped")
}
