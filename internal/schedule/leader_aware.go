package schedule

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/signcast/signcast/internal/leadership"
)

// LeaderAwareRunner runs the schedule runner only while this instance
// holds the leadership lease, so exactly one node drives schedules.
type LeaderAwareRunner struct {
	runner   *Runner
	election *leadership.Election
	logger   zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancelFunc context.CancelFunc
	running    bool
}

// NewLeaderAware wraps a runner with leadership gating.
func NewLeaderAware(runner *Runner, election *leadership.Election, logger zerolog.Logger) *LeaderAwareRunner {
	return &LeaderAwareRunner{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_runner").Logger(),
	}
}

// Start begins the election and manages the runner across leadership
// changes.
func (lar *LeaderAwareRunner) Start(ctx context.Context) error {
	lar.ctx = ctx

	if err := lar.election.Start(ctx); err != nil {
		return err
	}

	go lar.monitorLeadership()
	return nil
}

// Stop halts the runner if active and withdraws from the election.
func (lar *LeaderAwareRunner) Stop() error {
	lar.stopRunner()
	return lar.election.Stop()
}

// IsLeader reports whether this instance currently drives schedules.
func (lar *LeaderAwareRunner) IsLeader() bool {
	return lar.election.IsLeader()
}

func (lar *LeaderAwareRunner) monitorLeadership() {
	leaderCh := lar.election.LeaderCh()

	if lar.election.IsLeader() {
		lar.startRunner()
	}

	for {
		select {
		case <-lar.ctx.Done():
			return
		case isLeader := <-leaderCh:
			if isLeader {
				lar.logger.Info().Msg("became leader, starting schedule runner")
				lar.startRunner()
			} else {
				lar.logger.Warn().Msg("lost leadership, stopping schedule runner")
				lar.stopRunner()
			}
		}
	}
}

func (lar *LeaderAwareRunner) startRunner() {
	lar.mu.Lock()
	defer lar.mu.Unlock()
	if lar.running {
		return
	}

	ctx, cancel := context.WithCancel(lar.ctx)
	lar.cancelFunc = cancel
	lar.running = true

	go func() {
		if err := lar.runner.Run(ctx); err != nil && err != context.Canceled {
			lar.logger.Error().Err(err).Msg("schedule runner error")
		}
		lar.mu.Lock()
		lar.running = false
		lar.mu.Unlock()
	}()
}

func (lar *LeaderAwareRunner) stopRunner() {
	lar.mu.Lock()
	defer lar.mu.Unlock()
	if !lar.running {
		return
	}
	if lar.cancelFunc != nil {
		lar.cancelFunc()
		lar.cancelFunc = nil
	}
	lar.running = false
}
