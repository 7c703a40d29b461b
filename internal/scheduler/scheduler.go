// Package scheduler re-runs the learning pipeline on a fixed interval and on
// demand, one pass at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spendcast/internal/log"
	"spendcast/internal/observability"
	"spendcast/internal/pipeline"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (pipeline.RunResult, error)
}

// UserLister enumerates the users that have data.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// Config controls the retraining loop.
type Config struct {
	Interval time.Duration
	// Users fixes the retrained users. When empty, Directory is asked at the
	// start of every cycle, so users added later are picked up.
	Users              []string
	Directory          UserLister
	UseBudgetFeatures  bool
	ContinuousLearning bool
	Horizon            int
	// FailureThreshold is the number of consecutive failed passes after which
	// a pass that used budget features is retried at once without them.
	FailureThreshold int
	// RunTimeout bounds a single pass. Zero means no deadline.
	RunTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:           24 * time.Hour,
		UseBudgetFeatures:  true,
		ContinuousLearning: true,
		Horizon:            30,
		FailureThreshold:   3,
	}
}

// Request asks for an immediate pass for one user.
type Request struct {
	UserID          string
	ForceUnivariate bool
}

// Outcome is the result of one scheduled pass, including any fallback retry.
type Outcome struct {
	UserID   string
	Status   pipeline.Status
	Fallback bool
	Err      error
}

// Scheduler owns the loop. All passes run on the goroutine calling Start, so
// at most one pass is in flight.
type Scheduler struct {
	runner   Runner
	cfg      Config
	logger   *log.Logger
	failures map[string]int
	requests chan Request
}

func New(runner Runner, cfg Config, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	return &Scheduler{
		runner:   runner,
		cfg:      cfg,
		logger:   logger.WithComponent(log.ComponentScheduler),
		failures: make(map[string]int),
		requests: make(chan Request, 16),
	}
}

// Submit queues an on-demand pass. It blocks while the queue is full.
func (s *Scheduler) Submit(ctx context.Context, req Request) error {
	if req.UserID == "" {
		return errors.New("retrain request without user id")
	}
	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs every configured user once, then again on every tick, and serves
// submitted requests in between. It returns when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("scheduler interval %v must be positive", s.cfg.Interval)
	}
	s.logger.InfoContext(ctx, "Scheduler started",
		"interval", s.cfg.Interval.String(), "fixed_users", len(s.cfg.Users))
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped", "reason", ctx.Err().Error())
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		case req := <-s.requests:
			s.RunUser(ctx, req)
		}
	}
}

// RunOnce runs a pass for every user in order. A failed user lookup skips
// the cycle.
func (s *Scheduler) RunOnce(ctx context.Context) []Outcome {
	users, err := s.users(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list users, skipping cycle", log.FieldError, err.Error())
		return nil
	}
	out := make([]Outcome, 0, len(users))
	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		out = append(out, s.RunUser(ctx, Request{UserID: user}))
	}
	return out
}

// RunUser runs one pass and applies the failure policy.
func (s *Scheduler) RunUser(ctx context.Context, req Request) Outcome {
	run := pipeline.RunRequest{
		UserID:             req.UserID,
		UseBudgetFeatures:  s.cfg.UseBudgetFeatures && !req.ForceUnivariate,
		ContinuousLearning: s.cfg.ContinuousLearning,
		Horizon:            s.cfg.Horizon,
	}
	logger := s.logger.With(log.FieldUserID, req.UserID)

	res, err := s.pass(ctx, run)
	outcome := Outcome{UserID: req.UserID, Status: res.Status, Err: err}
	if err == nil {
		s.reset(req.UserID)
		return outcome
	}
	if ctx.Err() != nil {
		return outcome
	}

	s.failures[req.UserID]++
	n := s.failures[req.UserID]
	observability.SetConsecutiveFailures(req.UserID, n)
	logger.ErrorContext(ctx, "Scheduled pass failed, will retry next interval",
		log.FieldError, err.Error(), log.FieldStage, string(res.Status.FailedStage), log.FieldConsecutive, n)

	if n < s.cfg.FailureThreshold || !run.UseBudgetFeatures {
		return outcome
	}

	logger.WarnContext(ctx, "Too many consecutive failures, retrying without budget features",
		log.FieldConsecutive, n)
	run.UseBudgetFeatures = false
	res, err = s.pass(ctx, run)
	outcome = Outcome{UserID: req.UserID, Status: res.Status, Fallback: true, Err: err}
	if err == nil {
		s.reset(req.UserID)
	} else {
		logger.ErrorContext(ctx, "Univariate fallback failed", log.FieldError, err.Error())
	}
	return outcome
}

func (s *Scheduler) users(ctx context.Context) ([]string, error) {
	if len(s.cfg.Users) > 0 || s.cfg.Directory == nil {
		return s.cfg.Users, nil
	}
	users, err := s.cfg.Directory.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	s.logger.DebugContext(ctx, "Resolved users for cycle", "users", len(users))
	return users, nil
}

func (s *Scheduler) pass(ctx context.Context, req pipeline.RunRequest) (pipeline.RunResult, error) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	return s.runner.Run(ctx, req)
}

func (s *Scheduler) reset(userID string) {
	s.failures[userID] = 0
	observability.SetConsecutiveFailures(userID, 0)
}

// ConsecutiveFailures reports the current failure streak of a user.
func (s *Scheduler) ConsecutiveFailures(userID string) int {
	return s.failures[userID]
}
