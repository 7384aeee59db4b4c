// Package automation runs upkeeps on a schedule: each tick checks whether the upkeep
// wants to act and performs it when it does.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// DefaultSchedule polls every ten seconds.
const DefaultSchedule = "@every 10s"

// ErrNotNeeded marks a perform that lost a race with another trigger. It is not a failure.
var ErrNotNeeded = errors.New("upkeep not needed")

// Upkeep is the contract a keeper drives.
type Upkeep interface {
	CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error)
	PerformUpkeep(ctx context.Context, performData []byte) error
}

// PendingReporter is implemented by upkeeps that wait on an outside party after performing.
// It returns when the wait started.
type PendingReporter interface {
	PendingSince() (time.Time, bool)
}

// UpkeepFuncs adapts plain functions to Upkeep and PendingReporter.
type UpkeepFuncs struct {
	Check   func(ctx context.Context, checkData []byte) (bool, []byte, error)
	Perform func(ctx context.Context, performData []byte) error
	Pending func() (time.Time, bool)
}

func (u UpkeepFuncs) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error) {
	return u.Check(ctx, checkData)
}

func (u UpkeepFuncs) PerformUpkeep(ctx context.Context, performData []byte) error {
	return u.Perform(ctx, performData)
}

func (u UpkeepFuncs) PendingSince() (time.Time, bool) {
	if u.Pending == nil {
		return time.Time{}, false
	}
	return u.Pending()
}

// Config tunes a keeper.
type Config struct {
	Name     string
	Schedule string
	// StaleAfter logs a warning when the upkeep has been pending longer than this. Zero disables it.
	StaleAfter time.Duration
	CheckData  []byte
}

// Result describes one keeper run.
type Result struct {
	Eligible  bool
	Performed bool
	Skipped   bool
	Duration  time.Duration
}

// Keeper checks and performs an upkeep on a cron schedule.
type Keeper struct {
	cfg    Config
	upkeep Upkeep
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	last    Result
	lastRun time.Time
}

// ValidateSchedule reports whether spec is a schedule the keeper accepts.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid keeper schedule %q: %w", spec, err)
	}
	return nil
}

// New creates a keeper for upkeep.
func New(cfg Config, upkeep Upkeep, log *logger.Logger) (*Keeper, error) {
	if upkeep == nil {
		return nil, errors.New("upkeep is required")
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = "upkeep"
	}
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault("automation")
	}
	return &Keeper{cfg: cfg, upkeep: upkeep, log: log, now: time.Now}, nil
}

// RunOnce checks the upkeep and performs it when eligible.
func (k *Keeper) RunOnce(ctx context.Context) (Result, error) {
	start := k.now()
	result, err := k.run(ctx)
	result.Duration = k.now().Sub(start)
	metrics.RecordKeeperRun(k.cfg.Name, result.Duration, result.Performed)

	k.mu.Lock()
	k.last = result
	k.lastRun = start
	k.mu.Unlock()
	return result, err
}

func (k *Keeper) run(ctx context.Context) (Result, error) {
	var result Result
	entry := k.log.WithField("upkeep", k.cfg.Name)

	needed, performData, err := k.upkeep.CheckUpkeep(ctx, k.cfg.CheckData)
	if err != nil {
		return result, fmt.Errorf("check upkeep: %w", err)
	}
	result.Eligible = needed
	if !needed {
		k.warnIfStale(entry)
		return result, nil
	}

	if err := k.upkeep.PerformUpkeep(ctx, performData); err != nil {
		if errors.Is(err, ErrNotNeeded) {
			entry.WithError(err).Debug("upkeep no longer needed at perform time")
			result.Skipped = true
			return result, nil
		}
		return result, fmt.Errorf("perform upkeep: %w", err)
	}
	result.Performed = true
	entry.Info("upkeep performed")
	return result, nil
}

func (k *Keeper) warnIfStale(entry *logrus.Entry) {
	if k.cfg.StaleAfter <= 0 {
		return
	}
	reporter, ok := k.upkeep.(PendingReporter)
	if !ok {
		return
	}
	since, pending := reporter.PendingSince()
	if !pending {
		return
	}
	if waited := k.now().Sub(since); waited > k.cfg.StaleAfter {
		entry.WithField("pending_for", waited.Round(time.Second).String()).
			Warn("upkeep has been waiting on its callback longer than expected")
	}
}

// Start schedules RunOnce until Stop or until ctx is cancelled.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	cl := cronLogger{log: k.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(k.cfg.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := k.RunOnce(ctx); err != nil {
			k.log.WithError(err).WithField("upkeep", k.cfg.Name).Error("keeper run failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule keeper: %w", err)
	}
	c.Start()
	k.cron = c
	k.running = true
	k.log.WithField("upkeep", k.cfg.Name).WithField("schedule", k.cfg.Schedule).Info("keeper started")

	go func() {
		<-ctx.Done()
		k.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for an in-flight run to return.
func (k *Keeper) Stop() {
	k.mu.Lock()
	c := k.cron
	running := k.running
	k.cron = nil
	k.running = false
	k.mu.Unlock()
	if !running || c == nil {
		return
	}
	<-c.Stop().Done()
	k.log.WithField("upkeep", k.cfg.Name).Info("keeper stopped")
}

// Status describes the most recent run.
type Status struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	Eligible  bool      `json:"last_eligible"`
	Performed bool      `json:"last_performed"`
}

// Status returns the keeper's current status.
func (k *Keeper) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Status{
		Name:      k.cfg.Name,
		Schedule:  k.cfg.Schedule,
		Running:   k.running,
		LastRun:   k.lastRun,
		Eligible:  k.last.Eligible,
		Performed: k.last.Performed,
	}
}

// cronLogger routes cron's logging through logrus.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
