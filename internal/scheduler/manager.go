// Package scheduler triggers settlement sweeps on a cron schedule and on
// demand, making sure at most one sweep runs at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/lock"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/settlement"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Runner executes one settlement sweep. *settlement.Engine implements it.
type Runner interface {
	ExecuteAutoPay(ctx context.Context) (*settlement.RunResult, error)
}

type Manager struct {
	scheduler gocron.Scheduler
	runner    Runner
	cfg       config.SettlementConfig
	location  *time.Location
	local     *lock.Local
	shared    lock.Locker
	metrics   *metrics.Collector

	mu     sync.Mutex
	jobIds []uuid.UUID
	wg     sync.WaitGroup
}

type Option func(*Manager)

// WithSharedLock adds a cross-instance guard on top of the in-process one.
func WithSharedLock(l lock.Locker) Option {
	return func(m *Manager) { m.shared = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// Status is reported by the scheduler status endpoint.
type Status struct {
	Running     bool       `json:"running"`
	ActiveJobs  int        `json:"activeJobs"`
	NextRun     *time.Time `json:"nextRun"`
	CurrentTime time.Time  `json:"currentTime"`
	Timezone    string     `json:"timezone"`
}

func NewManager(runner Runner, cfg config.SettlementConfig, opts ...Option) (*Manager, error) {
	loc := cfg.Location()
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	m := &Manager{
		scheduler: s,
		runner:    runner,
		cfg:       cfg,
		location:  loc,
		local:     lock.NewLocal(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start registers the jobs and starts the scheduler.
func (m *Manager) Start() error {
	if !m.cfg.ScheduleDisabled {
		if err := m.StartAll(); err != nil {
			return err
		}
	} else {
		logger.Info("Settlement schedule disabled, manual triggers only")
	}
	m.scheduler.Start()

	if m.cfg.RunOnStartup {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, err := m.run(context.Background(), TriggerStartup); err != nil {
				logger.Warn("Startup auto payment not run: %v", err)
			}
		}()
	}

	logger.Info("Task manager started successfully")
	return nil
}

// StartAll registers the settlement job if it is not already scheduled.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobIds) > 0 {
		return nil
	}
	job := NewAutoPaymentJob(m, m.cfg.Cron)
	j, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.GetName(), err)
	}
	m.jobIds = append(m.jobIds, j.ID())
	logger.Info("Registered job %s with schedule %q (%s)", job.GetName(), m.cfg.Cron, m.location)
	return nil
}

// StopAll removes every scheduled job. Manual triggers keep working and a
// sweep already in progress is not interrupted.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.jobIds {
		if err := m.scheduler.RemoveJob(id); err != nil {
			logger.Error("Failed to remove job %s: %v", id, err)
		}
	}
	m.jobIds = nil
	logger.Info("All scheduled jobs stopped")
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Running:     m.local.Held(),
		ActiveJobs:  len(m.jobIds),
		CurrentTime: time.Now().In(m.location),
		Timezone:    m.location.String(),
	}
	for _, j := range m.scheduler.Jobs() {
		next, err := j.NextRun()
		if err != nil || next.IsZero() {
			continue
		}
		next = next.In(m.location)
		if st.NextRun == nil || next.Before(*st.NextRun) {
			st.NextRun = &next
		}
	}
	return st
}

// RunManually runs a sweep now. It fails with apperr.ErrAlreadyRunning
// instead of waiting when a sweep is in progress. The sweep is detached from
// ctx cancellation so a disconnecting caller cannot abort it halfway.
func (m *Manager) RunManually(ctx context.Context) (*settlement.RunResult, error) {
	return m.run(context.WithoutCancel(ctx), TriggerManual)
}

func (m *Manager) run(ctx context.Context, trigger string) (*settlement.RunResult, error) {
	if ok, _ := m.local.TryLock(ctx); !ok {
		m.metrics.RunSkipped(trigger)
		return nil, fmt.Errorf("%w: settlement sweep in progress", apperr.ErrAlreadyRunning)
	}
	defer m.local.Unlock(ctx)

	if m.shared != nil {
		ok, err := m.shared.TryLock(ctx)
		if err != nil {
			m.metrics.RunSkipped(trigger)
			return nil, fmt.Errorf("failed to acquire shared run lock: %w", err)
		}
		if !ok {
			m.metrics.RunSkipped(trigger)
			return nil, fmt.Errorf("%w: settlement sweep in progress on another instance", apperr.ErrAlreadyRunning)
		}
		defer func() {
			if err := m.shared.Unlock(ctx); err != nil {
				logger.Error("Failed to release shared run lock: %v", err)
			}
		}()
		if r, ok := m.shared.(lock.Renewer); ok {
			stop := lock.KeepAlive(ctx, r)
			defer stop()
		}
	}

	done := m.metrics.RunStarted(trigger)
	result, err := m.runner.ExecuteAutoPay(ctx)
	if err != nil {
		done(metrics.ResultFailed)
		return nil, err
	}
	done(metrics.ResultSuccess)
	return result, nil
}

// Shutdown stops the scheduler and waits for in-flight scheduled runs.
func (m *Manager) Shutdown() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	m.wg.Wait()
	logger.Info("Task manager stopped")
}
