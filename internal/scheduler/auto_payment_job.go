package scheduler

import (
	"context"

	"github.com/blues/greensalary/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerStartup   = "startup"
)

// AutoPaymentJob runs the settlement sweep on the configured cron expression.
type AutoPaymentJob struct {
	manager *Manager
	cron    string
}

func NewAutoPaymentJob(m *Manager, cron string) *AutoPaymentJob {
	return &AutoPaymentJob{manager: m, cron: cron}
}

func (j *AutoPaymentJob) GetName() string {
	return "auto_payment"
}

func (j *AutoPaymentJob) GetSchedule() gocron.JobDefinition {
	return gocron.CronJob(j.cron, false)
}

// Execute is invoked by gocron. A run that finds the guard taken is skipped,
// not queued.
func (j *AutoPaymentJob) Execute() {
	logger.Info("Scheduled auto payment triggered")

	result, err := j.manager.run(context.Background(), TriggerScheduled)
	if err != nil {
		logger.Warn("Scheduled auto payment not run: %v", err)
		return
	}
	logger.Info("Scheduled auto payment completed: %s", result.Message)
}
