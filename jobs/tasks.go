package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/horizon-pm/horizon/internal/payroll"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPayrollPrepareReport carries one promoted cycle to the settlement worker.
	TaskPayrollPrepareReport = "payroll:prepareReport"
	// TaskPayrollCycleTick drives the daily payroll maintenance loop.
	TaskPayrollCycleTick = "payroll:cycleTick"
)

// NewPayrollReportTask constructs the settlement task for a promoted cycle.
func NewPayrollReportTask(job payroll.ReportJob) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPayrollPrepareReport, data, asynq.Queue(QueueDefault)), nil
}

// NewPayrollTickTask constructs the cron-registered tick task. It carries no
// payload; the tick derives everything from the current date.
func NewPayrollTickTask() *asynq.Task {
	return asynq.NewTask(TaskPayrollCycleTick, nil, asynq.Queue(QueueDefault))
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueuePayrollReport places exactly one settlement job on the queue for a
// promoted cycle. Delivery downstream is at-least-once; completed tasks are
// not retained.
func (c *Client) EnqueuePayrollReport(ctx context.Context, job payroll.ReportJob) error {
	task, err := NewPayrollReportTask(job)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
