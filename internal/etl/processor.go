package etl

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/core"
)

// Processor handles messages on the jobs and status topics.
type Processor struct {
	jobsTopic   string
	statusTopic string
	logger      *zap.Logger
	now         func() time.Time
}

// NewProcessor creates a Processor. Job requests are answered with a
// STARTED update on statusTopic.
func NewProcessor(jobsTopic, statusTopic string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		jobsTopic:   jobsTopic,
		statusTopic: statusTopic,
		logger:      logger,
		now:         time.Now,
	}
}

// Register installs both handlers on the client.
func (p *Processor) Register(c *core.Client) error {
	return errors.Join(
		c.Handle(p.jobsTopic, p.HandleJobRequest),
		c.Handle(p.statusTopic, p.HandleStatusUpdate),
	)
}

// HandleJobRequest acknowledges a submitted job by publishing a STARTED
// status keyed by the job id. Empty messages are skipped.
func (p *Processor) HandleJobRequest(c core.Context) error {
	if len(c.Value()) == 0 {
		p.logger.Warn("received empty message",
			zap.String("topic", c.Topic()), zap.Int("partition", c.Partition()))
		return nil
	}

	var req JobRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode job request: %w", err)
	}
	p.logger.Info("processing ETL job request",
		zap.String("job_id", req.JobID), zap.String("job_type", req.JobType))

	update := StatusUpdate{
		JobID:     req.JobID,
		Status:    StatusStarted,
		Timestamp: Timestamp(p.now()),
	}
	if err := c.Publish(p.statusTopic, update, core.WithKey(req.JobID)); err != nil {
		return fmt.Errorf("publish STARTED for %s: %w", req.JobID, err)
	}

	p.logger.Info("ETL job request processed", zap.String("job_id", req.JobID))
	return nil
}

// HandleStatusUpdate logs a job status change.
func (p *Processor) HandleStatusUpdate(c core.Context) error {
	if len(c.Value()) == 0 {
		p.logger.Warn("received empty message",
			zap.String("topic", c.Topic()), zap.Int("partition", c.Partition()))
		return nil
	}

	var update StatusUpdate
	if err := c.Bind(&update); err != nil {
		return fmt.Errorf("decode status update: %w", err)
	}

	log := p.logger.With(zap.String("job_id", update.JobID))
	log.Info("received ETL job status update", zap.String("status", string(update.Status)))
	switch update.Status {
	case StatusCompleted:
		log.Info("ETL job completed successfully")
	case StatusFailed:
		log.Error("ETL job failed", zap.String("reason", update.Error))
	}
	return nil
}
