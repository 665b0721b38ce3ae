package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/sessionlog"
	"github.com/brightclass/backend/internal/sessions"
	"github.com/brightclass/backend/pkg/queue"
)

// SummaryProcessor processes session summary jobs: close dangling attendance
// rows, aggregate watch time, and write the totals back to the session record.
type SummaryProcessor struct {
	sessionRepo *sessions.Repository
	logRepo     *sessionlog.Repository
	queue       *queue.Queue
	logger      *zap.Logger
}

// NewSummaryProcessor creates a session summary processor.
func NewSummaryProcessor(sessionRepo *sessions.Repository, logRepo *sessionlog.Repository, q *queue.Queue, logger *zap.Logger) *SummaryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryProcessor{sessionRepo: sessionRepo, logRepo: logRepo, queue: q, logger: logger}
}

// Process executes one session summary job.
func (p *SummaryProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionSummary {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SessionSummaryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	s, err := p.sessionRepo.GetByID(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return fmt.Errorf("session not found: %s", payload.SessionID)
	}

	if err := p.logRepo.CloseOpenRows(ctx, payload.SessionID); err != nil {
		return fmt.Errorf("close attendance rows: %w", err)
	}
	agg, err := p.logRepo.GetWatchTimeAggregates(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("aggregate watch time: %w", err)
	}
	if err := p.sessionRepo.UpdateWatchTime(ctx, payload.SessionID, agg.TotalWatchSeconds); err != nil {
		return fmt.Errorf("update watch time: %w", err)
	}

	p.logger.Info("session summary completed",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int64("total_watch_seconds", agg.TotalWatchSeconds),
		zap.Int("distinct_users", agg.DistinctUsers),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *SummaryProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("summary worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
