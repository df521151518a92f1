package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskReleaseExpired = "escrow:release_expired"
	TaskExpiryNotice   = "escrow:expiry_notice"
)

// Jobs runs the periodic escrow work on the asynq worker.
type Jobs struct {
	ledger *Ledger
	window time.Duration
}

func NewJobs(l *Ledger, noticeWindow time.Duration) *Jobs {
	if noticeWindow <= 0 {
		noticeWindow = 48 * time.Hour
	}
	return &Jobs{ledger: l, window: noticeWindow}
}

func (j *Jobs) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskReleaseExpired, j.HandleReleaseExpired)
	mux.HandleFunc(TaskExpiryNotice, j.HandleExpiryNotice)
}

// Schedule registers both tasks on s at cronspec. Unique keeps a slow run
// from piling up copies in the queue.
func (j *Jobs) Schedule(s *asynq.Scheduler, cronspec, queue string) error {
	for _, typ := range []string{TaskReleaseExpired, TaskExpiryNotice} {
		_, err := s.Register(cronspec, asynq.NewTask(typ, nil),
			asynq.Queue(queue),
			asynq.MaxRetry(0),
			asynq.Unique(10*time.Minute),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", typ, err)
		}
	}
	return nil
}

// HandleReleaseExpired runs one sweep. ReleaseOnExpiry logs the summary.
func (j *Jobs) HandleReleaseExpired(ctx context.Context, _ *asynq.Task) error {
	_, err := j.ledger.ReleaseOnExpiry(ctx)
	return err
}

func (j *Jobs) HandleExpiryNotice(ctx context.Context, _ *asynq.Task) error {
	_, err := j.ledger.NotifyExpiring(ctx, j.window)
	return err
}
