package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultMaxCodeAttempts = 10

type JobManagerOptions struct {
	MaxCodeAttempts int
	Events          EventSender
	Logger          zerolog.Logger
	Now             func() time.Time
}

// JobManager owns the payment lifecycle of print jobs:
// pending -> paid, or pending -> failed. Both targets are terminal.
type JobManager struct {
	store           JobStore
	codes           CodeGenerator
	events          EventSender
	log             zerolog.Logger
	now             func() time.Time
	maxCodeAttempts int
}

func NewJobManager(store JobStore, codes CodeGenerator, opts JobManagerOptions) *JobManager {
	if opts.MaxCodeAttempts < 1 {
		opts.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &JobManager{
		store:           store,
		codes:           codes,
		events:          opts.Events,
		log:             opts.Logger.With().Str("component", "job_manager").Logger(),
		now:             opts.Now,
		maxCodeAttempts: opts.MaxCodeAttempts,
	}
}

func (m *JobManager) CreateJob(ctx context.Context, in CreateJobInput) (*PrintJob, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(in.DocumentRef) == "" {
		return nil, fmt.Errorf("%w: document reference is required", ErrInvalidArgument)
	}
	if in.PageCount < 1 {
		return nil, fmt.Errorf("%w: document has %d pages", ErrInvalidArgument, in.PageCount)
	}
	if in.CopyCount < 1 {
		in.CopyCount = 1
	}

	cost, err := ComputeCost(in.PageCount, in.CopyCount, in.PerPageRate)
	if err != nil {
		return nil, err
	}

	job := &PrintJob{
		ID:           uuid.NewString(),
		OwnerID:      in.OwnerID,
		DocumentRef:  in.DocumentRef,
		FileName:     in.FileName,
		PageCount:    in.PageCount,
		CopyCount:    in.CopyCount,
		PerPageRate:  in.PerPageRate,
		TotalCost:    cost,
		PaymentState: PaymentPending,
		CreatedAt:    m.now(),
	}

	if err := m.store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist print job: %w", err)
	}

	m.log.Info().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Int("pages", job.PageCount).
		Int("copies", job.CopyCount).
		Float64("total_cost", job.TotalCost).
		Msg("print job created")
	m.emit(EventJobCreated, job)

	return job, nil
}

// MarkPaid moves a pending job to paid and attaches a redemption code that no
// other paid job holds. State and code are committed in a single store write.
func (m *JobManager) MarkPaid(ctx context.Context, id string) (string, *PrintJob, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if err := requirePending(job); err != nil {
		return "", nil, err
	}

	for attempt := 1; attempt <= m.maxCodeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		code, err := m.codes.Next()
		if err != nil {
			return "", nil, err
		}

		paidAt := m.now()
		err = m.store.CommitPaid(ctx, id, code, paidAt)
		switch {
		case err == nil:
			job.PaymentState = PaymentPaid
			job.RedemptionCode = code
			job.PaidAt = &paidAt

			m.log.Info().
				Str("job_id", job.ID).
				Int("attempt", attempt).
				Msg("print job paid")
			m.emit(EventJobPaid, job)
			return code, job, nil

		case errors.Is(err, ErrCodeConflict):
			m.log.Debug().
				Str("job_id", id).
				Int("attempt", attempt).
				Msg("redemption code collision, drawing again")
			continue

		case errors.Is(err, ErrStateConflict):
			return "", nil, m.lostTransition(ctx, id)

		default:
			return "", nil, fmt.Errorf("failed to commit payment: %w", err)
		}
	}

	m.log.Warn().
		Str("job_id", id).
		Int("attempts", m.maxCodeAttempts).
		Msg("no free redemption code found")
	return "", nil, fmt.Errorf("%w: no free code after %d attempts", ErrCodeSpaceExhausted, m.maxCodeAttempts)
}

// MarkFailed records a payment rejection. The job stays failed for good.
func (m *JobManager) MarkFailed(ctx context.Context, id, reason string) (*PrintJob, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requirePending(job); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	failedAt := m.now()
	if err := m.store.CommitFailed(ctx, id, reason, failedAt); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, m.lostTransition(ctx, id)
		}
		return nil, fmt.Errorf("failed to commit payment failure: %w", err)
	}

	job.PaymentState = PaymentFailed
	job.FailureReason = reason
	job.FailedAt = &failedAt

	m.log.Info().
		Str("job_id", job.ID).
		Str("reason", reason).
		Msg("print job payment failed")
	m.emit(EventJobFailed, job)

	return job, nil
}

func (m *JobManager) GetJob(ctx context.Context, id string) (*PrintJob, error) {
	return m.store.GetJob(ctx, id)
}

func (m *JobManager) ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*PrintJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.ListJobsByOwner(ctx, ownerID, limit, offset)
}

// FindByRedemptionCode resolves a code presented at a print station.
func (m *JobManager) FindByRedemptionCode(ctx context.Context, code string) (*PrintJob, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: redemption code is required", ErrInvalidArgument)
	}
	return m.store.GetJobByRedemptionCode(ctx, code)
}

// lostTransition explains why a conditional write matched no pending row.
func (m *JobManager) lostTransition(ctx context.Context, id string) error {
	current, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := requirePending(current); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s changed concurrently", ErrInvalidState, id)
}

func (m *JobManager) emit(event JobEvent, job *PrintJob) {
	if m.events == nil {
		return
	}
	snapshot := *job
	m.events.SendJobEvent(event, &snapshot)
}

func requirePending(job *PrintJob) error {
	switch job.PaymentState {
	case PaymentPending:
		return nil
	case PaymentPaid:
		return fmt.Errorf("%w: job %s", ErrAlreadyPaid, job.ID)
	default:
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, job.ID, job.PaymentState)
	}
}
