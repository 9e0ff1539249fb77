package core

import (
	"context"
	"time"
)

type PaymentState string

const (
	PaymentPending PaymentState = "pending"
	PaymentPaid    PaymentState = "paid"
	PaymentFailed  PaymentState = "failed"
)

type JobEvent string

const (
	EventJobCreated JobEvent = "job.created"
	EventJobPaid    JobEvent = "job.paid"
	EventJobFailed  JobEvent = "job.failed"
)

// PrintJob is one user's request to print a stored document some number of
// times. Everything except the payment fields is fixed at creation.
type PrintJob struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"owner_id"`
	DocumentRef    string       `json:"document_ref"`
	FileName       string       `json:"file_name"`
	PageCount      int          `json:"page_count"`
	CopyCount      int          `json:"copy_count"`
	PerPageRate    float64      `json:"per_page_rate"`
	TotalCost      float64      `json:"total_cost"`
	PaymentState   PaymentState `json:"payment_state"`
	RedemptionCode string       `json:"redemption_code,omitempty"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	PaidAt         *time.Time   `json:"paid_at,omitempty"`
	FailedAt       *time.Time   `json:"failed_at,omitempty"`
}

type CreateJobInput struct {
	OwnerID     string
	DocumentRef string
	FileName    string
	PageCount   int
	CopyCount   int
	PerPageRate float64
}

// JobStore persists print jobs. CommitPaid and CommitFailed must only apply
// when the stored job is still pending; otherwise they return ErrStateConflict.
// CommitPaid returns ErrCodeConflict when another paid job already holds code.
type JobStore interface {
	InsertJob(ctx context.Context, job *PrintJob) error
	GetJob(ctx context.Context, id string) (*PrintJob, error)
	GetJobByRedemptionCode(ctx context.Context, code string) (*PrintJob, error)
	ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*PrintJob, error)
	CommitPaid(ctx context.Context, id, code string, paidAt time.Time) error
	CommitFailed(ctx context.Context, id, reason string, failedAt time.Time) error
}

type EventSender interface {
	SendJobEvent(event JobEvent, job *PrintJob)
}

type CodeGenerator interface {
	Next() (string, error)
}
