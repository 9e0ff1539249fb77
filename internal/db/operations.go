package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/campusprint/printdesk/internal/core"
)

// JobOperations is the SQLite implementation of core.JobStore.
type JobOperations struct {
	db *sql.DB
}

var _ core.JobStore = (*JobOperations)(nil)

func (o *JobOperations) InsertJob(ctx context.Context, j *core.PrintJob) error {
	_, err := o.db.ExecContext(ctx, InsertJob,
		j.ID, j.OwnerID, j.DocumentRef, j.FileName, j.PageCount, j.CopyCount,
		j.PerPageRate, j.TotalCost, string(j.PaymentState), j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create print job: %w", err)
	}
	return nil
}

func (o *JobOperations) GetJob(ctx context.Context, id string) (*core.PrintJob, error) {
	j, err := scanJob(o.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get print job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) GetJobByRedemptionCode(ctx context.Context, code string) (*core.PrintJob, error) {
	j, err := scanJob(o.db.QueryRowContext(ctx, GetPaidJobByCode, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no paid job for code", core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get print job by code: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*core.PrintJob, error) {
	rows, err := o.db.QueryContext(ctx, ListJobsByOwner, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list print jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*core.PrintJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan print job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CommitPaid writes state and code in one statement and records the
// transition in the audit log within the same transaction. The code stays
// out of the audit details.
func (o *JobOperations) CommitPaid(ctx context.Context, id, code string, paidAt time.Time) error {
	return o.transition(ctx, "job.paid", id, map[string]string{"paid_at": paidAt.UTC().Format(time.RFC3339)},
		MarkJobPaid, code, paidAt, id)
}

func (o *JobOperations) CommitFailed(ctx context.Context, id, reason string, failedAt time.Time) error {
	return o.transition(ctx, "job.failed", id, map[string]string{"reason": reason},
		MarkJobFailed, reason, failedAt, id)
}

func (o *JobOperations) transition(ctx context.Context, action, id string, details map[string]string, query string, args ...interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to serialize audit details: %w", err)
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrCodeConflict
		}
		return fmt.Errorf("failed to update payment state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return core.ErrStateConflict
	}

	if _, err := tx.ExecContext(ctx, InsertAuditLog, action, "print_job", id, string(detailsJSON), ""); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment state: %w", err)
	}
	return nil
}

func (o *JobOperations) StatsByState(ctx context.Context) ([]PaymentStateStats, error) {
	rows, err := o.db.QueryContext(ctx, CountJobsByState)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by state: %w", err)
	}
	defer rows.Close()

	stats := make([]PaymentStateStats, 0, 3)
	for rows.Next() {
		var s PaymentStateStats
		if err := rows.Scan(&s.State, &s.Count, &s.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*core.PrintJob, error) {
	j := &core.PrintJob{}
	var state string
	var code sql.NullString
	err := row.Scan(
		&j.ID, &j.OwnerID, &j.DocumentRef, &j.FileName, &j.PageCount, &j.CopyCount,
		&j.PerPageRate, &j.TotalCost, &state, &code, &j.FailureReason,
		&j.CreatedAt, &j.PaidAt, &j.FailedAt)
	if err != nil {
		return nil, err
	}
	j.PaymentState = core.PaymentState(state)
	j.RedemptionCode = code.String
	return j, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var ErrEmailTaken = errors.New("email already registered")

type UserOperations struct {
	db *sql.DB
}

func (o *UserOperations) CreateUser(ctx context.Context, u *User) error {
	_, err := o.db.ExecContext(ctx, InsertUser,
		u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (o *UserOperations) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return o.getUser(ctx, GetUserByEmail, strings.ToLower(email))
}

func (o *UserOperations) getUser(ctx context.Context, query, arg string) (*User, error) {
	u := &User{}
	err := o.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (o *UserOperations) CountByRole(ctx context.Context, role string) (int64, error) {
	var count int64
	if err := o.db.QueryRowContext(ctx, CountUsersByRole, role).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

type WebhookOperations struct {
	db *sql.DB
}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	result, err := o.db.ExecContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	w.CreatedAt = time.Now().UTC()
	return nil
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w := &Webhook{}
	err := o.db.QueryRowContext(ctx, GetWebhookByID, id).Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	return o.listWebhooks(ctx, ListWebhooks)
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	return o.listWebhooks(ctx, ListWebhooksForEvent, "%\""+event+"\"%")
}

func (o *WebhookOperations) listWebhooks(ctx context.Context, query string, args ...interface{}) ([]*Webhook, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	_, err := o.db.ExecContext(ctx, UpdateWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

type SettingsOperations struct {
	db *sql.DB
}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := o.db.QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := o.db.ExecContext(ctx, SetSetting, key, value, encrypted, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

type AuditOperations struct {
	db *sql.DB
}

func (o *AuditOperations) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.DetailsJSON == "" {
		log.DetailsJSON = "{}"
	}
	result, err := o.db.ExecContext(ctx, InsertAuditLog,
		log.Action, log.EntityType, log.EntityID, log.DetailsJSON, log.IPAddress)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit log id: %w", err)
	}
	log.ID = id
	return nil
}

func (o *AuditOperations) ListAuditLogs(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, error) {
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	query := "SELECT id, action, entity_type, entity_id, details_json, ip_address, created_at FROM audit_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*AuditLog, 0)
	for rows.Next() {
		log := &AuditLog{}
		if err := rows.Scan(
			&log.ID, &log.Action, &log.EntityType, &log.EntityID,
			&log.DetailsJSON, &log.IPAddress, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
