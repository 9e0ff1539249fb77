package db

const printJobColumns = `id, owner_id, document_ref, file_name, page_count, copy_count, per_page_rate, total_cost, payment_state, redemption_code, failure_reason, created_at, paid_at, failed_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (id, owner_id, document_ref, file_name, page_count, copy_count, per_page_rate, total_cost, payment_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + printJobColumns + ` FROM print_jobs WHERE id = ?`

	GetPaidJobByCode = `SELECT ` + printJobColumns + ` FROM print_jobs WHERE redemption_code = ? AND payment_state = 'paid'`

	ListJobsByOwner = `
		SELECT ` + printJobColumns + `
		FROM print_jobs WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`

	// The payment_state guard makes both transitions a compare-and-swap.
	MarkJobPaid = `
		UPDATE print_jobs SET payment_state = 'paid', redemption_code = ?, paid_at = ?
		WHERE id = ? AND payment_state = 'pending'
	`

	MarkJobFailed = `
		UPDATE print_jobs SET payment_state = 'failed', failure_reason = ?, failed_at = ?
		WHERE id = ? AND payment_state = 'pending'
	`

	CountJobsByState = `
		SELECT payment_state, COUNT(*), COALESCE(SUM(total_cost), 0)
		FROM print_jobs GROUP BY payment_state ORDER BY payment_state ASC
	`
)

const (
	InsertUser = `
		INSERT INTO users (id, name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	GetUserByEmail = `SELECT id, name, email, password_hash, role, created_at FROM users WHERE email = ?`

	CountUsersByRole = `SELECT COUNT(*) FROM users WHERE role = ?`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = ?, encrypted = ?, updated_at = CURRENT_TIMESTAMP
	`
)

const (
	InsertAuditLog = `
		INSERT INTO audit_log (action, entity_type, entity_id, details_json, ip_address)
		VALUES (?, ?, ?, ?, ?)
	`
)

const (
	GetAppliedMigrations = `SELECT version FROM schema_migrations`
)
