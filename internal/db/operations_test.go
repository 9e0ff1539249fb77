package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/core"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(Config{Path: filepath.Join(t.TempDir(), "printdesk.db")})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newPendingJob(owner string) *core.PrintJob {
	return &core.PrintJob{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		DocumentRef:  "documents/" + owner + "/thesis.pdf",
		FileName:     "thesis.pdf",
		PageCount:    3,
		CopyCount:    2,
		PerPageRate:  5,
		TotalCost:    30,
		PaymentState: core.PaymentPending,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printdesk.db")
	for i := 0; i < 2; i++ {
		database, err := Open(Config{Path: path})
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		database.Close()
	}
}

func TestInsertAndGetJob(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	job := newPendingJob("u1")

	if err := database.Jobs.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := database.Jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.OwnerID != "u1" || got.PageCount != 3 || got.CopyCount != 2 || got.TotalCost != 30 {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.PaymentState != core.PaymentPending || got.RedemptionCode != "" || got.PaidAt != nil {
		t.Fatalf("expected pending job without code, got %+v", got)
	}

	if _, err := database.Jobs.GetJob(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSchemaRejectsZeroPages(t *testing.T) {
	database := newTestDB(t)
	job := newPendingJob("u1")
	job.PageCount = 0
	job.TotalCost = 0

	if err := database.Jobs.InsertJob(context.Background(), job); err == nil {
		t.Fatal("expected check constraint to reject a zero page job")
	}
}

func TestCommitPaidIsConditional(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	job := newPendingJob("u1")
	if err := database.Jobs.InsertJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := database.Jobs.CommitPaid(ctx, job.ID, "123456", time.Now().UTC()); err != nil {
		t.Fatalf("CommitPaid: %v", err)
	}
	if err := database.Jobs.CommitPaid(ctx, job.ID, "654321", time.Now().UTC()); !errors.Is(err, core.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if err := database.Jobs.CommitFailed(ctx, job.ID, "declined", time.Now().UTC()); !errors.Is(err, core.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	got, err := database.Jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentState != core.PaymentPaid || got.RedemptionCode != "123456" || got.PaidAt == nil {
		t.Fatalf("unexpected paid job: %+v", got)
	}

	logs, err := database.Audit.ListAuditLogs(ctx, AuditFilter{EntityID: job.ID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Action != "job.paid" {
		t.Fatalf("expected a single job.paid audit entry, got %+v", logs)
	}
	if strings.Contains(logs[0].DetailsJSON, "123456") {
		t.Errorf("redemption code leaked into audit details: %s", logs[0].DetailsJSON)
	}
}

func TestCommitPaidRejectsDuplicateCode(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	first := newPendingJob("u1")
	second := newPendingJob("u2")
	for _, j := range []*core.PrintJob{first, second} {
		if err := database.Jobs.InsertJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	if err := database.Jobs.CommitPaid(ctx, first.ID, "7777", time.Now().UTC()); err != nil {
		t.Fatalf("CommitPaid: %v", err)
	}
	if err := database.Jobs.CommitPaid(ctx, second.ID, "7777", time.Now().UTC()); !errors.Is(err, core.ErrCodeConflict) {
		t.Fatalf("expected ErrCodeConflict, got %v", err)
	}

	got, _ := database.Jobs.GetJob(ctx, second.ID)
	if got.PaymentState != core.PaymentPending || got.RedemptionCode != "" {
		t.Fatalf("collision must leave the job untouched: %+v", got)
	}
}

func TestCommitFailed(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	job := newPendingJob("u1")
	if err := database.Jobs.InsertJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := database.Jobs.CommitFailed(ctx, job.ID, "card declined", time.Now().UTC()); err != nil {
		t.Fatalf("CommitFailed: %v", err)
	}
	if err := database.Jobs.CommitPaid(ctx, job.ID, "1234", time.Now().UTC()); !errors.Is(err, core.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	got, _ := database.Jobs.GetJob(ctx, job.ID)
	if got.PaymentState != core.PaymentFailed || got.FailureReason != "card declined" || got.FailedAt == nil {
		t.Fatalf("unexpected failed job: %+v", got)
	}
}

func TestGetJobByRedemptionCode(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	job := newPendingJob("u1")
	if err := database.Jobs.InsertJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if _, err := database.Jobs.GetJobByRedemptionCode(ctx, "5555"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before payment, got %v", err)
	}
	if err := database.Jobs.CommitPaid(ctx, job.ID, "5555", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	got, err := database.Jobs.GetJobByRedemptionCode(ctx, "5555")
	if err != nil {
		t.Fatalf("GetJobByRedemptionCode: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("expected %s, got %s", job.ID, got.ID)
	}
}

func TestListJobsByOwner(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := database.Jobs.InsertJob(ctx, newPendingJob("u1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := database.Jobs.InsertJob(ctx, newPendingJob("u2")); err != nil {
		t.Fatal(err)
	}

	jobs, err := database.Jobs.ListJobsByOwner(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("ListJobsByOwner: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}

	page, err := database.Jobs.ListJobsByOwner(ctx, "u1", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 job on second page, got %d", len(page))
	}
}

func TestStatsByState(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	paid := newPendingJob("u1")
	pending := newPendingJob("u1")
	for _, j := range []*core.PrintJob{paid, pending} {
		if err := database.Jobs.InsertJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if err := database.Jobs.CommitPaid(ctx, paid.ID, "9999", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	stats, err := database.Jobs.StatsByState(ctx)
	if err != nil {
		t.Fatalf("StatsByState: %v", err)
	}
	byState := make(map[string]PaymentStateStats)
	for _, s := range stats {
		byState[s.State] = s
	}
	if byState["paid"].Count != 1 || byState["paid"].Revenue != 30 {
		t.Fatalf("unexpected paid stats: %+v", byState["paid"])
	}
	if byState["pending"].Count != 1 {
		t.Fatalf("unexpected pending stats: %+v", byState["pending"])
	}
}

func TestManagerConcurrentPaymentsOnSQLite(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	codes, err := core.NewNumericCodeGenerator(4)
	if err != nil {
		t.Fatal(err)
	}
	manager := core.NewJobManager(database.Jobs, codes, core.JobManagerOptions{
		MaxCodeAttempts: 50,
		Logger:          zerolog.Nop(),
	})

	const n = 50
	ids := make([]string, n)
	for i := range ids {
		job, err := manager.CreateJob(ctx, core.CreateJobInput{
			OwnerID:     fmt.Sprintf("u%d", i),
			DocumentRef: "doc",
			PageCount:   1,
			CopyCount:   1,
			PerPageRate: 1,
		})
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		ids[i] = job.ID
	}

	// Every job is paid twice at once: one call per job must win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := make(map[string]string)
	rejections := 0
	for _, id := range ids {
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				code, _, err := manager.MarkPaid(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					if _, dup := wins[id]; dup {
						t.Errorf("job %s paid twice", id)
					}
					wins[id] = code
				case errors.Is(err, core.ErrAlreadyPaid):
					rejections++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(id)
		}
	}
	wg.Wait()

	if len(wins) != n || rejections != n {
		t.Fatalf("expected %d wins and %d rejections, got %d and %d", n, n, len(wins), rejections)
	}

	seen := make(map[string]bool)
	for id, code := range wins {
		if seen[code] {
			t.Fatalf("duplicate code %s", code)
		}
		seen[code] = true

		stored, err := database.Jobs.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if stored.RedemptionCode != code {
			t.Fatalf("stored code %q differs from returned %q", stored.RedemptionCode, code)
		}
	}
}

func TestUsersAndSettings(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	u := &User{ID: uuid.NewString(), Name: "Test", Email: "Test@Example.com", PasswordHash: "x", Role: RoleUser, CreatedAt: time.Now().UTC()}
	if err := database.Users.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	dup := *u
	dup.ID = uuid.NewString()
	if err := database.Users.CreateUser(ctx, &dup); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, err := database.Users.GetUserByEmail(ctx, "test@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail: %v %+v", err, got)
	}
	if _, err := database.Users.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	if err := database.Settings.SetSetting(ctx, "jwt_secret", "abc", false); err != nil {
		t.Fatal(err)
	}
	if err := database.Settings.SetSetting(ctx, "jwt_secret", "def", false); err != nil {
		t.Fatal(err)
	}
	s, err := database.Settings.GetSetting(ctx, "jwt_secret")
	if err != nil || s.Value != "def" {
		t.Fatalf("GetSetting: %v %+v", err, s)
	}
}
