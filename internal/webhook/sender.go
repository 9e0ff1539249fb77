package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/core"
	"github.com/campusprint/printdesk/internal/db"
)

const EventTest = "webhook.test"

// ValidEvents are the event names a webhook may subscribe to.
var ValidEvents = map[string]bool{
	string(core.EventJobCreated): true,
	string(core.EventJobPaid):    true,
	string(core.EventJobFailed):  true,
}

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

// JobEventData is the job snapshot sent to subscribers. The redemption code
// is left out; it is a bearer secret for the print station.
type JobEventData struct {
	JobID         string     `json:"job_id"`
	OwnerID       string     `json:"owner_id"`
	FileName      string     `json:"file_name"`
	PageCount     int        `json:"page_count"`
	CopyCount     int        `json:"copy_count"`
	TotalCost     float64    `json:"total_cost"`
	PaymentState  string     `json:"payment_state"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type Store interface {
	ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*db.Webhook, error)
	GetWebhookByID(ctx context.Context, id int64) (*db.Webhook, error)
}

// webhookTask with a zero webhookID is an event still waiting to be fanned out.
type webhookTask struct {
	webhookID int64
	event     string
	payload   *WebhookPayload
	attempt   int
}

type WebhookSender struct {
	store       Store
	httpClient  *http.Client
	log         zerolog.Logger
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ core.EventSender = (*WebhookSender)(nil)

func NewWebhookSender(store Store, config WebhookConfig, logger zerolog.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	return &WebhookSender{
		store: store,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log:         logger.With().Str("component", "webhook").Logger(),
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SendJobEvent queues the event for delivery and returns without touching
// the store; a worker resolves the subscribed webhooks. A full queue drops
// the event.
func (s *WebhookSender) SendJobEvent(event core.JobEvent, job *core.PrintJob) {
	data := &JobEventData{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		FileName:      job.FileName,
		PageCount:     job.PageCount,
		CopyCount:     job.CopyCount,
		TotalCost:     job.TotalCost,
		PaymentState:  string(job.PaymentState),
		FailureReason: job.FailureReason,
		CreatedAt:     job.CreatedAt,
		PaidAt:        job.PaidAt,
		FailedAt:      job.FailedAt,
	}
	s.enqueue(&webhookTask{
		event: string(event),
		payload: &WebhookPayload{
			Event:     string(event),
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
	})
}

// SendTest delivers a single test payload synchronously, without retries.
func (s *WebhookSender) SendTest(ctx context.Context, webhook *db.Webhook) error {
	payload := &WebhookPayload{
		Event:     EventTest,
		Timestamp: time.Now().UTC(),
		Data:      map[string]string{"message": "test delivery"},
	}
	return s.sendRequest(ctx, webhook, payload)
}

func (s *WebhookSender) enqueue(task *webhookTask) {
	select {
	case s.queue <- task:
	default:
		s.log.Warn().
			Int64("webhook_id", task.webhookID).
			Str("event", task.event).
			Msg("queue full, dropping webhook")
	}
}

// fanOut turns an event task into one delivery task per subscribed webhook.
func (s *WebhookSender) fanOut(task *webhookTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	webhooks, err := s.store.ListActiveWebhooksForEvent(ctx, task.event)
	if err != nil {
		s.log.Error().Err(err).Str("event", task.event).Msg("failed to get webhooks for event")
		return
	}

	for _, webhook := range webhooks {
		s.enqueue(&webhookTask{
			webhookID: webhook.ID,
			event:     task.event,
			payload: &WebhookPayload{
				Event:     task.payload.Event,
				Timestamp: task.payload.Timestamp,
				Data:      task.payload.Data,
			},
		})
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if task.webhookID == 0 {
				s.fanOut(task)
				continue
			}
			if err := s.sendWithRetry(task); err != nil {
				s.log.Error().
					Err(err).
					Int("worker", id).
					Int64("webhook_id", task.webhookID).
					Str("event", task.event).
					Int("attempts", task.attempt).
					Msg("failed to send webhook")
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	webhook, err := s.store.GetWebhookByID(ctx, task.webhookID)
	if err != nil {
		return fmt.Errorf("get webhook: %w", err)
	}

	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(ctx, webhook, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			s.log.Warn().Err(err).Int64("webhook_id", webhook.ID).Msg("client error, not retrying")
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.log.Debug().
				Err(err).
				Int64("webhook_id", webhook.ID).
				Int("attempt", task.attempt).
				Dur("backoff", backoff).
				Msg("retrying webhook")

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(ctx context.Context, webhook *db.Webhook, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if webhook.Secret != "" {
		payload.Signature = Sign(dataBytes, webhook.Secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of the data field, keyed by the webhook secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

type httpError struct {
	status int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error: %d", e.status)
}

func isClientError(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.status >= 400 && he.status < 500
	}
	return false
}
