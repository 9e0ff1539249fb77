package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/api/middleware"
	"github.com/campusprint/printdesk/internal/core"
	"github.com/campusprint/printdesk/internal/document"
)

type JobService interface {
	CreateJob(ctx context.Context, in core.CreateJobInput) (*core.PrintJob, error)
	MarkPaid(ctx context.Context, id string) (string, *core.PrintJob, error)
	MarkFailed(ctx context.Context, id, reason string) (*core.PrintJob, error)
	GetJob(ctx context.Context, id string) (*core.PrintJob, error)
	ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*core.PrintJob, error)
	FindByRedemptionCode(ctx context.Context, code string) (*core.PrintJob, error)
}

type DocumentIngestor interface {
	Ingest(ctx context.Context, ownerID, fileName string, data []byte) (*document.Document, error)
	Discard(ctx context.Context, ref string)
}

type URLSigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type PrintConfig struct {
	PerPageRate      float64
	Currency         string
	MaxUploadBytes   int64
	OperationTimeout time.Duration
	PresignExpiry    time.Duration
}

type PayRequest struct {
	PrintRequestID string `json:"print_request_id" binding:"required"`
}

type FailRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type ListPrintJobsQuery struct {
	Limit  int `form:"limit" binding:"min=0,max=100"`
	Offset int `form:"offset" binding:"min=0"`
}

type JobResponse struct {
	*core.PrintJob
	Currency string `json:"currency"`
}

type UploadResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    JobResponse `json:"data"`
}

type PayResponse struct {
	Success        bool        `json:"success"`
	Message        string      `json:"message"`
	RedemptionCode string      `json:"redemption_code"`
	Data           JobResponse `json:"data"`
}

type RedeemResponse struct {
	Job         JobResponse `json:"job"`
	DocumentURL string      `json:"document_url"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

type PrintHandler struct {
	jobs     JobService
	ingestor DocumentIngestor
	signer   URLSigner
	cfg      PrintConfig
	log      zerolog.Logger
}

func NewPrintHandler(jobs JobService, ingestor DocumentIngestor, signer URLSigner, cfg PrintConfig, logger zerolog.Logger) *PrintHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 15 * time.Second
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	return &PrintHandler{
		jobs:     jobs,
		ingestor: ingestor,
		signer:   signer,
		cfg:      cfg,
		log:      logger.With().Str("component", "print_handler").Logger(),
	}
}

func (h *PrintHandler) response(job *core.PrintJob) JobResponse {
	return JobResponse{PrintJob: job, Currency: h.cfg.Currency}
}

func (h *PrintHandler) opContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.cfg.OperationTimeout)
}

// Upload takes a multipart "pdf" file and an optional "copies" field,
// stores the document and opens a pending job for it.
func (h *PrintHandler) Upload(c *gin.Context) {
	// Multipart framing adds a little on top of the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+1<<20)

	fileHeader, err := c.FormFile("pdf")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "file_too_large",
				Message: fmt.Sprintf("Upload exceeds %d bytes", h.cfg.MaxUploadBytes),
			})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "No PDF uploaded",
		})
		return
	}

	if fileHeader.Size > h.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "file_too_large",
			Message: fmt.Sprintf("Upload exceeds %d bytes", h.cfg.MaxUploadBytes),
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Failed to read uploaded file",
		})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxUploadBytes+1))
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Failed to read uploaded file",
		})
		return
	}

	// Missing or non-numeric copies fall back to the default of one.
	copies, _ := strconv.Atoi(strings.TrimSpace(c.PostForm("copies")))

	ctx, cancel := h.opContext(c)
	defer cancel()

	ownerID := middleware.UserID(c)
	doc, err := h.ingestor.Ingest(ctx, ownerID, fileHeader.Filename, data)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	job, err := h.jobs.CreateJob(ctx, core.CreateJobInput{
		OwnerID:     ownerID,
		DocumentRef: doc.Ref,
		FileName:    doc.FileName,
		PageCount:   doc.PageCount,
		CopyCount:   copies,
		PerPageRate: h.cfg.PerPageRate,
	})
	if err != nil {
		cleanup, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		h.ingestor.Discard(cleanup, doc.Ref)
		done()
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, UploadResponse{
		Success: true,
		Message: "PDF uploaded successfully",
		Data:    h.response(job),
	})
}

// ownedJob loads a job the caller may act on. Other users' jobs read as not found.
func (h *PrintHandler) ownedJob(ctx context.Context, c *gin.Context, id string) (*core.PrintJob, bool) {
	job, err := h.jobs.GetJob(ctx, id)
	if err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	if job.OwnerID != middleware.UserID(c) && !middleware.IsAdmin(c) {
		writeError(c, h.log, fmt.Errorf("%w: %s", core.ErrNotFound, id))
		return nil, false
	}
	return job, true
}

func (h *PrintHandler) Pay(c *gin.Context) {
	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	if _, ok := h.ownedJob(ctx, c, req.PrintRequestID); !ok {
		return
	}

	code, job, err := h.jobs.MarkPaid(ctx, req.PrintRequestID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, PayResponse{
		Success:        true,
		Message:        "Payment successful",
		RedemptionCode: code,
		Data:           h.response(job),
	})
}

func (h *PrintHandler) Fail(c *gin.Context) {
	var req FailRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	id := c.Param("id")
	if _, ok := h.ownedJob(ctx, c, id); !ok {
		return
	}

	job, err := h.jobs.MarkFailed(ctx, id, req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, h.response(job))
}

func (h *PrintHandler) GetJob(c *gin.Context) {
	ctx, cancel := h.opContext(c)
	defer cancel()

	job, ok := h.ownedJob(ctx, c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.response(job))
}

func (h *PrintHandler) ListJobs(c *gin.Context) {
	var query ListPrintJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	jobs, err := h.jobs.ListJobsByOwner(ctx, middleware.UserID(c), query.Limit, query.Offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		responses = append(responses, h.response(j))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   responses,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// Redeem is called by a print station with the code the user presents.
// It returns the paid job and a short-lived link to the stored document.
func (h *PrintHandler) Redeem(c *gin.Context) {
	ctx, cancel := h.opContext(c)
	defer cancel()

	job, err := h.jobs.FindByRedemptionCode(ctx, c.Param("code"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	url, err := h.signer.PresignedURL(ctx, job.DocumentRef, h.cfg.PresignExpiry)
	if err != nil {
		writeError(c, h.log, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err))
		return
	}

	h.log.Info().Str("job_id", job.ID).Msg("redemption code presented at station")

	c.JSON(http.StatusOK, RedeemResponse{
		Job:         h.response(job),
		DocumentURL: url,
		ExpiresAt:   time.Now().UTC().Add(h.cfg.PresignExpiry),
	})
}

func RegisterPrintRoutes(r *gin.RouterGroup, h *PrintHandler, upload ...gin.HandlerFunc) {
	r.POST("/upload", append(upload, h.Upload)...)
	r.POST("/pay", h.Pay)
	r.POST("/:id/fail", h.Fail)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
}

func RegisterStationRoutes(r *gin.RouterGroup, h *PrintHandler) {
	r.GET("/redeem/:code", h.Redeem)
}
