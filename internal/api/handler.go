package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imageforge/internal/credits"
	"imageforge/internal/orchestrator"
	"imageforge/internal/processor"
	"imageforge/internal/progress"
)

// upload constraints, matching the account-facing policy
const maxUploadBytes = 10 * 1024 * 1024

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ReadyCheck probes one dependency; a non-nil error marks the server not
// ready.
type ReadyCheck func(ctx context.Context) error

// Handler API handler
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	registry     *processor.Registry
	store        progress.Store
	ledger       credits.Ledger
	filesDir     string // local artifact directory; empty for s3 backend
	readyChecks  map[string]ReadyCheck
}

// NewHandler creates API handler
func NewHandler(orch *orchestrator.Orchestrator, registry *processor.Registry, store progress.Store, ledger credits.Ledger, filesDir string, readyChecks map[string]ReadyCheck) *Handler {
	return &Handler{
		orchestrator: orch,
		registry:     registry,
		store:        store,
		ledger:       ledger,
		filesDir:     filesDir,
		readyChecks:  readyChecks,
	}
}

// RegisterRoutes registers routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/process", h.submitProcess)
		v1.GET("/tasks/:id", h.getTask)
		v1.GET("/processors", h.listProcessors)
		v1.GET("/credits/:user_id", h.getBalance)
		if h.filesDir != "" {
			v1.GET("/files/:filename", h.getFile)
		}
	}

	r.GET("/health", h.healthCheck)
	r.GET("/ready", h.readinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// submitProcess accepts a processing request and returns a task id
func (h *Handler) submitProcess(c *gin.Context) {
	processingType := c.PostForm("processing_type")
	if processingType == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "processing_type is required"})
		return
	}

	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_id is required"})
		return
	}

	params := processor.Params{}
	if raw := c.PostForm("parameters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "parameters must be a valid JSON object"})
			return
		}
	}

	var image []byte
	if file, err := c.FormFile("file"); err == nil {
		if file.Size > maxUploadBytes {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file exceeds the 10MB limit"})
			return
		}
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if !allowedExtensions[ext] {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unsupported file type, allowed: jpg, jpeg, png, webp"})
			return
		}
		opened, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read uploaded file"})
			return
		}
		defer opened.Close()
		image, err = io.ReadAll(opened)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read uploaded file"})
			return
		}
	}

	taskID, err := h.orchestrator.Submit(c.Request.Context(), orchestrator.SubmitRequest{
		ProcessingType: processingType,
		Parameters:     params,
		Image:          image,
		UserID:         userID,
	})
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrUnknownProcessingType),
			errors.Is(err, processor.ErrInvalidParameters):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, orchestrator.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: err.Error()})
		case errors.Is(err, orchestrator.ErrDebitFailed):
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		case errors.Is(err, credits.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, SubmitResponse{
		TaskID:         taskID,
		ProcessingType: processingType,
		Status:         string(progress.TaskStatusPending),
	})
}

// getTask returns the current progress state for a task id
func (h *Handler) getTask(c *gin.Context) {
	task, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, progress.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, TaskResponse{
		ID:          task.ID,
		Status:      string(task.Status),
		Progress:    task.Progress,
		Message:     task.Message,
		ResultRef:   task.ResultRef,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	})
}

// listProcessors lists the registered processing types
func (h *Handler) listProcessors(c *gin.Context) {
	c.JSON(http.StatusOK, ProcessorsResponse{Processors: h.registry.Available()})
}

// getBalance returns an account's credit balance
func (h *Handler) getBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, credits.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// getFile serves a locally stored artifact
func (h *Handler) getFile(c *gin.Context) {
	// Base strips any path traversal from the request
	filename := filepath.Base(c.Param("filename"))
	path := filepath.Join(h.filesDir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
		return
	}
	c.File(path)
}

// healthCheck performs health check
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessCheck probes the registered dependencies and reports 503 when
// any of them is unreachable
func (h *Handler) readinessCheck(c *gin.Context) {
	deps := gin.H{}
	status := http.StatusOK
	for name, check := range h.readyChecks {
		if err := check(c.Request.Context()); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{"status": state, "dependencies": deps})
}
