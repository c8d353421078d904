package api

import (
	"time"
)

// SubmitResponse is returned from a successful submission
type SubmitResponse struct {
	TaskID         string `json:"task_id"`
	ProcessingType string `json:"processing_type"`
	Status         string `json:"status"`
}

// TaskResponse is the caller-visible task progress state
type TaskResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	ResultRef   string     `json:"result_ref,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BalanceResponse reports an account's credit balance
type BalanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int   `json:"balance"`
}

// ProcessorsResponse lists the available processing types
type ProcessorsResponse struct {
	Processors map[string]string `json:"processors"`
}

// ErrorResponse error response
type ErrorResponse struct {
	Error string `json:"error"`
}
