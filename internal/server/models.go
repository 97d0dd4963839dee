package server

import (
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// HTTPError is the JSON error envelope returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// StartRunRequest launches a research run. SessionID is optional; when set,
// the stored conversation is replayed ahead of the new query so answers to
// earlier clarification questions carry over.
type StartRunRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type RunResponse struct {
	ID             string     `json:"id"`
	Query          string     `json:"query"`
	Status         string     `json:"status"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	Brief          *string    `json:"brief,omitempty"`
	Clarification  *string    `json:"clarification_question,omitempty"`
	FinalReport    *string    `json:"final_report,omitempty"`
	Error          *string    `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func newRunResponse(r store.ResearchRun) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Query:          r.Query,
		Status:         r.Status,
		SubscriptionID: r.SubscriptionID,
		Brief:          r.Brief,
		Clarification:  r.Clarification,
		FinalReport:    r.FinalReport,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

type RunEventResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SubscriptionRequest struct {
	Query        string `json:"query"`
	ScheduleCron string `json:"schedule_cron"`
}

type SubscriptionResponse struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	ScheduleCron string    `json:"schedule_cron"`
	CreatedAt    time.Time `json:"created_at"`
}
