package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Run statuses persisted for research runs.
const (
	RunStatusRunning            = "running"
	RunStatusNeedsClarification = "needs_clarification"
	RunStatusSucceeded          = "succeeded"
	RunStatusFailed             = "failed"
)

type Store struct {
	DB *sql.DB
}

// ResearchRun is a persisted orchestration run and its artifacts.
type ResearchRun struct {
	ID             string
	UserID         string
	SubscriptionID *string
	Query          string
	Status         string
	Brief          *string
	Clarification  *string
	FinalReport    *string
	Error          *string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// RunEvent is one progress record emitted during a run.
type RunEvent struct {
	ID        int64
	RunID     string
	EventType string
	Stage     string
	Message   string
	CreatedAt time.Time
}

// Subscription is a recurring research query owned by a user.
type Subscription struct {
	ID           string
	UserID       string
	Query        string
	ScheduleCron string
	CreatedAt    time.Time
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run operations
func (s *Store) CreateRun(ctx context.Context, userID, query string, subscriptionID *string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO research_runs (user_id, subscription_id, query, status) VALUES ($1,$2,$3,$4) RETURNING id`,
		userID, subscriptionID, query, RunStatusRunning).Scan(&id)
	return id, err
}

func (s *Store) SetRunBrief(ctx context.Context, runID, brief string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE research_runs SET brief=$2 WHERE id=$1`, runID, brief)
	return err
}

// MarkRunNeedsClarification closes the run as a clarification round: the stored
// question must be answered before a fresh run can proceed.
func (s *Store) MarkRunNeedsClarification(ctx context.Context, runID, question string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE research_runs SET status=$2, clarification_question=$3, finished_at=NOW() WHERE id=$1`,
		runID, RunStatusNeedsClarification, question)
	return err
}

func (s *Store) FinishRun(ctx context.Context, runID, status string, report *string, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE research_runs SET status=$2, final_report=$3, error=$4, finished_at=NOW() WHERE id=$1`,
		runID, status, report, errMsg)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID, userID string) (ResearchRun, error) {
	var r ResearchRun
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, subscription_id, query, status, brief, clarification_question, final_report, error, started_at, finished_at
		 FROM research_runs WHERE id=$1 AND user_id=$2`, runID, userID).
		Scan(&r.ID, &r.UserID, &r.SubscriptionID, &r.Query, &r.Status, &r.Brief, &r.Clarification, &r.FinalReport, &r.Error, &r.StartedAt, &r.FinishedAt)
	return r, err
}

func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]ResearchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, subscription_id, query, status, brief, clarification_question, final_report, error, started_at, finished_at
		 FROM research_runs WHERE user_id=$1 ORDER BY started_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResearchRun
	for rows.Next() {
		var r ResearchRun
		if err := rows.Scan(&r.ID, &r.UserID, &r.SubscriptionID, &r.Query, &r.Status, &r.Brief, &r.Clarification, &r.FinalReport, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Event operations
func (s *Store) AppendEvent(ctx context.Context, runID, eventType, stage, message string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO research_events (run_id, event_type, stage, message) VALUES ($1,$2,$3,$4)`,
		runID, eventType, stage, message)
	return err
}

func (s *Store) ListEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, event_type, stage, message, created_at FROM research_events WHERE run_id=$1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.EventType, &e.Stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Subscription operations
func (s *Store) CreateSubscription(ctx context.Context, userID, query, cron string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO subscriptions (user_id, query, schedule_cron) VALUES ($1,$2,$3) RETURNING id`,
		userID, query, cron).Scan(&id)
	return id, err
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	return s.querySubscriptions(ctx, `SELECT id, user_id, query, schedule_cron, created_at FROM subscriptions WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

// ListAllSubscriptions returns every subscription; used by the scheduler tick.
func (s *Store) ListAllSubscriptions(ctx context.Context) ([]Subscription, error) {
	return s.querySubscriptions(ctx, `SELECT id, user_id, query, schedule_cron, created_at FROM subscriptions ORDER BY created_at`)
}

func (s *Store) querySubscriptions(ctx context.Context, q string, args ...interface{}) ([]Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Query, &sub.ScheduleCron, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSubscription(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LatestRunTime returns the start time of the most recent run for a subscription,
// or nil when the subscription has never run.
func (s *Store) LatestRunTime(ctx context.Context, subscriptionID string) (*time.Time, error) {
	var t time.Time
	err := s.DB.QueryRowContext(ctx,
		`SELECT started_at FROM research_runs WHERE subscription_id=$1 ORDER BY started_at DESC LIMIT 1`,
		subscriptionID).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
