package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepscout/internal/store"
)

type stubSubscriptionStore struct {
	subs    []store.Subscription
	deleted []string
}

func (s *stubSubscriptionStore) CreateSubscription(ctx context.Context, userID, query, cron string) (string, error) {
	id := "sub-1"
	s.subs = append(s.subs, store.Subscription{ID: id, UserID: userID, Query: query, ScheduleCron: cron, CreatedAt: time.Now()})
	return id, nil
}

func (s *stubSubscriptionStore) ListSubscriptions(ctx context.Context, userID string) ([]store.Subscription, error) {
	var out []store.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *stubSubscriptionStore) DeleteSubscription(ctx context.Context, id, userID string) error {
	for i, sub := range s.subs {
		if sub.ID == id && sub.UserID == userID {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			s.deleted = append(s.deleted, id)
			return nil
		}
	}
	return sql.ErrNoRows
}

func newSubscriptionsTestServer(st subscriptionStore) *echo.Echo {
	e := echo.New()
	h := &SubscriptionsHandler{Store: st}
	h.Register(e.Group("/api/subscriptions"), testSecret)
	return e
}

func TestCreateSubscription(t *testing.T) {
	st := &stubSubscriptionStore{}
	e := newSubscriptionsTestServer(st)

	req := authedRequest(t, http.MethodPost, "/api/subscriptions", `{"query":"weekly AI digest","schedule_cron":"@daily"}`)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(st.subs) != 1 || st.subs[0].ScheduleCron != "@daily" {
		t.Fatalf("subscription not stored: %+v", st.subs)
	}
}

func TestCreateSubscriptionRejectsBadCron(t *testing.T) {
	e := newSubscriptionsTestServer(&stubSubscriptionStore{})
	req := authedRequest(t, http.MethodPost, "/api/subscriptions", `{"query":"x","schedule_cron":"whenever"}`)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListAndDeleteSubscription(t *testing.T) {
	st := &stubSubscriptionStore{}
	_, _ = st.CreateSubscription(context.Background(), "user-1", "daily news", "0 8 * * *")
	e := newSubscriptionsTestServer(st)

	req := authedRequest(t, http.MethodGet, "/api/subscriptions", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var subs []SubscriptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
		t.Fatalf("decode subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Query != "daily news" {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}

	req = authedRequest(t, http.MethodDelete, "/api/subscriptions/sub-1", "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	req = authedRequest(t, http.MethodDelete, "/api/subscriptions/sub-1", "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestValidCron(t *testing.T) {
	cases := []struct {
		spec string
		want bool
	}{
		{"@daily", true},
		{"@hourly", true},
		{"0 8 * * *", true},
		{"", false},
		{"whenever", false},
	}
	for _, tc := range cases {
		if got := validCron(tc.spec); got != tc.want {
			t.Fatalf("validCron(%q) = %v, want %v", tc.spec, got, tc.want)
		}
	}
}

func TestIsDue(t *testing.T) {
	hourAgo := time.Now().Add(-time.Hour)
	dayAgo := time.Now().Add(-25 * time.Hour)
	justNow := time.Now().Add(-time.Minute)

	if !isDue("@daily", nil) {
		t.Fatalf("never-run daily subscription should be due")
	}
	if isDue("@daily", &hourAgo) {
		t.Fatalf("daily subscription run an hour ago should not be due")
	}
	if !isDue("@daily", &dayAgo) {
		t.Fatalf("daily subscription run 25h ago should be due")
	}
	if !isDue("@hourly", &hourAgo) {
		t.Fatalf("hourly subscription run an hour ago should be due")
	}
	if isDue("@hourly", &justNow) {
		t.Fatalf("hourly subscription run a minute ago should not be due")
	}
	if !isDue("*/5 * * * *", &hourAgo) {
		t.Fatalf("five-minute cron last run an hour ago should be due")
	}
}
