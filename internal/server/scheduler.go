package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	core "github.com/mohammad-safakhou/deepscout/internal/agent/core"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// Scheduler fires research runs for subscriptions whose cron schedule is due.
// A Redis lock per subscription keeps multiple replicas from double-firing.
type Scheduler struct {
	Store  *store.Store
	Stop   chan struct{}
	Rdb    *redis.Client
	Orch   researchRunner
	Logger *log.Logger
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	subs, err := s.Store.ListAllSubscriptions(ctx)
	if err != nil {
		s.Logger.Printf("list subscriptions: %v", err)
		return
	}
	for _, sub := range subs {
		last, _ := s.Store.LatestRunTime(ctx, sub.ID)
		if !isDue(sub.ScheduleCron, last) {
			continue
		}

		// distributed lock to avoid duplicate runs
		if s.Rdb != nil {
			lockKey := "sched:lock:" + sub.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		subID := sub.ID
		runID, err := s.Store.CreateRun(ctx, sub.UserID, sub.Query, &subID)
		if err != nil {
			s.Logger.Printf("create run for subscription %s: %v", sub.ID, err)
			continue
		}

		go s.runSubscription(sub, runID)
	}
}

func (s *Scheduler) runSubscription(sub store.Subscription, runID string) {
	ctx := context.Background()
	// jitter to avoid stampedes
	time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)

	conversation := []core.Turn{core.UserTurn(sub.Query)}
	result := s.Orch.Execute(ctx, runID, conversation, func(ev core.Event) {
		if err := s.Store.AppendEvent(ctx, runID, string(ev.Type), ev.Stage, ev.Message); err != nil {
			s.Logger.Printf("[%s] persist event: %v", runID, err)
		}
	})

	// Unattended runs have nobody to answer a clarification question; record
	// it and let the next due tick try again with the same query.
	if result.ClarificationAsked {
		if err := s.Store.MarkRunNeedsClarification(ctx, runID, result.Question); err != nil {
			s.Logger.Printf("[%s] mark clarification: %v", runID, err)
		}
		return
	}
	if result.ResearchBrief != "" {
		if err := s.Store.SetRunBrief(ctx, runID, result.ResearchBrief); err != nil {
			s.Logger.Printf("[%s] set brief: %v", runID, err)
		}
	}
	report := result.FinalReport
	if err := s.Store.FinishRun(ctx, runID, store.RunStatusSucceeded, &report, nil); err != nil {
		s.Logger.Printf("[%s] finish run: %v", runID, err)
	}
}

// isDue determines if a subscription with cronSpec should run now based on the
// last run time. Supports "@daily", "@hourly", and standard cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
