package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	core "github.com/mohammad-safakhou/deepscout/internal/agent/core"
	"github.com/mohammad-safakhou/deepscout/internal/session"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

var runsTracer = otel.Tracer("deepscout/internal/server/runs")

// runStore is the slice of the persistence layer the runs handler needs.
type runStore interface {
	CreateRun(ctx context.Context, userID, query string, subscriptionID *string) (string, error)
	SetRunBrief(ctx context.Context, runID, brief string) error
	MarkRunNeedsClarification(ctx context.Context, runID, question string) error
	FinishRun(ctx context.Context, runID, status string, report *string, errMsg *string) error
	GetRun(ctx context.Context, runID, userID string) (store.ResearchRun, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]store.ResearchRun, error)
	AppendEvent(ctx context.Context, runID, eventType, stage, message string) error
	ListEvents(ctx context.Context, runID string) ([]store.RunEvent, error)
}

// researchRunner executes one research run, reporting progress through emit.
type researchRunner interface {
	Execute(ctx context.Context, runID string, conversation []core.Turn, emit func(core.Event)) core.RunResult
}

// conversationStore keeps multi-request conversations so clarification
// answers can continue an earlier exchange.
type conversationStore interface {
	Append(ctx context.Context, userID, sessionID string, turns ...core.Turn) error
	History(ctx context.Context, userID, sessionID string) ([]core.Turn, error)
	Clear(ctx context.Context, userID, sessionID string) error
}

type RunsHandler struct {
	store    runStore
	orch     researchRunner
	sessions conversationStore
	logger   *log.Logger
}

func NewRunsHandler(st runStore, orch researchRunner, sessions conversationStore) *RunsHandler {
	return &RunsHandler{
		store:    st,
		orch:     orch,
		sessions: sessions,
		logger:   log.New(log.Writer(), "[RUNS] ", log.LstdFlags),
	}
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(echoAuthMiddleware(secret))
	g.POST("/runs", h.start)
	g.GET("/runs", h.list)
	g.GET("/runs/:run_id", h.get)
	g.GET("/runs/:run_id/events", h.events)
	g.DELETE("/sessions/:session_id", h.clearSession)
}

// start launches a research run and either streams progress via SSE
// (Accept: text/event-stream) or blocks until the run finishes and returns
// the result as JSON. Both paths persist every emitted event.
func (h *RunsHandler) start(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	ctx, span := runsTracer.Start(ctx, "RunsHandler.start")
	defer span.End()
	c.SetRequest(req.WithContext(ctx))

	userID, _ := c.Get("user_id").(string)

	var body StartRunRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	query := strings.TrimSpace(body.Query)
	if query == "" {
		span.SetStatus(codes.Error, "query required")
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}

	conversation, err := h.loadConversation(ctx, userID, body.SessionID)
	if err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	userTurn := core.UserTurn(query)
	conversation = append(conversation, userTurn)
	if err := h.appendSession(ctx, userID, body.SessionID, userTurn); err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	runID, err := h.store.CreateRun(ctx, userID, query, nil)
	if err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	span.SetAttributes(attribute.String("run_id", runID))

	streaming := strings.Contains(req.Header.Get(echo.HeaderAccept), "text/event-stream")
	if streaming {
		return h.startStreaming(c, ctx, runID, userID, body.SessionID, conversation)
	}

	result := h.orch.Execute(ctx, runID, conversation, func(ev core.Event) {
		h.persistEvent(ctx, runID, ev)
	})
	if err := h.finishRun(ctx, runID, userID, body.SessionID, result); err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *RunsHandler) startStreaming(c echo.Context, ctx context.Context, runID, userID, sessionID string, conversation []core.Turn) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(ev core.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}

	result := h.orch.Execute(ctx, runID, conversation, func(ev core.Event) {
		h.persistEvent(ctx, runID, ev)
		send(ev)
	})
	if err := h.finishRun(ctx, runID, userID, sessionID, result); err != nil {
		h.logger.Printf("[%s] persist result: %v", runID, err)
	}

	data, err := json.Marshal(result)
	if err == nil {
		fmt.Fprintf(resp, "event: result\ndata: %s\n\n", data)
		flusher.Flush()
	}
	return nil
}

// finishRun records the terminal state of a run and extends the session so a
// follow-up request can answer a clarification question or continue the topic.
func (h *RunsHandler) finishRun(ctx context.Context, runID, userID, sessionID string, result core.RunResult) error {
	if result.ClarificationAsked {
		if err := h.store.MarkRunNeedsClarification(ctx, runID, result.Question); err != nil {
			return err
		}
		return h.appendSession(ctx, userID, sessionID, core.AssistantTurn(result.Question))
	}
	if result.ResearchBrief != "" {
		if err := h.store.SetRunBrief(ctx, runID, result.ResearchBrief); err != nil {
			return err
		}
	}
	status := store.RunStatusSucceeded
	var errMsg *string
	if ctx.Err() != nil {
		status = store.RunStatusFailed
		msg := ctx.Err().Error()
		errMsg = &msg
	}
	report := result.FinalReport
	if err := h.store.FinishRun(ctx, runID, status, &report, errMsg); err != nil {
		return err
	}
	return h.appendSession(ctx, userID, sessionID, core.AssistantTurn(result.FinalReport))
}

func (h *RunsHandler) persistEvent(ctx context.Context, runID string, ev core.Event) {
	if err := h.store.AppendEvent(ctx, runID, string(ev.Type), ev.Stage, ev.Message); err != nil {
		h.logger.Printf("[%s] persist event %s: %v", runID, ev.Type, err)
	}
}

func (h *RunsHandler) loadConversation(ctx context.Context, userID, sessionID string) ([]core.Turn, error) {
	if sessionID == "" || h.sessions == nil {
		return nil, nil
	}
	return h.sessions.History(ctx, userID, sessionID)
}

func (h *RunsHandler) appendSession(ctx context.Context, userID, sessionID string, turns ...core.Turn) error {
	if sessionID == "" || h.sessions == nil {
		return nil
	}
	return h.sessions.Append(ctx, userID, sessionID, turns...)
}

// clearSession drops a stored conversation so the next run starts fresh.
func (h *RunsHandler) clearSession(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)
	sessionID := c.Param("session_id")
	if h.sessions == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err := h.sessions.Clear(ctx, userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RunsHandler) list(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)
	limit := 0
	if val := strings.TrimSpace(c.QueryParam("limit")); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := h.store.ListRuns(ctx, userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, newRunResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)
	runID := c.Param("run_id")
	run, err := h.store.GetRun(ctx, runID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, newRunResponse(run))
}

func (h *RunsHandler) events(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)
	runID := c.Param("run_id")
	if _, err := h.store.GetRun(ctx, runID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	events, err := h.store.ListEvents(ctx, runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, RunEventResponse{
			ID:        e.ID,
			Type:      e.EventType,
			Stage:     e.Stage,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}
