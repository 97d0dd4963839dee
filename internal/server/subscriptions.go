package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// subscriptionStore is the slice of the persistence layer the subscriptions
// handler needs.
type subscriptionStore interface {
	CreateSubscription(ctx context.Context, userID, query, cron string) (string, error)
	ListSubscriptions(ctx context.Context, userID string) ([]store.Subscription, error)
	DeleteSubscription(ctx context.Context, id, userID string) error
}

type SubscriptionsHandler struct {
	Store subscriptionStore
}

func (h *SubscriptionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(echoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.DELETE("/:id", h.remove)
}

func (h *SubscriptionsHandler) create(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	var req SubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	if !validCron(req.ScheduleCron) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule_cron")
	}
	id, err := h.Store.CreateSubscription(c.Request().Context(), userID, req.Query, req.ScheduleCron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *SubscriptionsHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	subs, err := h.Store.ListSubscriptions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, SubscriptionResponse{
			ID:           s.ID,
			Query:        s.Query,
			ScheduleCron: s.ScheduleCron,
			CreatedAt:    s.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SubscriptionsHandler) remove(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	err := h.Store.DeleteSubscription(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// validCron accepts "@daily", "@hourly", or a parseable cron expression.
func validCron(spec string) bool {
	switch spec {
	case "@daily", "@hourly":
		return true
	case "":
		return false
	}
	_, err := cronexpr.Parse(spec)
	return err == nil
}
