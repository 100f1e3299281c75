package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/webhook"
)

// registerWebhookHandler handles POST /api/v1/webhooks.
func (s *Server) registerWebhookHandler(c *echo.Context) error {
	var req RegisterWebhookRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}

	w := &models.Webhook{
		Name:              req.Name,
		URL:               req.URL,
		Secret:            req.Secret,
		Events:            req.Events,
		Headers:           req.Headers,
		RetryCount:        req.RetryCount,
		RetryDelaySeconds: req.RetryDelaySeconds,
		TimeoutSeconds:    req.TimeoutSeconds,
	}
	if err := s.webhooks.Register(c.Request().Context(), w); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// listWebhooksHandler handles GET /api/v1/webhooks.
func (s *Server) listWebhooksHandler(c *echo.Context) error {
	list, err := s.webhooks.List(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &WebhookListResponse{Webhooks: list, Total: len(list)})
}

// getWebhookHandler handles GET /api/v1/webhooks/:id.
func (s *Server) getWebhookHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	w, err := s.webhooks.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// updateWebhookHandler handles PATCH /api/v1/webhooks/:id.
func (s *Server) updateWebhookHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req UpdateWebhookRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}

	upd := webhook.Update{
		Name:    req.Name,
		URL:     req.URL,
		Secret:  req.Secret,
		Events:  req.Events,
		Headers: req.Headers,
	}
	if req.Status != nil {
		if !models.ValidWebhookStatus(*req.Status) {
			return badRequest(c, "invalid status: "+*req.Status)
		}
		status := models.WebhookStatus(*req.Status)
		upd.Status = &status
	}

	w, err := s.webhooks.UpdateWebhook(c.Request().Context(), id, upd)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// deleteWebhookHandler handles DELETE /api/v1/webhooks/:id.
func (s *Server) deleteWebhookHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.webhooks.Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// testWebhookHandler handles POST /api/v1/webhooks/:id/test.
func (s *Server) testWebhookHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	delivery, err := s.webhooks.Test(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, delivery)
}

// listDeliveriesHandler handles GET /api/v1/webhooks/:id/deliveries.
func (s *Server) listDeliveriesHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	deliveries, err := s.webhooks.ListDeliveries(c.Request().Context(), id, limit)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &DeliveryListResponse{
		Deliveries: deliveries,
		Total:      len(deliveries),
	})
}

// webhookStatsHandler handles GET /api/v1/webhooks/:id/stats.
func (s *Server) webhookStatsHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	stats, err := s.webhooks.GetStats(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
