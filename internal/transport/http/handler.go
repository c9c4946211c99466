package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"vn.io.arda/pinnotify/internal/application"
	"vn.io.arda/pinnotify/internal/domain"
	"vn.io.arda/pinnotify/internal/transport/mw"
)

// Handler holds all HTTP handler methods.
type Handler struct {
	svc       *application.Service
	hub       *Hub
	heartbeat time.Duration
	clock     clock.Clock
}

// NewHandler creates a new Handler. Open streams receive a heartbeat event
// every heartbeat interval.
func NewHandler(svc *application.Service, hub *Hub, heartbeat time.Duration, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Handler{svc: svc, hub: hub, heartbeat: heartbeat, clock: clk}
}

// --- REST Handlers ---

// ListNotifications GET /api/notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	return h.list(c, false)
}

// ListUnread GET /api/notifications/unread
func (h *Handler) ListUnread(c echo.Context) error {
	return h.list(c, true)
}

func (h *Handler) list(c echo.Context, unreadOnly bool) error {
	filter := domain.NotificationFilter{
		UserID:     mw.UserID(c),
		UnreadOnly: unreadOnly,
		Page:       parseIntQuery(c, "page", 0),
		Size:       parseIntQuery(c, "size", 20),
	}

	page, err := h.svc.List(c.Request().Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("user", filter.UserID).Msg("list notifications failed")
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, page)
}

// GetUnreadCount GET /api/notifications/unread/count
func (h *Handler) GetUnreadCount(c echo.Context) error {
	count, err := h.svc.CountUnread(c.Request().Context(), mw.UserID(c))
	if err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": count})
}

// MarkRead PUT /api/notifications/read
func (h *Handler) MarkRead(c echo.Context) error {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	count, err := h.svc.MarkRead(c.Request().Context(), mw.UserID(c), body.IDs)
	if err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, map[string]int64{"marked": count})
}

// MarkAllRead PUT /api/notifications/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	count, err := h.svc.MarkAllRead(c.Request().Context(), mw.UserID(c))
	if err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, map[string]int64{"marked": count})
}

// Delete DELETE /api/notifications/:id
func (h *Handler) Delete(c echo.Context) error {
	err := h.svc.Delete(c.Request().Context(), mw.UserID(c), c.Param("id"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case err != nil:
		return echo.ErrInternalServerError
	}
	return c.NoContent(http.StatusNoContent)
}

// GetUser GET /api/users/:id
func (h *Handler) GetUser(c echo.Context) error {
	u, err := h.svc.User(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	case err != nil:
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, u)
}

// RecordActivity POST /api/dev/activity
// The actor defaults to the caller.
func (h *Handler) RecordActivity(c echo.Context) error {
	var body struct {
		RecipientID    string `json:"recipientId"`
		Type           string `json:"type"`
		ActorID        string `json:"actorId"`
		ReferenceID    string `json:"referenceId"`
		PreviewText    string `json:"previewText"`
		PreviewImageID string `json:"previewImageId"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if body.RecipientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipientId is required")
	}
	if body.ActorID == "" {
		body.ActorID = mw.UserID(c)
	}

	n, err := h.svc.RecordActivity(c.Request().Context(), domain.ActivityInput{
		RecipientID:    body.RecipientID,
		Type:           domain.NotificationType(body.Type),
		ActorID:        body.ActorID,
		ReferenceID:    body.ReferenceID,
		PreviewText:    body.PreviewText,
		PreviewImageID: body.PreviewImageID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if n == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, n)
}

// --- SSE Handler ---

// Stream GET /api/notifications/stream (SSE endpoint)
func (h *Handler) Stream(c echo.Context) error {
	userID := mw.UserID(c)

	// SSE headers
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx buffering
	w.WriteHeader(http.StatusOK)

	// Register client
	sendCh := make(chan []byte, 32)
	client := h.hub.Register(userID, sendCh)
	defer h.hub.Unregister(client)

	// Send initial "connected" event
	if _, err := w.Write(buildSSEMessage("connected", map[string]string{"status": "ok"})); err != nil {
		return nil
	}
	w.Flush()

	log.Info().Str("user", userID).Msg("SSE stream opened")

	ticker := h.clock.Ticker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case msg, ok := <-sendCh:
			if !ok {
				return nil
			}
			if _, err := w.Write(msg); err != nil {
				return nil
			}
			w.Flush()

		case t := <-ticker.C:
			if _, err := w.Write(buildSSEMessage("heartbeat", map[string]int64{"ts": t.UnixMilli()})); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Info().Str("user", userID).Msg("SSE stream closed by client")
			return nil
		}
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"sse_clients": h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
