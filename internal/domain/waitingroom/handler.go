package waitingroom

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicflow/waitroom/internal/domain/appointment"
	"github.com/clinicflow/waitroom/internal/platform/auth"
	"github.com/clinicflow/waitroom/internal/platform/db"
)

type Handler struct {
	svc     *Service
	journal Journal
	now     func() time.Time
}

func NewHandler(svc *Service, journal Journal) *Handler {
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Handler{svc: svc, journal: journal, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RolePhysician, auth.RoleNurse))
	readGroup.GET("/waiting-room", h.GetQueue)
	readGroup.GET("/waiting-room/stats", h.GetStats)
	readGroup.GET("/waiting-room/next", h.GetNext)
	readGroup.GET("/waiting-room/:id/history", h.GetHistory)

	frontDesk := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	frontDesk.POST("/waiting-room", h.Enqueue)
	frontDesk.DELETE("/waiting-room/:id", h.Remove)
	frontDesk.POST("/appointments/:id/confirm", h.Confirm)
	frontDesk.POST("/appointments/:id/arrive", h.Arrive)
	frontDesk.POST("/appointments/:id/cancel", h.Cancel)

	clinical := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RolePhysician, auth.RoleNurse))
	clinical.POST("/waiting-room/:id/attend", h.Attend)
	clinical.PUT("/waiting-room/:id/urgent", h.SetUrgent)
	clinical.POST("/appointments/:id/start", h.Attend)
	clinical.POST("/appointments/:id/complete", h.Complete)
}

// clock returns the request's reference time. The now query parameter
// overrides the server clock for reads.
func (h *Handler) clock(c echo.Context) (time.Time, error) {
	v := c.QueryParam("now")
	if v == "" {
		return h.now(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid now: expected RFC3339")
	}
	return t, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func clinicOf(c echo.Context) string {
	return db.TenantOrDefault(c.Request().Context())
}

// httpError maps queue and lifecycle failures to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyQueued), errors.Is(err, appointment.ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotInQueue):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrUnknownClinic):
		return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func (h *Handler) GetQueue(c echo.Context) error {
	now, err := h.clock(c)
	if err != nil {
		return err
	}
	items, err := h.svc.View(c.Request().Context(), clinicOf(c), now)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []Item{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetStats(c echo.Context) error {
	now, err := h.clock(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(c.Request().Context(), clinicOf(c), now)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetNext(c echo.Context) error {
	now, err := h.clock(c)
	if err != nil {
		return err
	}
	item, err := h.svc.Next(c.Request().Context(), clinicOf(c), now)
	if err != nil {
		if errors.Is(err, ErrNotInQueue) {
			return echo.NewHTTPError(http.StatusNotFound, "waiting queue is empty")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	entries, err := h.journal.History(c.Request().Context(), clinicOf(c), id)
	if err != nil {
		return httpError(err)
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

type enqueueRequest struct {
	AppointmentID string     `json:"appointment_id"`
	ArrivalTime   *time.Time `json:"arrival_time,omitempty"`
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_id")
	}
	now := h.now()
	arrival := now
	if req.ArrivalTime != nil {
		arrival = *req.ArrivalTime
	}
	entry, err := h.svc.Enqueue(c.Request().Context(), clinicOf(c), id, arrival, now)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

type arriveRequest struct {
	ArrivalTime *time.Time `json:"arrival_time,omitempty"`
}

func (h *Handler) Arrive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req arriveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	now := h.now()
	arrival := now
	if req.ArrivalTime != nil {
		arrival = *req.ArrivalTime
	}
	entry, err := h.svc.MarkArrived(c.Request().Context(), clinicOf(c), id, arrival, now)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

type attendRequest struct {
	Room string `json:"room"`
}

// Attend serves both POST /waiting-room/:id/attend and
// POST /appointments/:id/start.
func (h *Handler) Attend(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req attendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	room := strings.TrimSpace(req.Room)
	if room == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room is required")
	}
	entry, err := h.svc.Attend(c.Request().Context(), clinicOf(c), id, room, h.now())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

type urgentRequest struct {
	Urgent *bool `json:"urgent"`
}

func (h *Handler) SetUrgent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req urgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Urgent == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "urgent is required")
	}
	entry, err := h.svc.SetUrgent(c.Request().Context(), clinicOf(c), id, *req.Urgent, h.now())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Remove(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	reason := ReasonManual
	if v := c.QueryParam("reason"); v != "" {
		reason = RemovalReason(v)
	}
	if !reason.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reason: expected manual or cancelled")
	}
	entry, err := h.svc.Remove(c.Request().Context(), clinicOf(c), id, reason, h.now())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	now := h.now()
	a, err := h.svc.Confirm(c.Request().Context(), clinicOf(c), id, now)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a.ToView(now))
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	now := h.now()
	a, err := h.svc.Complete(c.Request().Context(), clinicOf(c), id, now)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a.ToView(now))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	now := h.now()
	a, err := h.svc.Cancel(c.Request().Context(), clinicOf(c), id, strings.TrimSpace(req.Reason), now)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a.ToView(now))
}
