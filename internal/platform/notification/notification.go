// Package notification turns queue events into short confirmation messages
// ("toasts") for the reception screen and pushes them over the WebSocket hub.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicflow/waitroom/internal/platform/db"
	"github.com/clinicflow/waitroom/internal/platform/events"
	"github.com/clinicflow/waitroom/internal/platform/websocket"
)

// Level is the visual style of a toast.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Toast is a single rendered message.
type Toast struct {
	ID        string    `json:"id"`
	ClinicID  string    `json:"clinic_id"`
	EventID   string    `json:"event_id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Template is a toast keyed by the event type that triggers it.
type Template struct {
	EventType string `json:"event_type"`
	Level     Level  `json:"level"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine returns an engine with the reception copy registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			EventType: events.TypeAppointmentConfirmed,
			Level:     LevelSuccess,
			Title:     "Agendamento confirmado",
			Body:      "{{patient_name}} confirmou a consulta com {{professional_name}}.",
		},
		{
			EventType: events.TypeQueueEntered,
			Level:     LevelSuccess,
			Title:     "Chegada registrada",
			Body:      "{{patient_name}} entrou na fila de espera.",
		},
		{
			EventType: events.TypeQueueUrgencyChanged,
			Level:     LevelWarning,
			Title:     "Prioridade alterada",
			Body:      "{{patient_name}}: prioridade {{urgency}}.",
		},
		{
			EventType: events.TypeAttendanceStarted,
			Level:     LevelInfo,
			Title:     "Paciente chamado",
			Body:      "{{patient_name}} foi chamado para a sala {{assigned_room}}.",
		},
		{
			EventType: events.TypeQueueRemoved,
			Level:     LevelInfo,
			Title:     "Removido da fila",
			Body:      "{{patient_name}} foi removido da fila de espera.",
		},
		{
			EventType: events.TypeAppointmentCompleted,
			Level:     LevelSuccess,
			Title:     "Atendimento finalizado",
			Body:      "O atendimento de {{patient_name}} foi concluído.",
		},
		{
			EventType: events.TypeAppointmentCancelled,
			Level:     LevelWarning,
			Title:     "Agendamento cancelado",
			Body:      "A consulta de {{patient_name}} foi cancelada.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.EventType] = &t
	}
}

// RegisterTemplate adds or replaces the template for an event type.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.EventType] = &t
}

// Lookup returns the template for an event type.
func (e *TemplateEngine) Lookup(eventType string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[eventType]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Render fills the template for eventType. Placeholders without data are
// left as-is.
func (e *TemplateEngine) Render(eventType string, data map[string]string) (title, body string, err error) {
	t, ok := e.Lookup(eventType)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", eventType)
	}
	title, body = t.Title, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// templateData flattens an event payload into placeholder values.
func templateData(raw json.RawMessage) map[string]string {
	data := map[string]string{}
	if len(raw) == 0 {
		return data
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return data
	}
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			data[k] = val
		case bool:
			if k == "urgent" {
				if val {
					data["urgency"] = "urgente"
				} else {
					data["urgency"] = "normal"
				}
			}
			data[k] = fmt.Sprint(val)
		case float64:
			data[k] = fmt.Sprint(val)
		}
	}
	return data
}

// historySize is how many toasts are kept per clinic.
const historySize = 50

// Notifier renders toasts for queue events and pushes them to the clinic's
// toast topic. It is registered as an events sink.
type Notifier struct {
	templates *TemplateEngine
	hub       websocket.EventPublisher
	now       func() time.Time

	mu      sync.RWMutex
	history map[string][]Toast
}

func NewNotifier(tpl *TemplateEngine, hub websocket.EventPublisher) *Notifier {
	return &Notifier{
		templates: tpl,
		hub:       hub,
		now:       time.Now,
		history:   make(map[string][]Toast),
	}
}

// Publish renders and pushes a toast. Events without a template are ignored.
func (n *Notifier) Publish(ctx context.Context, ev events.Event) error {
	t, ok := n.templates.Lookup(ev.Type)
	if !ok {
		return nil
	}
	title, body, err := n.templates.Render(ev.Type, templateData(ev.Data))
	if err != nil {
		return err
	}
	toast := Toast{
		ID:        uuid.New().String(),
		ClinicID:  ev.ClinicID,
		EventID:   ev.ID,
		Level:     t.Level,
		Title:     title,
		Body:      body,
		CreatedAt: n.now().UTC(),
	}
	n.remember(toast)

	if n.hub == nil {
		return nil
	}
	payload, err := json.Marshal(toast)
	if err != nil {
		return err
	}
	return n.hub.Publish(ctx, websocket.Event{
		Type:          "toast",
		Topic:         websocket.ToastTopic(ev.ClinicID),
		ClinicID:      ev.ClinicID,
		AppointmentID: ev.AppointmentID,
		Timestamp:     toast.CreatedAt,
		Data:          payload,
	})
}

func (n *Notifier) remember(t Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := append(n.history[t.ClinicID], t)
	if len(list) > historySize {
		list = append([]Toast(nil), list[len(list)-historySize:]...)
	}
	n.history[t.ClinicID] = list
}

// Recent returns up to limit toasts of a clinic, newest first.
func (n *Notifier) Recent(clinicID string, limit int) []Toast {
	n.mu.RLock()
	defer n.mu.RUnlock()
	list := n.history[clinicID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Toast, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out
}

// Handler exposes the toast history over HTTP.
type Handler struct {
	notifier *Notifier
}

func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/toasts", h.HandleRecent)
}

// HandleRecent handles GET /toasts?limit=N.
func (h *Handler) HandleRecent(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	clinicID := db.TenantOrDefault(c.Request().Context())
	return c.JSON(http.StatusOK, h.notifier.Recent(clinicID, limit))
}
