package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicflow/waitroom/internal/config"
	"github.com/clinicflow/waitroom/internal/domain/appointment"
	"github.com/clinicflow/waitroom/internal/platform/db"
	"github.com/clinicflow/waitroom/internal/platform/middleware"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	want := map[string]bool{"serve": false, "migrate": false, "tenant": false, "seed": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}

	migrate, _, err := root.Find([]string{"migrate", "up"})
	if err != nil || migrate.Name() != "up" {
		t.Fatalf("expected migrate up, got %v (%v)", migrate, err)
	}
	if migrate.Flags().Lookup("clinic") == nil {
		t.Error("migrate up should accept --clinic")
	}

	seed, _, err := root.Find([]string{"seed"})
	if err != nil {
		t.Fatal(err)
	}
	if f := seed.Flags().Lookup("count"); f == nil || f.DefValue != "12" {
		t.Errorf("unexpected --count flag: %+v", f)
	}
}

func TestSeedAppointments(t *testing.T) {
	repo := appointment.NewMemoryRepo()
	svc := appointment.NewService(repo)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	n, err := seedAppointments(context.Background(), svc, "centro", 5, 7, day)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 booked, got %d", n)
	}
	items, total, err := repo.Search(context.Background(), "centro", nil, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(items) != 5 {
		t.Fatalf("expected 5 stored appointments, got %d", total)
	}
	for _, a := range items {
		if a.Status != appointment.StatusPending && a.Status != appointment.StatusConfirmed {
			t.Errorf("seeded appointment has status %s", a.Status)
		}
	}
}

func TestWithPool_RefusesMemoryStore(t *testing.T) {
	t.Setenv("STORE", "memory")
	err := withPool(func(context.Context, *pgxpool.Pool, *db.Migrator) error {
		t.Fatal("fn must not run")
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "STORE=postgres") {
		t.Fatalf("expected STORE error, got %v", err)
	}
}

func TestNewAuth(t *testing.T) {
	if _, err := newAuth(&config.Config{Env: "development"}); err != nil {
		t.Fatalf("development auth: %v", err)
	}
	if _, err := newAuth(&config.Config{Env: "production", AuthMode: config.AuthJWT}); err == nil {
		t.Fatal("expected error for jwt mode without a key source")
	}
	if _, err := newAuth(&config.Config{Env: "staging", AuthMode: config.AuthJWT, AuthSigningKey: "local-secret"}); err != nil {
		t.Fatalf("jwt auth with signing key: %v", err)
	}
}

func TestNewLimiter(t *testing.T) {
	a := &app{logger: zerolog.Nop()}
	defer a.Close()

	l, check, err := newLimiter(&config.Config{RateLimitRPS: 5, RateLimitBurst: 10}, a)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*middleware.MemoryLimiter); !ok || check != nil {
		t.Fatalf("expected memory limiter without check, got %T", l)
	}

	l, check, err = newLimiter(&config.Config{RateLimitRPS: 5, RateLimitWindow: time.Minute, RedisURL: "redis://localhost:6379/0"}, a)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*middleware.RedisLimiter); !ok {
		t.Fatalf("expected redis limiter, got %T", l)
	}
	if check == nil || check.Name != "redis" {
		t.Fatalf("expected redis health check, got %+v", check)
	}

	if _, _, err := newLimiter(&config.Config{RedisURL: "not a url"}, a); err == nil {
		t.Fatal("expected error for invalid REDIS_URL")
	}
}

func memoryApp(t *testing.T) *app {
	t.Helper()
	for k, v := range map[string]string{
		"ENV":              "development",
		"STORE":            "memory",
		"AUTH_MODE":        "",
		"AUTH_SIGNING_KEY": "",
		"AUTH_ISSUER":      "",
		"AUTH_JWKS_URL":    "",
		"REDIS_URL":        "",
		"KAFKA_BROKERS":    "",
		"AMQP_URL":         "",
		"OTEL_ENABLED":     "false",
		"DEFAULT_TENANT":   "centro",
		"CLINICS":          "norte",
	} {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func serve(t *testing.T, a *app, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewApp_MemoryStore(t *testing.T) {
	a := memoryApp(t)

	rec := serve(t, a, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	rec = serve(t, a, http.MethodPost, "/api/v1/appointments", map[string]any{
		"patient_name":      "Ana Souza",
		"service_name":      "Consulta",
		"professional_name": "Dra. Lima",
		"scheduled_time":    time.Now().Add(-10 * time.Minute).UTC(),
		"status":            "confirmed",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID       string `json:"id"`
		ClinicID string `json:"clinic_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ClinicID != "centro" {
		t.Errorf("expected default clinic centro, got %q", created.ClinicID)
	}

	rec = serve(t, a, http.MethodPost, "/api/v1/waiting-room", map[string]any{"appointment_id": created.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, a, http.MethodGet, "/api/v1/waiting-room", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("view: %d %s", rec.Code, rec.Body.String())
	}
	var queue []struct {
		AppointmentID string `json:"appointment_id"`
		Severity      string `json:"severity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &queue); err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].AppointmentID != created.ID || queue[0].Severity != "low" {
		t.Fatalf("unexpected queue: %+v", queue)
	}

	rec = serve(t, a, http.MethodGet, "/api/v1/toasts", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ana Souza") {
		t.Errorf("expected a toast for the enqueue: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, a, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), `waitroom_queue_length{clinic="centro"} 1`) {
		t.Errorf("expected queue length in metrics:\n%s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `waitroom_queue_events_total{clinic="centro",type="queue.entered"} 1`) {
		t.Errorf("expected queue event counter in metrics:\n%s", rec.Body.String())
	}
}

func TestNewApp_ClinicHeaderIsolatesQueues(t *testing.T) {
	a := memoryApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/waiting-room", nil)
	req.Header.Set("X-Clinic-ID", "norte")
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty queue for norte, got %d %s", rec.Code, rec.Body.String())
	}

	for i := 0; i < 3; i++ {
		req = httptest.NewRequest(http.MethodGet, "/api/v1/waiting-room", nil)
		req.Header.Set("X-Clinic-ID", fmt.Sprintf("ghost_%d", i))
		rec = httptest.NewRecorder()
		a.echo.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown clinic, got %d %s", rec.Code, rec.Body.String())
		}
	}
	if lengths := a.queue.QueueLengths(); len(lengths) != 1 {
		t.Errorf("unknown clinics must not get a queue, got %v", lengths)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/waiting-room", nil)
	req.Header.Set("X-Clinic-ID", "bad clinic!")
	rec = httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid clinic id, got %d", rec.Code)
	}
}
