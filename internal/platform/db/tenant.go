package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

// DefaultTenant is used when no clinic could be resolved from the request.
const DefaultTenant = "default"

// TenantHeader names the clinic a request acts on.
const TenantHeader = "X-Clinic-ID"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether id is usable as a clinic id and schema suffix.
func ValidTenantID(id string) bool { return tenantIDPattern.MatchString(id) }

// SchemaName returns the Postgres schema holding a clinic's tables.
func SchemaName(tenantID string) string { return "tenant_" + tenantID }

// TenantMiddleware resolves the clinic of each request. With a pool it also
// pins a connection whose search_path points at the clinic's schema; with a
// nil pool (in-memory store) only the clinic id is attached.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}

			ctx := WithTenant(c.Request().Context(), tenantID)
			c.Set("tenant_id", tenantID)

			if pool != nil {
				conn, err := pool.Acquire(ctx)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
				}
				defer conn.Release()

				_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID)))
				if err != nil {
					return echo.NewHTTPError(http.StatusInternalServerError, "clinic resolution failed")
				}
				ctx = context.WithValue(ctx, DBConnKey, conn)
				c.Set("db", conn)
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	// JWT claim set by the auth middleware wins.
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get(TenantHeader); tid != "" {
		return tid
	}
	if tid := c.QueryParam("clinic_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// WithTenant attaches a clinic id to ctx.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// TenantOrDefault is TenantFromContext falling back to DefaultTenant.
func TenantOrDefault(ctx context.Context) string {
	if tid := TenantFromContext(ctx); tid != "" {
		return tid
	}
	return DefaultTenant
}

// CreateTenantSchema creates a clinic's schema and migrates it. A nil migrator
// skips migrations.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrator *Migrator) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid clinic identifier: %s", tenantID)
	}
	schema := SchemaName(tenantID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}

// ListTenantSchemas returns the clinic ids that have a schema.
func ListTenantSchemas(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT substring(schema_name FROM 8) FROM information_schema.schemata
		 WHERE schema_name LIKE 'tenant\_%' ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list clinic schemas: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TenantSchemaExists reports whether the clinic has a schema.
func TenantSchemaExists(ctx context.Context, pool *pgxpool.Pool, tenantID string) (bool, error) {
	if !ValidTenantID(tenantID) {
		return false, nil
	}
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		SchemaName(tenantID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("look up schema for %s: %w", tenantID, err)
	}
	return exists, nil
}

// WithTenantConn runs fn with a connection scoped to the clinic's schema. It
// is the out-of-request counterpart of TenantMiddleware, used by the CLI.
func WithTenantConn(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid clinic identifier: %s", tenantID)
	}
	ctx = WithTenant(ctx, tenantID)
	if pool == nil {
		return fn(ctx)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID))); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	return fn(context.WithValue(ctx, DBConnKey, conn))
}
