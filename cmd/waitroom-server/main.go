package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicflow/waitroom/internal/config"
	"github.com/clinicflow/waitroom/internal/domain/appointment"
	"github.com/clinicflow/waitroom/internal/platform/db"
	"github.com/clinicflow/waitroom/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "waitroom-server",
		Short:        "Clinic waiting-room API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(seedCmd())
	return root
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the waiting-room API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			demo, _ := cmd.Flags().GetInt("demo-appointments")
			return runServer(demo)
		},
	}
	cmd.Flags().Int("demo-appointments", 0, "With STORE=memory, book this many demo appointments for the default clinic")
	return cmd
}

func runServer(demoAppointments int) error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.ResolvedAuthMode() == config.AuthDevelopment {
		logger.Warn().Msg("development auth is active: requests without a token are treated as admin")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if demoAppointments > 0 && cfg.UsesMemoryStore() {
		n, err := seedAppointments(ctx, appointment.NewService(a.appointments), cfg.DefaultTenant, demoAppointments, 1, time.Now())
		if err != nil {
			logger.Fatal().Err(err).Msg("demo seed failed")
		}
		logger.Info().Int("count", n).Str("clinic_id", cfg.DefaultTenant).Msg("booked demo appointments")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = a.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = a.echo.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool, m *db.Migrator) error {
				schema := db.SchemaName(clinic)
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("clinic", db.DefaultTenant, "Clinic whose schema is migrated")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool, m *db.Migrator) error {
				schema := db.SchemaName(clinic)
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.Modified {
							status = "modified"
						}
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("clinic", db.DefaultTenant, "Clinic whose schema is inspected")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid clinic identifier %q: use letters, digits and underscores", name)
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool, m *db.Migrator) error {
				fmt.Printf("Creating clinic schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name, m); err != nil {
					return err
				}
				fmt.Println("Clinic created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (letters, digits, underscores)")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clinics that have a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool, m *db.Migrator) error {
				clinics, err := db.ListTenantSchemas(ctx, pool)
				if err != nil {
					return err
				}
				for _, c := range clinics {
					fmt.Println(c)
				}
				return nil
			})
		},
	})
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Book a day of demo appointments for a clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			count, _ := cmd.Flags().GetInt("count")
			seed, _ := cmd.Flags().GetInt64("seed")
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool, m *db.Migrator) error {
				svc := appointment.NewService(appointment.NewRepoPG(pool))
				return db.WithTenantConn(ctx, pool, clinic, func(ctx context.Context) error {
					n, err := seedAppointments(ctx, svc, clinic, count, seed, time.Now())
					if err != nil {
						return err
					}
					fmt.Printf("Booked %d appointment(s) for clinic %s.\n", n, clinic)
					return nil
				})
			})
		},
	}
	cmd.Flags().String("clinic", db.DefaultTenant, "Clinic to seed")
	cmd.Flags().Int("count", 12, "Number of appointments")
	cmd.Flags().Int64("seed", 1, "Random seed for the demo data")
	return cmd
}

// seedAppointments books count demo appointments on day's date.
func seedAppointments(ctx context.Context, svc *appointment.Service, clinic string, count int, seed int64, day time.Time) (int, error) {
	booked := 0
	for _, a := range appointment.NewDemoProvider(seed).Appointments(clinic, day, count) {
		if err := svc.Create(ctx, a); err != nil {
			return booked, fmt.Errorf("book appointment %d: %w", booked+1, err)
		}
		booked++
	}
	return booked, nil
}

// withPool loads config, connects to Postgres and hands fn a migrator over
// the embedded migrations.
func withPool(fn func(ctx context.Context, pool *pgxpool.Pool, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.UsesMemoryStore() {
		return fmt.Errorf("this command needs STORE=%s", config.StorePostgres)
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, db.NewMigrator(pool, migrations.FS))
}
