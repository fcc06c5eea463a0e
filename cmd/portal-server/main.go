package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careportal/api/internal/config"
	"github.com/careportal/api/internal/domain/account"
	"github.com/careportal/api/internal/domain/admin"
	"github.com/careportal/api/internal/domain/appointment"
	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/domain/labtest"
	"github.com/careportal/api/internal/domain/records"
	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
	"github.com/careportal/api/internal/platform/db"
	"github.com/careportal/api/internal/platform/mediator"
	"github.com/careportal/api/internal/platform/metrics"
	"github.com/careportal/api/internal/platform/middleware"
	"github.com/careportal/api/internal/platform/notification"
	"github.com/careportal/api/internal/platform/password"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Patient portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// seedAdminCmd bootstraps the first admin account. Registration over
// HTTP only creates patients, so a fresh deployment needs this once.
func seedAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			pw, _ := cmd.Flags().GetString("password")
			if email == "" || pw == "" {
				return fmt.Errorf("--email and --password are required")
			}
			if name == "" {
				name = "Administrator"
			}

			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			auditSvc, err := audit.NewService(ctx, audit.NewRepoPG(pool), logger)
			if err != nil {
				return err
			}
			accountSvc := account.NewService(
				account.NewPrincipalRepoPG(pool),
				account.NewSessionRepoPG(pool),
				auditSvc,
				func(ctx context.Context, fn func(ctx context.Context) error) error {
					return db.InTx(ctx, pool, fn)
				},
				accountParams(cfg),
				logger,
			)

			p, err := accountSvc.Register(ctx, account.RegisterInput{
				Name:     name,
				Email:    email,
				Password: pw,
				Role:     string(authz.RoleAdmin),
				ByAdmin:  true,
				ActorID:  audit.SystemActor,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created admin %s (%s)\n", p.Email, p.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("email", "", "Admin email address")
	cmd.Flags().String("password", "", "Admin password")
	return cmd
}

func accountParams(cfg *config.Config) account.Params {
	return account.Params{
		SessionTTL:       cfg.SessionTTL(),
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutBackoff:   cfg.LockoutBackoff(),
		PasswordPolicy: password.Policy{
			MinLength:     cfg.PasswordMinLength,
			RequireUpper:  cfg.PasswordRequireUpper,
			RequireSymbol: cfg.PasswordRequireSym,
		},
		AllowAdminDemotion: cfg.AllowAdminDemotion,
	}
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := metrics.New()

	// Audit service first: everything else records through it.
	auditOpts := []audit.Option{audit.WithWriteHook(reg.AuditEntriesTotal.Inc)}
	if cfg.AuditSink != "" {
		sink, err := audit.OpenFileSink(cfg.AuditSink)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.AuditSink).Msg("failed to open audit sink")
		}
		defer sink.Close()
		auditOpts = append(auditOpts, audit.WithSink(sink))
	}
	auditSvc, err := audit.NewService(ctx, audit.NewRepoPG(pool), logger, auditOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prime audit ordinals")
	}

	accountSvc := account.NewService(
		account.NewPrincipalRepoPG(pool),
		account.NewSessionRepoPG(pool),
		auditSvc,
		func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		},
		accountParams(cfg),
		logger,
		account.WithLoginHook(func(outcome string) {
			reg.LoginsTotal.WithLabelValues(outcome).Inc()
		}),
		account.WithSessionHook(func(delta int) {
			reg.SessionsActive.Add(float64(delta))
		}),
	)

	recordsSvc := records.NewService(records.NewRecordRepoPG(pool), records.NewShareRepoPG(pool), auditSvc)
	appointmentSvc := appointment.NewService(appointment.NewRepoPG(pool), auditSvc)
	labtestSvc := labtest.NewService(labtest.NewRepoPG(pool), auditSvc)

	policy := authz.New(authz.WithRecordAccess(recordsSvc.RecordAccess))
	med := mediator.New(accountSvc.MediatorResolver(), policy, auditSvc,
		mediator.WithDecisionHook(func(op authz.Operation, allowed bool) {
			outcome := "deny"
			if allowed {
				outcome = "allow"
			}
			reg.AuthzDecisions.WithLabelValues(string(op), outcome).Inc()
		}))

	notifier := notification.NewManager(
		&notification.MockEmailSender{},
		&notification.MockSMSSender{},
		notification.NewTemplateEngine(),
	)

	adminSvc := admin.NewService(accountSvc, appointmentSvc, labtestSvc, recordsSvc,
		notifier, auditSvc,
		func() map[string]int64 {
			s := db.Stats(pool)
			return map[string]int64{
				"total":    int64(s.TotalConns),
				"idle":     int64(s.IdleConns),
				"acquired": int64(s.AcquiredConns),
				"max":      int64(s.MaxConns),
			}
		},
		logger)

	// HTTP surface
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))
	e.Use(reg.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool))

	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	loginRateLimit := middleware.LoginRateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.LoginRateLimitRPS,
		Burst:             cfg.LoginRateLimitBurst,
	}, "/api/v1/users/login")

	public := e.Group("/api/v1", rateLimit, loginRateLimit)
	authed := e.Group("/api/v1", rateLimit, med.Authenticate())

	account.NewHandler(accountSvc, med).RegisterRoutes(public, authed)
	records.NewHandler(recordsSvc, med).RegisterRoutes(authed)
	appointment.NewHandler(appointmentSvc, med).RegisterRoutes(authed)
	labtest.NewHandler(labtestSvc, med).RegisterRoutes(authed)
	admin.NewHandler(adminSvc, med, reg.Handler()).RegisterRoutes(authed)

	auditGroup := authed.Group("/admin", med.Require(authz.OpAdminAuditRead, mediator.NoTarget))
	audit.NewHandler(auditSvc).RegisterRoutes(auditGroup)

	// Serve with graceful shutdown.
	go func() {
		addr := fmt.Sprintf("%s:%s", cfg.BindAddress, cfg.BindPort)
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
