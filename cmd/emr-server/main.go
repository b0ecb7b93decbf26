package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/emr/internal/config"
	"github.com/ehr/emr/internal/domain/administration"
	"github.com/ehr/emr/internal/domain/serialization"
	"github.com/ehr/emr/internal/domain/user"
	"github.com/ehr/emr/internal/domain/visit"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/internal/platform/logging"
	"github.com/ehr/emr/internal/platform/metrics"
	"github.com/ehr/emr/internal/platform/middleware"
	"github.com/ehr/emr/migrations"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// standaloneIssuer is the iss claim of tokens signed by POST /session.
const standaloneIssuer = "emr-server"

// cliUser is the actor recorded for changes made from the command line.
const cliUser = "daemon"

func main() {
	rootCmd := &cobra.Command{
		Use:          "emr-server",
		Short:        "Electronic medical record API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(globalsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(os.Stdout, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				logger := zerolog.New(os.Stderr)
				svc := user.NewService(user.NewUserRepoPG(pool), user.NewRoleRepoPG(pool), user.NewPrivilegeRepoPG(pool),
					administration.NewService(administration.NewRepo(pool), version))
				svc.SetTxRunner(db.NewTxManager(pool))
				svc.SetLogger(logger)

				u := &user.User{Username: username, Roles: roles}
				if err := svc.CreateUser(ctx, u, password); err != nil {
					return err
				}
				fmt.Printf("Created user %s (system id %s).\n", u.Username, u.SystemID)
				return nil
			})
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().StringSlice("roles", []string{auth.SuperUserRole}, "Roles to grant")
	cmd.AddCommand(createCmd)

	return cmd
}

// globalsFile is the document written by globals export.
type globalsFile struct {
	Properties []*administration.GlobalProperty `json:"properties" yaml:"properties" toml:"properties"`
}

func globalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "globals",
		Short: "Export or import global properties",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write every global property to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				admin := administration.NewService(administration.NewRepo(pool), version)
				props, err := admin.GetAllGlobalProperties(ctx)
				if err != nil {
					return err
				}
				ser, err := serialization.NewService(serialization.NewRepo(pool), admin).GetSerializer(format)
				if err != nil {
					return err
				}
				return exportGlobals(os.Stdout, ser, props)
			})
		},
	}
	exportCmd.Flags().String("format", "yaml", "Output format: json, yaml or toml")
	cmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Save the global properties of a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				admin := administration.NewService(administration.NewRepo(pool), version)
				admin.SetTxRunner(db.NewTxManager(pool))
				ser, err := serialization.NewService(serialization.NewRepo(pool), admin).GetSerializer(formatOf(file))
				if err != nil {
					return err
				}
				props, err := importGlobals(data, ser)
				if err != nil {
					return err
				}
				if err := admin.SaveGlobalProperties(ctx, props); err != nil {
					return err
				}
				fmt.Printf("Imported %d global propert(ies).\n", len(props))
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "", "File to import (.json, .yaml/.yml or .toml)")
	cmd.AddCommand(importCmd)

	return cmd
}

func exportGlobals(w io.Writer, ser serialization.Serializer, props []*administration.GlobalProperty) error {
	out, err := ser.Serialize(globalsFile{Properties: props})
	if err != nil {
		return fmt.Errorf("serialize global properties: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func importGlobals(data []byte, ser serialization.Serializer) ([]*administration.GlobalProperty, error) {
	var doc globalsFile
	if err := ser.Deserialize(data, &doc); err != nil {
		return nil, fmt.Errorf("parse global properties: %w", err)
	}
	for _, p := range doc.Properties {
		if p == nil || strings.TrimSpace(p.Property) == "" {
			return nil, fmt.Errorf("every global property needs a name")
		}
	}
	return doc.Properties, nil
}

// formatOf maps a file extension to a serializer name.
func formatOf(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// withPool loads the configuration, opens the pool and runs fn as the CLI user.
func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := auth.WithUser(context.Background(), cliUser, []string{auth.SuperUserRole})
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: 2,
		Attempts: cfg.DBConnectAttempts,
		Logger:   zerolog.New(os.Stderr),
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger, closer := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		Console:   cfg.IsDev(),
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Attempts: cfg.DBConnectAttempts,
		Logger:   logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	backend, err := newStorageBackend(cfg)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to open storage")
		return err
	}

	var rec metrics.Recorder = metrics.Nop{}
	var reg *metrics.Registry
	if cfg.MetricsEnabled {
		reg = metrics.NewRegistry()
		if err := reg.Register(metrics.NewPoolCollector(func() metrics.PoolStat { return pool.Stat() })); err != nil {
			return err
		}
		rec = reg
	}

	svcs := buildServices(pool, backend, rec, logger)
	svcs.admin.AddGlobalPropertyListener(&logLevelListener{logger: logger})

	issue, err := tokenIssuer(cfg)
	if err != nil {
		return err
	}

	e := newServer(cfg, logger, pool, reg, rec, svcs, issue)

	go visit.NewAutoCloser(svcs.visits, cfg.VisitAutoCloseInterval, logger).Run(ctx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Str("auth", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// tokenIssuer returns the session token signer of standalone mode, nil
// otherwise.
func tokenIssuer(cfg *config.Config) (user.TokenIssuer, error) {
	if cfg.ResolvedAuthMode() != "standalone" {
		return nil, nil
	}
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	return func(username string, roles []string) (string, time.Time, error) {
		return auth.IssueToken(key, standaloneIssuer, cfg.AuthAudience, username, roles, cfg.TokenTTL)
	}, nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, pool db.Pinger, reg *metrics.Registry, rec metrics.Recorder,
	svcs *services, issue user.TokenIssuer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	limits := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		limits.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		limits.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(limits, func(c echo.Context) string { return c.RealIP() }))
	if reg != nil {
		e.Use(reg.Middleware())
		e.GET("/metrics", reg.Handler())
	}

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		e.Use(auth.DevAuthMiddleware())
	case "external":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	default:
		key, _ := cfg.SigningKey()
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     standaloneIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(auth.LoadPrivileges(svcs.users, logger))

	// Audit middleware
	e.Use(middleware.Audit(logger, middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		rec.Operation(entry.Entity, "access_"+entry.Action)
		return nil
	})))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	var stats func() *db.PoolStats
	if p, ok := pool.(*pgxpool.Pool); ok {
		stats = func() *db.PoolStats { return db.GetPoolStats(p) }
	}
	e.GET("/health/db", db.HealthHandler(pool, stats))

	svcs.registerRoutes(e.Group("/api/v1"), issue)
	return e
}
