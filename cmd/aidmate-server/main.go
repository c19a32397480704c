package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aidmate/dispatch/internal/config"
	"github.com/aidmate/dispatch/internal/domain/personnel"
	"github.com/aidmate/dispatch/internal/platform/auth"
	"github.com/aidmate/dispatch/internal/platform/db"
	"github.com/aidmate/dispatch/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "aidmate-server",
		Short:        "AidMate emergency dispatch API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := serveOptions{}
			opts.migrate, _ = cmd.Flags().GetBool("migrate")
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetBool("seed")
				opts.seed = &seed
			}
			return runServer(opts)
		},
	}
	cmd.Flags().Bool("migrate", true, "Apply pending migrations before serving")
	cmd.Flags().Bool("seed", false, "Create the default accounts when no users exist (default: only when ENV=development)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s).\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
				if err != nil {
					return fmt.Errorf("get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default director and paramedic accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				created, err := seedUsers(ctx, cfg, pool, newLogger(cfg))
				if err != nil {
					return err
				}
				if created {
					fmt.Println("Seeded default accounts.")
				} else {
					fmt.Println("Users already exist; nothing seeded.")
				}
				return nil
			})
		},
	}
}

// withPool loads configuration and opens a database pool for one-shot
// commands.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout)
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func tokenIssuer(cfg *config.Config) *auth.TokenIssuer {
	return auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL)
}

func seedUsers(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (bool, error) {
	svc := personnel.NewService(personnel.NewUserRepoPG(pool), tokenIssuer(cfg), logger)
	return svc.Seed(ctx, personnel.DefaultSeedUsers)
}
