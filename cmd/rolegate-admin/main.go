// Command rolegate-admin operates a rolegate deployment.
//
// Subcommands:
//
//	migrate     apply the embedded schema migrations
//	seed        write the built-in roles and grants
//	assign      move a user to another role
//	invalidate  enqueue a snapshot invalidation
//	queue       inspect the job queue
//	login       sign in against the API and keep the identity locally
//	logout      forget the local identity
//	whoami      print the local identity
//	menu        print the navigation visible to the local identity
//	check       evaluate a requirement offline
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rolegate/rolegate/cmd/rolegate-admin/cli"
	"github.com/rolegate/rolegate/internal/app"
	"github.com/rolegate/rolegate/internal/menu"
	"github.com/rolegate/rolegate/internal/platform/cache"
	"github.com/rolegate/rolegate/internal/platform/db"
	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/session"
	"github.com/rolegate/rolegate/internal/shared"
	"github.com/rolegate/rolegate/jobs"
	"github.com/rolegate/rolegate/migrations"
)

type globals struct {
	jsonOutput  bool
	sessionFile string
	apiURL      string
	menuFile    string
}

func (g *globals) output(cmd *cobra.Command) cli.Output {
	return cli.Output{JSONOutput: g.jsonOutput, Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
}

func (g *globals) store() *session.Store {
	return session.New(session.NewFilePersister(g.sessionFile), slog.Default())
}

// exitError carries a non-zero command exit code through cobra.
type exitError int

func (e exitError) Error() string { return "exit status " + strconv.Itoa(int(e)) }

func exit(code int) error {
	if code == 0 {
		return nil
	}
	return exitError(code)
}

func main() {
	_ = godotenv.Load()

	g := &globals{}
	root := &cobra.Command{
		Use:           "rolegate-admin",
		Short:         "Operate roles, snapshots and local sessions",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "print JSON")
	root.PersistentFlags().StringVar(&g.sessionFile, "session-file", defaultSessionFile(), "local session file")
	root.PersistentFlags().StringVar(&g.apiURL, "api", envOr("ROLEGATE_API_URL", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&g.menuFile, "menu", os.Getenv("MENU_CONFIG_PATH"), "menu YAML file (defaults to the built-in menu)")

	root.AddCommand(
		migrateCmd(),
		seedCmd(g),
		assignCmd(g),
		invalidateCmd(g),
		queueCmd(g),
		loginCmd(g),
		logoutCmd(g),
		whoamiCmd(g),
		menuCmd(g),
		checkCmd(g),
	)

	if err := root.Execute(); err != nil {
		var code exitError
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			src, err := iofs.New(migrations.FS, ".")
			if err != nil {
				return fmt.Errorf("migration source: %w", err)
			}
			connCfg, err := pgx.ParseConfig(cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("parse dsn: %w", err)
			}
			sqlDB := stdlib.OpenDB(*connCfg)
			defer sqlDB.Close()

			driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
			if err != nil {
				return fmt.Errorf("migration driver: %w", err)
			}
			m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
			if err != nil {
				return fmt.Errorf("migrate init: %w", err)
			}
			step := m.Up
			if down {
				step = m.Down
			}
			if err := step(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate: %w", err)
			}
			version, dirty, _ := m.Version()
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll every migration back")
	return cmd
}

func seedCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the built-in roles and grants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), func(svc *rbac.Service) error {
				return exit(cli.NewAdminCLI(svc, nil).SeedCommand(cmd.Context(), g.output(cmd)))
			})
		},
	}
}

func assignCmd(g *globals) *cobra.Command {
	var opts cli.AssignOptions
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Move a user to another role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Output = g.output(cmd)
			return withService(cmd.Context(), func(svc *rbac.Service) error {
				return exit(cli.NewAdminCLI(svc, nil).AssignCommand(cmd.Context(), opts))
			})
		},
	}
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id")
	cmd.Flags().StringVar(&opts.Role, "role", "", "target role")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func invalidateCmd(g *globals) *cobra.Command {
	var opts cli.InvalidateOptions
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Enqueue a snapshot invalidation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			client := jobs.NewClient(redisOpts(cfg))
			defer client.Close()
			opts.Output = g.output(cmd)
			return exit(cli.NewAdminCLI(nil, client).InvalidateCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().BoolVar(&opts.All, "all", false, "drop every snapshot")
	cmd.Flags().StringVar(&opts.Role, "role", "", "drop snapshots of the role's holders")
	cmd.Flags().Int64SliceVar(&opts.UserIDs, "user", nil, "drop snapshots of these users")
	return cmd
}

func queueCmd(g *globals) *cobra.Command {
	var opts cli.QueueOptions
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			jobsCLI := cli.NewJobsCLI(redisOpts(cfg))
			defer jobsCLI.Close()
			opts.Output = g.output(cmd)
			return exit(jobsCLI.QueueCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().IntVar(&opts.Scheduled, "scheduled", 0, "also list this many scheduled tasks")
	return cmd
}

func loginCmd(g *globals) *cobra.Command {
	var opts cli.LoginOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in against the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := g.account()
			if err != nil {
				return err
			}
			opts.Output = g.output(cmd)
			return exit(account.LoginCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "", "account email")
	cmd.Flags().StringVar(&opts.Password, "password", os.Getenv("ROLEGATE_PASSWORD"), "account password")
	return cmd
}

func logoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := g.account()
			if err != nil {
				return err
			}
			return exit(account.LogoutCommand(cmd.Context(), g.output(cmd)))
		},
	}
}

func whoamiCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the local identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := g.account()
			if err != nil {
				return err
			}
			return exit(account.WhoamiCommand(cmd.Context(), g.output(cmd)))
		},
	}
}

func menuCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Print the navigation visible to the local identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := g.account()
			if err != nil {
				return err
			}
			return exit(account.MenuCommand(cmd.Context(), g.output(cmd)))
		},
	}
}

func checkCmd(g *globals) *cobra.Command {
	var opts cli.CheckOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a requirement offline",
		Long: "Evaluate a requirement against a built-in role, or against the signed-in\n" +
			"identity when --role is omitted. Exits 10 when access is denied.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Output = g.output(cmd)
			return exit(cli.CheckCommand(cmd.Context(), g.store(), opts))
		},
	}
	cmd.Flags().StringVar(&opts.Role, "role", "", "built-in role to evaluate")
	cmd.Flags().StringSliceVar(&opts.Grants, "grant", nil, "override the role's grants")
	cmd.Flags().StringSliceVar(&opts.AnyOf, "any", nil, "any-of permissions")
	cmd.Flags().StringSliceVar(&opts.AllOf, "all", nil, "all-of permissions")
	cmd.Flags().IntVar(&opts.MinLevel, "level", -1, "minimum role level")
	return cmd
}

func (g *globals) account() (*cli.AccountCLI, error) {
	items := menu.Default()
	if g.menuFile != "" {
		loaded, err := menu.LoadFile(g.menuFile)
		if err != nil {
			return nil, err
		}
		items = loaded
	}
	return cli.NewAccountCLI(g.apiURL, nil, g.store(), items), nil
}

// withService connects to storage and hands fn a service that invalidates
// snapshots inline.
func withService(ctx context.Context, fn func(*rbac.Service) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	opts := []rbac.ServiceOption{rbac.WithLogger(logger), rbac.WithAuditor(shared.NewAuditLogger(pool))}
	if redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err == nil {
		defer redisClient.Close()
		opts = append(opts, rbac.WithSnapshotCache(rbac.NewSnapshotCache(redisClient, cfg.SnapshotTTL)))
	} else {
		logger.Warn("redis unavailable, cached snapshots expire on their own", slog.Any("error", err))
	}
	return fn(rbac.NewService(rbac.NewRepository(pool), opts...))
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "rolegate", "session.json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
