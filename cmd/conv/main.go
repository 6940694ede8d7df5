package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conventions/internal/app"
	"conventions/internal/db"
	"conventions/internal/engine"
	"conventions/internal/migrate"
	"conventions/internal/pgstore"
	"conventions/internal/repo"
	"conventions/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "conv",
	Short: "Internship agreement (convention de stage) manager",
	Long: `conv manages internship agreements between a school, a company and a student.
- Conventions: drafted by staff or students, then submitted to collect signatures.
- Signatures: student, parent (minors only), company tutor, class teacher and head of school sign in that order.
- Ready to print: once every required party has signed, the document bundle becomes available.
- Users: accounts get a login F.LASTNAME and an initial password derived from the birthdate.
- Event log: every change is recorded, view it with 'conv log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CONVENTIONS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "actor identifier recorded in the event log")
	flags.String("school", "", "school id (defaults to the only school in the database)")
	flags.String("store", "sqlite", "convention store: sqlite or postgres")
	flags.String("database-url", "", "PostgreSQL DSN when --store=postgres")
	for _, name := range []string{"workspace", "json", "actor-id", "school", "store", "database-url"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(conventionCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(eligibilityCmd())
	rootCmd.AddCommand(sequenceCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader, devLogin bool
	var tokenTTL time.Duration
	var maxBody int64
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("CONVENTIONS_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("CONVENTIONS_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				logger := log.New(os.Stderr, "conv ", log.LstdFlags)
				e.Logger = logger
				handler, err := server.New(server.Config{
					Engine:       e,
					BasePath:     basePath,
					MaxBodyBytes: maxBody,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: legacyHeader,
						AllowDevLogin:          devLogin,
						TokenTTL:               tokenTTL,
						Logger:                 logger,
					},
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, e, logger)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving conventions API for school %s on http://%s%s (OpenAPI at /openapi.json, docs at /docs)\n", e.Config.School.ID, addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens issued by /auth/login")
	cmd.Flags().Int64Var(&maxBody, "max-body-bytes", server.DefaultMaxBodyBytes, "largest accepted request body")
	return cmd
}

// withEngine opens the workspace database, resolves the school config and,
// for --store=postgres, routes convention and signature storage to PostgreSQL.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveSchoolAndConfig(ctx, workspace, viper.GetString("school"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)

	switch store := viper.GetString("store"); store {
	case "", "sqlite":
	case "postgres":
		dsn := viper.GetString("database-url")
		if dsn == "" {
			return fmt.Errorf("--database-url (or CONVENTIONS_DATABASE_URL) is required with --store=postgres")
		}
		pool, err := pgstore.Connect(ctx, dsn, pgstore.PoolConfig{})
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return err
		}
		e = e.WithStore(pgstore.New(pool))
	default:
		return fmt.Errorf("unknown store %q (want sqlite or postgres)", store)
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}
