package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskpulse/internal/app"
	"taskpulse/internal/config"
	"taskpulse/internal/db"
	"taskpulse/internal/domain"
	"taskpulse/internal/events"
	tplog "taskpulse/internal/log"
	"taskpulse/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "tp",
	Short: "taskpulse CLI",
	Long: `taskpulse tracks daily tasks per department and the KPIs derived from them.
- Task: a dated piece of work owned by one user inside a department; in-progress or closed.
- Escalation: the owner hands a task to someone else; only the original owner can take it back (rollback).
- KPI: totals, completion and escalation rates over a date range.
- Event log: every mutation is recorded; view with 'tp log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
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
		os.Exit(1)
	}
}

func initConfig() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()
	viper.SetEnvPrefix("TASKPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/taskpulse.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(kpiCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

// withApp opens the workspace for a one-shot command. Mutations still land in
// the event log; live notifications are left to a running server.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := tplog.Setup(cfg.Log)
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Engine.Publisher = events.NopPublisher{}
	return fn(ctx, a)
}

func actingUser() (string, error) {
	id := strings.TrimSpace(viper.GetString("user"))
	if id == "" {
		return "", fmt.Errorf("acting user required; pass --as or set TASKPULSE_USER")
	}
	return id, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default taskpulse.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace"), Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, dirty, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d (dirty=%v)\n", v, dirty)
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var entityID string
	var after int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					evs []domain.Event
					err error
				)
				if after > 0 {
					evs, err = a.Engine.Repo.EventsAfter(ctx, after, n)
				} else {
					evs, err = a.Engine.Repo.LatestEvents(ctx, entityID, n)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Task", "Actor"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&entityID, "task", "", "only events for this task")
	tail.Flags().Int64Var(&after, "after", 0, "events after this id, oldest first")
	cmd.AddCommand(tail)
	return cmd
}

// --- helpers ---

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
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

func optionalFlag(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
