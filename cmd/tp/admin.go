package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskpulse/internal/app"
	"taskpulse/internal/domain"
	"taskpulse/internal/query"
	"taskpulse/internal/repo"
	"taskpulse/internal/report"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage the user directory"}
	var u domain.User
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u.ID = args[0]
			if u.Name == "" {
				u.Name = u.ID
			}
			u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Directory.Save(ctx, u); err != nil {
					return err
				}
				saved, err := a.Directory.User(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	add.Flags().StringVar(&u.Name, "name", "", "display name")
	add.Flags().StringVar(&u.DepartmentID, "department", "", "department id")
	add.Flags().StringVar(&u.Role, "role", "user", "role (admin and manager are privileged by default)")
	cmd.AddCommand(add)

	var dept string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Directory.List(ctx, dept)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Department", "Role", "Privileged"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.DepartmentID, u.Role, a.Engine.Policy.IsPrivileged(u)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&dept, "department", "", "department filter")
	cmd.AddCommand(list)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var userID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "tp_" + hex.EncodeToString(raw)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Directory.User(ctx, userID); err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": key.ID, "user_id": userID, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&userID, "user", "", "user the key acts as")
	create.Flags().StringVar(&name, "name", "", "label")
	cmd.AddCommand(create)
	return cmd
}

func kpiCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "kpi", Short: "Task KPIs"}
	var f query.SummaryFilter
	var userID string
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Show the KPI summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if userID != "" {
					sum, err := a.Query.UserSummary(ctx, userID, f)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(sum)
					}
					renderSummary(sum.KPISummary)
					fmt.Printf("escalated to %s: %d, escalated by %s: %d\n", userID, sum.EscalatedToUser, userID, sum.EscalatedByUser)
					return nil
				}
				sum, err := a.Query.Summary(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				renderSummary(sum)
				return nil
			})
		},
	}
	summary.Flags().StringVar(&f.DateFrom, "from", "", "first date YYYY-MM-DD")
	summary.Flags().StringVar(&f.DateTo, "to", "", "last date YYYY-MM-DD")
	summary.Flags().StringVar(&f.DepartmentID, "department", "", "department filter")
	summary.Flags().StringVar(&userID, "user", "", "scope to tasks owned by this user")
	cmd.AddCommand(summary)

	var ef query.SummaryFilter
	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the KPI summary to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Query.Summary(ctx, ef)
				if err != nil {
					return err
				}
				buf, err := report.KPIWorkbook(sum)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", out)
				return nil
			})
		},
	}
	export.Flags().StringVar(&ef.DateFrom, "from", "", "first date YYYY-MM-DD")
	export.Flags().StringVar(&ef.DateTo, "to", "", "last date YYYY-MM-DD")
	export.Flags().StringVar(&ef.DepartmentID, "department", "", "department filter")
	export.Flags().StringVarP(&out, "out", "o", "kpi.xlsx", "output file")
	cmd.AddCommand(export)
	return cmd
}

func renderSummary(sum domain.KPISummary) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRow(table.Row{"Total", sum.Total})
	statuses := make([]string, 0, len(sum.ByStatus))
	for st := range sum.ByStatus {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		tw.AppendRow(table.Row{"Status " + st, sum.ByStatus[st]})
	}
	tw.AppendRow(table.Row{"Escalated", sum.Escalated})
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"Completion rate", fmt.Sprintf("%.2f%%", sum.CompletionRate)})
	tw.AppendRow(table.Row{"Escalation rate", fmt.Sprintf("%.2f%%", sum.EscalationRate)})
	tw.Render()
}
