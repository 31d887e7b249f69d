package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskpulse/internal/app"
	"taskpulse/internal/domain"
	"taskpulse/internal/engine"
	"taskpulse/internal/query"
	"taskpulse/internal/repo"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long: `Manage tasks directly in the workspace store.

Changes made here are recorded in the event log, so a running "tp serve"
forwards them to webhooks on its next poll. WebSocket and Slack
notifications are only sent for changes made through the server's API.`,
	}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskEscalateCmd())
	cmd.AddCommand(taskRollbackCmd())
	cmd.AddCommand(taskDeleteCmd())
	cmd.AddCommand(taskHistoryCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a task for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actingUser()
			if err != nil {
				return err
			}
			opts.ActorID = actor
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "what needs doing")
	cmd.Flags().StringVar(&opts.Remarks, "remarks", "", "remarks")
	cmd.Flags().StringVar(&opts.ServiceRequestID, "sr", "", "service request id")
	cmd.Flags().StringVar(&opts.Date, "date", "", "task date YYYY-MM-DD (privileged users only; default today)")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilter
	var escalated string
	var page query.Page
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch escalated {
			case "":
			case "true", "false":
				v := escalated == "true"
				f.IsEscalated = &v
			default:
				return fmt.Errorf("--escalated must be true or false")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Query.List(ctx, f, page)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderTasks(res.Items)
				fmt.Printf("page %d/%d, %d tasks\n", res.CurrentPage, res.TotalPages, res.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "in-progress or closed")
	cmd.Flags().StringVar(&f.DepartmentID, "department", "", "department filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.CreatedByID, "created-by", "", "creator filter")
	cmd.Flags().StringVar(&escalated, "escalated", "", "true or false")
	cmd.Flags().StringVar(&f.Tag, "tag", "", "tag filter")
	cmd.Flags().StringVar(&f.DateFrom, "from", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.DateTo, "to", "", "last date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.Search, "search", "", "substring of description, remarks or service request")
	cmd.Flags().IntVar(&page.Number, "page", 1, "page number")
	cmd.Flags().IntVar(&page.Size, "page-size", 0, "page size")
	return cmd
}

func renderTasks(tasks []domain.Task) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Date", "Status", "Dept", "Owner", "Escalated", "Description"})
	for _, t := range tasks {
		esc := ""
		if t.Escalation != nil {
			esc = t.Escalation.EscalatedByID + " -> " + t.Escalation.EscalatedToID
		}
		tw.AppendRow(table.Row{t.ID, t.Date, t.Status, t.DepartmentID, t.OwnerID, esc, t.Description})
	}
	tw.Render()
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var description, remarks, sr, date string
	var tags []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actingUser()
			if err != nil {
				return err
			}
			opts := engine.TaskUpdateOptions{
				ID:               args[0],
				Description:      optionalFlag(cmd, "description", description),
				Remarks:          optionalFlag(cmd, "remarks", remarks),
				ServiceRequestID: optionalFlag(cmd, "sr", sr),
				Date:             optionalFlag(cmd, "date", date),
				ActorID:          actor,
			}
			if cmd.Flags().Changed("tag") {
				opts.Tags = &tags
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	cmd.Flags().StringVar(&sr, "sr", "", "service request id; empty clears it")
	cmd.Flags().StringVar(&date, "date", "", "task date YYYY-MM-DD (privileged users only)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <in-progress|closed>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetStatus(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskEscalateCmd() *cobra.Command {
	var to, reason string
	cmd := &cobra.Command{
		Use:   "escalate <id>",
		Short: "Hand a task you own to another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Escalate(ctx, engine.EscalateOptions{TaskID: args[0], ToUserID: to, Reason: reason, ActorID: actor})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target user id")
	cmd.Flags().StringVar(&reason, "reason", "", "why the task is escalated")
	return cmd
}

func taskRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <id>",
		Short: "Take back a task you escalated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Rollback(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task (privileged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.DeleteTask(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Escalation history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.EscalationHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Escalated", "From", "To", "Reason", "Rolled back", "By"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.EscalatedAt, rec.FromUserID, rec.ToUserID, rec.Reason, deref(rec.RolledBackAt), deref(rec.RolledBackByID)})
				}
				tw.Render()
				return nil
			})
		},
	}
}
