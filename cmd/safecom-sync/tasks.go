package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/pushkarjay/safecom/internal/models"
	"github.com/spf13/cobra"
)

func tasksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List your tasks (cached copy when offline)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			query := url.Values{}
			if status, _ := cmd.Flags().GetString("status"); status != "" {
				query.Set("status", status)
			}
			if q, _ := cmd.Flags().GetString("query"); q != "" {
				query.Set("q", q)
			}
			printTasks(s.client.Tasks.FetchAll(cmd.Context(), query))
			return nil
		},
	}
	cmd.Flags().StringP("status", "s", "", "Filter by status (PENDING, IN_PROGRESS, COMPLETED, OVERDUE, CANCELLED)")
	cmd.Flags().StringP("query", "q", "", "Full-text search")

	cmd.AddCommand(taskCreateCmd(opts))
	cmd.AddCommand(taskStatusCmd(opts))
	return cmd
}

func taskCreateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			body := map[string]any{"title": args[0]}
			if v, _ := cmd.Flags().GetString("priority"); v != "" {
				body["priority"] = v
			}
			if v, _ := cmd.Flags().GetString("assign"); v != "" {
				body["assigned_to"] = v
			}
			if v, _ := cmd.Flags().GetString("description"); v != "" {
				body["description"] = v
			}

			res := s.client.Tasks.Create(cmd.Context(), body)
			if !res.OK() {
				return fmt.Errorf("create task: %w", res.Err)
			}
			fmt.Printf("Created %s\n", res.Value.ID)
			return nil
		},
	}
	cmd.Flags().StringP("priority", "p", "", "Low, Medium, High or Critical")
	cmd.Flags().StringP("assign", "a", "", "Assignee user id")
	cmd.Flags().StringP("description", "d", "", "Description")
	return cmd
}

func taskStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [task-id] [status]",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			res := s.client.Tasks.Update(cmd.Context(), args[0], map[string]string{"status": args[1]})
			if !res.OK() {
				return fmt.Errorf("update task: %w", res.Err)
			}
			fmt.Printf("%s is now %s\n", res.Value.ID, res.Value.Status)
			return nil
		},
	}
}

func printTasks(tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tDUE\tTITLE")
	for _, t := range tasks {
		status := t.EffectiveStatus
		if status == "" {
			status = t.Status
		}
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Local().Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, status, t.Priority, due, t.Title)
	}
	w.Flush()
}
