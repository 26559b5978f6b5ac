package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"rfitracker/internal/workflow"

	"github.com/spf13/cobra"
)

var (
	remindDryRun bool
	remindWindow int
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Send due-today and overdue reminders once",
	Long: `Send reminders for every item whose active stage is due today or overdue.
Recipients already reminded today at the same stage are skipped.

With --dry-run the pending reminder set is printed and nothing is sent.`,
	RunE: runRemind,
}

func init() {
	remindCmd.Flags().BoolVar(&remindDryRun, "dry-run", false, "list pending reminders without sending")
	remindCmd.Flags().IntVar(&remindWindow, "window", -1, "extra days before the due date (default from config)")
}

func runRemind(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	window := a.cfg.Reminders.WindowDays
	if remindWindow >= 0 {
		window = remindWindow
	}
	now := time.Now()
	out := cmd.OutOrStdout()

	if remindDryRun {
		set, err := a.engine.PendingReminders(cmd.Context(), now, window)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STATE\tITEM\tROLE\tMODE\tDUE\tRECIPIENTS")
		printReminders(tw, "due_today", set.DueToday)
		printReminders(tw, "overdue", set.Overdue)
		return tw.Flush()
	}

	report, err := a.engine.SendReminders(cmd.Context(), now, window)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printReminders(w io.Writer, state string, entries []workflow.ReminderEntry) {
	for _, en := range entries {
		fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%s\t%d\n",
			state, en.Item.Type, en.Item.Identifier, en.Role, en.Mode, en.DueDate.Format("2006-01-02"), len(en.Targets))
	}
}
