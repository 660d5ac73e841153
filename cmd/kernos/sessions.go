package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newSessionsCommand inspects the kernel session history of the instance.
func newSessionsCommand() *cobra.Command {
	var (
		status     string
		pruneOlder time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show kernel session history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)

			if pruneOlder > 0 {
				return pruneSessions(cmd, formatter, pruneOlder)
			}

			st, err := openInstanceStore(true)
			if err != nil {
				return formatter.Error("Failed to open instance store", err)
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context(), status)
			if err != nil {
				return formatter.Error("Failed to list sessions", err)
			}

			if formatter.jsonMode {
				out := make([]map[string]any, 0, len(sessions))
				for _, sess := range sessions {
					out = append(out, map[string]any{
						"id":        sess.ID,
						"kernel":    sess.Kernel,
						"command":   sess.Command,
						"pid":       sess.PID,
						"parentId":  sess.ParentID,
						"status":    sess.Status,
						"reason":    sess.Reason,
						"startedAt": sess.StartedAt,
						"stoppedAt": sess.StoppedAt,
					})
				}
				return formatter.Print(out)
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKERNEL\tPID\tSTATUS\tSTARTED\tREASON")
			for _, sess := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					sess.ID, sess.Kernel, sess.PID, sess.Status, sess.StartedAt, sess.Reason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running or stopped)")
	cmd.Flags().DurationVar(&pruneOlder, "prune-older-than", 0, "Delete stopped sessions older than this duration")
	return cmd
}

func pruneSessions(cmd *cobra.Command, formatter *OutputFormatter, olderThan time.Duration) error {
	st, err := openInstanceStore(false)
	if err != nil {
		return formatter.Error("Failed to open instance store", err)
	}
	defer st.Close()

	pruned, err := st.PruneStoppedSessions(cmd.Context(), time.Now().Add(-olderThan))
	if err != nil {
		return formatter.Error("Failed to prune sessions", err)
	}
	return formatter.Success(fmt.Sprintf("Pruned %d stopped sessions", pruned),
		map[string]interface{}{"pruned": pruned})
}
