package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/codewiresh/httpllm/internal/config"
	"github.com/codewiresh/httpllm/internal/store"
)

// ---------------------------------------------------------------------------
// transcriptsCmd
// ---------------------------------------------------------------------------

func transcriptsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Inspect archived conversations",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Transcript database (defaults to transcript_db from the config)")

	open := func() (*store.SQLiteStore, error) {
		path := dbPath
		if path == "" {
			cfg, err := config.Load(configFlag)
			if err != nil {
				return nil, err
			}
			path = cfg.TranscriptDB
		}
		if path == "" {
			return nil, fmt.Errorf("no transcript database configured (set transcript_db or pass --db)")
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("opening transcripts: %w", err)
		}
		return store.NewSQLiteStore(path, 0)
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			conns, err := st.ConnectionList(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("listing connections: %w", err)
			}
			printConnections(os.Stdout, conns, time.Now())
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of connections to show")

	showCmd := &cobra.Command{
		Use:   "show <conn-id>",
		Short: "Print the turns of one connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			return showConnection(cmd.Context(), os.Stdout, st, args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func printConnections(out io.Writer, conns []store.Connection, now time.Time) {
	if len(conns) == 0 {
		fmt.Fprintln(out, "No connections recorded")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPEER\tOPENED\tDURATION\tREQUESTS")
	for _, c := range conns {
		dur := "open"
		if c.ClosedAt != nil {
			dur = c.ClosedAt.Sub(c.OpenedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			c.ID, terminalSafe(c.Peer), humanize.RelTime(c.OpenedAt, now, "ago", "from now"), dur, c.Requests)
	}
	w.Flush()
}

func showConnection(ctx context.Context, out io.Writer, st store.Store, id string) error {
	c, err := st.ConnectionGet(ctx, id)
	if err != nil {
		return fmt.Errorf("loading connection: %w", err)
	}
	if c == nil {
		return fmt.Errorf("connection %q not found", id)
	}
	turns, err := st.TurnList(ctx, id)
	if err != nil {
		return fmt.Errorf("loading turns: %w", err)
	}

	fmt.Fprintf(out, "# %s from %s, opened %s\n", c.ID, terminalSafe(c.Peer), c.OpenedAt.Format(time.RFC3339))
	for _, t := range turns {
		fmt.Fprintf(out, "\n--- #%d %s (%s)\n", t.Seq, t.Role, humanize.Bytes(uint64(len(t.Content))))
		fmt.Fprintln(out, terminalSafe(t.Content))
	}
	if c.ClosedAt != nil {
		fmt.Fprintf(out, "\n# closed %s\n", c.ClosedAt.Format(time.RFC3339))
	}
	return nil
}
