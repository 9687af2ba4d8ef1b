package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/lapse-go/internal/ledger"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded upload attempts",
		Long: `List upload attempts from the local history, newest first.

--orphans lists attempts whose bytes were transferred but whose media record
was never registered. Those objects exist remotely without a journal entry.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", defaultHistoryLimit, "maximum number of attempts to show (0 for all)")
	cmd.Flags().Bool("orphans", false, "only show transferred but unregistered attempts")

	return cmd
}

// historyEntry is one element of the `history --json` output.
type historyEntry struct {
	AttemptID  string     `json:"attempt_id"`
	Source     string     `json:"source,omitempty"`
	Size       int        `json:"size"`
	TakenAt    time.Time  `json:"taken_at"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stage      string     `json:"stage"`
	Outcome    string     `json:"outcome"`
	Error      string     `json:"error,omitempty"`
	Orphaned   bool       `json:"orphaned,omitempty"`
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, _ := cmd.Flags().GetInt("limit")
	orphansOnly, _ := cmd.Flags().GetBool("orphans")

	out := cmd.OutOrStdout()

	if _, err := os.Stat(cc.Cfg.HistoryPath()); errors.Is(err, os.ErrNotExist) {
		if cc.Flags.JSON {
			return printJSON(out, []historyEntry{})
		}

		cc.Statusf("No uploads recorded yet.\n")

		return nil
	}

	history, err := ledger.Open(ctx, cc.Cfg.HistoryPath(), cc.Logger)
	if err != nil {
		return fmt.Errorf("opening upload history: %w", err)
	}
	defer history.Close()

	var entries []ledger.Entry
	if orphansOnly {
		entries, err = history.Orphans(ctx)
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
	} else {
		entries, err = history.List(ctx, limit)
	}

	if err != nil {
		return fmt.Errorf("reading upload history: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(out, toHistoryEntries(entries))
	}

	if len(entries) == 0 {
		cc.Statusf("No matching uploads.\n")
		return nil
	}

	printHistoryTable(out, entries)

	return nil
}

func toHistoryEntries(entries []ledger.Entry) []historyEntry {
	out := make([]historyEntry, 0, len(entries))

	for _, e := range entries {
		he := historyEntry{
			AttemptID: e.AttemptID,
			Source:    e.Source,
			Size:      e.Size,
			TakenAt:   e.TakenAt,
			StartedAt: e.StartedAt,
			Stage:     string(e.Stage),
			Outcome:   string(e.Outcome),
			Error:     e.Error,
			Orphaned:  e.Orphaned(),
		}

		if !e.FinishedAt.IsZero() {
			finished := e.FinishedAt
			he.FinishedAt = &finished
		}

		out = append(out, he)
	}

	return out
}

func printHistoryTable(w io.Writer, entries []ledger.Entry) {
	headers := []string{"STARTED", "ATTEMPT", "OUTCOME", "STAGE", "SIZE", "SOURCE"}
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		outcome := string(e.Outcome)
		if e.Orphaned() {
			outcome = "orphaned"
		}

		source := e.Source
		if source == "" {
			source = "-"
		}

		rows = append(rows, []string{
			formatTime(e.StartedAt),
			e.AttemptID,
			outcome,
			string(e.Stage),
			formatSize(int64(e.Size)),
			source,
		})
	}

	printTable(w, headers, rows)
}
