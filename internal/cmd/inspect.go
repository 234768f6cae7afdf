package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/studytrack/internal/eventlog"
	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/pipeline"
	"github.com/danielpatrickdp/studytrack/internal/remote"
	"github.com/danielpatrickdp/studytrack/internal/replay"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

// #region command

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show stored sessions, scenario history and queued writes",
		Long: `Without --session, list every session in the store.
With --session, show its closed scenarios, any open scenario, pending
fallback writes and the derived analytics record.`,
		RunE: runInspect,
	}
	cmd.Flags().String("session", "", "session to show in detail")
	cmd.Flags().Bool("json", false, "output as JSON instead of a table")
	return cmd
}

func runInspect(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID, _ := cmd.Flags().GetString("session")
	jsonOut, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	if sessionID == "" {
		rows, err := listSessions(cmd.Context(), a)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(out, rows)
		}
		printSessionTable(out, rows)
		return nil
	}

	detail, err := sessionDetail(cmd.Context(), a, sessionID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, detail)
	}
	printSessionDetail(out, detail)
	return nil
}

// #endregion command

// #region list-mode

type sessionRow struct {
	SessionID string `json:"session_id"`
	Events    int    `json:"events"`
	Closed    int    `json:"closed"`
	Pending   int    `json:"pending"`
	Derived   bool   `json:"derived"`
}

func listSessions(ctx context.Context, a *app) ([]sessionRow, error) {
	ids, err := store.SessionIDs(ctx, a.store)
	if err != nil {
		return nil, err
	}
	rows := make([]sessionRow, 0, len(ids))
	for _, id := range ids {
		d, err := sessionDetail(ctx, a, id)
		if err != nil {
			return nil, err
		}
		row := sessionRow{SessionID: id, Events: d.Events, Closed: len(d.History), Derived: d.DVs != nil}
		for _, n := range d.Pending {
			row.Pending += n
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func printSessionTable(out io.Writer, rows []sessionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no sessions found")
		return
	}
	fmt.Fprintf(out, "%-38s  %6s  %6s  %7s  %s\n", "Session", "Events", "Closed", "Pending", "Derived")
	fmt.Fprintf(out, "%-38s+-%6s+-%6s+-%7s+-%s\n",
		strings.Repeat("-", 38), "------", "------", "-------", "-------")
	for _, r := range rows {
		fmt.Fprintf(out, "%-38s  %6d  %6d  %7d  %v\n", r.SessionID, r.Events, r.Closed, r.Pending, r.Derived)
	}
}

// #endregion list-mode

// #region detail-mode

type detail struct {
	SessionID string                     `json:"session_id"`
	Events    int                        `json:"events"`
	History   []tracker.ScenarioTracking `json:"history"`
	Live      *tracker.ScenarioTracking  `json:"live,omitempty"`
	Pending   map[remote.Table]int       `json:"pending"`
	DVs       *metrics.SessionDVs        `json:"dvs,omitempty"`
}

func sessionDetail(ctx context.Context, a *app, sessionID string) (detail, error) {
	d := detail{SessionID: sessionID}
	l, err := eventlog.Open(a.store, sessionID, a.logger)
	if err != nil {
		return d, err
	}
	events, err := l.Events(ctx)
	if err != nil {
		return d, err
	}
	d.Events = len(events)
	d.Live = replay.RebuildSession(events).Live
	if d.History, err = eventlog.History[tracker.ScenarioTracking](ctx, l); err != nil {
		return d, err
	}

	p, err := pipeline.New(a.store, sessionID, remote.Offline{}, pipeline.WithLogger(a.logger))
	if err != nil {
		return d, err
	}
	if d.Pending, err = p.Pending(ctx); err != nil {
		return d, err
	}

	var dvs metrics.SessionDVs
	switch err := store.ReadJSON(ctx, a.store, store.DVsKey(sessionID), &dvs); {
	case err == nil:
		d.DVs = &dvs
	case !errors.Is(err, store.ErrNotFound):
		return d, err
	}
	return d, nil
}

func printSessionDetail(out io.Writer, d detail) {
	fmt.Fprintf(out, "Session %s (%d events)\n\n", d.SessionID, d.Events)

	fmt.Fprintf(out, "%-8s  %-12s  %-16s  %8s  %4s  %4s  %4s  %10s\n",
		"Scenario", "State", "Choice", "Switches", "CVR", "APA", "Alts", "Decision s")
	fmt.Fprintf(out, "%-8s+-%-12s+-%-16s+-%8s+-%4s+-%4s+-%4s+-%10s\n",
		"--------", "------------", "----------------", "--------", "----", "----", "----", "----------")
	rows := d.History
	if d.Live != nil {
		rows = append(rows[:len(rows):len(rows)], *d.Live)
	}
	for _, h := range rows {
		choice := "-"
		if h.FinalChoice != nil {
			choice = h.FinalChoice.Label
		}
		secs := "-"
		if !h.EndTime.IsZero() {
			secs = fmt.Sprintf("%.1f", h.EndTime.Sub(h.StartTime).Seconds())
		}
		fmt.Fprintf(out, "%-8d  %-12s  %-16s  %8d  %4d  %4d  %4d  %10s\n",
			h.ScenarioID, h.State(), truncate(choice, 16), h.SwitchCount, h.CVRCount, h.APACount, h.AlternativesExplored, secs)
	}

	fmt.Fprintln(out)
	printPending(out, d.Pending)

	fmt.Fprintln(out)
	if d.DVs == nil {
		fmt.Fprintln(out, "analytics: not derived")
		return
	}
	printDVs(out, *d.DVs)
}

// #endregion detail-mode

// #region output

func printPending(out io.Writer, pending map[remote.Table]int) {
	if len(pending) == 0 {
		fmt.Fprintln(out, "pending: none")
		return
	}
	tables := make([]string, 0, len(pending))
	for t := range pending {
		tables = append(tables, string(t))
	}
	sort.Strings(tables)
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = fmt.Sprintf("%s=%d", t, pending[remote.Table(t)])
	}
	fmt.Fprintf(out, "pending: %s\n", strings.Join(parts, " "))
}

func printDVs(out io.Writer, dvs metrics.SessionDVs) {
	fmt.Fprintf(out, "analytics (derived %s)\n", dvs.DerivedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(out, "  alignment:   %v  vci=%.2f\n", dvs.FinalAlignmentByScenario, dvs.ValueConsistencyIndex)
	fmt.Fprintf(out, "  composite:   %.2f  balance=%.2f\n", dvs.PerformanceComposite, dvs.BalanceIndex)
	fmt.Fprintf(out, "  switches:    %d\n", dvs.SwitchCountTotal)
	fmt.Fprintf(out, "  cvr:         arrivals=%d yes=%d no=%d\n", dvs.CVRArrivals, dvs.CVRYesCount, dvs.CVRNoCount)
	fmt.Fprintf(out, "  apa:         reorderings=%d misalign=%d realign=%d\n",
		dvs.APAReorderings, dvs.MisalignAfterCVRAPACount, dvs.RealignAfterCVRAPACount)
	fmt.Fprintf(out, "  decision:    avg=%.1fs (%s)\n", dvs.AvgDecisionTime, dvs.DecisionTimeSource)
}

func printSyncReport(out io.Writer, sessionID string, r pipeline.SyncReport) {
	t := r.Totals()
	fmt.Fprintf(out, "[%s] sync attempted=%d synced=%d failed=%d\n", sessionID, t.Attempted, t.Synced, t.Failed)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

// #endregion output
