package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/pipeline"
	"github.com/danielpatrickdp/studytrack/internal/telemetry"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

// #region command

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Record a participant session interactively",
		Long: `Read participant actions line by line and record them against a session.
Without --session a new session id is generated.

Commands:
  start <scenario>                  open a scenario
  select <option> <label> <aligned> pick an option
  confirm <option> <label> <aligned> confirm the final choice
  end                               close the live scenario
  cvr                               open the reconsideration view
  answer yes|no                     answer the reconsideration question
  apa metrics|values <before> <after>  re-rank, comma-separated lists
  alt <option> [label]              add an alternative
  explored <n>                      count explored alternatives
  feedback <rating> [comment]       submit end-of-study feedback
  complete <inputs.json>            derive the session analytics record
  status                            show the live scenario and pending writes
  sync                              retry queued writes
  quit                              exit`,
		RunE: runRun,
	}
	cmd.Flags().String("session", "", "participant session id (default: new uuid)")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, p, err := a.session(cmd, sessionID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "studytrack ready.")
	fmt.Fprintf(out, "  Session: %s | Store: %s | Remote: %s\n", sessionID, a.cfg.Storage.Backend, a.cfg.Remote.Kind)
	fmt.Fprintln(out, "Type a command (or 'quit' to exit):")
	return repl(cmd.Context(), sess, p, cmd.InOrStdin(), out)
}

// #endregion command

// #region repl

var errQuit = errors.New("quit")

// repl executes one command per input line until quit or end of input.
// Lifecycle errors are printed and the loop continues.
func repl(ctx context.Context, sess *tracker.Session, p *pipeline.Pipeline, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := execLine(ctx, sess, p, line, out)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func execLine(ctx context.Context, sess *tracker.Session, p *pipeline.Pipeline, line string, out io.Writer) error {
	fields := strings.Fields(line)
	verb, args := fields[0], fields[1:]

	switch verb {
	case "quit", "exit":
		return errQuit

	case "start":
		if len(args) != 1 {
			return fmt.Errorf("usage: start <scenario>")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("scenario must be a number: %w", err)
		}
		if err := sess.StartScenario(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "[scenario %d] started\n", id)

	case "select", "confirm":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s <option> <label> <aligned>", verb)
		}
		aligned, err := parseBool(args[2])
		if err != nil {
			return err
		}
		if verb == "select" {
			return sess.RecordOptionSelection(ctx, args[0], args[1], aligned)
		}
		if err := sess.ConfirmOption(ctx, tracker.Confirmation{OptionID: args[0], Label: args[1], Aligned: aligned}); err != nil {
			return err
		}
		fmt.Fprintf(out, "[scenario %d] confirmed %s\n", sess.Live().ScenarioID, args[1])

	case "end":
		closed, err := sess.EndScenario(ctx)
		if err != nil {
			return err
		}
		if closed == nil {
			fmt.Fprintln(out, "no scenario live")
			return nil
		}
		fmt.Fprintf(out, "[scenario %d] closed switches=%d cvr=%d apa=%d\n",
			closed.ScenarioID, closed.SwitchCount, closed.CVRCount, closed.APACount)

	case "cvr":
		return sess.RecordCVRVisit(ctx)

	case "answer":
		if len(args) != 1 {
			return fmt.Errorf("usage: answer yes|no")
		}
		yes, err := parseBool(args[0])
		if err != nil {
			return err
		}
		return sess.RecordCVRAnswer(ctx, yes)

	case "apa":
		if len(args) != 3 {
			return fmt.Errorf("usage: apa metrics|values <before> <after>")
		}
		pt := telemetry.PreferenceType(args[0])
		if pt != telemetry.PreferenceMetrics && pt != telemetry.PreferenceValues {
			return fmt.Errorf("preference type must be metrics or values, got %q", args[0])
		}
		return sess.RecordAPAReordering(ctx, pt, splitList(args[1]), splitList(args[2]))

	case "alt":
		if len(args) < 1 {
			return fmt.Errorf("usage: alt <option> [label]")
		}
		label := strings.Join(args[1:], " ")
		return sess.RecordAlternativeAdded(ctx, args[0], label)

	case "explored":
		if len(args) != 1 {
			return fmt.Errorf("usage: explored <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("count must be a number: %w", err)
		}
		return sess.RecordAlternativesExplored(ctx, n)

	case "feedback":
		if len(args) < 1 {
			return fmt.Errorf("usage: feedback <rating> [comment]")
		}
		rating, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("rating must be a number: %w", err)
		}
		if err := sess.SubmitFeedback(ctx, tracker.Feedback{Rating: rating, Comment: strings.Join(args[1:], " ")}); err != nil {
			return err
		}
		fmt.Fprintln(out, "feedback recorded")

	case "complete":
		if len(args) != 1 {
			return fmt.Errorf("usage: complete <inputs.json>")
		}
		in, err := readInputs(args[0])
		if err != nil {
			return err
		}
		dvs, err := sess.Complete(ctx, in)
		var ide *metrics.InsufficientDataError
		if errors.As(err, &ide) {
			fmt.Fprintf(out, "metrics not available yet: %v\n", ide)
			return nil
		}
		if err != nil {
			return err
		}
		printDVs(out, dvs)

	case "status":
		return printStatus(ctx, sess, p, out)

	case "sync":
		report, err := p.SyncFallbackData(ctx)
		printSyncReport(out, sess.ID(), report)
		return err

	default:
		return fmt.Errorf("unknown command %q", verb)
	}
	return nil
}

// #endregion repl

// #region helpers

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected yes/no or true/false, got %q", s)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func readInputs(path string) (tracker.Inputs, error) {
	var in tracker.Inputs
	data, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("read inputs: %w", err)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse inputs: %w", err)
	}
	return in, nil
}

func printStatus(ctx context.Context, sess *tracker.Session, p *pipeline.Pipeline, out io.Writer) error {
	if live := sess.Live(); live != nil {
		fmt.Fprintf(out, "live: scenario %d (%s) selections=%d switches=%d\n",
			live.ScenarioID, live.State(), len(live.Selections), live.SwitchCount)
	} else {
		fmt.Fprintln(out, "live: none")
	}
	history, err := sess.History(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "closed: %d\n", len(history))
	pending, err := p.Pending(ctx)
	if err != nil {
		return err
	}
	printPending(out, pending)
	return nil
}

// #endregion helpers
